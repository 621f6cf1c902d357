// Package pipeline synchronizes selected video frames and mixed audio into a
// single muxed recording stream. Producers feed two bounded drop-oldest
// stages; a single consumer drains them in capture order into the muxer and
// emits container bytes to the uploader through a final bounded queue.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"confbot/internal/metrics"
	"confbot/internal/mux"
)

// Pipeline states. Transitions are one-way: Uninitialized -> Running ->
// Stopped.
const (
	stateUninitialized int32 = iota
	stateRunning
	stateStopped
)

// Defaults sized so the real-time capture path is never blocked: each stage
// absorbs on the order of a hundred megabytes before dropping oldest.
const (
	defaultVideoQueueBytes = 100 << 20
	defaultAudioQueueBytes = 100 << 20
	defaultOutputQueueLen  = 256
	defaultReportInterval  = 15 * time.Second
)

// ErrNotRunning is returned by Stop when the pipeline was never started.
var ErrNotRunning = errors.New("pipeline: not running")

// Config carries the fixed input format and queue sizing.
type Config struct {
	FrameWidth      int
	FrameHeight     int
	FrameRate       int
	AudioSampleRate int

	VideoQueueBytes int64
	AudioQueueBytes int64
	OutputQueueLen  int
	ReportInterval  time.Duration
}

func (c *Config) applyDefaults() {
	if c.FrameRate == 0 {
		c.FrameRate = 30
	}
	if c.VideoQueueBytes == 0 {
		c.VideoQueueBytes = defaultVideoQueueBytes
	}
	if c.AudioQueueBytes == 0 {
		c.AudioQueueBytes = defaultAudioQueueBytes
	}
	if c.OutputQueueLen == 0 {
		c.OutputQueueLen = defaultOutputQueueLen
	}
	if c.ReportInterval == 0 {
		c.ReportInterval = defaultReportInterval
	}
}

// unit is one captured buffer queued for muxing.
type unit struct {
	data    []byte
	capture time.Time
}

// stage is a bounded FIFO of captured units with a byte budget. Overrun
// drops the oldest unit rather than blocking the producer, since the session
// binding has no flow control to honor.
type stage struct {
	name     string
	units    []unit
	bytes    int64
	maxBytes int64
	drops    int64
	reported int64
	eos      bool
}

// push appends u, evicting oldest units while over budget. Caller holds the
// pipeline lock. Returns the number of units dropped.
func (s *stage) push(u unit) int {
	s.units = append(s.units, u)
	s.bytes += int64(len(u.data))

	dropped := 0
	for s.bytes > s.maxBytes && len(s.units) > 1 {
		old := s.units[0]
		s.units = s.units[1:]
		s.bytes -= int64(len(old.data))
		s.drops++
		dropped++
	}
	return dropped
}

func (s *stage) pop() (unit, bool) {
	if len(s.units) == 0 {
		return unit{}, false
	}
	u := s.units[0]
	s.units[0] = unit{}
	s.units = s.units[1:]
	s.bytes -= int64(len(u.data))
	return u, true
}

// Pipeline owns the mux consumer, the output emitter, and the periodic drop
// reporter. All producer entry points are safe for concurrent use.
type Pipeline struct {
	log      *slog.Logger
	cfg      Config
	onSample func([]byte)
	metrics  *metrics.Metrics

	state atomic.Int32

	mu    sync.Mutex
	cond  *sync.Cond
	video stage
	audio stage
	epoch time.Time
	err   error

	muxer mux.Muxer
	out   chan []byte

	consumerDone chan struct{}
	emitterDone  chan struct{}
	reportStop   chan struct{}
}

// New creates a Pipeline that emits muxed container bytes to onSample. If
// log is nil, slog.Default() is used. m may be nil.
func New(cfg Config, onSample func([]byte), log *slog.Logger, m *metrics.Metrics) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	cfg.applyDefaults()

	p := &Pipeline{
		log:          log.With("component", "pipeline"),
		cfg:          cfg,
		onSample:     onSample,
		metrics:      m,
		video:        stage{name: "video", maxBytes: cfg.VideoQueueBytes},
		audio:        stage{name: "audio", maxBytes: cfg.AudioQueueBytes},
		consumerDone: make(chan struct{}),
		emitterDone:  make(chan struct{}),
		reportStop:   make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Start transitions to Running: writes the container header and launches the
// consumer, emitter, and drop-report goroutines.
func (p *Pipeline) Start() error {
	if !p.state.CompareAndSwap(stateUninitialized, stateRunning) {
		return errors.New("pipeline: already started")
	}

	p.out = make(chan []byte, p.cfg.OutputQueueLen)

	m, err := mux.NewWriter(outputWriter{p}, mux.StreamInfo{
		Width:           p.cfg.FrameWidth,
		Height:          p.cfg.FrameHeight,
		FrameRate:       p.cfg.FrameRate,
		AudioSampleRate: p.cfg.AudioSampleRate,
	})
	if err != nil {
		p.state.Store(stateStopped)
		return fmt.Errorf("pipeline: init muxer: %w", err)
	}
	p.muxer = m

	go p.emit()
	go p.consume()
	go p.reportDrops()

	p.log.Info("pipeline running",
		"width", p.cfg.FrameWidth,
		"height", p.cfg.FrameHeight,
		"framerate", p.cfg.FrameRate,
		"audio_rate", p.cfg.AudioSampleRate,
	)
	return nil
}

// Ready reports whether the pipeline currently accepts media. Producers use
// this to skip scaling and capture work while the pipeline is down.
func (p *Pipeline) Ready() bool {
	return p.state.Load() == stateRunning
}

// PushVideo enqueues one scaled I420 frame with its capture time. Never
// blocks: the stage drops its oldest frame on overrun.
func (p *Pipeline) PushVideo(data []byte, capture time.Time) {
	p.push(&p.video, data, capture)
}

// PushAudio enqueues one mixed-audio PCM chunk with its capture time.
func (p *Pipeline) PushAudio(data []byte, capture time.Time) {
	p.push(&p.audio, data, capture)
}

func (p *Pipeline) push(s *stage, data []byte, capture time.Time) {
	if !p.Ready() {
		return
	}

	p.mu.Lock()
	if s.eos {
		p.mu.Unlock()
		return
	}
	// The first unit of either stream establishes the pipeline-relative
	// zero epoch; audio and video stay synchronized no matter which
	// started first.
	if p.epoch.IsZero() {
		p.epoch = capture
	}
	dropped := s.push(unit{data: data, capture: capture})
	p.cond.Signal()
	p.mu.Unlock()

	if dropped > 0 {
		p.metrics.AddQueueDrops(s.name, float64(dropped))
	}
}

// FirstBufferTime returns the capture time of the first unit received, or
// false if nothing has arrived yet.
func (p *Pipeline) FirstBufferTime() (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.epoch, !p.epoch.IsZero()
}

// Err returns the first fatal pipeline error observed, if any.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Stop signals end-of-stream on both stages, waits for the muxer to finalize
// (container trailer written) or a fatal error, then for the output queue to
// drain. Returns the first fatal pipeline error, if any.
func (p *Pipeline) Stop(ctx context.Context) error {
	if !p.state.CompareAndSwap(stateRunning, stateStopped) {
		if p.state.Load() == stateStopped {
			return p.Err()
		}
		return ErrNotRunning
	}

	close(p.reportStop)

	p.mu.Lock()
	p.video.eos = true
	p.audio.eos = true
	p.cond.Broadcast()
	p.mu.Unlock()

	select {
	case <-p.consumerDone:
	case <-ctx.Done():
		return fmt.Errorf("pipeline: shutdown: %w", ctx.Err())
	}
	select {
	case <-p.emitterDone:
	case <-ctx.Done():
		return fmt.Errorf("pipeline: shutdown: %w", ctx.Err())
	}

	p.log.Info("pipeline stopped", "video_drops", p.Drops("video"), "audio_drops", p.Drops("audio"))
	return p.Err()
}

// Drops returns the cumulative dropped-unit count for a stage ("video" or
// "audio").
func (p *Pipeline) Drops(stage string) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch stage {
	case "video":
		return p.video.drops
	case "audio":
		return p.audio.drops
	}
	return 0
}

// consume drains both stages into the muxer, video first, so audio (which
// produces far more units) cannot starve video delivery.
func (p *Pipeline) consume() {
	defer close(p.consumerDone)
	defer close(p.out)

	frameDuration := time.Second / time.Duration(p.cfg.FrameRate)

	for {
		p.mu.Lock()
		var u unit
		var isVideo, ok bool
		for {
			if u, ok = p.video.pop(); ok {
				isVideo = true
				break
			}
			if u, ok = p.audio.pop(); ok {
				break
			}
			if p.video.eos && p.audio.eos {
				p.mu.Unlock()
				p.finalize()
				return
			}
			p.cond.Wait()
		}
		epoch := p.epoch
		p.mu.Unlock()

		pts := u.capture.Sub(epoch)
		var err error
		if isVideo {
			err = p.muxer.WriteVideo(pts, frameDuration, u.data)
		} else {
			err = p.muxer.WriteAudio(pts, u.data)
		}
		if err != nil {
			p.fail(fmt.Errorf("pipeline: mux write: %w", err))
			return
		}
	}
}

func (p *Pipeline) finalize() {
	if err := p.muxer.Finalize(); err != nil {
		p.fail(fmt.Errorf("pipeline: finalize: %w", err))
		return
	}
	p.log.Info("muxer finalized")
}

// fail records the first fatal error. The recording is incomplete but
// shutdown still proceeds cleanly.
func (p *Pipeline) fail(err error) {
	p.mu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.mu.Unlock()
	p.log.Error("pipeline fatal error", "error", err)
}

// emit delivers container bytes from the final bounded queue to the
// consumer callback.
func (p *Pipeline) emit() {
	defer close(p.emitterDone)
	for chunk := range p.out {
		p.onSample(chunk)
	}
}

// reportDrops periodically logs per-stage drops since the last report.
// Drops are never silently ignored.
func (p *Pipeline) reportDrops() {
	ticker := time.NewTicker(p.cfg.ReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.mu.Lock()
			for _, s := range []*stage{&p.video, &p.audio} {
				if delta := s.drops - s.reported; delta > 0 {
					p.log.Warn("queue dropped buffers", "stage", s.name, "dropped", delta)
					s.reported = s.drops
				}
			}
			p.mu.Unlock()
		case <-p.reportStop:
			return
		}
	}
}

// outputWriter adapts the output queue to io.Writer for the muxer. Writes
// block when the queue is full, applying backpressure to the mux consumer
// rather than to the capture path.
type outputWriter struct {
	p *Pipeline
}

func (w outputWriter) Write(b []byte) (int, error) {
	chunk := make([]byte, len(b))
	copy(chunk, b)
	w.p.out <- chunk
	return len(b), nil
}
