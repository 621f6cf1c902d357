// Package segmenter buffers per-speaker raw audio into utterances, flushing
// on silence timeout, size cap, or session end. Chunks are enqueued from the
// session binding's delivery goroutine and drained synchronously on the
// controller tick, so buffer state needs no locking of its own.
package segmenter

import (
	"log/slog"
	"sync"
	"time"

	"confbot/internal/media"
	"confbot/internal/metrics"
)

// FlushReason records why an utterance was emitted.
type FlushReason string

// Flush reasons.
const (
	ReasonSilenceLimit FlushReason = "silence_limit"
	ReasonBufferFull   FlushReason = "buffer_full"
)

// Defaults: the size cap holds 300 seconds of continuous 32 kHz s16le mono
// audio; silence beyond the limit closes the utterance.
const (
	DefaultSampleRate   = 32000
	DefaultSizeLimit    = 19_200_000
	DefaultSilenceLimit = 3 * time.Second
	DefaultRMSThreshold = 0.01

	queueCapacity = 4096
)

// Chunk is one enqueued slice of a speaker's raw audio. A nil Audio slice is
// a time-only marker used to advance silence timers without data.
type Chunk struct {
	SpeakerID string
	Time      time.Time
	Audio     []byte
}

// Utterance is one flushed, contiguous segment of a speaker's nonsilent
// audio.
type Utterance struct {
	SpeakerID string
	Audio     []byte
	Start     time.Time
	Reason    FlushReason
}

// Classifier decides whether a chunk of 16-bit mono PCM contains speech.
type Classifier interface {
	IsSpeech(pcm []byte, sampleRate int) bool
}

// Config tunes the segmenter. Zero values take the defaults above.
type Config struct {
	SampleRate   int
	SizeLimit    int
	SilenceLimit time.Duration
	RMSThreshold float64
}

func (c *Config) applyDefaults() {
	if c.SampleRate == 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.SizeLimit == 0 {
		c.SizeLimit = DefaultSizeLimit
	}
	if c.SilenceLimit == 0 {
		c.SilenceLimit = DefaultSilenceLimit
	}
	if c.RMSThreshold == 0 {
		c.RMSThreshold = DefaultRMSThreshold
	}
}

// buffer holds one speaker's unflushed audio. The byte buffer and both
// timestamps live together so timing state can never outlive the data it
// describes.
type buffer struct {
	data           []byte
	firstNonsilent time.Time
	lastNonsilent  time.Time
}

// Segmenter segments each speaker's audio stream into utterances. Add is
// safe for concurrent producers; ProcessPending and FlushAll must be called
// from a single goroutine.
type Segmenter struct {
	log        *slog.Logger
	cfg        Config
	classifier Classifier
	onFlush    func(Utterance)
	metrics    *metrics.Metrics

	queueMu sync.Mutex
	queue   []Chunk

	buffers map[string]*buffer
}

// New creates a Segmenter delivering flushed utterances to onFlush. If
// classifier is nil the energy/zero-crossing default is used; log and m may
// be nil.
func New(cfg Config, classifier Classifier, onFlush func(Utterance), log *slog.Logger, m *metrics.Metrics) *Segmenter {
	if log == nil {
		log = slog.Default()
	}
	if classifier == nil {
		classifier = EnergyClassifier{}
	}
	cfg.applyDefaults()

	return &Segmenter{
		log:        log.With("component", "segmenter"),
		cfg:        cfg,
		classifier: classifier,
		onFlush:    onFlush,
		metrics:    m,
		buffers:    make(map[string]*buffer),
	}
}

// Add enqueues one audio chunk from a producer goroutine. Never blocks: on
// overrun the oldest queued chunk is dropped.
func (s *Segmenter) Add(speakerID string, t time.Time, audio []byte) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	if len(s.queue) >= queueCapacity {
		s.queue = s.queue[1:]
		s.log.Warn("audio chunk queue overrun, dropped oldest", "speaker", speakerID)
	}
	s.queue = append(s.queue, Chunk{SpeakerID: speakerID, Time: t, Audio: audio})
}

// ProcessPending drains every queued chunk, then feeds each open buffer a
// time-only marker at now so silence elapses on wall clock even when no
// audio arrives at all.
func (s *Segmenter) ProcessPending() {
	s.queueMu.Lock()
	pending := s.queue
	s.queue = nil
	s.queueMu.Unlock()

	for _, c := range pending {
		s.processChunk(c.SpeakerID, c.Time, c.Audio)
	}

	now := time.Now()
	for speakerID := range s.buffers {
		s.processChunk(speakerID, now, nil)
	}
}

// FlushAll forces every open buffer to flush immediately, regardless of the
// silence timer, by simulating time beyond the silence limit. Called at
// session end.
func (s *Segmenter) FlushAll() {
	past := time.Now().Add(s.cfg.SilenceLimit + time.Second)
	for speakerID := range s.buffers {
		s.processChunk(speakerID, past, nil)
	}
}

// OpenBuffers returns the number of speakers with unflushed audio.
func (s *Segmenter) OpenBuffers() int {
	return len(s.buffers)
}

func (s *Segmenter) silent(audio []byte) bool {
	if media.NormalizedRMS(audio) < s.cfg.RMSThreshold {
		return true
	}
	return !s.classifier.IsSpeech(audio, s.cfg.SampleRate)
}

func (s *Segmenter) processChunk(speakerID string, t time.Time, audio []byte) {
	isSilent := true
	if audio != nil {
		isSilent = s.silent(audio)
	}

	b, open := s.buffers[speakerID]
	if !open {
		// Silence with no open buffer never opens one.
		if isSilent {
			return
		}
		b = &buffer{firstNonsilent: t, lastNonsilent: t}
		s.buffers[speakerID] = b
	}

	// All bytes go into an open buffer, silent or not, so the flushed
	// utterance is gapless.
	b.data = append(b.data, audio...)

	var reason FlushReason
	switch {
	case len(b.data) >= s.cfg.SizeLimit:
		reason = ReasonBufferFull
	case isSilent && t.Sub(b.lastNonsilent) >= s.cfg.SilenceLimit:
		reason = ReasonSilenceLimit
	}
	if !isSilent {
		b.lastNonsilent = t
	}

	if reason == "" {
		return
	}
	// A buffer only exists once nonsilent audio arrived, so it is never
	// empty here; the guard protects the accounting invariant anyway.
	if len(b.data) == 0 {
		delete(s.buffers, speakerID)
		return
	}

	s.onFlush(Utterance{
		SpeakerID: speakerID,
		Audio:     b.data,
		Start:     b.firstNonsilent,
		Reason:    reason,
	})
	s.metrics.IncUtteranceFlushed(string(reason))
	s.log.Info("utterance flushed",
		"speaker", speakerID,
		"bytes", len(b.data),
		"reason", reason,
	)
	delete(s.buffers, speakerID)
}
