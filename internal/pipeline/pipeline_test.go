package pipeline

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"confbot/internal/mux"
)

// collector accumulates emitted container bytes.
type collector struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (c *collector) append(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf.Write(b)
}

func (c *collector) reader() *bytes.Reader {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.NewReader(c.buf.Bytes())
}

func startPipeline(t *testing.T, cfg Config) (*Pipeline, *collector) {
	t.Helper()
	var out collector
	p := New(cfg, out.append, nil, nil)
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return p, &out
}

func TestFirstUnitEstablishesEpoch(t *testing.T) {
	t.Parallel()

	p, out := startPipeline(t, Config{FrameWidth: 640, FrameHeight: 360, AudioSampleRate: 32000})

	base := time.Now()
	p.PushAudio([]byte{1, 2, 3, 4}, base)
	p.PushVideo([]byte{9}, base.Add(500*time.Millisecond))
	p.PushAudio([]byte{5, 6}, base.Add(600*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	_, records, err := mux.ReadContainer(out.reader())
	if err != nil {
		t.Fatalf("ReadContainer: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("records: got %d, want 3", len(records))
	}

	// The first unit received, audio here, defines PTS zero.
	if records[0].PTS != 0 {
		t.Errorf("first unit PTS: got %v, want 0", records[0].PTS)
	}
	var videoPTS time.Duration = -1
	for _, r := range records {
		if r.Duration > 0 {
			videoPTS = r.PTS
		}
	}
	if videoPTS != 500*time.Millisecond {
		t.Errorf("video PTS: got %v, want 500ms", videoPTS)
	}
}

func TestVideoFrameCarriesNominalDuration(t *testing.T) {
	t.Parallel()

	p, out := startPipeline(t, Config{FrameWidth: 640, FrameHeight: 360, FrameRate: 30})

	p.PushVideo([]byte{1}, time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	_, records, err := mux.ReadContainer(out.reader())
	if err != nil {
		t.Fatalf("ReadContainer: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records: got %d, want 1", len(records))
	}
	if want := time.Second / 30; records[0].Duration != want {
		t.Errorf("duration: got %v, want %v", records[0].Duration, want)
	}
}

func TestOverrunDropsOldest(t *testing.T) {
	t.Parallel()

	// Tiny budget: two 6-byte frames fit, the third evicts the oldest.
	var out collector
	p := New(Config{FrameWidth: 640, FrameHeight: 360, VideoQueueBytes: 12}, out.append, nil, nil)

	// Hold the consumer off the queues so the drop logic is deterministic.
	p.state.Store(stateRunning)
	p.out = make(chan []byte, 16)

	base := time.Now()
	p.PushVideo(make([]byte, 6), base)
	p.PushVideo(make([]byte, 6), base.Add(time.Millisecond))
	p.PushVideo(make([]byte, 6), base.Add(2*time.Millisecond))

	if got := p.Drops("video"); got != 1 {
		t.Errorf("drops: got %d, want 1", got)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.video.units) != 2 {
		t.Errorf("buffered units: got %d, want 2", len(p.video.units))
	}
	// Oldest was evicted: the head must be the second pushed unit.
	if !p.video.units[0].capture.Equal(base.Add(time.Millisecond)) {
		t.Error("expected the oldest unit to be dropped first")
	}
}

func TestPushIgnoredWhenNotRunning(t *testing.T) {
	t.Parallel()

	var out collector
	p := New(Config{FrameWidth: 640, FrameHeight: 360}, out.append, nil, nil)

	if p.Ready() {
		t.Error("Ready before Start should be false")
	}
	p.PushVideo([]byte{1}, time.Now())
	if _, ok := p.FirstBufferTime(); ok {
		t.Error("push before Start should not establish the epoch")
	}
}

func TestStopWithoutStart(t *testing.T) {
	t.Parallel()

	var out collector
	p := New(Config{FrameWidth: 640, FrameHeight: 360}, out.append, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Stop(ctx); err != ErrNotRunning {
		t.Errorf("Stop without Start: got %v, want ErrNotRunning", err)
	}
}

func TestStopFinalizesTrailer(t *testing.T) {
	t.Parallel()

	p, out := startPipeline(t, Config{FrameWidth: 640, FrameHeight: 360})

	p.PushAudio([]byte{1, 2}, time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	// A second Stop is a no-op returning the same result.
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}

	if _, _, err := mux.ReadContainer(out.reader()); err != nil {
		t.Fatalf("container not finalized: %v", err)
	}
	if p.Ready() {
		t.Error("Ready after Stop should be false")
	}
}
