package videoinput

import (
	"sync"
	"testing"
	"time"

	"confbot/internal/media"
	"confbot/internal/session"
)

type subCall struct {
	id   string
	kind session.StreamKind
}

type fakeSubs struct {
	mu     sync.Mutex
	subs   []subCall
	unsubs []subCall
}

func (f *fakeSubs) Subscribe(id string, kind session.StreamKind) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, subCall{id, kind})
	return nil
}

func (f *fakeSubs) Unsubscribe(id string, kind session.StreamKind) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubs = append(f.unsubs, subCall{id, kind})
	return nil
}

type fakeSink struct {
	mu     sync.Mutex
	ready  bool
	frames [][]byte
}

func (f *fakeSink) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeSink) PushVideo(data []byte, capture time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, data)
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func newTestManager(t *testing.T) (*Manager, *fakeSubs, *fakeSink) {
	t.Helper()
	subs := &fakeSubs{}
	sink := &fakeSink{ready: true}
	mgr := NewManager(subs, sink, 640, 360, nil, nil)
	t.Cleanup(mgr.Cleanup)
	return mgr, subs, sink
}

func rawFrame(w, h int) media.Frame {
	return media.Frame{
		Width:       w,
		Height:      h,
		Data:        make([]byte, media.FrameSize(w, h)),
		CaptureTime: time.Unix(10, 0),
	}
}

func TestSelectorFallsBackToFirstNonBot(t *testing.T) {
	t.Parallel()

	mgr, subs, _ := newTestManager(t)
	sel := NewSelector(mgr, "bot", nil, nil)

	sel.HandleParticipantJoined("bot")
	sel.HandleParticipantJoined("alice")
	sel.HandleParticipantJoined("bob")
	if _, ok := sel.Mode(); ok {
		t.Fatal("mode resolved before recording permission")
	}

	sel.HandlePermissionGranted()
	mode, ok := sel.Mode()
	if !ok {
		t.Fatal("no mode after permission grant")
	}
	if mode.Kind != ModeActiveSpeaker || mode.ParticipantID != "alice" {
		t.Fatalf("expected ActiveSpeaker(alice), got %+v", mode)
	}
	if len(subs.subs) != 1 || subs.subs[0] != (subCall{"alice", session.StreamCamera}) {
		t.Fatalf("unexpected subscriptions: %v", subs.subs)
	}
}

func TestSelectorSharerWinsOverSpeaker(t *testing.T) {
	t.Parallel()

	mgr, _, _ := newTestManager(t)
	sel := NewSelector(mgr, "bot", nil, nil)
	sel.HandleParticipantJoined("bot")
	sel.HandleParticipantJoined("alice")
	sel.HandlePermissionGranted()

	sel.HandleActiveSpeaker("alice")
	sel.HandleShareStatus("carol", true)

	mode, _ := sel.Mode()
	if mode.Kind != ModeActiveSharer || mode.ParticipantID != "carol" {
		t.Fatalf("expected ActiveSharer(carol), got %+v", mode)
	}

	sel.HandleShareStatus("carol", false)
	mode, _ = sel.Mode()
	if mode.Kind != ModeActiveSpeaker || mode.ParticipantID != "alice" {
		t.Fatalf("expected fallback to ActiveSpeaker(alice), got %+v", mode)
	}
}

func TestSelectorIgnoresSelfSpeech(t *testing.T) {
	t.Parallel()

	mgr, _, _ := newTestManager(t)
	sel := NewSelector(mgr, "bot", nil, nil)
	sel.HandleParticipantJoined("bot")
	sel.HandleParticipantJoined("alice")
	sel.HandlePermissionGranted()

	sel.HandleActiveSpeaker("bot")
	mode, _ := sel.Mode()
	if mode.ParticipantID != "alice" {
		t.Fatalf("self speech changed selection: %+v", mode)
	}
}

func TestSelectorPollsSharersOnPermission(t *testing.T) {
	t.Parallel()

	mgr, _, _ := newTestManager(t)
	sel := NewSelector(mgr, "bot", func() []string { return []string{"dave"} }, nil)
	sel.HandleParticipantJoined("bot")
	sel.HandlePermissionGranted()

	mode, _ := sel.Mode()
	if mode.Kind != ModeActiveSharer || mode.ParticipantID != "dave" {
		t.Fatalf("expected pre-existing share picked up, got %+v", mode)
	}
}

func TestSelectorReselectsWhenSelectedLeaves(t *testing.T) {
	t.Parallel()

	mgr, subs, _ := newTestManager(t)
	sel := NewSelector(mgr, "bot", nil, nil)
	sel.HandleParticipantJoined("bot")
	sel.HandleParticipantJoined("alice")
	sel.HandleParticipantJoined("bob")
	sel.HandlePermissionGranted()
	sel.HandleActiveSpeaker("alice")

	mgr.HandleParticipantLeft("alice")
	sel.HandleParticipantLeft("alice")

	mode, _ := sel.Mode()
	if mode.Kind != ModeActiveSpeaker || mode.ParticipantID != "bob" {
		t.Fatalf("expected fallback to ActiveSpeaker(bob), got %+v", mode)
	}
	if got := mgr.Streams(); len(got) != 1 || got[0] != "bob/camera" {
		t.Fatalf("unexpected streams after departure: %v", got)
	}

	var aliceUnsubs int
	subs.mu.Lock()
	for _, u := range subs.unsubs {
		if u.id == "alice" {
			aliceUnsubs++
		}
	}
	subs.mu.Unlock()
	if aliceUnsubs != 1 {
		t.Fatalf("alice unsubscribed %d times, want 1", aliceUnsubs)
	}
}

func TestSetModeReconcilesSubscriptions(t *testing.T) {
	t.Parallel()

	mgr, subs, _ := newTestManager(t)
	mgr.SetMode(Mode{Kind: ModeActiveSpeaker, ParticipantID: "alice"})
	mgr.SetMode(Mode{Kind: ModeActiveSharer, ParticipantID: "carol"})

	if len(subs.subs) != 2 {
		t.Fatalf("expected 2 subscribes, got %v", subs.subs)
	}
	if len(subs.unsubs) != 1 || subs.unsubs[0] != (subCall{"alice", session.StreamCamera}) {
		t.Fatalf("expected alice camera unsubscribed, got %v", subs.unsubs)
	}
	if got := mgr.Streams(); len(got) != 1 || got[0] != "carol/screen_share" {
		t.Fatalf("unexpected streams after reconcile: %v", got)
	}
}

func TestSetModeSameSelectionIsStable(t *testing.T) {
	t.Parallel()

	mgr, subs, _ := newTestManager(t)
	mode := Mode{Kind: ModeActiveSpeaker, ParticipantID: "alice"}
	mgr.SetMode(mode)
	mgr.SetMode(mode)

	if len(subs.subs) != 1 || len(subs.unsubs) != 0 {
		t.Fatalf("re-applying the same mode churned subscriptions: subs=%v unsubs=%v",
			subs.subs, subs.unsubs)
	}
}

func TestHandleFrameDiscardsNonSelected(t *testing.T) {
	t.Parallel()

	mgr, _, sink := newTestManager(t)
	mgr.SetMode(Mode{Kind: ModeActiveSpeaker, ParticipantID: "alice"})

	mgr.HandleFrame("bob", session.StreamCamera, rawFrame(320, 180))
	mgr.HandleFrame("alice", session.StreamScreenShare, rawFrame(320, 180))
	if sink.count() != 0 {
		t.Fatalf("non-selected frames forwarded: %d", sink.count())
	}

	mgr.HandleFrame("alice", session.StreamCamera, rawFrame(320, 180))
	if sink.count() != 1 {
		t.Fatalf("selected frame not forwarded, count=%d", sink.count())
	}
	if got := len(sink.frames[0]); got != media.FrameSize(640, 360) {
		t.Fatalf("forwarded frame not scaled to target: %d bytes", got)
	}
}

func TestHandleFrameRespectsSinkReadiness(t *testing.T) {
	t.Parallel()

	mgr, _, sink := newTestManager(t)
	mgr.SetMode(Mode{Kind: ModeActiveSpeaker, ParticipantID: "alice"})

	sink.mu.Lock()
	sink.ready = false
	sink.mu.Unlock()

	mgr.HandleFrame("alice", session.StreamCamera, rawFrame(320, 180))
	if sink.count() != 0 {
		t.Fatalf("frame forwarded while sink not ready")
	}
}
