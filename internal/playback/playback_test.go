package playback

import (
	"testing"
	"time"

	"confbot/internal/store"
)

func TestMonitorFiresOnceAfterDuration(t *testing.T) {
	t.Parallel()

	var fired []string
	s := New(func(req store.MediaRequest) { fired = append(fired, req.ID) }, nil)

	clock := time.Unix(100, 0)
	s.now = func() time.Time { return clock }

	s.Start(store.MediaRequest{ID: "req-1", DurationMS: 500})
	if !s.Playing() {
		t.Fatal("expected Playing after Start")
	}

	s.Monitor()
	if len(fired) != 0 {
		t.Fatalf("callback fired before duration elapsed: %v", fired)
	}

	clock = clock.Add(400 * time.Millisecond)
	s.Monitor()
	if len(fired) != 0 {
		t.Fatal("callback fired at 400ms for a 500ms request")
	}

	clock = clock.Add(200 * time.Millisecond)
	s.Monitor()
	if len(fired) != 1 || fired[0] != "req-1" {
		t.Fatalf("expected one callback for req-1, got %v", fired)
	}
	if s.Playing() {
		t.Fatal("still Playing after completion")
	}

	s.Monitor()
	if len(fired) != 1 {
		t.Fatalf("callback fired again: %v", fired)
	}
}

func TestMonitorNoRequestIsNoop(t *testing.T) {
	t.Parallel()

	s := New(func(store.MediaRequest) { t.Fatal("unexpected callback") }, nil)
	s.Monitor()
}

func TestStartReplacesInFlight(t *testing.T) {
	t.Parallel()

	var fired []string
	s := New(func(req store.MediaRequest) { fired = append(fired, req.ID) }, nil)

	clock := time.Unix(0, 0)
	s.now = func() time.Time { return clock }

	s.Start(store.MediaRequest{ID: "a", DurationMS: 100})
	s.Start(store.MediaRequest{ID: "b", DurationMS: 100})

	clock = clock.Add(200 * time.Millisecond)
	s.Monitor()
	if len(fired) != 1 || fired[0] != "b" {
		t.Fatalf("expected callback for replacement request, got %v", fired)
	}
}
