package store

import (
	"context"
	"errors"
	"testing"
)

func TestMediaRequestOrdering(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	s.SeedBot(Bot{ID: "bot-1", State: BotStateJoining})

	first := s.EnqueueMediaRequest("bot-1", MediaTypeImage, []byte("a"), 0)
	second := s.EnqueueMediaRequest("bot-1", MediaTypeImage, []byte("b"), 0)
	third := s.EnqueueMediaRequest("bot-1", MediaTypeImage, []byte("c"), 0)

	ctx := context.Background()
	reqs, err := s.EnqueuedByAge(ctx, "bot-1", MediaTypeImage)
	if err != nil {
		t.Fatalf("EnqueuedByAge: %v", err)
	}
	if len(reqs) != 3 {
		t.Fatalf("requests: got %d, want 3", len(reqs))
	}
	if reqs[0].ID != first || reqs[1].ID != second || reqs[2].ID != third {
		t.Error("requests not ordered oldest first")
	}

	oldest, err := s.OldestEnqueued(ctx, "bot-1", MediaTypeImage)
	if err != nil {
		t.Fatalf("OldestEnqueued: %v", err)
	}
	if oldest.ID != first {
		t.Errorf("oldest: got %s, want %s", oldest.ID, first)
	}
}

func TestMediaRequestTransitions(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	s.SeedBot(Bot{ID: "bot-1"})
	id := s.EnqueueMediaRequest("bot-1", MediaTypeAudio, []byte("a"), 1000)

	ctx := context.Background()
	if err := s.SetMediaRequestState(ctx, id, MediaRequestPlaying); err != nil {
		t.Fatalf("enqueued->playing: %v", err)
	}
	if err := s.SetMediaRequestState(ctx, id, MediaRequestFinished); err != nil {
		t.Fatalf("playing->finished: %v", err)
	}

	// Terminal states admit no further transitions.
	err := s.SetMediaRequestState(ctx, id, MediaRequestPlaying)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("finished->playing: got %v, want ErrInvalidTransition", err)
	}

	dropped := s.EnqueueMediaRequest("bot-1", MediaTypeImage, []byte("b"), 0)
	if err := s.SetMediaRequestState(ctx, dropped, MediaRequestDropped); err != nil {
		t.Fatalf("enqueued->dropped: %v", err)
	}
	err = s.SetMediaRequestState(ctx, dropped, MediaRequestPlaying)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("dropped->playing: got %v, want ErrInvalidTransition", err)
	}
}

func TestNotFound(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.Bot(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Bot: got %v, want ErrNotFound", err)
	}
	if _, err := s.OldestEnqueued(ctx, "missing", MediaTypeAudio); !errors.Is(err, ErrNotFound) {
		t.Errorf("OldestEnqueued: got %v, want ErrNotFound", err)
	}
	if err := s.SetMediaRequestState(ctx, "missing", MediaRequestPlaying); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetMediaRequestState: got %v, want ErrNotFound", err)
	}
}

func TestRecordingLifecycle(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	recID := s.SeedBot(Bot{ID: "bot-1"})
	ctx := context.Background()

	rec, err := s.RecordingForBot(ctx, "bot-1")
	if err != nil {
		t.Fatalf("RecordingForBot: %v", err)
	}
	if rec.ID != recID || rec.State != RecordingInProgress {
		t.Errorf("recording: %+v", rec)
	}

	if err := s.SetRecordingFile(ctx, recID, "recordings/abc.cbr", 12345); err != nil {
		t.Fatalf("SetRecordingFile: %v", err)
	}
	rec, _ = s.RecordingForBot(ctx, "bot-1")
	if rec.StorageKey != "recordings/abc.cbr" || rec.FirstBufferTimestampMS != 12345 {
		t.Errorf("recording after save: %+v", rec)
	}
	if rec.State != RecordingComplete {
		t.Errorf("state: got %q, want %q", rec.State, RecordingComplete)
	}
}
