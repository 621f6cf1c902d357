package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"confbot/internal/store"
)

type fakeTranscriber struct {
	calls int
	fail  bool
}

func (f *fakeTranscriber) Transcribe(_ context.Context, audio []byte, format string) (json.RawMessage, error) {
	f.calls++
	if f.fail {
		return nil, errors.New("service unavailable")
	}
	return json.RawMessage(`{"text":"hello"}`), nil
}

func seedUtterance(t *testing.T, st *store.MemoryStore) (recID, uttID string) {
	t.Helper()
	recID = st.SeedBot(store.Bot{ID: "bot-1", State: store.BotStateJoining})
	uttID = "utt-1"
	err := st.CreateUtterance(context.Background(), store.Utterance{
		ID:          uttID,
		RecordingID: recID,
		Audio:       []byte{1, 2, 3, 4},
		Format:      store.AudioFormatPCM,
	})
	if err != nil {
		t.Fatalf("CreateUtterance: %v", err)
	}
	return recID, uttID
}

func TestProcessorStoresTranscriptAndCompletesRecording(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	recID, uttID := seedUtterance(t, st)

	tr := &fakeTranscriber{}
	p := NewProcessor(context.Background(), st, tr, nil, nil)
	p.Enqueue(uttID)
	p.Close()

	u, err := st.Utterance(context.Background(), uttID)
	if err != nil {
		t.Fatalf("Utterance: %v", err)
	}
	if string(u.Transcription) != `{"text":"hello"}` {
		t.Fatalf("transcript not stored: %q", u.Transcription)
	}

	rec, err := st.RecordingForBot(context.Background(), "bot-1")
	if err != nil {
		t.Fatalf("RecordingForBot: %v", err)
	}
	if rec.ID != recID || rec.State != store.RecordingTranscriptionComplete {
		t.Fatalf("recording state = %s, want transcription_complete", rec.State)
	}
}

func TestProcessorFailureLeavesUtteranceUntranscribed(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	_, uttID := seedUtterance(t, st)

	p := NewProcessor(context.Background(), st, &fakeTranscriber{fail: true}, nil, nil)
	p.Enqueue(uttID)
	p.Close()

	u, _ := st.Utterance(context.Background(), uttID)
	if u.Transcription != nil {
		t.Fatalf("failed transcription stored a transcript: %q", u.Transcription)
	}
	n, _ := st.UntranscribedCount(context.Background(), u.RecordingID)
	if n != 1 {
		t.Fatalf("untranscribed count = %d, want 1", n)
	}
}

func TestNilProcessorDiscardsWork(t *testing.T) {
	t.Parallel()

	var p *Processor
	p.Enqueue("utt-x")
	p.Close()
}
