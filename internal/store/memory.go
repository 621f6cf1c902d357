package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu         sync.RWMutex
	bots       map[string]Bot
	recordings map[string]Recording
	utterances map[string]Utterance
	requests   map[string]MediaRequest
	events     []Event
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bots:       make(map[string]Bot),
		recordings: make(map[string]Recording),
		utterances: make(map[string]Utterance),
		requests:   make(map[string]MediaRequest),
	}
}

// SeedBot inserts a bot record plus its in-progress default recording and
// returns the recording ID.
func (s *MemoryStore) SeedBot(b Bot) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bots[b.ID] = b
	rec := Recording{
		ID:    uuid.NewString(),
		BotID: b.ID,
		State: RecordingInProgress,
	}
	s.recordings[rec.ID] = rec
	return rec.ID
}

// SetBotState overwrites a bot's lifecycle state.
func (s *MemoryStore) SetBotState(botID string, state BotState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.bots[botID]; ok {
		b.State = state
		s.bots[botID] = b
	}
}

// EnqueueMediaRequest inserts an Enqueued media request and returns its ID.
func (s *MemoryStore) EnqueueMediaRequest(botID string, mt MediaType, payload []byte, durationMS int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	req := MediaRequest{
		ID:         uuid.NewString(),
		BotID:      botID,
		MediaType:  mt,
		State:      MediaRequestEnqueued,
		Payload:    payload,
		DurationMS: durationMS,
		CreatedAt:  time.Now(),
	}
	// Preserve creation order even when inserts land in the same clock tick.
	req.CreatedAt = req.CreatedAt.Add(time.Duration(len(s.requests)) * time.Nanosecond)
	s.requests[req.ID] = req
	return req.ID
}

// MediaRequest returns a request by ID.
func (s *MemoryStore) MediaRequest(requestID string) (MediaRequest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[requestID]
	return r, ok
}

// Utterances returns copies of a recording's utterances, in no particular
// order.
func (s *MemoryStore) Utterances(recordingID string) []Utterance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Utterance
	for _, u := range s.utterances {
		if u.RecordingID == recordingID {
			out = append(out, u)
		}
	}
	return out
}

// Events returns a copy of all recorded events.
func (s *MemoryStore) Events() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Bot implements Store.
func (s *MemoryStore) Bot(_ context.Context, botID string) (Bot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bots[botID]
	if !ok {
		return Bot{}, ErrNotFound
	}
	return b, nil
}

// MarkBotActionTaken implements Store.
func (s *MemoryStore) MarkBotActionTaken(_ context.Context, botID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bots[botID]
	if !ok {
		return ErrNotFound
	}
	b.ActionTakenAt = time.Now()
	s.bots[botID] = b
	return nil
}

// CreateEvent implements Store.
func (s *MemoryStore) CreateEvent(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev.CreatedAt = time.Now()
	s.events = append(s.events, ev)
	return nil
}

// RecordingForBot implements Store.
func (s *MemoryStore) RecordingForBot(_ context.Context, botID string) (Recording, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.recordings {
		if rec.BotID == botID {
			return rec, nil
		}
	}
	return Recording{}, ErrNotFound
}

// SetRecordingFile implements Store.
func (s *MemoryStore) SetRecordingFile(_ context.Context, recordingID, storageKey string, firstBufferTimestampMS int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recordings[recordingID]
	if !ok {
		return ErrNotFound
	}
	rec.StorageKey = storageKey
	rec.FirstBufferTimestampMS = firstBufferTimestampMS
	rec.State = RecordingComplete
	s.recordings[recordingID] = rec
	return nil
}

// SetRecordingState implements Store.
func (s *MemoryStore) SetRecordingState(_ context.Context, recordingID string, state RecordingState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recordings[recordingID]
	if !ok {
		return ErrNotFound
	}
	rec.State = state
	s.recordings[recordingID] = rec
	return nil
}

// CreateUtterance implements Store.
func (s *MemoryStore) CreateUtterance(_ context.Context, u Utterance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	s.utterances[u.ID] = u
	return nil
}

// Utterance implements Store.
func (s *MemoryStore) Utterance(_ context.Context, utteranceID string) (Utterance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.utterances[utteranceID]
	if !ok {
		return Utterance{}, ErrNotFound
	}
	return u, nil
}

// UpdateUtterance implements Store.
func (s *MemoryStore) UpdateUtterance(_ context.Context, u Utterance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.utterances[u.ID]; !ok {
		return ErrNotFound
	}
	s.utterances[u.ID] = u
	return nil
}

// UntranscribedCount implements Store.
func (s *MemoryStore) UntranscribedCount(_ context.Context, recordingID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, u := range s.utterances {
		if u.RecordingID == recordingID && u.Transcription == nil {
			n++
		}
	}
	return n, nil
}

// OldestEnqueued implements Store.
func (s *MemoryStore) OldestEnqueued(ctx context.Context, botID string, mt MediaType) (MediaRequest, error) {
	reqs, err := s.EnqueuedByAge(ctx, botID, mt)
	if err != nil {
		return MediaRequest{}, err
	}
	if len(reqs) == 0 {
		return MediaRequest{}, ErrNotFound
	}
	return reqs[0], nil
}

// EnqueuedByAge implements Store.
func (s *MemoryStore) EnqueuedByAge(_ context.Context, botID string, mt MediaType) ([]MediaRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var reqs []MediaRequest
	for _, r := range s.requests {
		if r.BotID == botID && r.MediaType == mt && r.State == MediaRequestEnqueued {
			reqs = append(reqs, r)
		}
	}
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].CreatedAt.Before(reqs[j].CreatedAt) })
	return reqs, nil
}

// PlayingExists implements Store.
func (s *MemoryStore) PlayingExists(_ context.Context, botID string, mt MediaType) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.requests {
		if r.BotID == botID && r.MediaType == mt && r.State == MediaRequestPlaying {
			return true, nil
		}
	}
	return false, nil
}

// SetMediaRequestState implements Store, enforcing monotonic transitions.
func (s *MemoryStore) SetMediaRequestState(_ context.Context, requestID string, state MediaRequestState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[requestID]
	if !ok {
		return ErrNotFound
	}
	if !validTransition(r.State, state) {
		return ErrInvalidTransition
	}
	r.State = state
	s.requests[requestID] = r
	return nil
}
