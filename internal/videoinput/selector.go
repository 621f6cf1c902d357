package videoinput

import (
	"log/slog"
	"sort"
	"sync"
)

// Selector decides which participant the recording follows. It tracks the
// active speaker, the set of sharers, and the join-ordered participant list,
// and recomputes the mode whenever any of them changes:
//
//  1. an active sharer wins over everything;
//  2. else the active speaker, unless it is the bot itself;
//  3. else the first non-bot participant in join order, or the bot if alone.
//
// Frames only start flowing once recording permission has been granted.
type Selector struct {
	log     *slog.Logger
	mgr     *Manager
	selfID  string
	sharers func() []string

	mu           sync.Mutex
	joinOrder    []string
	joined       map[string]bool
	sharing      map[string]bool
	speakerID    string
	permission   bool
	current      Mode
	modeResolved bool
}

// NewSelector builds a selector for the bot identified by selfID. sharerPoll
// returns the participants currently presenting; it is consulted once when
// recording permission arrives, to pick up a share that started earlier.
func NewSelector(mgr *Manager, selfID string, sharerPoll func() []string, log *slog.Logger) *Selector {
	if log == nil {
		log = slog.Default()
	}
	return &Selector{
		log:     log.With("component", "selector"),
		mgr:     mgr,
		selfID:  selfID,
		sharers: sharerPoll,
		joined:  make(map[string]bool),
		sharing: make(map[string]bool),
	}
}

// HandleParticipantJoined appends the participant to the join order.
func (s *Selector) HandleParticipantJoined(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.joined[id] {
		return
	}
	s.joined[id] = true
	s.joinOrder = append(s.joinOrder, id)
	s.recompute()
}

// HandleParticipantLeft forgets the participant and reselects if the
// departed one was the speaker or a sharer.
func (s *Selector) HandleParticipantLeft(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.joined[id] {
		return
	}
	delete(s.joined, id)
	for i, joined := range s.joinOrder {
		if joined == id {
			s.joinOrder = append(s.joinOrder[:i], s.joinOrder[i+1:]...)
			break
		}
	}
	delete(s.sharing, id)
	if s.speakerID == id {
		s.speakerID = ""
	}
	s.recompute()
}

// HandleActiveSpeaker records a speaker change. The bot's own speech and
// repeated notifications for the current speaker are ignored.
func (s *Selector) HandleActiveSpeaker(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == s.selfID || id == s.speakerID {
		return
	}
	s.speakerID = id
	s.recompute()
}

// HandleShareStatus records a participant starting or stopping a share.
func (s *Selector) HandleShareStatus(id string, sharing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sharing {
		s.sharing[id] = true
	} else {
		delete(s.sharing, id)
	}
	s.recompute()
}

// HandlePermissionGranted starts frame selection. Sharers that began
// presenting before permission arrived are polled once here.
func (s *Selector) HandlePermissionGranted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.permission = true
	if s.sharers != nil {
		for _, id := range s.sharers() {
			s.sharing[id] = true
		}
	}
	s.recompute()
}

// Mode returns the currently resolved mode and whether one has been applied.
func (s *Selector) Mode() (Mode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.modeResolved
}

// recompute applies the selection policy. Caller holds the lock.
func (s *Selector) recompute() {
	if !s.permission {
		return
	}

	var next Mode
	switch {
	case len(s.sharing) > 0:
		next = Mode{Kind: ModeActiveSharer, ParticipantID: s.firstSharer()}
	case s.speakerID != "" && s.speakerID != s.selfID:
		next = Mode{Kind: ModeActiveSpeaker, ParticipantID: s.speakerID}
	default:
		next = Mode{Kind: ModeActiveSpeaker, ParticipantID: s.fallbackParticipant()}
	}

	if s.modeResolved && next == s.current {
		return
	}
	s.current = next
	s.modeResolved = true
	s.log.Debug("selection recomputed", "participant", next.ParticipantID,
		"sharer", next.Kind == ModeActiveSharer)
	s.mgr.SetMode(next)
}

// firstSharer picks deterministically when multiple participants share.
func (s *Selector) firstSharer() string {
	ids := make([]string, 0, len(s.sharing))
	for id := range s.sharing {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids[0]
}

// fallbackParticipant is the first non-bot attendee in join order, or the
// bot itself when nobody else is present.
func (s *Selector) fallbackParticipant() string {
	for _, id := range s.joinOrder {
		if id != s.selfID {
			return id
		}
	}
	return s.selfID
}
