// Package playback tracks the single in-flight outbound audio request,
// reporting completion by elapsed wall-clock time against the request's
// duration.
package playback

import (
	"log/slog"
	"time"

	"confbot/internal/store"
)

// Scheduler tracks at most one Playing audio media request. It is driven
// entirely from the controller tick, so it needs no locking.
type Scheduler struct {
	log        *slog.Logger
	onFinished func(store.MediaRequest)
	now        func() time.Time

	current   *store.MediaRequest
	startedAt time.Time
}

// New creates a Scheduler invoking onFinished exactly once per completed
// request. If log is nil, slog.Default() is used.
func New(onFinished func(store.MediaRequest), log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		log:        log.With("component", "playback"),
		onFinished: onFinished,
		now:        time.Now,
	}
}

// Start records the request and its start time. The controller enforces
// single-flight; Start while playing is an invariant violation and replaces
// the tracked request.
func (s *Scheduler) Start(req store.MediaRequest) {
	if s.current != nil {
		s.log.Error("playback started while another request in flight",
			"current", s.current.ID, "new", req.ID)
	}
	r := req
	s.current = &r
	s.startedAt = s.now()
	s.log.Info("playback started", "request", req.ID, "duration_ms", req.DurationMS)
}

// Playing reports whether a request is currently in flight.
func (s *Scheduler) Playing() bool {
	return s.current != nil
}

// Finished reports whether the in-flight request's estimated duration has
// elapsed.
func (s *Scheduler) Finished() bool {
	if s.current == nil {
		return false
	}
	elapsed := s.now().Sub(s.startedAt)
	return elapsed > time.Duration(s.current.DurationMS)*time.Millisecond
}

// Monitor invokes the finished callback and clears state once the in-flight
// request completes. Called on every controller tick.
func (s *Scheduler) Monitor() {
	if !s.Finished() {
		return
	}
	finished := *s.current
	s.current = nil
	s.startedAt = time.Time{}
	s.log.Info("playback finished", "request", finished.ID)
	s.onFinished(finished)
}
