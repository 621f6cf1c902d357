// Package videoinput selects which participant's video feed the recording
// follows, subscribes to it through the session binding, scales every frame
// to the recording resolution, and keeps the downstream pipeline fed with
// synthetic black frames while the selected feed is idle.
package videoinput

import (
	"log/slog"
	"sync"
	"time"

	"confbot/internal/media"
	"confbot/internal/metrics"
	"confbot/internal/session"
)

// Mode names which feed the recording follows. Exactly one mode is active at
// a time.
type Mode struct {
	Kind          ModeKind
	ParticipantID string
}

type ModeKind int

const (
	ModeActiveSpeaker ModeKind = iota
	ModeActiveSharer
)

// streamKind maps the mode to the feed it watches: sharers are recorded from
// their screen-share stream, speakers from their camera.
func (m Mode) streamKind() session.StreamKind {
	if m.Kind == ModeActiveSharer {
		return session.StreamScreenShare
	}
	return session.StreamCamera
}

// Subscriber is the slice of the session binding the manager drives.
type Subscriber interface {
	Subscribe(participantID string, kind session.StreamKind) error
	Unsubscribe(participantID string, kind session.StreamKind) error
}

// FrameSink accepts scaled frames; the encode pipeline satisfies it.
type FrameSink interface {
	Ready() bool
	PushVideo(data []byte, capture time.Time)
}

const blackFrameInterval = 250 * time.Millisecond

type streamKey struct {
	participantID string
	kind          session.StreamKind
}

// stream is one subscribed participant feed. Owned exclusively by the
// Manager; the filler goroutine reads its fields under the manager lock.
type stream struct {
	key       streamKey
	rawActive bool
	lastFrame time.Time
	stop      chan struct{}
}

// Manager owns the set of subscribed streams and the active mode. Frames
// arrive on the session binding's delivery goroutines; mode changes arrive
// from the selector on the event loop. A single lock covers both.
type Manager struct {
	log  *slog.Logger
	subs Subscriber
	sink FrameSink
	m    *metrics.Metrics

	targetW, targetH int
	black            []byte

	mu      sync.Mutex
	mode    Mode
	active  bool
	streams map[streamKey]*stream
	now     func() time.Time
}

// NewManager builds a manager scaling to targetW x targetH. Dimensions must
// be even; invalid dimensions are a programming error and panic.
func NewManager(subs Subscriber, sink FrameSink, targetW, targetH int, log *slog.Logger, m *metrics.Metrics) *Manager {
	if log == nil {
		log = slog.Default()
	}
	black, err := media.BlackFrame(targetW, targetH)
	if err != nil {
		panic("videoinput: " + err.Error())
	}
	return &Manager{
		log:     log.With("component", "videoinput"),
		subs:    subs,
		sink:    sink,
		m:       m,
		targetW: targetW,
		targetH: targetH,
		black:   black,
		streams: make(map[streamKey]*stream),
		now:     time.Now,
	}
}

// SetMode switches the recording to follow the given feed, reconciling
// subscriptions: streams the new mode does not need are unsubscribed and
// destroyed, the needed one is created if absent.
func (mg *Manager) SetMode(mode Mode) {
	mg.mu.Lock()
	defer mg.mu.Unlock()

	mg.mode = mode
	mg.active = true
	want := streamKey{mode.ParticipantID, mode.streamKind()}

	for key, st := range mg.streams {
		if key == want {
			continue
		}
		close(st.stop)
		delete(mg.streams, key)
		if err := mg.subs.Unsubscribe(key.participantID, key.kind); err != nil {
			mg.log.Warn("unsubscribe failed", "participant", key.participantID,
				"kind", key.kind.String(), "error", err)
		}
	}

	if _, ok := mg.streams[want]; ok {
		return
	}
	st := &stream{key: want, stop: make(chan struct{})}
	mg.streams[want] = st
	if err := mg.subs.Subscribe(want.participantID, want.kind); err != nil {
		mg.log.Warn("subscribe failed", "participant", want.participantID,
			"kind", want.kind.String(), "error", err)
	}
	go mg.fill(st)
	mg.log.Info("video source selected", "participant", want.participantID,
		"kind", want.kind.String())
}

// HandleFrame receives one raw frame off the session binding. Frames for any
// feed other than the selected one are discarded, not buffered.
func (mg *Manager) HandleFrame(participantID string, kind session.StreamKind, frame media.Frame) {
	mg.mu.Lock()
	st, selected := mg.streams[streamKey{participantID, kind}]
	ready := mg.active && mg.sink.Ready()
	if selected {
		st.lastFrame = mg.now()
	}
	mg.mu.Unlock()

	if !selected || !ready {
		return
	}

	scaled, err := media.Scale(frame, mg.targetW, mg.targetH)
	if err != nil {
		mg.log.Warn("frame scale failed", "participant", participantID, "error", err)
		return
	}
	capture := frame.CaptureTime
	if capture.IsZero() {
		capture = mg.now()
	}
	mg.sink.PushVideo(scaled, capture)
	mg.m.IncFrameForwarded()
}

// HandleRawStatus records a subscribed feed going active or inactive. An
// inactive feed is covered by the black-frame filler until data resumes.
func (mg *Manager) HandleRawStatus(participantID string, kind session.StreamKind, active bool) {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	if st, ok := mg.streams[streamKey{participantID, kind}]; ok {
		st.rawActive = active
	}
}

// HandleParticipantLeft destroys the participant's streams. The selector
// recomputes the mode separately.
func (mg *Manager) HandleParticipantLeft(participantID string) {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	for key, st := range mg.streams {
		if key.participantID != participantID {
			continue
		}
		close(st.stop)
		delete(mg.streams, key)
		mg.subs.Unsubscribe(key.participantID, key.kind)
	}
}

// Streams returns the keys of the currently subscribed feeds.
func (mg *Manager) Streams() []string {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	out := make([]string, 0, len(mg.streams))
	for key := range mg.streams {
		out = append(out, key.participantID+"/"+key.kind.String())
	}
	return out
}

// Cleanup unsubscribes everything and stops the fillers.
func (mg *Manager) Cleanup() {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	mg.active = false
	for key, st := range mg.streams {
		close(st.stop)
		delete(mg.streams, key)
		mg.subs.Unsubscribe(key.participantID, key.kind)
	}
}

// fill emits a synthetic black frame every interval while the stream's raw
// feed is inactive and no real frame arrived within the interval, so the
// pipeline never starves on a silent source.
func (mg *Manager) fill(st *stream) {
	ticker := time.NewTicker(blackFrameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-st.stop:
			return
		case <-ticker.C:
			mg.mu.Lock()
			now := mg.now()
			starving := !st.rawActive && now.Sub(st.lastFrame) >= blackFrameInterval
			ready := mg.active && mg.sink.Ready()
			mg.mu.Unlock()

			if starving && ready {
				mg.sink.PushVideo(mg.black, now)
			}
		}
	}
}
