package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"confbot/internal/media"
)

// Loopback is a self-contained Adapter for local runs and integration tests.
// It simulates a small meeting: the bot plus two attendees, one of whom
// speaks, with synthetic camera frames and voiced PCM generated on a ticker.
// Outbound sends are accepted and discarded once the meeting is joined.
type Loopback struct {
	log    *slog.Logger
	selfID string

	mu      sync.Mutex
	cb      Callbacks
	ready   bool
	subs    map[subKey]bool
	stop    chan struct{}
	stopped bool

	events chan Event
}

type subKey struct {
	participantID string
	kind          StreamKind
}

var _ Adapter = (*Loopback)(nil)

const (
	loopbackSpeaker  = "loopback-alice"
	loopbackAttendee = "loopback-bob"
	loopbackTick     = 100 * time.Millisecond
)

// NewLoopback builds a loopback binding whose bot identity is selfID.
func NewLoopback(selfID string, log *slog.Logger) *Loopback {
	if log == nil {
		log = slog.Default()
	}
	return &Loopback{
		log:    log.With("component", "session_loopback"),
		selfID: selfID,
		subs:   make(map[subKey]bool),
		events: make(chan Event, 64),
	}
}

func (l *Loopback) SetCallbacks(cb Callbacks) {
	l.mu.Lock()
	l.cb = cb
	l.mu.Unlock()
}

func (l *Loopback) Events() <-chan Event { return l.events }

// Join admits the bot immediately, announces the synthetic attendees, grants
// recording permission, and starts the media generator.
func (l *Loopback) Join(ctx context.Context) error {
	l.mu.Lock()
	if l.ready {
		l.mu.Unlock()
		return fmt.Errorf("loopback: already joined")
	}
	l.ready = true
	l.stop = make(chan struct{})
	l.mu.Unlock()

	l.events <- Event{Type: EventJoined}
	l.events <- Event{Type: EventParticipantJoined, ParticipantID: loopbackSpeaker}
	l.events <- Event{Type: EventParticipantJoined, ParticipantID: loopbackAttendee}
	l.events <- Event{Type: EventRecordingPermissionGranted}
	l.events <- Event{Type: EventActiveSpeakerChanged, ParticipantID: loopbackSpeaker}

	go l.generate(l.stop)
	l.log.Info("loopback meeting joined", "self", l.selfID)
	return nil
}

func (l *Loopback) Leave() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.ready {
		return nil
	}
	l.ready = false
	close(l.stop)
	l.log.Info("loopback meeting left")
	return nil
}

func (l *Loopback) Cleanup() {
	l.Leave()
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.stopped {
		l.stopped = true
		close(l.events)
	}
}

func (l *Loopback) SendAudio(pcm []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.ready {
		return ErrNotReady
	}
	l.log.Debug("outbound audio discarded", "bytes", len(pcm))
	return nil
}

func (l *Loopback) SendImage(frame []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.ready {
		return ErrNotReady
	}
	l.log.Debug("outbound image discarded", "bytes", len(frame))
	return nil
}

func (l *Loopback) Participants() []Participant {
	return []Participant{
		{UUID: l.selfID, UserUUID: l.selfID, FullName: "Recording Bot"},
		{UUID: loopbackSpeaker, UserUUID: "user-" + loopbackSpeaker, FullName: "Alice Loopback"},
		{UUID: loopbackAttendee, UserUUID: "user-" + loopbackAttendee, FullName: "Bob Loopback"},
	}
}

func (l *Loopback) Participant(id string) (Participant, bool) {
	for _, p := range l.Participants() {
		if p.UUID == id {
			return p, true
		}
	}
	return Participant{}, false
}

func (l *Loopback) Sharers() []string { return nil }

func (l *Loopback) Subscribe(participantID string, kind StreamKind) error {
	l.mu.Lock()
	l.subs[subKey{participantID, kind}] = true
	cb := l.cb
	l.mu.Unlock()
	if cb.OnRawStatus != nil {
		cb.OnRawStatus(participantID, kind, true)
	}
	return nil
}

func (l *Loopback) Unsubscribe(participantID string, kind StreamKind) error {
	l.mu.Lock()
	delete(l.subs, subKey{participantID, kind})
	l.mu.Unlock()
	return nil
}

// generate emits one camera frame and one audio chunk per tick for the
// speaking attendee, plus the mixed meeting audio.
func (l *Loopback) generate(stop chan struct{}) {
	ticker := time.NewTicker(loopbackTick)
	defer ticker.Stop()

	frame := loopbackFrame(320, 180)
	voiced := voicedChunk(loopbackTick)

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			l.mu.Lock()
			cb := l.cb
			subscribed := l.subs[subKey{loopbackSpeaker, StreamCamera}]
			l.mu.Unlock()

			if subscribed && cb.OnVideoFrame != nil {
				f := frame
				f.CaptureTime = now
				cb.OnVideoFrame(loopbackSpeaker, StreamCamera, f)
			}
			if cb.OnAudioChunk != nil {
				cb.OnAudioChunk(loopbackSpeaker, voiced, now)
			}
			if cb.OnMixedAudio != nil {
				cb.OnMixedAudio(voiced, now)
			}
		}
	}
}

// loopbackFrame builds a mid-gray I420 frame.
func loopbackFrame(w, h int) media.Frame {
	data := make([]byte, w*h*3/2)
	for i := range data {
		data[i] = 128
	}
	return media.Frame{Width: w, Height: h, Data: data}
}

// voicedChunk builds an alternating square wave loud enough to clear the
// segmenter's silence threshold, sized for one tick at 32 kHz s16le mono.
func voicedChunk(d time.Duration) []byte {
	samples := int(32000 * d / time.Second)
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(8000)
		if (i/100)%2 == 1 {
			v = -8000
		}
		pcm[2*i] = byte(v)
		pcm[2*i+1] = byte(uint16(v) >> 8)
	}
	return pcm
}
