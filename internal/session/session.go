// Package session defines the binding to the conference SDK: the events it
// delivers, the participant model, and the operations the bot drives it with.
// The wire protocol behind the binding is out of scope; implementations adapt
// whatever SDK the deployment uses.
package session

import (
	"context"
	"errors"
	"time"

	"confbot/internal/media"
)

// StreamKind identifies which of a participant's feeds a frame belongs to.
type StreamKind int

const (
	StreamCamera StreamKind = iota
	StreamScreenShare
)

func (k StreamKind) String() string {
	if k == StreamScreenShare {
		return "screen_share"
	}
	return "camera"
}

// Participant is one attendee of the conference. UUID is the session-scoped
// identity; UserUUID is stable across rejoins when the SDK provides it.
type Participant struct {
	UUID     string
	UserUUID string
	FullName string
}

// EventType enumerates the typed events an Adapter delivers.
type EventType int

const (
	// Lifecycle events.
	EventJoined EventType = iota
	EventMeetingEnded
	EventAuthorizationFailed
	EventWaitingForHost
	EventPutInWaitingRoom
	EventRecordingPermissionGranted

	// Media routing events consumed by the video source selector.
	EventActiveSpeakerChanged
	EventShareStatusChanged
	EventParticipantJoined
	EventParticipantLeft
)

// Event is one occurrence delivered on the adapter's event channel. The
// participant fields are set for media routing events; Detail carries
// SDK-specific context for failures.
type Event struct {
	Type          EventType
	ParticipantID string
	Sharing       bool
	Detail        string
}

// Callbacks receive raw media off the adapter's own delivery goroutines.
// Handlers must not block; downstream queues apply their own drop policy.
type Callbacks struct {
	// OnVideoFrame delivers a raw frame for a subscribed stream.
	OnVideoFrame func(participantID string, kind StreamKind, frame media.Frame)
	// OnAudioChunk delivers one speaker's raw PCM (s16le mono 32 kHz).
	OnAudioChunk func(speakerID string, pcm []byte, capturedAt time.Time)
	// OnMixedAudio delivers the combined meeting audio.
	OnMixedAudio func(pcm []byte, capturedAt time.Time)
	// OnRawStatus reports a subscribed feed going active or inactive.
	OnRawStatus func(participantID string, kind StreamKind, active bool)
}

// ErrNotReady is returned by SendAudio/SendImage before the binding has
// signalled that the outbound channel is open.
var ErrNotReady = errors.New("session: outbound channel not ready")

// Adapter is the session binding. Join is the only blocking operation;
// everything else returns promptly. Events() stays open until Cleanup.
type Adapter interface {
	// Join connects to the meeting. Raw media starts flowing to the
	// registered callbacks once the SDK admits the bot.
	Join(ctx context.Context) error
	// Leave exits the meeting without tearing down the binding.
	Leave() error
	// Cleanup releases SDK resources and closes the event channel.
	Cleanup()

	// SendAudio plays mono 8 kHz s16le PCM into the meeting. Fails with
	// ErrNotReady before the virtual microphone is up.
	SendAudio(pcm []byte) error
	// SendImage presents one 640x360 I420 frame. Fails with ErrNotReady
	// before the virtual camera is up.
	SendImage(frame []byte) error

	// Participants returns attendees in join order, the bot included.
	Participants() []Participant
	// Participant resolves an attendee by session UUID, falling back to a
	// cache of departed attendees.
	Participant(id string) (Participant, bool)
	// Sharers returns the IDs of participants currently presenting.
	Sharers() []string

	// Subscribe requests delivery of a participant's raw feed.
	Subscribe(participantID string, kind StreamKind) error
	Unsubscribe(participantID string, kind StreamKind) error

	SetCallbacks(cb Callbacks)
	Events() <-chan Event
}
