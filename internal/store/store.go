// Package store defines the persistence records the bot reads and mutates,
// the Store interface over them, and an in-memory implementation used by
// tests and local development. Production deployments back the interface
// with their own database.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// BotState is the desired/current lifecycle state of the bot record.
type BotState string

// Bot lifecycle states.
const (
	BotStateJoining BotState = "joining"
	BotStateJoined  BotState = "joined"
	BotStateLeaving BotState = "leaving"
	BotStateLeft    BotState = "left"
	BotStateFatal   BotState = "fatal"
)

// MediaType distinguishes outbound playback payloads.
type MediaType string

// Media request payload types.
const (
	MediaTypeAudio MediaType = "audio"
	MediaTypeImage MediaType = "image"
)

// MediaRequestState is a media request's position in its lifecycle. The
// transitions are monotonic: Enqueued -> Playing -> Finished or Failed, and
// Enqueued -> Dropped for superseded image requests.
type MediaRequestState string

// Media request states.
const (
	MediaRequestEnqueued MediaRequestState = "enqueued"
	MediaRequestPlaying  MediaRequestState = "playing"
	MediaRequestFinished MediaRequestState = "finished"
	MediaRequestFailed   MediaRequestState = "failed"
	MediaRequestDropped  MediaRequestState = "dropped"
)

// RecordingState tracks the composite recording and its transcription.
type RecordingState string

// Recording states.
const (
	RecordingInProgress              RecordingState = "in_progress"
	RecordingComplete                RecordingState = "complete"
	RecordingTranscriptionInProgress RecordingState = "transcription_in_progress"
	RecordingTranscriptionComplete   RecordingState = "transcription_complete"
)

// AudioFormat identifies the encoding of a stored utterance blob.
type AudioFormat string

// Utterance audio formats.
const (
	AudioFormatPCM AudioFormat = "pcm"
	AudioFormatMP3 AudioFormat = "mp3"
)

// Bot is the bot's persistent record.
type Bot struct {
	ID            string
	Name          string
	MeetingID     string
	State         BotState
	ActionTakenAt time.Time
}

// Recording is the composite A/V recording for one bot session.
type Recording struct {
	ID                     string
	BotID                  string
	State                  RecordingState
	StorageKey             string
	FirstBufferTimestampMS int64
}

// Utterance is one flushed segment of a participant's speech.
type Utterance struct {
	ID                  string
	RecordingID         string
	ParticipantUUID     string
	ParticipantUserUUID string
	ParticipantName     string
	Audio               []byte
	Format              AudioFormat
	TimestampMS         int64
	DurationMS          int64
	Transcription       json.RawMessage
}

// MediaRequest is a queued outbound playback request.
type MediaRequest struct {
	ID         string
	BotID      string
	MediaType  MediaType
	State      MediaRequestState
	Payload    []byte
	DurationMS int64
	CreatedAt  time.Time
}

// Event is an audit record of a bot lifecycle occurrence.
type Event struct {
	BotID     string
	Type      string
	SubType   string
	Detail    string
	CreatedAt time.Time
}

// Event types recorded by the controller.
const (
	EventBotJoined                  = "bot_joined_meeting"
	EventBotLeft                    = "bot_left_meeting"
	EventMeetingEnded               = "meeting_ended"
	EventCouldNotJoin               = "could_not_join"
	EventPutInWaitingRoom           = "bot_put_in_waiting_room"
	EventRecordingPermissionGranted = "recording_permission_granted"
	EventFatalError                 = "fatal_error"
)

// Event sub types.
const (
	SubTypeAuthorizationFailed = "authorization_failed"
	SubTypeWaitingForHost      = "waiting_for_host"
	SubTypeProcessTerminated   = "process_terminated"
)

// Sentinel errors shared by Store implementations.
var (
	ErrNotFound          = errors.New("store: record not found")
	ErrInvalidTransition = errors.New("store: invalid media request state transition")
)

// Store is the persistence surface the controller depends on. All methods
// must be safe for concurrent use.
type Store interface {
	Bot(ctx context.Context, botID string) (Bot, error)
	MarkBotActionTaken(ctx context.Context, botID string) error
	CreateEvent(ctx context.Context, ev Event) error

	RecordingForBot(ctx context.Context, botID string) (Recording, error)
	SetRecordingFile(ctx context.Context, recordingID, storageKey string, firstBufferTimestampMS int64) error
	SetRecordingState(ctx context.Context, recordingID string, state RecordingState) error

	CreateUtterance(ctx context.Context, u Utterance) error
	Utterance(ctx context.Context, utteranceID string) (Utterance, error)
	UpdateUtterance(ctx context.Context, u Utterance) error
	UntranscribedCount(ctx context.Context, recordingID string) (int, error)

	// OldestEnqueued returns the oldest Enqueued request of the given type,
	// or ErrNotFound. EnqueuedByAge returns all Enqueued requests of the
	// given type ordered oldest first.
	OldestEnqueued(ctx context.Context, botID string, mt MediaType) (MediaRequest, error)
	EnqueuedByAge(ctx context.Context, botID string, mt MediaType) ([]MediaRequest, error)
	PlayingExists(ctx context.Context, botID string, mt MediaType) (bool, error)
	SetMediaRequestState(ctx context.Context, requestID string, state MediaRequestState) error
}

// validTransition enforces the monotonic media request lifecycle.
func validTransition(from, to MediaRequestState) bool {
	switch from {
	case MediaRequestEnqueued:
		return to == MediaRequestPlaying || to == MediaRequestDropped || to == MediaRequestFailed
	case MediaRequestPlaying:
		return to == MediaRequestFinished || to == MediaRequestFailed
	}
	return false
}
