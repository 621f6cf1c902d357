// Package controller orchestrates one bot session: it drives the session
// binding through the bot's persisted lifecycle, routes adapter events to
// the video selector, advances queued playback, saves flushed utterances,
// and sequences shutdown.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"confbot/internal/command"
	"confbot/internal/media"
	"confbot/internal/metrics"
	"confbot/internal/pipeline"
	"confbot/internal/playback"
	"confbot/internal/segmenter"
	"confbot/internal/session"
	"confbot/internal/store"
	"confbot/internal/transcribe"
	"confbot/internal/uploader"
	"confbot/internal/videoinput"
)

const (
	defaultTickInterval    = 100 * time.Millisecond
	defaultShutdownTimeout = 20 * time.Second
)

// Params wires the controller's collaborators. Pipeline, Uploader,
// VideoManager, Selector, and Processor may be nil; the corresponding steps
// are skipped.
type Params struct {
	BotID string

	Store     store.Store
	Adapter   session.Adapter
	Segmenter *segmenter.Segmenter
	Pipeline  *pipeline.Pipeline
	Uploader  *uploader.Uploader
	Manager   *videoinput.Manager
	Selector  *videoinput.Selector
	Proc      *transcribe.Processor
	Commands  <-chan command.Command

	Log     *slog.Logger
	Metrics *metrics.Metrics

	TickInterval    time.Duration
	ShutdownTimeout time.Duration

	// Exit is invoked by the shutdown watchdog; defaults to os.Exit.
	Exit func(code int)
}

// Controller runs the bot's event loop. All orchestration state is touched
// only from Run's goroutine; Cleanup is safe to call from anywhere.
type Controller struct {
	p     Params
	log   *slog.Logger
	sched *playback.Scheduler

	recordingID string
	reconciled  bool

	cleanupOnce sync.Once
	cleanupErr  error
	stopLoop    chan struct{}
	loopDone    chan struct{}
}

// New builds a controller. The playback scheduler is owned here so audio
// completion feeds straight back into request advancement.
func New(p Params) *Controller {
	if p.Log == nil {
		p.Log = slog.Default()
	}
	if p.TickInterval == 0 {
		p.TickInterval = defaultTickInterval
	}
	if p.ShutdownTimeout == 0 {
		p.ShutdownTimeout = defaultShutdownTimeout
	}
	if p.Exit == nil {
		p.Exit = os.Exit
	}

	c := &Controller{
		p:        p,
		log:      p.Log.With("component", "controller"),
		stopLoop: make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	c.sched = playback.New(c.playbackFinished, p.Log)
	return c
}

// Run drives the loop until Cleanup completes or ctx is cancelled. Each tick
// reconciles the persisted lifecycle once, drains pending audio into the
// segmenter, and monitors the in-flight playback request.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.loopDone)

	ticker := time.NewTicker(c.p.TickInterval)
	defer ticker.Stop()

	events := c.p.Adapter.Events()

	for {
		select {
		case <-ctx.Done():
			c.Cleanup(ctx.Err())
			return c.cleanupErr
		case <-c.stopLoop:
			return c.cleanupErr
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			c.handleEvent(ctx, ev)
		case cmd := <-c.p.Commands:
			c.handleCommand(ctx, cmd)
		case <-ticker.C:
			if !c.reconciled {
				c.reconciled = true
				c.reconcileLifecycle(ctx)
			}
			c.p.Segmenter.ProcessPending()
			c.sched.Monitor()
		}
	}
}

// reconcileLifecycle acts on the bot's persisted desired state. The action
// is recorded before it is taken so an at-least-once sync never joins or
// leaves twice.
func (c *Controller) reconcileLifecycle(ctx context.Context) {
	bot, err := c.p.Store.Bot(ctx, c.p.BotID)
	if err != nil {
		c.log.Error("bot record lookup failed", "error", err)
		return
	}
	if !bot.ActionTakenAt.IsZero() {
		return
	}

	switch bot.State {
	case store.BotStateJoining:
		if err := c.p.Store.MarkBotActionTaken(ctx, c.p.BotID); err != nil {
			c.log.Error("mark action taken failed", "error", err)
			return
		}
		c.log.Info("joining meeting", "meeting", bot.MeetingID)
		if err := c.p.Adapter.Join(ctx); err != nil {
			c.recordEvent(ctx, store.EventCouldNotJoin, "", err.Error())
			c.Cleanup(fmt.Errorf("controller: join: %w", err))
		}
	case store.BotStateLeaving:
		if err := c.p.Store.MarkBotActionTaken(ctx, c.p.BotID); err != nil {
			c.log.Error("mark action taken failed", "error", err)
			return
		}
		c.log.Info("leave requested")
		c.Cleanup(nil)
	}
}

// handleEvent processes one typed adapter event. An unknown event type is an
// invariant violation and escalates to full cleanup.
func (c *Controller) handleEvent(ctx context.Context, ev session.Event) {
	switch ev.Type {
	case session.EventJoined:
		c.recordEvent(ctx, store.EventBotJoined, "", "")
	case session.EventRecordingPermissionGranted:
		c.recordEvent(ctx, store.EventRecordingPermissionGranted, "", "")
		if c.p.Selector != nil {
			c.p.Selector.HandlePermissionGranted()
		}
	case session.EventPutInWaitingRoom:
		c.recordEvent(ctx, store.EventPutInWaitingRoom, "", ev.Detail)
	case session.EventWaitingForHost:
		c.recordEvent(ctx, store.EventCouldNotJoin, store.SubTypeWaitingForHost, ev.Detail)
		c.Cleanup(nil)
	case session.EventAuthorizationFailed:
		c.recordEvent(ctx, store.EventCouldNotJoin, store.SubTypeAuthorizationFailed, ev.Detail)
		c.Cleanup(nil)
	case session.EventMeetingEnded:
		c.log.Info("meeting ended")
		c.p.Segmenter.FlushAll()
		c.recordEvent(ctx, store.EventMeetingEnded, "", ev.Detail)
		c.Cleanup(nil)
	case session.EventActiveSpeakerChanged:
		if c.p.Selector != nil {
			c.p.Selector.HandleActiveSpeaker(ev.ParticipantID)
		}
	case session.EventShareStatusChanged:
		if c.p.Selector != nil {
			c.p.Selector.HandleShareStatus(ev.ParticipantID, ev.Sharing)
		}
	case session.EventParticipantJoined:
		if c.p.Selector != nil {
			c.p.Selector.HandleParticipantJoined(ev.ParticipantID)
		}
	case session.EventParticipantLeft:
		if c.p.Manager != nil {
			c.p.Manager.HandleParticipantLeft(ev.ParticipantID)
		}
		if c.p.Selector != nil {
			c.p.Selector.HandleParticipantLeft(ev.ParticipantID)
		}
	default:
		err := fmt.Errorf("controller: unknown session event type %d", ev.Type)
		c.log.Error("invariant violation", "error", err)
		c.recordEvent(ctx, store.EventFatalError, "", err.Error())
		c.Cleanup(err)
	}
}

// handleCommand processes one control command. Commands are delivered
// at-least-once and handled idempotently; unknown commands are logged and
// ignored.
func (c *Controller) handleCommand(ctx context.Context, cmd command.Command) {
	switch cmd.Command {
	case command.Sync:
		c.reconciled = true
		c.reconcileLifecycle(ctx)
	case command.SyncMediaRequests:
		c.advanceAudio(ctx)
		c.advanceImage(ctx)
	default:
		c.log.Warn("unknown command ignored", "command", cmd.Command)
	}
}

// advanceAudio starts the oldest enqueued audio request unless one is
// already in flight. The Playing state is persisted before the send so a
// crash never leaves a played request looking enqueued.
func (c *Controller) advanceAudio(ctx context.Context) {
	if c.sched.Playing() {
		return
	}
	playing, err := c.p.Store.PlayingExists(ctx, c.p.BotID, store.MediaTypeAudio)
	if err != nil || playing {
		return
	}

	req, err := c.p.Store.OldestEnqueued(ctx, c.p.BotID, store.MediaTypeAudio)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		c.log.Error("audio request lookup failed", "error", err)
		return
	}

	if err := c.setRequestState(ctx, req.ID, store.MediaRequestPlaying); err != nil {
		return
	}
	if err := c.p.Adapter.SendAudio(req.Payload); err != nil {
		c.log.Error("audio send failed", "request", req.ID, "error", err)
		c.setRequestState(ctx, req.ID, store.MediaRequestFailed)
		return
	}
	req.State = store.MediaRequestPlaying
	c.sched.Start(req)
}

// advanceImage sends the newest enqueued image and drops the ones it
// superseded; only the latest requested image is ever shown.
func (c *Controller) advanceImage(ctx context.Context) {
	reqs, err := c.p.Store.EnqueuedByAge(ctx, c.p.BotID, store.MediaTypeImage)
	if err != nil {
		c.log.Error("image request lookup failed", "error", err)
		return
	}
	if len(reqs) == 0 {
		return
	}

	newest := reqs[len(reqs)-1]
	for _, stale := range reqs[:len(reqs)-1] {
		c.setRequestState(ctx, stale.ID, store.MediaRequestDropped)
	}

	if err := c.setRequestState(ctx, newest.ID, store.MediaRequestPlaying); err != nil {
		return
	}
	if err := c.p.Adapter.SendImage(newest.Payload); err != nil {
		c.log.Error("image send failed", "request", newest.ID, "error", err)
		c.setRequestState(ctx, newest.ID, store.MediaRequestFailed)
		return
	}
	c.setRequestState(ctx, newest.ID, store.MediaRequestFinished)
}

// playbackFinished marks the completed audio request Finished and advances
// the queue.
func (c *Controller) playbackFinished(req store.MediaRequest) {
	ctx := context.Background()
	c.setRequestState(ctx, req.ID, store.MediaRequestFinished)
	c.advanceAudio(ctx)
}

func (c *Controller) setRequestState(ctx context.Context, requestID string, state store.MediaRequestState) error {
	if err := c.p.Store.SetMediaRequestState(ctx, requestID, state); err != nil {
		c.log.Error("media request state update failed",
			"request", requestID, "state", string(state), "error", err)
		return err
	}
	switch state {
	case store.MediaRequestFinished, store.MediaRequestFailed, store.MediaRequestDropped:
		c.p.Metrics.IncMediaRequest(string(state))
	}
	return nil
}

// SaveUtterance persists one flushed utterance and hands it to the
// transcription processor. Wired as the segmenter's flush callback.
func (c *Controller) SaveUtterance(u segmenter.Utterance) {
	ctx := context.Background()

	recID, err := c.recording(ctx)
	if err != nil {
		c.log.Error("recording lookup failed, utterance lost",
			"speaker", u.SpeakerID, "error", err)
		return
	}

	name, userUUID := u.SpeakerID, ""
	if p, ok := c.p.Adapter.Participant(u.SpeakerID); ok {
		name, userUUID = p.FullName, p.UserUUID
	}

	rec := store.Utterance{
		ID:                  uuid.NewString(),
		RecordingID:         recID,
		ParticipantUUID:     u.SpeakerID,
		ParticipantUserUUID: userUUID,
		ParticipantName:     name,
		Audio:               u.Audio,
		Format:              store.AudioFormatPCM,
		TimestampMS:         u.Start.UnixMilli(),
		DurationMS:          media.PCMDuration(len(u.Audio), segmenter.DefaultSampleRate).Milliseconds(),
	}
	if err := c.p.Store.CreateUtterance(ctx, rec); err != nil {
		c.log.Error("utterance save failed", "speaker", u.SpeakerID, "error", err)
		return
	}
	c.p.Proc.Enqueue(rec.ID)
}

func (c *Controller) recording(ctx context.Context) (string, error) {
	if c.recordingID != "" {
		return c.recordingID, nil
	}
	rec, err := c.p.Store.RecordingForBot(ctx, c.p.BotID)
	if err != nil {
		return "", err
	}
	c.recordingID = rec.ID
	return rec.ID, nil
}

func (c *Controller) recordEvent(ctx context.Context, typ, subType, detail string) {
	err := c.p.Store.CreateEvent(ctx, store.Event{
		BotID:     c.p.BotID,
		Type:      typ,
		SubType:   subType,
		Detail:    detail,
		CreatedAt: time.Now(),
	})
	if err != nil {
		c.log.Error("event record failed", "type", typ, "error", err)
	}
}

// Cleanup tears the session down exactly once: flush remaining utterances,
// stop the pipeline, finish the upload, record the recording file, leave the
// meeting, stop the loop. A watchdog force-exits the process if the sequence
// exceeds the shutdown timeout.
func (c *Controller) Cleanup(reason error) {
	c.cleanupOnce.Do(func() {
		c.cleanupErr = reason
		if reason != nil {
			c.log.Error("cleanup started", "reason", reason)
		} else {
			c.log.Info("cleanup started")
		}

		watchdogStop := make(chan struct{})
		go c.watchdog(watchdogStop)
		defer close(watchdogStop)

		ctx, cancel := context.WithTimeout(context.Background(), c.p.ShutdownTimeout)
		defer cancel()

		c.p.Segmenter.FlushAll()
		if c.p.Manager != nil {
			c.p.Manager.Cleanup()
		}

		if c.p.Pipeline != nil {
			if err := c.p.Pipeline.Stop(ctx); err != nil && !errors.Is(err, pipeline.ErrNotRunning) {
				c.log.Error("pipeline stop failed, recording incomplete", "error", err)
			}
		}

		if c.p.Uploader != nil {
			if err := c.p.Uploader.Complete(ctx); err != nil {
				c.log.Error("upload completion failed", "error", err)
			} else if recID, err := c.recording(ctx); err == nil {
				var firstMS int64
				if c.p.Pipeline != nil {
					if t, ok := c.p.Pipeline.FirstBufferTime(); ok {
						firstMS = t.UnixMilli()
					}
				}
				if err := c.p.Store.SetRecordingFile(ctx, recID, c.p.Uploader.Key(), firstMS); err != nil {
					c.log.Error("recording file update failed", "error", err)
				}
				if err := c.p.Store.SetRecordingState(ctx, recID, store.RecordingComplete); err != nil {
					c.log.Error("recording state update failed", "error", err)
				}
			}
		}

		if err := c.p.Adapter.Leave(); err != nil {
			c.log.Warn("leave failed", "error", err)
		}
		c.p.Adapter.Cleanup()
		c.p.Proc.Close()

		c.recordEvent(ctx, store.EventBotLeft, "", "")
		c.log.Info("cleanup finished")
		close(c.stopLoop)
	})
	<-c.stopLoop
}

// watchdog hard-kills the process if cleanup hangs past the shutdown
// timeout. A hung SDK teardown must never leave a zombie bot in the meeting.
func (c *Controller) watchdog(stop chan struct{}) {
	timer := time.NewTimer(c.p.ShutdownTimeout)
	defer timer.Stop()

	select {
	case <-stop:
	case <-timer.C:
		c.log.Error("cleanup exceeded shutdown timeout, terminating")
		c.p.Store.CreateEvent(context.Background(), store.Event{
			BotID:     c.p.BotID,
			Type:      store.EventFatalError,
			SubType:   store.SubTypeProcessTerminated,
			CreatedAt: time.Now(),
		})
		c.p.Exit(1)
	}
}
