package transcribe

import (
	"context"
	"log/slog"
	"sync"

	"confbot/internal/store"
)

const queueCapacity = 256

// Processor drains flushed utterance IDs on its own goroutine so conversion
// and transcription never block the recording loop. A nil Processor accepts
// and discards work, letting deployments run without a transcription service.
type Processor struct {
	store       store.Store
	transcriber Transcriber
	converter   Converter
	log         *slog.Logger

	queue chan string
	done  chan struct{}
	once  sync.Once
}

// NewProcessor starts the worker. A nil converter defaults to Identity.
func NewProcessor(ctx context.Context, st store.Store, tr Transcriber, conv Converter, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	if conv == nil {
		conv = Identity{}
	}
	p := &Processor{
		store:       st,
		transcriber: tr,
		converter:   conv,
		log:         log.With("component", "transcribe"),
		queue:       make(chan string, queueCapacity),
		done:        make(chan struct{}),
	}
	go p.run(ctx)
	return p
}

// Enqueue hands an utterance ID to the worker. Never blocks; when the queue
// is full the utterance stays untranscribed and is logged.
func (p *Processor) Enqueue(utteranceID string) {
	if p == nil {
		return
	}
	select {
	case p.queue <- utteranceID:
	default:
		p.log.Warn("transcription queue full, skipping utterance", "utterance", utteranceID)
	}
}

// Close stops accepting work and waits for the queue to drain.
func (p *Processor) Close() {
	if p == nil {
		return
	}
	p.once.Do(func() { close(p.queue) })
	<-p.done
}

func (p *Processor) run(ctx context.Context) {
	defer close(p.done)
	for id := range p.queue {
		if err := p.process(ctx, id); err != nil {
			p.log.Error("utterance transcription failed", "utterance", id, "error", err)
		}
	}
}

func (p *Processor) process(ctx context.Context, id string) error {
	u, err := p.store.Utterance(ctx, id)
	if err != nil {
		return err
	}

	if err := p.store.SetRecordingState(ctx, u.RecordingID, store.RecordingTranscriptionInProgress); err != nil {
		p.log.Warn("recording state update failed", "recording", u.RecordingID, "error", err)
	}

	audio, format, err := p.converter.Convert(ctx, u.Audio)
	if err != nil {
		return err
	}
	transcript, err := p.transcriber.Transcribe(ctx, audio, format)
	if err != nil {
		return err
	}

	u.Audio = audio
	if format == "mp3" {
		u.Format = store.AudioFormatMP3
	}
	u.Transcription = transcript
	if err := p.store.UpdateUtterance(ctx, u); err != nil {
		return err
	}

	remaining, err := p.store.UntranscribedCount(ctx, u.RecordingID)
	if err != nil {
		return err
	}
	if remaining == 0 {
		if err := p.store.SetRecordingState(ctx, u.RecordingID, store.RecordingTranscriptionComplete); err != nil {
			return err
		}
		p.log.Info("recording fully transcribed", "recording", u.RecordingID)
	}
	return nil
}
