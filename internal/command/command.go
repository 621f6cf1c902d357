// Package command receives control commands for one bot over Redis pub/sub.
// The listener blocks on the subscription in its own goroutine and hands
// decoded commands back to the controller's loop through a channel.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/go-redis/redis/v8"
)

// Known command names. Delivery is at-least-once; handlers are idempotent.
const (
	Sync              = "sync"
	SyncMediaRequests = "sync_media_requests"
)

// Command is one decoded control message.
type Command struct {
	Command string `json:"command"`
}

// Listener subscribes to the bot's command channel.
type Listener struct {
	client  *redis.Client
	channel string
	log     *slog.Logger
	out     chan Command
}

// NewListener prepares a listener for bot botID; commands arrive on the Redis
// channel "bot_<id>".
func NewListener(client *redis.Client, botID string, log *slog.Logger) *Listener {
	if log == nil {
		log = slog.Default()
	}
	return &Listener{
		client:  client,
		channel: fmt.Sprintf("bot_%s", botID),
		log:     log.With("component", "command"),
		out:     make(chan Command, 16),
	}
}

// Commands is the channel the controller drains on its loop.
func (l *Listener) Commands() <-chan Command { return l.out }

// Run subscribes and forwards commands until ctx is cancelled. Malformed
// payloads are logged and skipped.
func (l *Listener) Run(ctx context.Context) error {
	pubsub := l.client.Subscribe(ctx, l.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("command: subscribe %s: %w", l.channel, err)
	}
	l.log.Info("listening for commands", "channel", l.channel)

	msgs := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			var cmd Command
			if err := json.Unmarshal([]byte(msg.Payload), &cmd); err != nil || cmd.Command == "" {
				l.log.Warn("malformed command payload", "payload", msg.Payload)
				continue
			}
			select {
			case l.out <- cmd:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
