package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"marketplace-bargain/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.Broadcaster = (*RedisBridge)(nil)

const channel = "bargain.rooms"

// envelope travels over the redis channel. Origin lets an instance skip the
// copy of its own publishes (those already went to the local hub directly).
type envelope struct {
	Origin    string        `json:"origin"`
	SessionID string        `json:"session_id"`
	Event     adapter.Event `json:"event"`
}

// RedisBridge extends a local Hub across instances: Publish delivers to the
// local room and PUBLISHes to redis; Run feeds events published by other
// instances into the local hub. Losing redis degrades to single-instance
// fanout, it never fails the negotiation call path.
type RedisBridge struct {
	hub      *Hub
	cli      *redis.Client
	instance string
	log      *zerolog.Logger
}

func NewRedisBridge(hub *Hub, cli *redis.Client, logger *zerolog.Logger) *RedisBridge {
	l := logger.With().Str("component", "RedisBridge").Logger()
	return &RedisBridge{hub: hub, cli: cli, instance: uuid.NewString(), log: &l}
}

func (b *RedisBridge) Publish(ctx context.Context, sessionID string, ev adapter.Event) error {
	// Local subscribers first; remote fanout is best-effort on top.
	_ = b.hub.Publish(ctx, sessionID, ev)

	payload, err := json.Marshal(envelope{Origin: b.instance, SessionID: sessionID, Event: ev})
	if err != nil {
		return fmt.Errorf("marshal room event: %w", err)
	}
	if err := b.cli.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Run subscribes to the shared channel and relays other instances' events
// into the local hub until ctx is cancelled.
func (b *RedisBridge) Run(ctx context.Context) error {
	sub := b.cli.Subscribe(ctx, channel)
	defer func() { _ = sub.Close() }()

	ch := sub.Channel()
	b.log.Info().Str("instance", b.instance).Msg("room bridge subscribed")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.log.Warn().Err(err).Msg("bad room envelope")
				continue
			}
			if env.Origin == b.instance {
				continue
			}
			_ = b.hub.Publish(ctx, env.SessionID, env.Event)
		}
	}
}
