package adapter

import (
	"context"

	"marketplace-bargain/internal/domain/model"
)

// Event kinds fanned out to a session's room.
const (
	EventNewMessage    = "new-message"
	EventSessionClosed = "session-closed"
)

// Event is the room notification payload. It carries enough post-transition
// state for clients to render without a re-fetch, but delivery is
// at-most-once and best-effort: the store, not this channel, is the
// durability authority, and clients reconcile via GetSession on reconnect.
type Event struct {
	Kind         string              `json:"kind"`
	SessionID    string              `json:"session_id"`
	Status       model.SessionStatus `json:"status"`
	CurrentOffer *int64              `json:"current_offer,omitempty"`
	Message      *model.Message      `json:"message,omitempty"`
}

// Broadcaster is the coordinator-facing side of the room layer. Join/Leave
// live on the concrete hub next to the connection transport; the
// coordinator only ever publishes.
type Broadcaster interface {
	Publish(ctx context.Context, sessionID string, ev Event) error
}
