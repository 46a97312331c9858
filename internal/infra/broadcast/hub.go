// Package broadcast implements the room fanout layer: an in-process Hub for
// a single instance, and a Redis pub/sub bridge that lets several instances
// share rooms. Delivery is at-most-once and best-effort; the session store
// is the durability authority and clients reconcile via GetSession.
package broadcast

import (
	"context"
	"sync"

	"marketplace-bargain/internal/domain/ports/adapter"
	"marketplace-bargain/internal/infra/metrics"
)

// Compile-time check
var _ adapter.Broadcaster = (*Hub)(nil)

// subscription is one joined connection's mailbox.
type subscription struct {
	ch chan adapter.Event
}

// Hub maps session ids to the set of currently joined connections and fans
// events out to them. Sends never block: a subscriber whose buffer is full
// loses the event (counted) and is expected to re-fetch on reconnect.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*subscription]struct{}
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*subscription]struct{})}
}

// Join registers a connection's interest in a session's events. The
// returned channel receives at most buf undelivered events; leave must be
// called exactly once when the connection goes away. Authorization is the
// caller's job (checked identically to GetSession before joining).
func (h *Hub) Join(sessionID string, buf int) (events <-chan adapter.Event, leave func()) {
	if buf <= 0 {
		buf = 16
	}
	sub := &subscription{ch: make(chan adapter.Event, buf)}

	h.mu.Lock()
	room, ok := h.rooms[sessionID]
	if !ok {
		room = make(map[*subscription]struct{})
		h.rooms[sessionID] = room
	}
	room[sub] = struct{}{}
	h.mu.Unlock()
	metrics.IncRoomSubscribers()

	var once sync.Once
	leave = func() {
		once.Do(func() {
			h.mu.Lock()
			if room, ok := h.rooms[sessionID]; ok {
				delete(room, sub)
				if len(room) == 0 {
					delete(h.rooms, sessionID)
				}
			}
			h.mu.Unlock()
			close(sub.ch)
			metrics.DecRoomSubscribers()
		})
	}
	return sub.ch, leave
}

// Publish fans ev out to every connection currently joined to the session's
// room. Offline parties receive nothing; rooms with no subscribers are a
// no-op.
func (h *Hub) Publish(_ context.Context, sessionID string, ev adapter.Event) error {
	// Sends stay under the read lock: they never block, and leave's write
	// lock removes a subscription before its channel closes, so no send can
	// race the close.
	h.mu.RLock()
	delivered, dropped := 0, 0
	for sub := range h.rooms[sessionID] {
		select {
		case sub.ch <- ev:
			delivered++
		default:
			dropped++
		}
	}
	h.mu.RUnlock()
	if delivered > 0 {
		metrics.AddBroadcastDelivered(delivered)
	}
	if dropped > 0 {
		metrics.AddBroadcastDropped(dropped)
	}
	return nil
}

// RoomSize reports the number of joined connections, for tests and
// diagnostics.
func (h *Hub) RoomSize(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionID])
}
