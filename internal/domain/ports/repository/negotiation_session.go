package repository

import (
	"context"
	"time"

	"marketplace-bargain/internal/domain/model"
)

// -----------------------------
// Negotiation sessions
// -----------------------------

// SessionRepository is the durable store for negotiation sessions and their
// message logs. The store owns the session's mutable fields under the
// version CAS discipline; callers never write state outside CompareAndSwap.
type SessionRepository interface {
	// Create persists a fresh session together with its opening message(s).
	// Returns domain.ErrDuplicateActiveSession when the buyer already holds
	// an active session for the same product.
	Create(ctx context.Context, qx any, session *model.NegotiationSession) error

	// FindByID loads the session and its full message log.
	FindByID(ctx context.Context, qx any, id string) (*model.NegotiationSession, error)

	// CompareAndSwap writes the post-transition session state and appends
	// newMessage in one atomic unit, conditioned on the stored version still
	// being expectedVersion. A version mismatch fails with
	// domain.ErrVersionConflict and writes nothing. newMessage may be nil
	// (administrative close appends no message).
	CompareAndSwap(ctx context.Context, qx any, expectedVersion int64, session *model.NegotiationSession, newMessage *model.Message) error

	// FindActiveByBuyerAndProduct returns the buyer's open session for a
	// product, or domain.ErrNotFound.
	FindActiveByBuyerAndProduct(ctx context.Context, qx any, buyerID, productID string) (*model.NegotiationSession, error)

	// FindAllByParty lists sessions where the party participates; roleFilter
	// narrows to sessions where they hold that role ("" for both).
	FindAllByParty(ctx context.Context, qx any, partyID string, roleFilter model.PartyRole) ([]*model.NegotiationSession, error)

	// FindActiveIdleBefore returns ids of active sessions whose last
	// activity predates cutoff, for the idle sweeper.
	FindActiveIdleBefore(ctx context.Context, qx any, cutoff time.Time, limit int) ([]string, error)

	// MarkMessagesRead flips is_read on all messages authored by senderRole.
	// Read receipts sit outside the state machine and do not touch version.
	MarkMessagesRead(ctx context.Context, qx any, sessionID string, senderRole model.PartyRole) error
}
