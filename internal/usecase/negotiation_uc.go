package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"marketplace-bargain/internal/domain"
	"marketplace-bargain/internal/domain/model"
	"marketplace-bargain/internal/domain/negotiation"
	"marketplace-bargain/internal/domain/ports/adapter"
	"marketplace-bargain/internal/domain/ports/repository"
	"marketplace-bargain/internal/infra/metrics"
)

// Compile-time check
var _ NegotiationUseCase = (*negotiationUC)(nil)

// NegotiationUseCase is the session coordinator: it validates inbound
// requests through the negotiation engine, persists outcomes under the
// store's CAS discipline, fans results out to the session's room, and hands
// accepted bargains to the cart sink.
type NegotiationUseCase interface {
	OpenSession(ctx context.Context, productID, buyerID string, initialOffer int64, note string) (*model.NegotiationSession, error)
	// PostMessage returns the authoritative post-call session. On
	// domain.ErrVersionConflict (and on engine rejections after a lost
	// race) the returned session is the fresh snapshot the client should
	// reconcile against.
	PostMessage(ctx context.Context, sessionID, senderID string, kind model.MessageKind, price *int64, body string) (*model.NegotiationSession, error)
	MarkRead(ctx context.Context, sessionID, readerID string) error
	GetSession(ctx context.Context, sessionID, requesterID string) (*model.NegotiationSession, error)
	ListSessions(ctx context.Context, partyID string, roleFilter model.PartyRole) ([]model.SessionSummary, error)
	CloseSession(ctx context.Context, sessionID, requesterID string) (*model.NegotiationSession, error)
	// CloseIdle terminates active sessions idle past idleFor; used by the
	// scheduler. Returns the number of sessions closed.
	CloseIdle(ctx context.Context, idleFor time.Duration) (int, error)
}

// Locker guards the open-session race window (redis SetNX in production).
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}

// RateLimiter throttles per-sender message posting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Retryer re-drives failed cart handoffs out-of-band (the worker pool).
type Retryer interface {
	Submit(task func(ctx context.Context) error) error
}

// Options are the coordinator's policy knobs, fed from config.
type Options struct {
	OpenLockTTL       time.Duration
	MessageRateLimit  int
	MessageRateWindow time.Duration
}

func (o *Options) normalize() {
	if o.OpenLockTTL <= 0 {
		o.OpenLockTTL = 5 * time.Second
	}
	if o.MessageRateLimit <= 0 {
		o.MessageRateLimit = 30
	}
	if o.MessageRateWindow <= 0 {
		o.MessageRateWindow = time.Minute
	}
}

type negotiationUC struct {
	sessions repository.SessionRepository
	txm      repository.TransactionManager // nil runs the non-transactional path
	catalog  adapter.Catalog
	cart     adapter.CartSink
	rooms    adapter.Broadcaster
	locker   Locker
	limiter  RateLimiter
	retry    Retryer
	opts     Options
	log      *zerolog.Logger
}

func NewNegotiationUseCase(
	sessions repository.SessionRepository,
	txm repository.TransactionManager,
	catalog adapter.Catalog,
	cart adapter.CartSink,
	rooms adapter.Broadcaster,
	locker Locker,
	limiter RateLimiter,
	retry Retryer,
	opts Options,
	logger *zerolog.Logger,
) *negotiationUC {
	opts.normalize()
	ucLog := logger.With().Str("component", "NegotiationUC").Logger()
	return &negotiationUC{
		sessions: sessions,
		txm:      txm,
		catalog:  catalog,
		cart:     cart,
		rooms:    rooms,
		locker:   locker,
		limiter:  limiter,
		retry:    retry,
		opts:     opts,
		log:      &ucLog,
	}
}

func (c *negotiationUC) OpenSession(ctx context.Context, productID, buyerID string, initialOffer int64, note string) (*model.NegotiationSession, error) {
	if productID == "" || buyerID == "" {
		return nil, domain.ErrInvalidArgument
	}
	if initialOffer <= 0 {
		return nil, domain.ErrInvalidOffer
	}

	listing, err := c.catalog.Lookup(ctx, productID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrProductUnavailable
		}
		return nil, fmt.Errorf("%w: catalog lookup: %v", domain.ErrDownstreamUnavailable, err)
	}
	if !listing.Available {
		return nil, domain.ErrProductUnavailable
	}
	if listing.SellerID == buyerID {
		return nil, domain.ErrInvalidArgument // no bargaining with yourself
	}

	// Short lock narrows the duplicate-open race window; the store's
	// partial unique index stays authoritative. A locker outage therefore
	// must not block opens, only contention does.
	if c.locker != nil {
		key := openLockKey(buyerID, productID)
		token, lerr := c.locker.TryLock(ctx, key, c.opts.OpenLockTTL)
		switch {
		case lerr == nil:
			defer func() { _ = c.locker.Unlock(ctx, key, token) }()
		case errors.Is(lerr, domain.ErrDuplicateActiveSession):
			return nil, domain.ErrDuplicateActiveSession
		default:
			c.log.Warn().Err(lerr).Msg("open lock unavailable, relying on store checks")
		}
	}

	s := model.NewNegotiationSession(uuid.NewString(), model.ProductSnapshot{
		ProductID:   listing.ProductID,
		Title:       listing.Title,
		ListedPrice: listing.ListedPrice,
		Currency:    listing.Currency,
	}, buyerID, listing.SellerID, initialOffer)

	// Opening a negotiation IS posting the first price_offer.
	msg, terr := negotiation.Transition(s, negotiation.Inbound{
		SenderID: buyerID,
		Kind:     model.KindPriceOffer,
		Price:    &initialOffer,
		Body:     note,
	})
	if terr != nil {
		return nil, terr
	}

	// The duplicate check and the insert must see the same store state; the
	// partial unique index backstops the non-transactional path.
	create := func(ctx context.Context, qx any) error {
		if existing, ferr := c.sessions.FindActiveByBuyerAndProduct(ctx, qx, buyerID, productID); ferr == nil && existing != nil {
			return domain.ErrDuplicateActiveSession
		}
		return c.sessions.Create(ctx, qx, s)
	}
	if c.txm != nil {
		err = c.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			return create(ctx, tx)
		})
	} else {
		err = create(ctx, nil)
	}
	if err != nil {
		return nil, err
	}
	metrics.IncSessionOpened()
	metrics.IncMessage(string(model.KindPriceOffer))
	c.log.Info().Str("session_id", s.ID).Str("product_id", productID).
		Str("buyer_id", buyerID).Int64("initial_offer", initialOffer).Msg("negotiation opened")

	c.publish(ctx, s, adapter.Event{
		Kind:         adapter.EventNewMessage,
		SessionID:    s.ID,
		Status:       s.Status,
		CurrentOffer: s.CurrentOffer,
		Message:      msg,
	})
	return s, nil
}

func (c *negotiationUC) PostMessage(ctx context.Context, sessionID, senderID string, kind model.MessageKind, price *int64, body string) (*model.NegotiationSession, error) {
	if c.limiter != nil {
		allowed, lerr := c.limiter.Allow(ctx, rateKey(senderID), c.opts.MessageRateLimit, c.opts.MessageRateWindow)
		if lerr != nil {
			// Limiter outage must not block negotiation traffic.
			c.log.Warn().Err(lerr).Msg("rate limiter unavailable, allowing")
		} else if !allowed {
			metrics.IncRateLimited()
			return nil, domain.ErrRateLimited
		}
	}

	s, err := c.sessions.FindByID(ctx, nil, sessionID)
	if err != nil {
		return nil, err
	}

	in := negotiation.Inbound{SenderID: senderID, Kind: kind, Price: price, Body: body}
	next := s.Clone()
	msg, terr := negotiation.Transition(next, in)
	if terr != nil {
		metrics.IncTransitionRejected()
		return s, terr
	}

	err = c.sessions.CompareAndSwap(ctx, nil, s.Version, next, msg)
	if errors.Is(err, domain.ErrVersionConflict) {
		return c.reconcile(ctx, sessionID, in)
	}
	if err != nil {
		return nil, fmt.Errorf("persist transition: %w", err)
	}
	metrics.IncMessage(string(kind))

	c.publish(ctx, next, adapter.Event{
		Kind:         adapter.EventNewMessage,
		SessionID:    next.ID,
		Status:       next.Status,
		CurrentOffer: next.CurrentOffer,
		Message:      msg,
	})

	switch next.Status {
	case model.SessionAccepted:
		metrics.IncSessionTerminal(string(next.Status))
		c.log.Info().Str("session_id", next.ID).Int64("final_price", *next.FinalPrice).Msg("offer accepted")
		if herr := c.handoffCart(ctx, next); herr != nil {
			return next, herr
		}
	case model.SessionRejected:
		metrics.IncSessionTerminal(string(next.Status))
		c.log.Info().Str("session_id", next.ID).Msg("offer rejected")
	}
	return next, nil
}

// reconcile handles a lost CAS race: re-read the authoritative session and
// re-validate the caller's intent against it. A stale terminal intent fails
// through the engine (e.g. ErrSessionTerminal); an intent that would still
// apply is NOT silently retried — the caller gets the fresh snapshot with
// ErrVersionConflict and decides.
func (c *negotiationUC) reconcile(ctx context.Context, sessionID string, in negotiation.Inbound) (*model.NegotiationSession, error) {
	metrics.IncVersionConflict()
	fresh, err := c.sessions.FindByID(ctx, nil, sessionID)
	if err != nil {
		return nil, err
	}
	if _, terr := negotiation.Transition(fresh.Clone(), in); terr != nil {
		return fresh, terr
	}
	return fresh, domain.ErrVersionConflict
}

// handoffCart gives the accepted bargain to the cart subsystem. Acceptance
// is already durable; a sink failure queues an out-of-band retry and is
// surfaced as recoverable, never unwound into reopening the negotiation.
func (c *negotiationUC) handoffCart(ctx context.Context, s *model.NegotiationSession) error {
	buyerID, productID, finalPrice := s.BuyerID, s.Product.ProductID, *s.FinalPrice
	err := c.cart.AddNegotiatedItem(ctx, buyerID, productID, finalPrice)
	if err == nil {
		metrics.IncCartHandoff("ok")
		return nil
	}
	metrics.IncCartHandoff("retry_queued")
	c.log.Warn().Err(err).Str("session_id", s.ID).Msg("cart handoff failed, queueing retry")
	if c.retry != nil {
		if serr := c.retry.Submit(func(ctx context.Context) error {
			return c.cart.AddNegotiatedItem(ctx, buyerID, productID, finalPrice)
		}); serr != nil {
			c.log.Error().Err(serr).Str("session_id", s.ID).Msg("cart retry queue full")
		}
	}
	return fmt.Errorf("%w: cart handoff: %v", domain.ErrDownstreamUnavailable, err)
}

func (c *negotiationUC) MarkRead(ctx context.Context, sessionID, readerID string) error {
	s, err := c.sessions.FindByID(ctx, nil, sessionID)
	if err != nil {
		return err
	}
	role := s.RoleOf(readerID)
	if role == "" {
		return domain.ErrForbidden
	}
	counterpart := model.RoleSeller
	if role == model.RoleSeller {
		counterpart = model.RoleBuyer
	}
	return c.sessions.MarkMessagesRead(ctx, nil, sessionID, counterpart)
}

// GetSession never distinguishes "unknown id" from "not your session": a
// non-party caller always sees ErrForbidden, so session existence does not
// leak.
func (c *negotiationUC) GetSession(ctx context.Context, sessionID, requesterID string) (*model.NegotiationSession, error) {
	s, err := c.sessions.FindByID(ctx, nil, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrForbidden
		}
		return nil, err
	}
	if !s.IsParty(requesterID) {
		return nil, domain.ErrForbidden
	}
	return s, nil
}

func (c *negotiationUC) ListSessions(ctx context.Context, partyID string, roleFilter model.PartyRole) ([]model.SessionSummary, error) {
	if partyID == "" {
		return nil, domain.ErrInvalidArgument
	}
	sessions, err := c.sessions.FindAllByParty(ctx, nil, partyID, roleFilter)
	if err != nil {
		return nil, err
	}
	out := make([]model.SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Summarize(partyID))
	}
	return out, nil
}

func (c *negotiationUC) CloseSession(ctx context.Context, sessionID, requesterID string) (*model.NegotiationSession, error) {
	s, err := c.sessions.FindByID(ctx, nil, sessionID)
	if err != nil {
		return nil, err
	}
	if !s.IsParty(requesterID) {
		return nil, domain.ErrUnauthorized
	}
	return c.close(ctx, s)
}

func (c *negotiationUC) CloseIdle(ctx context.Context, idleFor time.Duration) (int, error) {
	cutoff := time.Now().Add(-idleFor)
	ids, err := c.sessions.FindActiveIdleBefore(ctx, nil, cutoff, 100)
	if err != nil {
		return 0, err
	}
	closed := 0
	for _, id := range ids {
		s, ferr := c.sessions.FindByID(ctx, nil, id)
		if ferr != nil {
			continue
		}
		if _, cerr := c.close(ctx, s); cerr == nil {
			closed++
		}
	}
	return closed, nil
}

func (c *negotiationUC) close(ctx context.Context, s *model.NegotiationSession) (*model.NegotiationSession, error) {
	next := s.Clone()
	if err := negotiation.Close(next); err != nil {
		return s, err
	}
	err := c.sessions.CompareAndSwap(ctx, nil, s.Version, next, nil)
	if errors.Is(err, domain.ErrVersionConflict) {
		fresh, rerr := c.sessions.FindByID(ctx, nil, s.ID)
		if rerr != nil {
			return nil, rerr
		}
		if fresh.Status.Terminal() {
			return fresh, domain.ErrSessionTerminal
		}
		return fresh, domain.ErrVersionConflict
	}
	if err != nil {
		return nil, fmt.Errorf("persist close: %w", err)
	}
	metrics.IncSessionTerminal(string(model.SessionClosed))
	c.log.Info().Str("session_id", next.ID).Msg("negotiation closed")
	c.publish(ctx, next, adapter.Event{
		Kind:      adapter.EventSessionClosed,
		SessionID: next.ID,
		Status:    next.Status,
	})
	return next, nil
}

// publish is fire-and-forget: room fanout is a latency optimization, never
// part of the call's success.
func (c *negotiationUC) publish(ctx context.Context, s *model.NegotiationSession, ev adapter.Event) {
	if c.rooms == nil {
		return
	}
	if err := c.rooms.Publish(ctx, s.ID, ev); err != nil {
		metrics.IncBroadcastError()
		c.log.Warn().Err(err).Str("session_id", s.ID).Str("event", ev.Kind).Msg("room publish failed")
	}
}

func openLockKey(buyerID, productID string) string {
	return "bargain:open:" + buyerID + ":" + productID
}

func rateKey(senderID string) string {
	return "bargain:rate:" + senderID
}
