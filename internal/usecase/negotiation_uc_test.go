package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"marketplace-bargain/internal/domain"
	"marketplace-bargain/internal/domain/model"
	"marketplace-bargain/internal/domain/ports/adapter"
)

type ucFixture struct {
	uc      *negotiationUC
	repo    *mockSessionRepo
	catalog *mockCatalog
	cart    *mockCartSink
	rooms   *mockBroadcaster
	locker  *mockLocker
	limiter *mockRateLimiter
	retry   *mockRetryer
}

func newFixture() *ucFixture {
	f := &ucFixture{
		repo: newMockSessionRepo(),
		catalog: &mockCatalog{listings: map[string]adapter.Listing{
			"prod-1": {ProductID: "prod-1", SellerID: "seller-1", Title: "Vintage Lamp", ListedPrice: 10000, Currency: "USD", Available: true},
		}},
		cart:    &mockCartSink{},
		rooms:   &mockBroadcaster{},
		locker:  &mockLocker{},
		limiter: &mockRateLimiter{},
		retry:   &mockRetryer{},
	}
	logger := zerolog.Nop()
	f.uc = NewNegotiationUseCase(f.repo, nil, f.catalog, f.cart, f.rooms, f.locker, f.limiter, f.retry, Options{}, &logger)
	return f
}

func (f *ucFixture) open(t *testing.T, buyerID string, offer int64) *model.NegotiationSession {
	t.Helper()
	s, err := f.uc.OpenSession(context.Background(), "prod-1", buyerID, offer, "")
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	return s
}

func TestOpenSession(t *testing.T) {
	ctx := context.Background()

	t.Run("opens with the first offer applied", func(t *testing.T) {
		f := newFixture()
		s := f.open(t, "buyer-1", 8000)

		if s.Status != model.SessionActive {
			t.Errorf("expected active, got %s", s.Status)
		}
		if s.CurrentOffer == nil || *s.CurrentOffer != 8000 {
			t.Errorf("expected current offer 8000, got %v", s.CurrentOffer)
		}
		if s.Version != 1 {
			t.Errorf("expected version 1 after opening offer, got %d", s.Version)
		}
		if len(s.Messages) != 1 || s.Messages[0].Kind != model.KindPriceOffer {
			t.Fatalf("expected one opening price_offer, got %+v", s.Messages)
		}
		if s.SellerID != "seller-1" || s.Product.ListedPrice != 10000 {
			t.Errorf("listing snapshot not captured: %+v", s.Product)
		}
		evs := f.rooms.published()
		if len(evs) != 1 || evs[0].Event.Kind != adapter.EventNewMessage {
			t.Errorf("expected one new-message event, got %+v", evs)
		}
	})

	t.Run("second open for same buyer and product conflicts", func(t *testing.T) {
		f := newFixture()
		f.open(t, "buyer-1", 8000)
		if _, err := f.uc.OpenSession(ctx, "prod-1", "buyer-1", 8500, ""); !errors.Is(err, domain.ErrDuplicateActiveSession) {
			t.Errorf("expected ErrDuplicateActiveSession, got %v", err)
		}
	})

	t.Run("held open lock conflicts", func(t *testing.T) {
		f := newFixture()
		f.locker.TryLockFunc = func(ctx context.Context, key string, ttl time.Duration) (string, error) {
			return "", domain.ErrDuplicateActiveSession
		}
		if _, err := f.uc.OpenSession(ctx, "prod-1", "buyer-1", 8000, ""); !errors.Is(err, domain.ErrDuplicateActiveSession) {
			t.Errorf("expected ErrDuplicateActiveSession, got %v", err)
		}
	})

	t.Run("locker outage falls through to store checks", func(t *testing.T) {
		f := newFixture()
		f.locker.TryLockFunc = func(ctx context.Context, key string, ttl time.Duration) (string, error) {
			return "", errors.New("redis: connection refused")
		}
		s, err := f.uc.OpenSession(ctx, "prod-1", "buyer-1", 8000, "")
		if err != nil {
			t.Fatalf("lock outage must not block opens: %v", err)
		}
		if s.Status != model.SessionActive {
			t.Errorf("expected active session, got %s", s.Status)
		}
		// The store-level duplicate guard still holds without the lock.
		if _, err := f.uc.OpenSession(ctx, "prod-1", "buyer-1", 8500, ""); !errors.Is(err, domain.ErrDuplicateActiveSession) {
			t.Errorf("expected ErrDuplicateActiveSession from store, got %v", err)
		}
	})

	t.Run("unknown or delisted product", func(t *testing.T) {
		f := newFixture()
		if _, err := f.uc.OpenSession(ctx, "prod-404", "buyer-1", 8000, ""); !errors.Is(err, domain.ErrProductUnavailable) {
			t.Errorf("unknown product: expected ErrProductUnavailable, got %v", err)
		}
		f.catalog.listings["prod-1"] = adapter.Listing{ProductID: "prod-1", SellerID: "seller-1", Available: false}
		if _, err := f.uc.OpenSession(ctx, "prod-1", "buyer-1", 8000, ""); !errors.Is(err, domain.ErrProductUnavailable) {
			t.Errorf("delisted product: expected ErrProductUnavailable, got %v", err)
		}
	})

	t.Run("catalog outage is recoverable, not unavailable", func(t *testing.T) {
		f := newFixture()
		f.catalog.LookupFunc = func(ctx context.Context, productID string) (adapter.Listing, error) {
			return adapter.Listing{}, errors.New("connection refused")
		}
		if _, err := f.uc.OpenSession(ctx, "prod-1", "buyer-1", 8000, ""); !errors.Is(err, domain.ErrDownstreamUnavailable) {
			t.Errorf("expected ErrDownstreamUnavailable, got %v", err)
		}
	})

	t.Run("seller cannot bargain with themselves", func(t *testing.T) {
		f := newFixture()
		if _, err := f.uc.OpenSession(ctx, "prod-1", "seller-1", 8000, ""); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("non-positive opening offer", func(t *testing.T) {
		f := newFixture()
		if _, err := f.uc.OpenSession(ctx, "prod-1", "buyer-1", 0, ""); !errors.Is(err, domain.ErrInvalidOffer) {
			t.Errorf("expected ErrInvalidOffer, got %v", err)
		}
	})
}

func TestPostMessage(t *testing.T) {
	ctx := context.Background()
	price := func(v int64) *int64 { return &v }

	t.Run("counter offer persists and broadcasts", func(t *testing.T) {
		f := newFixture()
		s := f.open(t, "buyer-1", 8000)

		next, err := f.uc.PostMessage(ctx, s.ID, "seller-1", model.KindCounterOffer, price(9000), "")
		if err != nil {
			t.Fatalf("PostMessage: %v", err)
		}
		if *next.CurrentOffer != 9000 || next.Version != 2 {
			t.Errorf("expected offer 9000 at version 2, got %v v%d", next.CurrentOffer, next.Version)
		}
		stored, _ := f.repo.FindByID(ctx, nil, s.ID)
		if stored.Version != 2 || len(stored.Messages) != 2 {
			t.Errorf("store not updated: v%d, %d messages", stored.Version, len(stored.Messages))
		}
		evs := f.rooms.published()
		if len(evs) != 2 || evs[1].Event.Message.Kind != model.KindCounterOffer {
			t.Errorf("expected broadcast of the counter offer, got %+v", evs)
		}
	})

	t.Run("accept hands the bargain to the cart", func(t *testing.T) {
		f := newFixture()
		s := f.open(t, "buyer-1", 8000)

		next, err := f.uc.PostMessage(ctx, s.ID, "seller-1", model.KindAcceptOffer, price(8000), "")
		if err != nil {
			t.Fatalf("PostMessage: %v", err)
		}
		if next.Status != model.SessionAccepted || *next.FinalPrice != 8000 {
			t.Errorf("expected accepted at 8000, got %s %v", next.Status, next.FinalPrice)
		}
		adds := f.cart.adds()
		if len(adds) != 1 || adds[0].FinalPrice != 8000 || adds[0].BuyerID != "buyer-1" {
			t.Errorf("unexpected cart handoff: %+v", adds)
		}
	})

	t.Run("cart outage keeps acceptance and queues a retry", func(t *testing.T) {
		f := newFixture()
		s := f.open(t, "buyer-1", 8000)
		f.cart.AddNegotiatedItemFunc = func(ctx context.Context, buyerID, productID string, finalPrice int64) error {
			return errors.New("cart service down")
		}

		next, err := f.uc.PostMessage(ctx, s.ID, "seller-1", model.KindAcceptOffer, price(8000), "")
		if !errors.Is(err, domain.ErrDownstreamUnavailable) {
			t.Fatalf("expected ErrDownstreamUnavailable, got %v", err)
		}
		if next == nil || next.Status != model.SessionAccepted {
			t.Errorf("acceptance must survive the sink failure: %+v", next)
		}
		stored, _ := f.repo.FindByID(ctx, nil, s.ID)
		if stored.Status != model.SessionAccepted {
			t.Errorf("stored session lost acceptance: %s", stored.Status)
		}
		if f.retry.count() != 1 {
			t.Errorf("expected one queued retry, got %d", f.retry.count())
		}
	})

	t.Run("lost race with still-valid intent returns conflict and fresh snapshot", func(t *testing.T) {
		f := newFixture()
		s := f.open(t, "buyer-1", 8000)

		// Seller counters behind the buyer's back between read and CAS.
		raced := false
		f.repo.CompareAndSwapFunc = func(ctx context.Context, qx any, expectedVersion int64, next *model.NegotiationSession, m *model.Message) error {
			if !raced {
				raced = true
				racedSession, _ := f.repo.SessionRepo.FindByID(ctx, nil, s.ID)
				rn := racedSession.Clone()
				counter := int64(9500)
				rn.CurrentOffer = &counter
				rn.Version++
				if err := f.repo.SessionRepo.CompareAndSwap(ctx, nil, racedSession.Version, rn, nil); err != nil {
					return err
				}
			}
			return f.repo.SessionRepo.CompareAndSwap(ctx, qx, expectedVersion, next, m)
		}

		fresh, err := f.uc.PostMessage(ctx, s.ID, "buyer-1", model.KindCounterOffer, price(8200), "")
		if !errors.Is(err, domain.ErrVersionConflict) {
			t.Fatalf("expected ErrVersionConflict, got %v", err)
		}
		if fresh == nil || fresh.CurrentOffer == nil || *fresh.CurrentOffer != 9500 {
			t.Errorf("expected the fresh racing offer in the snapshot, got %+v", fresh)
		}
		stored, _ := f.repo.FindByID(ctx, nil, s.ID)
		if *stored.CurrentOffer != 9500 {
			t.Errorf("conflicting write must not land, stored offer %v", stored.CurrentOffer)
		}
	})

	t.Run("stale accept after the session went terminal", func(t *testing.T) {
		f := newFixture()
		s := f.open(t, "buyer-1", 8000)

		// The seller rejects first.
		if _, err := f.uc.PostMessage(ctx, s.ID, "seller-1", model.KindRejectOffer, nil, ""); err != nil {
			t.Fatalf("reject: %v", err)
		}

		fresh, err := f.uc.PostMessage(ctx, s.ID, "buyer-1", model.KindAcceptOffer, price(8000), "")
		if !errors.Is(err, domain.ErrSessionTerminal) {
			t.Fatalf("expected ErrSessionTerminal, got %v", err)
		}
		if fresh == nil || fresh.Status != model.SessionRejected {
			t.Errorf("expected the rejected snapshot back, got %+v", fresh)
		}
	})

	t.Run("rate limit blocks, limiter outage does not", func(t *testing.T) {
		f := newFixture()
		s := f.open(t, "buyer-1", 8000)

		f.limiter.AllowFunc = func(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
			return false, nil
		}
		if _, err := f.uc.PostMessage(ctx, s.ID, "buyer-1", model.KindText, nil, "hello"); !errors.Is(err, domain.ErrRateLimited) {
			t.Errorf("expected ErrRateLimited, got %v", err)
		}

		f.limiter.AllowFunc = func(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
			return false, fmt.Errorf("redis down")
		}
		if _, err := f.uc.PostMessage(ctx, s.ID, "buyer-1", model.KindText, nil, "hello"); err != nil {
			t.Errorf("limiter outage must not block traffic: %v", err)
		}
	})
}

func TestGetSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	s := f.open(t, "buyer-1", 8000)

	t.Run("party reads the full session", func(t *testing.T) {
		got, err := f.uc.GetSession(ctx, s.ID, "seller-1")
		if err != nil {
			t.Fatalf("GetSession: %v", err)
		}
		if got.ID != s.ID {
			t.Errorf("wrong session: %s", got.ID)
		}
	})

	t.Run("stranger and unknown id look identical", func(t *testing.T) {
		if _, err := f.uc.GetSession(ctx, s.ID, "stranger"); !errors.Is(err, domain.ErrForbidden) {
			t.Errorf("stranger: expected ErrForbidden, got %v", err)
		}
		if _, err := f.uc.GetSession(ctx, "no-such-id", "stranger"); !errors.Is(err, domain.ErrForbidden) {
			t.Errorf("unknown id: expected ErrForbidden, got %v", err)
		}
	})
}

func TestMarkRead(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	s := f.open(t, "buyer-1", 8000)

	if err := f.uc.MarkRead(ctx, s.ID, "seller-1"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	stored, _ := f.repo.FindByID(ctx, nil, s.ID)
	if n := stored.UnreadCountFor("seller-1"); n != 0 {
		t.Errorf("expected 0 unread for seller after read, got %d", n)
	}

	if err := f.uc.MarkRead(ctx, s.ID, "stranger"); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("expected ErrForbidden for stranger, got %v", err)
	}
}

func TestListSessions(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.catalog.listings["prod-2"] = adapter.Listing{ProductID: "prod-2", SellerID: "buyer-1", Title: "Desk", ListedPrice: 20000, Currency: "USD", Available: true}

	f.open(t, "buyer-1", 8000)
	if _, err := f.uc.OpenSession(ctx, "prod-2", "other-buyer", 15000, ""); err != nil {
		t.Fatalf("open second: %v", err)
	}

	all, err := f.uc.ListSessions(ctx, "buyer-1", "")
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected buyer-1 in two sessions, got %d", len(all))
	}

	asSeller, err := f.uc.ListSessions(ctx, "buyer-1", model.RoleSeller)
	if err != nil {
		t.Fatalf("ListSessions seller: %v", err)
	}
	if len(asSeller) != 1 || asSeller[0].Role != model.RoleSeller {
		t.Errorf("expected one selling session, got %+v", asSeller)
	}
}

func TestCloseSession(t *testing.T) {
	ctx := context.Background()

	t.Run("party closes, event fans out", func(t *testing.T) {
		f := newFixture()
		s := f.open(t, "buyer-1", 8000)

		closed, err := f.uc.CloseSession(ctx, s.ID, "buyer-1")
		if err != nil {
			t.Fatalf("CloseSession: %v", err)
		}
		if closed.Status != model.SessionClosed || closed.Version != s.Version+1 {
			t.Errorf("expected closed at v%d, got %s v%d", s.Version+1, closed.Status, closed.Version)
		}
		evs := f.rooms.published()
		if evs[len(evs)-1].Event.Kind != adapter.EventSessionClosed {
			t.Errorf("expected session-closed event last, got %+v", evs)
		}
	})

	t.Run("stranger cannot close", func(t *testing.T) {
		f := newFixture()
		s := f.open(t, "buyer-1", 8000)
		if _, err := f.uc.CloseSession(ctx, s.ID, "stranger"); !errors.Is(err, domain.ErrUnauthorized) {
			t.Errorf("expected ErrUnauthorized, got %v", err)
		}
	})

	t.Run("closing a terminal session reports terminal", func(t *testing.T) {
		f := newFixture()
		s := f.open(t, "buyer-1", 8000)
		if _, err := f.uc.CloseSession(ctx, s.ID, "buyer-1"); err != nil {
			t.Fatalf("first close: %v", err)
		}
		if _, err := f.uc.CloseSession(ctx, s.ID, "buyer-1"); !errors.Is(err, domain.ErrSessionTerminal) {
			t.Errorf("expected ErrSessionTerminal, got %v", err)
		}
	})
}

func TestCloseIdle(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.catalog.listings["prod-2"] = adapter.Listing{ProductID: "prod-2", SellerID: "seller-2", Title: "Desk", ListedPrice: 20000, Currency: "USD", Available: true}

	stale := f.open(t, "buyer-1", 8000)
	activeSession, err := f.uc.OpenSession(ctx, "prod-2", "buyer-1", 15000, "")
	if err != nil {
		t.Fatalf("open second: %v", err)
	}

	// Backdate the first session's activity past the idle cutoff.
	aged, _ := f.repo.SessionRepo.FindByID(ctx, nil, stale.ID)
	agedNext := aged.Clone()
	agedNext.LastActivity = time.Now().Add(-2 * time.Hour)
	agedNext.Version++
	if err := f.repo.SessionRepo.CompareAndSwap(ctx, nil, aged.Version, agedNext, nil); err != nil {
		t.Fatalf("backdate: %v", err)
	}

	closed, err := f.uc.CloseIdle(ctx, time.Hour)
	if err != nil {
		t.Fatalf("CloseIdle: %v", err)
	}
	if closed != 1 {
		t.Fatalf("expected 1 closed, got %d", closed)
	}

	s1, _ := f.repo.FindByID(ctx, nil, stale.ID)
	if s1.Status != model.SessionClosed {
		t.Errorf("idle session not closed: %s", s1.Status)
	}
	s2, _ := f.repo.FindByID(ctx, nil, activeSession.ID)
	if s2.Status != model.SessionActive {
		t.Errorf("fresh session must stay active: %s", s2.Status)
	}
}
