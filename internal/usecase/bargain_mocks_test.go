package usecase

import (
	"context"
	"sync"
	"time"

	"marketplace-bargain/internal/domain"
	"marketplace-bargain/internal/domain/model"
	"marketplace-bargain/internal/domain/ports/adapter"
	"marketplace-bargain/internal/infra/memstore"
)

// mockSessionRepo delegates to the in-memory store unless a Func field is
// set, so individual tests can inject conflicts and failures.
type mockSessionRepo struct {
	*memstore.SessionRepo

	FindByIDFunc       func(ctx context.Context, qx any, id string) (*model.NegotiationSession, error)
	CompareAndSwapFunc func(ctx context.Context, qx any, expectedVersion int64, s *model.NegotiationSession, m *model.Message) error
}

func newMockSessionRepo() *mockSessionRepo {
	return &mockSessionRepo{SessionRepo: memstore.NewSessionRepo()}
}

func (r *mockSessionRepo) FindByID(ctx context.Context, qx any, id string) (*model.NegotiationSession, error) {
	if r.FindByIDFunc != nil {
		return r.FindByIDFunc(ctx, qx, id)
	}
	return r.SessionRepo.FindByID(ctx, qx, id)
}

func (r *mockSessionRepo) CompareAndSwap(ctx context.Context, qx any, expectedVersion int64, s *model.NegotiationSession, m *model.Message) error {
	if r.CompareAndSwapFunc != nil {
		return r.CompareAndSwapFunc(ctx, qx, expectedVersion, s, m)
	}
	return r.SessionRepo.CompareAndSwap(ctx, qx, expectedVersion, s, m)
}

type mockCatalog struct {
	LookupFunc func(ctx context.Context, productID string) (adapter.Listing, error)
	listings   map[string]adapter.Listing
}

func (m *mockCatalog) Lookup(ctx context.Context, productID string) (adapter.Listing, error) {
	if m.LookupFunc != nil {
		return m.LookupFunc(ctx, productID)
	}
	l, ok := m.listings[productID]
	if !ok {
		return adapter.Listing{}, domain.ErrNotFound
	}
	return l, nil
}

type mockCartSink struct {
	mu    sync.Mutex
	added []cartAdd

	AddNegotiatedItemFunc func(ctx context.Context, buyerID, productID string, finalPrice int64) error
}

type cartAdd struct {
	BuyerID    string
	ProductID  string
	FinalPrice int64
}

func (m *mockCartSink) AddNegotiatedItem(ctx context.Context, buyerID, productID string, finalPrice int64) error {
	if m.AddNegotiatedItemFunc != nil {
		return m.AddNegotiatedItemFunc(ctx, buyerID, productID, finalPrice)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.added = append(m.added, cartAdd{BuyerID: buyerID, ProductID: productID, FinalPrice: finalPrice})
	return nil
}

func (m *mockCartSink) adds() []cartAdd {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]cartAdd, len(m.added))
	copy(out, m.added)
	return out
}

type publishedEvent struct {
	SessionID string
	Event     adapter.Event
}

type mockBroadcaster struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (m *mockBroadcaster) Publish(ctx context.Context, sessionID string, ev adapter.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, publishedEvent{SessionID: sessionID, Event: ev})
	return nil
}

func (m *mockBroadcaster) published() []publishedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]publishedEvent, len(m.events))
	copy(out, m.events)
	return out
}

type mockLocker struct {
	TryLockFunc func(ctx context.Context, key string, ttl time.Duration) (string, error)
}

func (m *mockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if m.TryLockFunc != nil {
		return m.TryLockFunc(ctx, key, ttl)
	}
	return "token", nil
}

func (m *mockLocker) Unlock(ctx context.Context, key, token string) error { return nil }

type mockRateLimiter struct {
	AllowFunc func(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

func (m *mockRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if m.AllowFunc != nil {
		return m.AllowFunc(ctx, key, limit, window)
	}
	return true, nil
}

// mockRetryer runs submitted tasks inline so tests observe the retry effect
// synchronously.
type mockRetryer struct {
	mu        sync.Mutex
	submitted int
	inline    bool
}

func (m *mockRetryer) Submit(task func(ctx context.Context) error) error {
	m.mu.Lock()
	m.submitted++
	inline := m.inline
	m.mu.Unlock()
	if inline {
		return task(context.Background())
	}
	return nil
}

func (m *mockRetryer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submitted
}
