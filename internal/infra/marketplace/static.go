package marketplace

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"marketplace-bargain/internal/domain"
	"marketplace-bargain/internal/domain/ports/adapter"
)

// Compile-time checks
var (
	_ adapter.Catalog  = (*StaticCatalog)(nil)
	_ adapter.CartSink = (*LogCartSink)(nil)
)

// StaticCatalog serves listings from memory. Used in dev mode, where there is
// no marketplace to call.
type StaticCatalog struct {
	mu       sync.RWMutex
	listings map[string]adapter.Listing
}

func NewStaticCatalog(listings ...adapter.Listing) *StaticCatalog {
	m := make(map[string]adapter.Listing, len(listings))
	for _, l := range listings {
		m[l.ProductID] = l
	}
	return &StaticCatalog{listings: m}
}

func (c *StaticCatalog) Lookup(_ context.Context, productID string) (adapter.Listing, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	l, ok := c.listings[productID]
	if !ok {
		return adapter.Listing{}, domain.ErrNotFound
	}
	return l, nil
}

func (c *StaticCatalog) Put(l adapter.Listing) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listings[l.ProductID] = l
}

// LogCartSink records handoffs in the log only. Dev-mode stand-in for the
// cart service.
type LogCartSink struct {
	log *zerolog.Logger
}

func NewLogCartSink(logger *zerolog.Logger) *LogCartSink {
	l := logger.With().Str("component", "LogCartSink").Logger()
	return &LogCartSink{log: &l}
}

func (s *LogCartSink) AddNegotiatedItem(_ context.Context, buyerID, productID string, finalPrice int64) error {
	s.log.Info().Str("buyer_id", buyerID).Str("product_id", productID).
		Int64("final_price", finalPrice).Msg("cart handoff (dev sink)")
	return nil
}
