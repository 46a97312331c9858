package adapter

import "context"

// CartSink is the hex port to the cart/order subsystem. It receives exactly
// one call when a negotiation reaches the accepted state. The call must be
// safe to retry: acceptance is durable regardless of the cart outcome, so a
// failed handoff is re-driven out-of-band, never rolled back into the
// negotiation.
type CartSink interface {
	// AddNegotiatedItem materializes the accepted bargain as a cart line at
	// the agreed price (minor units, session currency).
	AddNegotiatedItem(ctx context.Context, buyerID, productID string, finalPrice int64) error
}
