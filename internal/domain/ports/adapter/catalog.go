package adapter

import "context"

// Listing is the read-only catalog view needed to open a negotiation.
type Listing struct {
	ProductID   string
	SellerID    string
	Title       string
	ListedPrice int64 // minor units
	Currency    string
	Available   bool
}

// Catalog is the hex port to product storage. Lookup returns
// domain.ErrNotFound for unknown products; Available=false means the
// product exists but cannot be negotiated (sold, delisted, fixed price).
type Catalog interface {
	Lookup(ctx context.Context, productID string) (Listing, error)
}
