// Package marketplace holds the HTTP clients for the parent marketplace's
// internal API: the product catalog the negotiation subsystem reads from and
// the cart service accepted bargains are handed to.
package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"marketplace-bargain/internal/domain"
	"marketplace-bargain/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.Catalog = (*CatalogClient)(nil)

type CatalogClient struct {
	baseURL string
	http    *http.Client
	log     *zerolog.Logger
}

func NewCatalogClient(baseURL string, timeout time.Duration, logger *zerolog.Logger) *CatalogClient {
	l := logger.With().Str("component", "CatalogClient").Logger()
	return &CatalogClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		log:     &l,
	}
}

type listingPayload struct {
	ProductID   string `json:"product_id"`
	SellerID    string `json:"seller_id"`
	Title       string `json:"title"`
	ListedPrice int64  `json:"listed_price"`
	Currency    string `json:"currency"`
	Available   bool   `json:"available"`
}

func (c *CatalogClient) Lookup(ctx context.Context, productID string) (adapter.Listing, error) {
	endpoint := c.baseURL + "/internal/v1/products/" + url.PathEscape(productID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return adapter.Listing{}, fmt.Errorf("build catalog request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return adapter.Listing{}, fmt.Errorf("catalog request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return adapter.Listing{}, domain.ErrNotFound
	default:
		return adapter.Listing{}, fmt.Errorf("catalog returned %d", resp.StatusCode)
	}

	var p listingPayload
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return adapter.Listing{}, fmt.Errorf("decode catalog response: %w", err)
	}
	return adapter.Listing{
		ProductID:   p.ProductID,
		SellerID:    p.SellerID,
		Title:       p.Title,
		ListedPrice: p.ListedPrice,
		Currency:    p.Currency,
		Available:   p.Available,
	}, nil
}
