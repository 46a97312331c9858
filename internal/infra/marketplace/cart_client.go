package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"marketplace-bargain/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.CartSink = (*CartClient)(nil)

type CartClient struct {
	baseURL string
	http    *http.Client
	log     *zerolog.Logger
}

func NewCartClient(baseURL string, timeout time.Duration, logger *zerolog.Logger) *CartClient {
	l := logger.With().Str("component", "CartClient").Logger()
	return &CartClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		log:     &l,
	}
}

type cartItemPayload struct {
	ProductID       string `json:"product_id"`
	NegotiatedPrice int64  `json:"negotiated_price"`
}

// AddNegotiatedItem posts the accepted bargain into the buyer's cart. The
// endpoint is idempotent on (buyer, product, price), so the coordinator's
// out-of-band retries are safe.
func (c *CartClient) AddNegotiatedItem(ctx context.Context, buyerID, productID string, finalPrice int64) error {
	body, err := json.Marshal(cartItemPayload{ProductID: productID, NegotiatedPrice: finalPrice})
	if err != nil {
		return fmt.Errorf("encode cart item: %w", err)
	}

	endpoint := c.baseURL + "/internal/v1/carts/" + url.PathEscape(buyerID) + "/negotiated-items"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build cart request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cart request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("cart returned %d", resp.StatusCode)
	}
	c.log.Debug().Str("buyer_id", buyerID).Str("product_id", productID).
		Int64("final_price", finalPrice).Msg("negotiated item added to cart")
	return nil
}
