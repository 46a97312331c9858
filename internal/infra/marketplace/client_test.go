package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"marketplace-bargain/internal/domain"
)

func TestCatalogClient_Lookup(t *testing.T) {
	logger := zerolog.Nop()

	t.Run("decodes a listing", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/internal/v1/products/prod-1" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			_ = json.NewEncoder(w).Encode(listingPayload{
				ProductID: "prod-1", SellerID: "seller-1", Title: "Vintage Lamp",
				ListedPrice: 10000, Currency: "USD", Available: true,
			})
		}))
		defer srv.Close()

		c := NewCatalogClient(srv.URL, time.Second, &logger)
		l, err := c.Lookup(context.Background(), "prod-1")
		if err != nil {
			t.Fatalf("Lookup: %v", err)
		}
		if l.SellerID != "seller-1" || l.ListedPrice != 10000 || !l.Available {
			t.Errorf("unexpected listing: %+v", l)
		}
	})

	t.Run("404 maps to ErrNotFound", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		c := NewCatalogClient(srv.URL, time.Second, &logger)
		if _, err := c.Lookup(context.Background(), "prod-404"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("5xx is an opaque failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		c := NewCatalogClient(srv.URL, time.Second, &logger)
		_, err := c.Lookup(context.Background(), "prod-1")
		if err == nil || errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected opaque error, got %v", err)
		}
	})
}

func TestCartClient_AddNegotiatedItem(t *testing.T) {
	logger := zerolog.Nop()

	t.Run("posts the negotiated item", func(t *testing.T) {
		var got cartItemPayload
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || r.URL.Path != "/internal/v1/carts/buyer-1/negotiated-items" {
				t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			}
			_ = json.NewDecoder(r.Body).Decode(&got)
			w.WriteHeader(http.StatusCreated)
		}))
		defer srv.Close()

		c := NewCartClient(srv.URL, time.Second, &logger)
		if err := c.AddNegotiatedItem(context.Background(), "buyer-1", "prod-1", 8500); err != nil {
			t.Fatalf("AddNegotiatedItem: %v", err)
		}
		if got.ProductID != "prod-1" || got.NegotiatedPrice != 8500 {
			t.Errorf("unexpected payload: %+v", got)
		}
	})

	t.Run("non-2xx surfaces as error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		c := NewCartClient(srv.URL, time.Second, &logger)
		if err := c.AddNegotiatedItem(context.Background(), "buyer-1", "prod-1", 8500); err == nil {
			t.Error("expected error on 503")
		}
	})
}

func TestStaticCatalog(t *testing.T) {
	c := NewStaticCatalog()
	if _, err := c.Lookup(context.Background(), "prod-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound on empty catalog, got %v", err)
	}
}
