package rfq

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"hedgearb/model"
	"hedgearb/pricing"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) (*Adapter, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	a := New(Config{
		VenueName:    "test-rfq",
		BaseURL:      srv.URL,
		Symbol:       "ETH-PERP",
		Contract:     pricing.Contract{TickSize: decimal.New(1, -2)},
		PollInterval: 10 * time.Millisecond,
	}, zerolog.Nop())
	return a, srv
}

func TestRFQAdapterPollsQuoteAndCachesQuoteID(t *testing.T) {
	a, srv := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(quoteResponse{Bid: "100.00", Ask: "100.10", QuoteID: "q-1"})
	})
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	received := make(chan struct{}, 1)
	a.SubscribeOrderBook(func(ob *model.OrderBook) {
		select {
		case received <- struct{}{}:
		default:
		}
	})
	a.Connect(ctx)
	defer a.Disconnect()

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for quote callback")
	}

	ob, ok := a.GetLatestOrderBook()
	if !ok {
		t.Fatal("expected a cached book")
	}
	if ob.QuoteID != "q-1" {
		t.Fatalf("expected quote_id q-1, got %s", ob.QuoteID)
	}
}

func TestRFQAggressiveOrderWithoutQuoteIDRejected(t *testing.T) {
	a, srv := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach the order endpoint without a quote_id")
	})
	defer srv.Close()

	_, err := a.PlaceOpenOrder(context.Background(), model.SideBuy, decimal.RequireFromString("1"), decimal.RequireFromString("100"), model.RetryAggressive, "")
	if !errors.Is(err, ErrMissingQuoteID) {
		t.Fatalf("expected ErrMissingQuoteID, got %v", err)
	}
}

func TestRFQAggressiveOrderWithExplicitQuoteIDSucceeds(t *testing.T) {
	a, srv := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("quote_id") != "q-explicit" {
			t.Fatalf("expected quote_id to flow into the order request, got %q", r.URL.Query().Get("quote_id"))
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(orderResponse{OrderID: "o1", Status: "FILLED", FilledPrice: "100.05", FilledQty: "1"})
	})
	defer srv.Close()

	result, err := a.PlaceOpenOrder(context.Background(), model.SideBuy, decimal.RequireFromString("1"), decimal.RequireFromString("100"), model.RetryAggressive, "q-explicit")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success || result.OrderID != "o1" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestRFQOpportunisticOrderDoesNotRequireQuoteID(t *testing.T) {
	a, srv := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(orderResponse{OrderID: "o2", Status: "FILLED", FilledPrice: "100.00", FilledQty: "1"})
	})
	defer srv.Close()

	result, err := a.PlaceCloseOrder(context.Background(), model.SideSell, decimal.RequireFromString("1"), decimal.RequireFromString("100"), model.RetryOpportunistic, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
}
