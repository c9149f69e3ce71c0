package giftcard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/agentpay/agentpay/internal/rail"
)

// newTestServer fakes the reseller API: a token endpoint, order placement,
// and order status lookup.
func newTestServer(t *testing.T, orderStatus, lookupStatus string) (*httptest.Server, *int) {
	t.Helper()
	tokenIssued := 0

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req["grant_type"] != "client_credentials" || req["client_id"] != "cid" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		tokenIssued++
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-123",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var order orderRequest
		if err := json.NewDecoder(r.Body).Decode(&order); err != nil {
			t.Fatal(err)
		}
		if order.ProductID != 42 || order.Quantity != 1 || order.UnitPrice != 25 {
			t.Fatalf("unexpected order: %+v", order)
		}
		if !strings.HasPrefix(order.CustomIdentifier, "agentpay-") {
			t.Fatalf("unexpected custom identifier %q", order.CustomIdentifier)
		}
		_ = json.NewEncoder(w).Encode(orderResponse{TransactionID: 9001, Status: orderStatus})
	})
	mux.HandleFunc("/orders/transactions/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(orderResponse{TransactionID: 9001, Status: lookupStatus})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &tokenIssued
}

func newTestAdapter(srv *httptest.Server) *Adapter {
	return New(Config{
		BaseURL:      srv.URL,
		AuthURL:      srv.URL + "/oauth/token",
		ClientID:     "cid",
		ClientSecret: "secret",
	})
}

func TestInitiate(t *testing.T) {
	srv, tokens := newTestServer(t, "PROCESSING", "PROCESSING")
	a := newTestAdapter(srv)

	res, err := a.Initiate(context.Background(), rail.Request{
		TransactionID: "t1",
		Amount:        25,
		Metadata:      map[string]string{"product_id": "42"},
	})
	if err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}
	if res.ProviderRef != "9001" {
		t.Fatalf("expected provider ref 9001, got %q", res.ProviderRef)
	}
	if res.Outcome != rail.OutcomePending {
		t.Fatalf("expected pending, got %s", res.Outcome)
	}

	// The cached token is reused for a second call.
	if _, err := a.Initiate(context.Background(), rail.Request{
		Amount:   25,
		Metadata: map[string]string{"product_id": "42"},
	}); err != nil {
		t.Fatal(err)
	}
	if *tokens != 1 {
		t.Fatalf("expected 1 token fetch, got %d", *tokens)
	}
}

func TestInitiateRequiresProductID(t *testing.T) {
	srv, _ := newTestServer(t, "PROCESSING", "PROCESSING")
	a := newTestAdapter(srv)

	if _, err := a.Initiate(context.Background(), rail.Request{Amount: 25}); err == nil {
		t.Fatal("expected error for missing product_id")
	}
	if _, err := a.Initiate(context.Background(), rail.Request{
		Amount:   25,
		Metadata: map[string]string{"product_id": "not-a-number"},
	}); err == nil {
		t.Fatal("expected error for non-numeric product_id")
	}
}

func TestInitiateSynchronousSuccess(t *testing.T) {
	srv, _ := newTestServer(t, "SUCCESSFUL", "SUCCESSFUL")
	a := newTestAdapter(srv)

	res, err := a.Initiate(context.Background(), rail.Request{
		Amount:   25,
		Metadata: map[string]string{"product_id": "42"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != rail.OutcomeCompleted {
		t.Fatalf("expected completed, got %s", res.Outcome)
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		status string
		want   rail.Outcome
	}{
		{"SUCCESSFUL", rail.OutcomeCompleted},
		{"FAILED", rail.OutcomeFailed},
		{"REFUNDED", rail.OutcomeFailed},
		{"PENDING", rail.OutcomePending},
		{"PROCESSING", rail.OutcomePending},
		{"SOMETHING_NEW", rail.OutcomePending},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			srv, _ := newTestServer(t, "PROCESSING", tt.status)
			a := newTestAdapter(srv)

			out, err := a.Confirm(context.Background(), "9001")
			if err != nil {
				t.Fatalf("Confirm failed: %v", err)
			}
			if out != tt.want {
				t.Fatalf("status %s: expected %s, got %s", tt.status, tt.want, out)
			}
		})
	}
}

func TestBadCredentials(t *testing.T) {
	srv, _ := newTestServer(t, "PROCESSING", "PROCESSING")
	a := New(Config{
		BaseURL:      srv.URL,
		AuthURL:      srv.URL + "/oauth/token",
		ClientID:     "wrong",
		ClientSecret: "wrong",
	})

	if _, err := a.Initiate(context.Background(), rail.Request{
		Amount:   25,
		Metadata: map[string]string{"product_id": "42"},
	}); err == nil {
		t.Fatal("expected error for rejected credentials")
	}
}
