package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agentpay/agentpay/internal/account"
	"github.com/agentpay/agentpay/internal/card"
	"github.com/agentpay/agentpay/internal/ledger"
	"github.com/agentpay/agentpay/internal/metrics"
	"github.com/agentpay/agentpay/internal/rail"
	"github.com/agentpay/agentpay/internal/ratelimit"
)

// newTestServer assembles the full HTTP stack over in-memory stores. The
// card rail settles instantly; the crypto rail stays pending so the
// reconcile callback path is observable.
func newTestServer(t *testing.T, limiter *ratelimit.Limiter) *httptest.Server {
	t.Helper()

	registry := account.NewRegistry(account.NewMemoryStore())
	cards := card.NewManager(card.NewMemoryStore(), registry)

	router := rail.NewRouter()
	router.Register(rail.Card, rail.NewInstantAdapter(rail.OutcomeCompleted))
	router.Register(rail.Bank, rail.NewInstantAdapter(rail.OutcomeCompleted))
	router.Register(rail.Crypto, rail.NewInstantAdapter(rail.OutcomePending))

	ldg := ledger.New(ledger.NewMemoryStore(), registry, cards, router)

	m := metrics.New()
	ldg.SetObserver(m)

	srv := httptest.NewServer(NewRouter(RouterDeps{
		Registry: registry,
		Cards:    cards,
		Ledger:   ldg,
		Limiter:  limiter,
		Metrics:  m,
	}))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func registerAgent(t *testing.T, base, wallet string) string {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, base+"/api/v1/agents", map[string]any{
		"name":           "shopper",
		"wallet_address": wallet,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register returned %d: %v", resp.StatusCode, body)
	}
	return body["id"].(string)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, nil)
	resp, body := doJSON(t, http.MethodGet, srv.URL+"/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health returned %d", resp.StatusCode)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected health body: %v", body)
	}
}

func TestRegisterAndGetAgent(t *testing.T) {
	srv := newTestServer(t, nil)
	id := registerAgent(t, srv.URL, "0xabc")

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/v1/agents/"+id, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get agent returned %d", resp.StatusCode)
	}
	if body["wallet_address"] != "0xabc" {
		t.Fatalf("unexpected agent: %v", body)
	}

	// Duplicate wallet.
	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/v1/agents", map[string]any{
		"name": "other", "wallet_address": "0xabc",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate wallet returned %d: %v", resp.StatusCode, body)
	}

	// Missing name.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/agents", map[string]any{
		"wallet_address": "0xdef",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid input returned %d", resp.StatusCode)
	}

	// Unknown agent.
	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/v1/agents/ghost", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown agent returned %d", resp.StatusCode)
	}
}

func TestBalanceDegradesWithoutOracle(t *testing.T) {
	srv := newTestServer(t, nil)
	id := registerAgent(t, srv.URL, "0xabc")

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/v1/agents/"+id+"/balance", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("balance returned %d", resp.StatusCode)
	}
	if body["degraded"] != true {
		t.Fatalf("expected a degraded balance response, got %v", body)
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/v1/agents/"+id+"/deposit-address", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("deposit-address returned %d", resp.StatusCode)
	}
	if body["deposit_address"] != "0xabc" {
		t.Fatalf("unexpected deposit address: %v", body)
	}
}

func TestCardLifecycle(t *testing.T) {
	srv := newTestServer(t, nil)
	id := registerAgent(t, srv.URL, "0xabc")

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/agents/"+id+"/card", map[string]any{
		"spend_limit": 100,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create card returned %d: %v", resp.StatusCode, body)
	}
	cardID := body["id"].(string)
	if body["number"] == nil {
		t.Fatal("first issuance should reveal the demo card number")
	}

	// Idempotent second call: same card, no number, 200.
	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/v1/agents/"+id+"/card", map[string]any{
		"spend_limit": 999,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("second create returned %d", resp.StatusCode)
	}
	if body["id"] != cardID {
		t.Fatal("second create must return the existing card")
	}
	if body["number"] != nil {
		t.Fatal("existing card must not reveal a number")
	}
	if body["spend_limit"].(float64) != 100 {
		t.Fatalf("existing limit must not change, got %v", body["spend_limit"])
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/v1/agents/"+id+"/card", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get card returned %d", resp.StatusCode)
	}
	if body["available"].(float64) != 100 {
		t.Fatalf("expected available 100, got %v", body["available"])
	}

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/v1/cards/"+cardID+"/freeze", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("freeze returned %d", resp.StatusCode)
	}
	if body["status"] != "frozen" {
		t.Fatalf("expected frozen, got %v", body["status"])
	}

	// Double freeze is an invalid transition.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/cards/"+cardID+"/freeze", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("double freeze returned %d", resp.StatusCode)
	}

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/v1/cards/"+cardID+"/cancel", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel returned %d", resp.StatusCode)
	}
	if body["status"] != "cancelled" {
		t.Fatalf("expected cancelled, got %v", body["status"])
	}
}

func TestSpendFlow(t *testing.T) {
	srv := newTestServer(t, nil)
	id := registerAgent(t, srv.URL, "0xabc")

	if resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/v1/agents/"+id+"/card", map[string]any{
		"spend_limit": 100,
	}); resp.StatusCode != http.StatusCreated {
		t.Fatal("card creation failed")
	}

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/agents/"+id+"/spend", map[string]any{
		"amount": 60, "rail": "card", "merchant": "acme",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("spend returned %d: %v", resp.StatusCode, body)
	}
	if body["status"] != "completed" {
		t.Fatalf("expected completed, got %v", body["status"])
	}

	// Over the remaining headroom.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/agents/"+id+"/spend", map[string]any{
		"amount": 50, "rail": "card",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("over-limit spend returned %d", resp.StatusCode)
	}

	// Unsupported rail name.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/agents/"+id+"/spend", map[string]any{
		"amount": 5, "rail": "paypal",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unsupported rail returned %d", resp.StatusCode)
	}

	// History shows the accepted spend first.
	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/v1/agents/"+id+"/transactions", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history returned %d", resp.StatusCode)
	}
	if body["count"].(float64) != 1 {
		t.Fatalf("expected 1 transaction, got %v", body["count"])
	}
}

func TestReconcileCallback(t *testing.T) {
	srv := newTestServer(t, nil)
	id := registerAgent(t, srv.URL, "0xabc")

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/agents/"+id+"/deposits", map[string]any{
		"amount": 25, "rail": "crypto",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("deposit returned %d: %v", resp.StatusCode, body)
	}
	if body["status"] != "pending" {
		t.Fatalf("expected pending, got %v", body["status"])
	}
	txID := body["id"].(string)

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/v1/reconcile", map[string]any{
		"transaction_id": txID, "outcome": "completed",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reconcile returned %d: %v", resp.StatusCode, body)
	}
	if body["status"] != "completed" {
		t.Fatalf("expected completed, got %v", body["status"])
	}

	// Duplicate delivery is absorbed.
	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/v1/reconcile", map[string]any{
		"transaction_id": txID, "outcome": "failed", "reason": "late duplicate",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("duplicate reconcile returned %d", resp.StatusCode)
	}
	if body["status"] != "completed" {
		t.Fatalf("terminal status must be immutable, got %v", body["status"])
	}

	// Non-terminal outcome is rejected.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/reconcile", map[string]any{
		"transaction_id": txID, "outcome": "pending",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("non-terminal outcome returned %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/reconcile", map[string]any{
		"outcome": "completed",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing transaction_id returned %d", resp.StatusCode)
	}

	// The transaction is individually addressable.
	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/v1/transactions/"+txID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get transaction returned %d", resp.StatusCode)
	}
	if body["id"] != txID {
		t.Fatalf("unexpected transaction: %v", body)
	}
}

func TestRateLimitOnMutations(t *testing.T) {
	limiter := ratelimit.New(2, time.Minute)
	srv := newTestServer(t, limiter)
	id := registerAgent(t, srv.URL, "0xabc")

	var last int
	for i := 0; i < 3; i++ {
		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/v1/agents/"+id+"/deposits", map[string]any{
			"amount": 1, "rail": "bank",
		})
		last = resp.StatusCode
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after exhausting the limit, got %d", last)
	}

	// Reads are not limited.
	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/v1/agents/"+id, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("read returned %d", resp.StatusCode)
	}
}

func TestMetricsEndpoints(t *testing.T) {
	srv := newTestServer(t, nil)
	registerAgent(t, srv.URL, "0xabc")

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics returned %d", resp.StatusCode)
	}

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/metrics/summary", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics summary returned %d", resp.StatusCode)
	}
	if body["mode"] != "live" {
		t.Fatalf("unexpected summary: %v", body)
	}
}

func TestRequestIDHeader(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("expected an X-Request-ID header")
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "fixed-id" {
		t.Fatalf("expected the caller's request id to be echoed, got %q", got)
	}
}

func TestInvalidJSONBody(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, err := http.Post(srv.URL+"/api/v1/agents", "application/json", bytes.NewBufferString("{nope"))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid json returned %d", resp.StatusCode)
	}
}

func TestHistoryLimitValidation(t *testing.T) {
	srv := newTestServer(t, nil)
	id := registerAgent(t, srv.URL, "0xabc")

	resp, _ := doJSON(t, http.MethodGet, fmt.Sprintf("%s/api/v1/agents/%s/transactions?limit=abc", srv.URL, id), nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad limit returned %d", resp.StatusCode)
	}
}
