package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/agentpay/agentpay/internal/account"
	"github.com/agentpay/agentpay/internal/card"
	"github.com/agentpay/agentpay/internal/rail"
)

// testHarness wires a ledger over in-memory stores with a configurable rail
// router.
type testHarness struct {
	ledger  *Ledger
	cards   *card.Manager
	router  *rail.Router
	agentID string
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	registry := account.NewRegistry(account.NewMemoryStore())
	agent, err := registry.Register(context.Background(), account.RegisterInput{
		Name:          "shopper",
		WalletAddress: "0xabc",
	})
	if err != nil {
		t.Fatal(err)
	}

	cards := card.NewManager(card.NewMemoryStore(), registry)
	router := rail.NewRouter()
	l := New(NewMemoryStore(), registry, cards, router)

	return &testHarness{ledger: l, cards: cards, router: router, agentID: agent.ID}
}

func (h *testHarness) issueCard(t *testing.T, limit float64) *card.Card {
	t.Helper()
	c, _, err := h.cards.GetOrCreate(context.Background(), h.agentID, limit)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func (h *testHarness) cardSpent(t *testing.T) float64 {
	t.Helper()
	c, err := h.cards.Active(context.Background(), h.agentID)
	if err != nil {
		t.Fatal(err)
	}
	return c.Spent
}

func TestSpendCardCompleted(t *testing.T) {
	h := newHarness(t)
	h.issueCard(t, 100)
	h.router.Register(rail.Card, rail.NewInstantAdapter(rail.OutcomeCompleted))

	tx, err := h.ledger.Spend(context.Background(), SubmitInput{
		AgentID: h.agentID, Amount: 60, Rail: rail.Card, Merchant: "acme",
	})
	if err != nil {
		t.Fatalf("Spend failed: %v", err)
	}
	if tx.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", tx.Status)
	}
	if tx.CardID == "" {
		t.Fatal("expected the card hold to be recorded on the transaction")
	}
	if tx.TerminalAt == nil {
		t.Fatal("expected terminal_at to be set")
	}
	if got := h.cardSpent(t); got != 60 {
		t.Fatalf("expected spent 60, got %v", got)
	}

	// 50 more exceeds the remaining headroom.
	_, err = h.ledger.Spend(context.Background(), SubmitInput{
		AgentID: h.agentID, Amount: 50, Rail: rail.Card,
	})
	if !errors.Is(err, card.ErrInsufficientLimit) {
		t.Fatalf("expected ErrInsufficientLimit, got %v", err)
	}

	// 40 exactly fills it.
	tx, err = h.ledger.Spend(context.Background(), SubmitInput{
		AgentID: h.agentID, Amount: 40, Rail: rail.Card,
	})
	if err != nil {
		t.Fatalf("Spend within headroom failed: %v", err)
	}
	if tx.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", tx.Status)
	}
	if got := h.cardSpent(t); got != 100 {
		t.Fatalf("expected spent 100, got %v", got)
	}
}

func TestSpendFailureReleasesHold(t *testing.T) {
	h := newHarness(t)
	h.issueCard(t, 100)
	failing := rail.NewInstantAdapter(rail.OutcomeFailed)
	failing.Reason = "declined"
	h.router.Register(rail.Card, failing)

	tx, err := h.ledger.Spend(context.Background(), SubmitInput{
		AgentID: h.agentID, Amount: 60, Rail: rail.Card,
	})
	if err != nil {
		t.Fatalf("Spend failed: %v", err)
	}
	if tx.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", tx.Status)
	}
	if tx.FailureReason != "declined" {
		t.Fatalf("expected failure reason to be recorded, got %q", tx.FailureReason)
	}
	if got := h.cardSpent(t); got != 0 {
		t.Fatalf("failed spend must release the hold, spent = %v", got)
	}
}

func TestSpendPendingThenReconcile(t *testing.T) {
	h := newHarness(t)
	h.issueCard(t, 100)
	h.router.Register(rail.Card, rail.NewInstantAdapter(rail.OutcomePending))

	tx, err := h.ledger.Spend(context.Background(), SubmitInput{
		AgentID: h.agentID, Amount: 60, Rail: rail.Card,
	})
	if err != nil {
		t.Fatalf("Spend failed: %v", err)
	}
	if tx.Status != StatusPending {
		t.Fatalf("expected pending, got %s", tx.Status)
	}
	// The hold is applied while pending.
	if got := h.cardSpent(t); got != 60 {
		t.Fatalf("expected spent 60 while pending, got %v", got)
	}

	resolved, err := h.ledger.Reconcile(context.Background(), tx.ID, rail.OutcomeFailed, "provider timeout")
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if resolved.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", resolved.Status)
	}
	if got := h.cardSpent(t); got != 0 {
		t.Fatalf("failed reconciliation must release the hold, spent = %v", got)
	}
}

func TestReconcileDuplicateIsNoOp(t *testing.T) {
	h := newHarness(t)
	h.issueCard(t, 100)
	h.router.Register(rail.Card, rail.NewInstantAdapter(rail.OutcomePending))

	tx, err := h.ledger.Spend(context.Background(), SubmitInput{
		AgentID: h.agentID, Amount: 60, Rail: rail.Card,
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := h.ledger.Reconcile(context.Background(), tx.ID, rail.OutcomeFailed, "timeout"); err != nil {
		t.Fatalf("first Reconcile failed: %v", err)
	}

	// A duplicate delivery, even with a different outcome, changes nothing.
	again, err := h.ledger.Reconcile(context.Background(), tx.ID, rail.OutcomeCompleted, "")
	if err != nil {
		t.Fatalf("duplicate Reconcile should be absorbed, got %v", err)
	}
	if again.Status != StatusFailed {
		t.Fatalf("terminal status must be immutable, got %s", again.Status)
	}
	if got := h.cardSpent(t); got != 0 {
		t.Fatalf("duplicate reconciliation must not double-release, spent = %v", got)
	}
}

func TestReconcileValidation(t *testing.T) {
	h := newHarness(t)

	if _, err := h.ledger.Reconcile(context.Background(), "tx", rail.OutcomePending, ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for non-terminal outcome, got %v", err)
	}
	if _, err := h.ledger.Reconcile(context.Background(), "ghost", rail.OutcomeCompleted, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSubmitValidation(t *testing.T) {
	h := newHarness(t)

	_, err := h.ledger.Spend(context.Background(), SubmitInput{AgentID: h.agentID, Amount: 0, Rail: rail.Card})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for zero amount, got %v", err)
	}

	_, err = h.ledger.Spend(context.Background(), SubmitInput{AgentID: h.agentID, Amount: 5, Rail: "paypal"})
	if !errors.Is(err, rail.ErrUnsupportedRail) {
		t.Fatalf("expected ErrUnsupportedRail, got %v", err)
	}

	_, err = h.ledger.Spend(context.Background(), SubmitInput{AgentID: "ghost", Amount: 5, Rail: rail.Card})
	if !errors.Is(err, account.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown agent, got %v", err)
	}
}

func TestSpendUnwiredRailFails(t *testing.T) {
	h := newHarness(t)

	// The rail name is valid but no adapter is bound; the transaction must
	// still converge to a terminal state.
	tx, err := h.ledger.Spend(context.Background(), SubmitInput{
		AgentID: h.agentID, Amount: 5, Rail: rail.Bank,
	})
	if err != nil {
		t.Fatalf("Spend failed: %v", err)
	}
	if tx.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", tx.Status)
	}
	if tx.FailureReason == "" {
		t.Fatal("expected a failure reason")
	}
}

func TestDepositSkipsCardAccounting(t *testing.T) {
	h := newHarness(t)
	h.router.Register(rail.Card, rail.NewInstantAdapter(rail.OutcomeCompleted))

	// No card exists; deposits and transfers must not touch the card manager.
	tx, err := h.ledger.Deposit(context.Background(), SubmitInput{
		AgentID: h.agentID, Amount: 25, Rail: rail.Card,
	})
	if err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if tx.Kind != KindDeposit || tx.CardID != "" {
		t.Fatalf("unexpected deposit: %+v", tx)
	}

	tx, err = h.ledger.Transfer(context.Background(), SubmitInput{
		AgentID: h.agentID, Amount: 25, Rail: rail.Card,
	})
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if tx.Kind != KindTransfer || tx.CardID != "" {
		t.Fatalf("unexpected transfer: %+v", tx)
	}
}

func TestConcurrentSpendsRespectLimit(t *testing.T) {
	h := newHarness(t)
	h.issueCard(t, 100)
	h.router.Register(rail.Card, rail.NewInstantAdapter(rail.OutcomeCompleted))

	var wg sync.WaitGroup
	results := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.ledger.Spend(context.Background(), SubmitInput{
				AgentID: h.agentID, Amount: 10, Rail: rail.Card,
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, rejected int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, card.ErrInsufficientLimit):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 10 || rejected != 10 {
		t.Fatalf("expected exactly 10 accepted and 10 rejected, got %d/%d", ok, rejected)
	}
	if got := h.cardSpent(t); got != 100 {
		t.Fatalf("expected spent 100, got %v", got)
	}
}

func TestHistoryOrderAndCap(t *testing.T) {
	h := newHarness(t)
	h.router.Register(rail.Bank, rail.NewInstantAdapter(rail.OutcomeCompleted))

	// Distinct creation times so the descending order is observable.
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	step := 0
	h.ledger.now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Second)
	}

	for i := 0; i < 60; i++ {
		if _, err := h.ledger.Deposit(context.Background(), SubmitInput{
			AgentID: h.agentID, Amount: float64(i + 1), Rail: rail.Bank,
		}); err != nil {
			t.Fatal(err)
		}
	}

	txs, err := h.ledger.History(context.Background(), h.agentID, 0)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(txs) != maxHistoryLimit {
		t.Fatalf("expected %d transactions, got %d", maxHistoryLimit, len(txs))
	}
	for i := 1; i < len(txs); i++ {
		if txs[i].CreatedAt.After(txs[i-1].CreatedAt) {
			t.Fatal("history must be ordered newest first")
		}
	}
	// The newest deposit carries the largest amount.
	if txs[0].Amount != 60 {
		t.Fatalf("expected newest deposit first, got amount %v", txs[0].Amount)
	}

	// An explicit limit below the cap is honored; above it, clamped.
	txs, err = h.ledger.History(context.Background(), h.agentID, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != 5 {
		t.Fatalf("expected 5 transactions, got %d", len(txs))
	}
	txs, err = h.ledger.History(context.Background(), h.agentID, 500)
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != maxHistoryLimit {
		t.Fatalf("expected clamp to %d, got %d", maxHistoryLimit, len(txs))
	}

	if _, err := h.ledger.History(context.Background(), "ghost", 0); !errors.Is(err, account.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// countingObserver records ledger events.
type countingObserver struct {
	mu        sync.Mutex
	created   int
	finalized map[Status]int
	rejected  int
}

func (o *countingObserver) TransactionCreated(Kind, rail.Rail) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.created++
}

func (o *countingObserver) TransactionFinalized(_ Kind, _ rail.Rail, s Status) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.finalized == nil {
		o.finalized = make(map[Status]int)
	}
	o.finalized[s]++
}

func (o *countingObserver) ReservationRejected() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rejected++
}

func TestObserverEvents(t *testing.T) {
	h := newHarness(t)
	h.issueCard(t, 100)
	h.router.Register(rail.Card, rail.NewInstantAdapter(rail.OutcomeCompleted))

	obs := &countingObserver{}
	h.ledger.SetObserver(obs)

	if _, err := h.ledger.Spend(context.Background(), SubmitInput{
		AgentID: h.agentID, Amount: 80, Rail: rail.Card,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := h.ledger.Spend(context.Background(), SubmitInput{
		AgentID: h.agentID, Amount: 80, Rail: rail.Card,
	}); !errors.Is(err, card.ErrInsufficientLimit) {
		t.Fatalf("expected ErrInsufficientLimit, got %v", err)
	}

	if obs.created != 1 {
		t.Fatalf("expected 1 created event, got %d", obs.created)
	}
	if obs.finalized[StatusCompleted] != 1 {
		t.Fatalf("expected 1 completed event, got %d", obs.finalized[StatusCompleted])
	}
	if obs.rejected != 1 {
		t.Fatalf("expected 1 rejection event, got %d", obs.rejected)
	}
}

func TestPending(t *testing.T) {
	h := newHarness(t)
	h.router.Register(rail.Crypto, rail.NewInstantAdapter(rail.OutcomePending))
	h.router.Register(rail.Bank, rail.NewInstantAdapter(rail.OutcomeCompleted))

	for i := 0; i < 3; i++ {
		if _, err := h.ledger.Deposit(context.Background(), SubmitInput{
			AgentID: h.agentID, Amount: 1, Rail: rail.Crypto,
		}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := h.ledger.Deposit(context.Background(), SubmitInput{
		AgentID: h.agentID, Amount: 1, Rail: rail.Bank,
	}); err != nil {
		t.Fatal(err)
	}

	pending, err := h.ledger.Pending(context.Background())
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending transactions, got %d", len(pending))
	}
	for _, tx := range pending {
		if tx.Status != StatusPending {
			t.Fatalf("expected pending, got %s", tx.Status)
		}
	}
}

func TestAmountFixedAtCreation(t *testing.T) {
	h := newHarness(t)
	h.issueCard(t, 100)
	h.router.Register(rail.Card, rail.NewInstantAdapter(rail.OutcomePending))

	tx, err := h.ledger.Spend(context.Background(), SubmitInput{
		AgentID: h.agentID, Amount: 42, Rail: rail.Card, Merchant: "acme",
	})
	if err != nil {
		t.Fatal(err)
	}

	resolved, err := h.ledger.Reconcile(context.Background(), tx.ID, rail.OutcomeCompleted, "")
	if err != nil {
		t.Fatal(err)
	}
	if resolved.Amount != 42 {
		t.Fatalf("amount must not change, got %v", resolved.Amount)
	}
	if resolved.Merchant != "acme" {
		t.Fatalf("merchant must not change, got %q", resolved.Merchant)
	}
}
