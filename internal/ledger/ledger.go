package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentpay/agentpay/internal/account"
	"github.com/agentpay/agentpay/internal/card"
	"github.com/agentpay/agentpay/internal/rail"
)

// AgentResolver is the slice of the account registry the ledger needs.
type AgentResolver interface {
	Get(ctx context.Context, id string) (*account.Agent, error)
}

// CardReserver is the slice of the card manager the ledger needs for
// card-rail limit accounting.
type CardReserver interface {
	Reserve(ctx context.Context, agentID string, amount float64) (card.Reservation, error)
	Commit(ctx context.Context, res card.Reservation)
	Release(ctx context.Context, res card.Reservation) error
}

// SettlementRouter is the slice of the rail router the ledger drives.
type SettlementRouter interface {
	Route(ctx context.Context, r rail.Rail, req rail.Request) (rail.Result, error)
}

// Observer receives ledger lifecycle events, typically for metrics. All
// methods must be cheap and non-blocking.
type Observer interface {
	TransactionCreated(kind Kind, r rail.Rail)
	TransactionFinalized(kind Kind, r rail.Rail, status Status)
	ReservationRejected()
}

type nopObserver struct{}

func (nopObserver) TransactionCreated(Kind, rail.Rail)          {}
func (nopObserver) TransactionFinalized(Kind, rail.Rail, Status) {}
func (nopObserver) ReservationRejected()                        {}

// SubmitInput carries the caller-supplied fields of a spend, deposit or
// transfer request.
type SubmitInput struct {
	AgentID     string
	Amount      float64
	Rail        rail.Rail
	Merchant    string
	Description string
	Metadata    map[string]string
}

// Ledger owns transactions and is their sole writer. It coordinates the
// card manager for limit accounting and the rail router for settlement,
// and converges every transaction to a terminal state even when a
// collaborator errors.
type Ledger struct {
	store  Store
	agents AgentResolver
	cards  CardReserver
	router SettlementRouter
	obs    Observer

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now func() time.Time // injectable clock for testing
}

// New creates a Ledger over the given collaborators.
func New(store Store, agents AgentResolver, cards CardReserver, router SettlementRouter) *Ledger {
	return &Ledger{
		store:  store,
		agents: agents,
		cards:  cards,
		router: router,
		obs:    nopObserver{},
		locks:  make(map[string]*sync.Mutex),
		now:    time.Now,
	}
}

// SetObserver installs an event observer (e.g. the metrics registry).
func (l *Ledger) SetObserver(obs Observer) {
	if obs != nil {
		l.obs = obs
	}
}

// lockFor returns the mutex serializing the reserve-then-create sequence
// for one agent.
func (l *Ledger) lockFor(agentID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[agentID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[agentID] = lock
	}
	return lock
}

// Spend submits a spend request. For the card rail the spend limit is
// reserved before any transaction record exists; for async rails the
// returned transaction is still pending, which callers must expect.
func (l *Ledger) Spend(ctx context.Context, in SubmitInput) (*Transaction, error) {
	return l.submit(ctx, KindSpend, in)
}

// Deposit records an inbound movement. It never touches the card manager.
func (l *Ledger) Deposit(ctx context.Context, in SubmitInput) (*Transaction, error) {
	return l.submit(ctx, KindDeposit, in)
}

// Transfer records an agent-to-agent or outbound movement. It never
// touches the card manager.
func (l *Ledger) Transfer(ctx context.Context, in SubmitInput) (*Transaction, error) {
	return l.submit(ctx, KindTransfer, in)
}

func (l *Ledger) submit(ctx context.Context, kind Kind, in SubmitInput) (*Transaction, error) {
	if in.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if !in.Rail.Valid() {
		return nil, fmt.Errorf("%w: %s", rail.ErrUnsupportedRail, in.Rail)
	}
	if _, err := l.agents.Get(ctx, in.AgentID); err != nil {
		return nil, err
	}

	// The reserve-then-create sequence is serialized per agent so two
	// concurrent card spends cannot both pass the limit check. The lock is
	// released before the settlement call; external I/O never holds it.
	lock := l.lockFor(in.AgentID)
	lock.Lock()

	var res card.Reservation
	reserved := false
	if kind == KindSpend && in.Rail == rail.Card {
		var err error
		res, err = l.cards.Reserve(ctx, in.AgentID, in.Amount)
		if err != nil {
			lock.Unlock()
			l.obs.ReservationRejected()
			return nil, err
		}
		reserved = true
	}

	tx := &Transaction{
		ID:          uuid.NewString(),
		AgentID:     in.AgentID,
		Kind:        kind,
		Amount:      in.Amount,
		Rail:        in.Rail,
		Status:      StatusPending,
		Merchant:    in.Merchant,
		Description: in.Description,
		CardID:      res.CardID,
		Metadata:    in.Metadata,
		CreatedAt:   l.now().UTC(),
	}
	if err := l.store.Create(ctx, tx); err != nil {
		if reserved {
			if rerr := l.cards.Release(ctx, res); rerr != nil {
				slog.Error("failed to release reservation after create error", "transaction_id", tx.ID, "error", rerr)
			}
		}
		lock.Unlock()
		return nil, fmt.Errorf("persisting transaction: %w", err)
	}
	lock.Unlock()

	l.obs.TransactionCreated(kind, in.Rail)
	slog.Info("transaction accepted",
		"transaction_id", tx.ID, "agent_id", in.AgentID, "kind", kind,
		"rail", in.Rail, "amount", in.Amount)

	result, err := l.router.Route(ctx, in.Rail, rail.Request{
		TransactionID: tx.ID,
		AgentID:       in.AgentID,
		Amount:        in.Amount,
		Merchant:      in.Merchant,
		Description:   in.Description,
		Metadata:      in.Metadata,
	})
	if err != nil {
		// The rail was validated above, so this is a wiring gap; the
		// transaction still converges to a terminal state.
		result = rail.Result{Outcome: rail.OutcomeFailed, Reason: err.Error()}
	}

	if result.ProviderRef != "" {
		if err := l.store.SetProviderRef(ctx, tx.ID, result.ProviderRef); err != nil {
			slog.Error("failed to store provider ref", "transaction_id", tx.ID, "error", err)
		}
	}

	switch result.Outcome {
	case rail.OutcomeCompleted:
		l.finalize(ctx, tx, StatusCompleted, "")
	case rail.OutcomeFailed:
		l.finalize(ctx, tx, StatusFailed, result.Reason)
	case rail.OutcomePending:
		// Left pending for the reconciliation path.
	}

	return l.store.GetByID(ctx, tx.ID)
}

// Reconcile applies a rail's asynchronous terminal outcome to a pending
// transaction. Duplicate deliveries are absorbed as no-ops, so a limit
// release can never be applied twice.
func (l *Ledger) Reconcile(ctx context.Context, txID string, outcome rail.Outcome, reason string) (*Transaction, error) {
	var status Status
	switch outcome {
	case rail.OutcomeCompleted:
		status = StatusCompleted
	case rail.OutcomeFailed:
		status = StatusFailed
	default:
		return nil, fmt.Errorf("%w: reconcile outcome must be terminal, got %q", ErrValidation, outcome)
	}

	tx, err := l.store.GetByID(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx.Status.Terminal() {
		slog.Info("duplicate reconciliation ignored", "transaction_id", txID, "status", tx.Status)
		return tx, nil
	}

	l.finalize(ctx, tx, status, reason)
	return l.store.GetByID(ctx, txID)
}

// finalize performs the single legal terminal transition. The store-level
// compare-and-set decides the winner under concurrent delivery; the card
// reservation is committed or released only when this call won.
func (l *Ledger) finalize(ctx context.Context, tx *Transaction, status Status, reason string) {
	applied, err := l.store.MarkTerminal(ctx, tx.ID, status, reason, l.now().UTC())
	if err != nil {
		slog.Error("failed to mark transaction terminal", "transaction_id", tx.ID, "status", status, "error", err)
		return
	}
	if !applied {
		slog.Info("terminal transition already applied", "transaction_id", tx.ID)
		return
	}

	if tx.CardID != "" {
		res := card.Reservation{CardID: tx.CardID, AgentID: tx.AgentID, Amount: tx.Amount}
		switch status {
		case StatusCompleted:
			l.cards.Commit(ctx, res)
		case StatusFailed:
			if rerr := l.cards.Release(ctx, res); rerr != nil {
				slog.Error("failed to release card reservation", "transaction_id", tx.ID, "error", rerr)
			}
		}
	}

	l.obs.TransactionFinalized(tx.Kind, tx.Rail, status)
	slog.Info("transaction finalized",
		"transaction_id", tx.ID, "status", status, "reason", reason)
}

// Get returns the transaction with the given id.
func (l *Ledger) Get(ctx context.Context, id string) (*Transaction, error) {
	return l.store.GetByID(ctx, id)
}

// maxHistoryLimit bounds a single history page.
const maxHistoryLimit = 50

// History returns the agent's transactions ordered by creation time
// descending. A limit of zero, or anything above the maximum page size,
// yields maxHistoryLimit entries.
func (l *Ledger) History(ctx context.Context, agentID string, limit int) ([]*Transaction, error) {
	if _, err := l.agents.Get(ctx, agentID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return l.store.ListByAgent(ctx, agentID, limit)
}

// Pending returns all transactions still awaiting a terminal outcome,
// oldest first. The reconciler drives this.
func (l *Ledger) Pending(ctx context.Context) ([]*Transaction, error) {
	return l.store.ListPending(ctx)
}
