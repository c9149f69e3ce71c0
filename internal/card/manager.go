package card

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentpay/agentpay/internal/account"
)

// AgentResolver is the slice of the account registry the manager needs to
// validate card owners.
type AgentResolver interface {
	Get(ctx context.Context, id string) (*account.Agent, error)
}

// Manager owns virtual cards. It enforces at most one active card per agent
// and accounts spending against the card's limit. Mutations for a given
// agent are serialized through a per-agent lock; operations on different
// agents proceed independently.
type Manager struct {
	store  Store
	agents AgentResolver

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now func() time.Time // injectable clock for testing
}

// NewManager creates a card manager backed by the given store.
func NewManager(store Store, agents AgentResolver) *Manager {
	return &Manager{
		store:  store,
		agents: agents,
		locks:  make(map[string]*sync.Mutex),
		now:    time.Now,
	}
}

// lockFor returns the mutex serializing card mutations for one agent,
// creating it on first use.
func (m *Manager) lockFor(agentID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[agentID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[agentID] = l
	}
	return l
}

// GetOrCreate returns the agent's active card, creating one when none
// exists. Creation is idempotent: a second call (including a concurrent
// one) returns the existing active card and does not apply the new spend
// limit. The last-4 and expiry are synthesized; a production issuer would
// source them from the card network collaborator.
func (m *Manager) GetOrCreate(ctx context.Context, agentID string, spendLimit float64) (*Card, bool, error) {
	if spendLimit <= 0 {
		return nil, false, fmt.Errorf("%w: spend_limit must be positive", ErrValidation)
	}
	if _, err := m.agents.Get(ctx, agentID); err != nil {
		return nil, false, err
	}

	lock := m.lockFor(agentID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := m.store.ActiveByAgent(ctx, agentID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNoActiveCard) {
		return nil, false, err
	}

	c := &Card{
		ID:         uuid.NewString(),
		AgentID:    agentID,
		Last4:      randomLast4(),
		Expiry:     m.now().AddDate(4, 0, 0).Format("01/06"),
		Status:     StatusActive,
		SpendLimit: spendLimit,
		Spent:      0,
		CreatedAt:  m.now().UTC(),
	}
	if err := m.store.Create(ctx, c); err != nil {
		return nil, false, err
	}
	slog.Info("virtual card created", "card_id", c.ID, "agent_id", agentID, "spend_limit", spendLimit)
	return c, true, nil
}

// Active returns the agent's active card.
func (m *Manager) Active(ctx context.Context, agentID string) (*Card, error) {
	if _, err := m.agents.Get(ctx, agentID); err != nil {
		return nil, err
	}
	return m.store.ActiveByAgent(ctx, agentID)
}

// Reserve places a provisional hold of amount against the agent's active
// card. The headroom check and the spent increment are atomic, so
// concurrent reservations can never jointly exceed the limit.
func (m *Manager) Reserve(ctx context.Context, agentID string, amount float64) (Reservation, error) {
	if amount <= 0 {
		return Reservation{}, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}

	lock := m.lockFor(agentID)
	lock.Lock()
	defer lock.Unlock()

	c, err := m.store.ActiveByAgent(ctx, agentID)
	if err != nil {
		return Reservation{}, err
	}
	if err := m.store.AddSpent(ctx, c.ID, amount); err != nil {
		return Reservation{}, err
	}
	return Reservation{CardID: c.ID, AgentID: agentID, Amount: amount}, nil
}

// Commit finalizes a reservation. The spent increment was already applied
// by Reserve, so this only records the outcome.
func (m *Manager) Commit(_ context.Context, res Reservation) {
	slog.Debug("card reservation committed", "card_id", res.CardID, "amount", res.Amount)
}

// Release returns a reservation's amount to the card's headroom after a
// failed settlement. Callers must apply it at most once per reservation;
// the ledger's terminal-state CAS guarantees that.
func (m *Manager) Release(ctx context.Context, res Reservation) error {
	if err := m.store.AddSpent(ctx, res.CardID, -res.Amount); err != nil {
		return fmt.Errorf("releasing reservation: %w", err)
	}
	slog.Info("card reservation released", "card_id", res.CardID, "amount", res.Amount)
	return nil
}

// Freeze moves an active card to frozen.
func (m *Manager) Freeze(ctx context.Context, cardID string) (*Card, error) {
	return m.transition(ctx, cardID, StatusFrozen)
}

// Cancel moves a card to cancelled, which is terminal.
func (m *Manager) Cancel(ctx context.Context, cardID string) (*Card, error) {
	return m.transition(ctx, cardID, StatusCancelled)
}

// transition applies a one-directional status change: active -> frozen ->
// cancelled. Any move backwards, or out of cancelled, fails with
// ErrInvalidState.
func (m *Manager) transition(ctx context.Context, cardID string, to Status) (*Card, error) {
	c, err := m.store.GetByID(ctx, cardID)
	if err != nil {
		return nil, err
	}

	lock := m.lockFor(c.AgentID)
	lock.Lock()
	defer lock.Unlock()

	c, err = m.store.GetByID(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if !validTransition(c.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidState, c.Status, to)
	}
	if err := m.store.UpdateStatus(ctx, cardID, to); err != nil {
		return nil, err
	}
	c.Status = to
	slog.Info("card status changed", "card_id", cardID, "status", to)
	return c, nil
}

func validTransition(from, to Status) bool {
	switch from {
	case StatusActive:
		return to == StatusFrozen || to == StatusCancelled
	case StatusFrozen:
		return to == StatusCancelled
	default:
		return false
	}
}

// randomLast4 produces four random digits. Collisions are acceptable for
// demo identifiers.
func randomLast4() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	digits := make([]byte, 4)
	for i, v := range b {
		digits[i] = '0' + v%10
	}
	return string(digits)
}
