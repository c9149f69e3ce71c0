package card

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore provides Postgres-backed persistence for virtual cards. The cards
// table enforces the core invariants in SQL as well: a partial unique index
// keeps at most one active card per agent, and a check constraint keeps
// spent between zero and the spend limit.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a card store backed by the given connection pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Create implements Store.
func (s *PGStore) Create(ctx context.Context, c *Card) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO cards (id, agent_id, last4, expiry, status, spend_limit, spent, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.AgentID, c.Last4, c.Expiry, c.Status, c.SpendLimit, c.Spent, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating card: %w", err)
	}
	return nil
}

// GetByID implements Store.
func (s *PGStore) GetByID(ctx context.Context, id string) (*Card, error) {
	c := &Card{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, agent_id, last4, expiry, status, spend_limit, spent, created_at
		 FROM cards WHERE id = $1`, id,
	).Scan(&c.ID, &c.AgentID, &c.Last4, &c.Expiry, &c.Status, &c.SpendLimit, &c.Spent, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting card: %w", err)
	}
	return c, nil
}

// ActiveByAgent implements Store.
func (s *PGStore) ActiveByAgent(ctx context.Context, agentID string) (*Card, error) {
	c := &Card{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, agent_id, last4, expiry, status, spend_limit, spent, created_at
		 FROM cards WHERE agent_id = $1 AND status = 'active'`, agentID,
	).Scan(&c.ID, &c.AgentID, &c.Last4, &c.Expiry, &c.Status, &c.SpendLimit, &c.Spent, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoActiveCard
		}
		return nil, fmt.Errorf("getting active card: %w", err)
	}
	return c, nil
}

// UpdateStatus implements Store.
func (s *PGStore) UpdateStatus(ctx context.Context, id string, status Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE cards SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("updating card status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AddSpent implements Store. The conditional UPDATE performs the headroom
// check and the adjustment in a single statement, so concurrent
// reservations against the same card cannot both pass the check.
func (s *PGStore) AddSpent(ctx context.Context, id string, delta float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE cards
		 SET spent = GREATEST(spent + $2, 0)
		 WHERE id = $1
		   AND ($2 <= 0 OR (status = 'active' AND spent + $2 <= spend_limit))`,
		id, delta,
	)
	if err != nil {
		return fmt.Errorf("adjusting card spent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, gerr := s.GetByID(ctx, id); gerr != nil {
			return gerr
		}
		return ErrInsufficientLimit
	}
	return nil
}

var _ Store = (*PGStore)(nil)
