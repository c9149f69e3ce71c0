package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const txColumns = `id, agent_id, kind, amount, rail, status, merchant, description,
	 card_id, provider_ref, failure_reason, metadata, created_at, terminal_at`

// PGStore provides Postgres-backed persistence for transactions. Terminal
// transitions are a conditional UPDATE against the pending status, so the
// monotonic state machine holds across processes.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a transaction store backed by the given connection pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Create implements Store.
func (s *PGStore) Create(ctx context.Context, tx *Transaction) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO transactions (id, agent_id, kind, amount, rail, status, merchant,
		 description, card_id, provider_ref, failure_reason, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		tx.ID, tx.AgentID, tx.Kind, tx.Amount, tx.Rail, tx.Status, tx.Merchant,
		tx.Description, tx.CardID, tx.ProviderRef, tx.FailureReason, tx.Metadata, tx.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating transaction: %w", err)
	}
	return nil
}

// GetByID implements Store.
func (s *PGStore) GetByID(ctx context.Context, id string) (*Transaction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE id = $1`, id)
	tx, err := scanTx(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting transaction: %w", err)
	}
	return tx, nil
}

// SetProviderRef implements Store.
func (s *PGStore) SetProviderRef(ctx context.Context, id, providerRef string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE transactions SET provider_ref = $2 WHERE id = $1`, id, providerRef)
	if err != nil {
		return fmt.Errorf("setting provider ref: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkTerminal implements Store.
func (s *PGStore) MarkTerminal(ctx context.Context, id string, status Status, reason string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE transactions
		 SET status = $2, failure_reason = $3, terminal_at = $4
		 WHERE id = $1 AND status = 'pending'`,
		id, status, reason, at,
	)
	if err != nil {
		return false, fmt.Errorf("marking transaction terminal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, gerr := s.GetByID(ctx, id); gerr != nil {
			return false, gerr
		}
		return false, nil
	}
	return true, nil
}

// ListByAgent implements Store.
func (s *PGStore) ListByAgent(ctx context.Context, agentID string, limit int) ([]*Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+txColumns+`
		 FROM transactions
		 WHERE agent_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		agentID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	defer rows.Close()
	return collectTxs(rows)
}

// ListPending implements Store.
func (s *PGStore) ListPending(ctx context.Context) ([]*Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+txColumns+`
		 FROM transactions
		 WHERE status = 'pending'
		 ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing pending transactions: %w", err)
	}
	defer rows.Close()
	return collectTxs(rows)
}

func collectTxs(rows pgx.Rows) ([]*Transaction, error) {
	var txs []*Transaction
	for rows.Next() {
		tx, err := scanTx(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning transaction row: %w", err)
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transaction rows: %w", err)
	}
	return txs, nil
}

func scanTx(row pgx.Row) (*Transaction, error) {
	tx := &Transaction{}
	err := row.Scan(&tx.ID, &tx.AgentID, &tx.Kind, &tx.Amount, &tx.Rail, &tx.Status,
		&tx.Merchant, &tx.Description, &tx.CardID, &tx.ProviderRef, &tx.FailureReason,
		&tx.Metadata, &tx.CreatedAt, &tx.TerminalAt)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

var _ Store = (*PGStore)(nil)
