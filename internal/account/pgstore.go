package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore provides Postgres-backed persistence for agent accounts.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates an agent store backed by the given connection pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Create implements Store. The agents table carries a unique index on
// wallet_address, so a duplicate registration surfaces as ErrDuplicateWallet
// even when two requests race past the registry's pre-check.
func (s *PGStore) Create(ctx context.Context, a *Agent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO agents (id, name, wallet_address, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		a.ID, a.Name, a.WalletAddress, a.Metadata, a.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateWallet
		}
		return fmt.Errorf("creating agent: %w", err)
	}
	return nil
}

// GetByID implements Store.
func (s *PGStore) GetByID(ctx context.Context, id string) (*Agent, error) {
	return s.get(ctx,
		`SELECT id, name, wallet_address, metadata, created_at
		 FROM agents WHERE id = $1`, id)
}

// GetByWallet implements Store.
func (s *PGStore) GetByWallet(ctx context.Context, walletAddress string) (*Agent, error) {
	return s.get(ctx,
		`SELECT id, name, wallet_address, metadata, created_at
		 FROM agents WHERE wallet_address = $1`, walletAddress)
}

func (s *PGStore) get(ctx context.Context, query string, arg any) (*Agent, error) {
	a := &Agent{}
	err := s.pool.QueryRow(ctx, query, arg).
		Scan(&a.ID, &a.Name, &a.WalletAddress, &a.Metadata, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting agent: %w", err)
	}
	return a, nil
}

var _ Store = (*PGStore)(nil)
