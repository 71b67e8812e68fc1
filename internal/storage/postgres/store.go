// Package postgres provides the PostgreSQL persistence layer of the
// verification core: verification records and alerts share a single
// [pgxpool.Pool].
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	workflow := verification.NewWorkflow(store.Verifications(), bus)
//	evaluator, _ := alerting.NewEvaluator(rules, store.Alerts(), bus)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tan-res-space/rag-interface-sub006/internal/alerting"
	"github.com/tan-res-space/rag-interface-sub006/internal/verification"
)

// Compile-time interface checks.
var (
	_ verification.Store = (*VerificationStore)(nil)
	_ alerting.Store     = (*AlertStore)(nil)
)

// Store is the central PostgreSQL-backed store for the verification core. It
// holds a single [pgxpool.Pool] and exposes the two persisted aggregates:
//
//   - [Store.Verifications] returns a [VerificationStore] implementing
//     [verification.Store]
//   - [Store.Alerts] returns an [AlertStore] implementing [alerting.Store]
//
// All operations are safe for concurrent use.
type Store struct {
	pool          *pgxpool.Pool
	verifications *VerificationStore
	alerts        *AlertStore
}

// NewStore creates a new Store, establishes a connection pool to the
// PostgreSQL database at dsn, and runs [Migrate] to ensure all required
// tables exist.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{
		pool:          pool,
		verifications: &VerificationStore{pool: pool},
		alerts:        &AlertStore{pool: pool},
	}, nil
}

// Verifications returns the [verification.Store] implementation.
func (s *Store) Verifications() *VerificationStore { return s.verifications }

// Alerts returns the [alerting.Store] implementation.
func (s *Store) Alerts() *AlertStore { return s.alerts }

// Ping verifies database connectivity; used by readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres store: ping: %w", err)
	}
	return nil
}

// Close releases all connections held by the underlying connection pool.
// It should be called when the Store is no longer needed, typically via defer.
func (s *Store) Close() {
	s.pool.Close()
}
