// Package repository contains the data access layer.
//
// All SQL lives here, written against PostgreSQL via the pgx stdlib driver.
// The quota reservation protocol depends on two things this package
// provides: SELECT ... FOR UPDATE row locks scoped to a transaction, and
// atomic INSERT ... ON CONFLICT DO NOTHING for the webhook idempotency
// ledger.
package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// Store provides access to all persisted state.
type Store struct {
	db *sql.DB
}

// New creates a Store backed by the given database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// BeginQuotaTx opens the transaction that backs one quota reservation.
// The returned Tx holds the business row lock from LockBusinessQuota until
// Commit or Rollback; every reservation path must resolve it.
func (s *Store) BeginQuotaTx(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin quota tx: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// Tx wraps one open reservation transaction.
type Tx struct {
	tx *sql.Tx
}

// Commit commits the transaction, releasing the row lock.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit quota tx: %w", err)
	}
	return nil
}

// Rollback discards the transaction, releasing the row lock. Calling it
// after Commit is a no-op, which lets callers use it in defer.
func (t *Tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return fmt.Errorf("rollback quota tx: %w", err)
	}
	return nil
}
