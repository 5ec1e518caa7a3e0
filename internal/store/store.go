// Package store is the gorm-backed persistence layer for routes, stops,
// series, memberships, occurrences and reorder journals. Every method runs on
// the handle the Store was built with, so a Store obtained inside Transaction
// sees and writes only through that transaction.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/apperr"
	"gorm.io/gorm"
)

// Store wraps a gorm handle.
type Store struct {
	db *gorm.DB
}

// New returns a Store over db.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for collaborators that share the
// connection (absence lookups, schedule directory, activity log).
func (s *Store) DB() *gorm.DB { return s.db }

// Transaction runs fn inside a database transaction. fn receives a Store bound
// to the transaction; returning an error rolls everything back.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		return fn(&Store{db: gtx})
	})
}

func (s *Store) q(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// NewID returns a fresh entity ID.
func NewID() string {
	return uuid.NewString()
}

// notFound converts gorm.ErrRecordNotFound into an apperr not-found rejection
// and wraps anything else as an infrastructure error.
func notFound(err error, what, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound("%s not found: %s", what, id)
	}
	return fmt.Errorf("store: get %s %s: %w", what, id, err)
}
