package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/tair/roomsync/internal/inventory/domain"
)

type txKey struct{}

// gormStore carries the shared connection handling for the gorm-backed
// repositories. A transaction opened by WithTx travels in the context so
// every store call made inside fn joins it.
type gormStore struct {
	db *gorm.DB
}

func (s *gormStore) conn(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return s.db.WithContext(ctx)
}

// WithTx runs fn inside a transaction. Nested calls reuse the ambient
// transaction instead of opening a new one.
func (s *gormStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
	return mapStoreError(err)
}

// mapStoreError translates driver failures into the stable error taxonomy.
func mapStoreError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization failure, deadlock detected
			return fmt.Errorf("%s: %w", pgErr.Message, domain.ErrTransactionAborted)
		case "23514": // check constraint
			return fmt.Errorf("%s: %w", pgErr.Message, domain.ErrConstraintViolation)
		}
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
