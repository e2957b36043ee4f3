package repo

import (
	"context"
	"fmt"

	"github.com/DavidJBarnes/wanly-api/internal/domain"
	"github.com/DavidJBarnes/wanly-api/internal/infra"
	"github.com/DavidJBarnes/wanly-api/internal/sqlinline"
)

// txRunner is the part of infra.SQLRunner the store needs.
type txRunner interface {
	infra.SQLExecutor
	WithTx(ctx context.Context, fn func(exec infra.SQLExecutor) error) error
}

// StorePG implements domain.Store and domain.Catalog on PostgreSQL. Row
// locks come from SELECT ... FOR UPDATE; the claim path relies on SKIP LOCKED.
type StorePG struct {
	runner txRunner
}

// NewStore creates a store backed by the given runner.
func NewStore(runner txRunner) *StorePG {
	return &StorePG{runner: runner}
}

// Migrate creates the tables when they do not exist yet.
func (s *StorePG) Migrate(ctx context.Context) error {
	if _, err := s.runner.Exec(ctx, sqlinline.QCreateSchema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// WithTx implements domain.Store.
func (s *StorePG) WithTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	return s.runner.WithTx(ctx, func(exec infra.SQLExecutor) error {
		return fn(&txPG{exec: exec})
	})
}

type txPG struct {
	exec infra.SQLExecutor
}

// rowScanner is satisfied by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// mapErr converts driver errors into domain error kinds.
func mapErr(err error, kind, id string) error {
	switch {
	case err == nil:
		return nil
	case infra.IsNoRows(err):
		return fmt.Errorf("%s %s: %w", kind, id, domain.ErrNotFound)
	case infra.IsUniqueViolation(err):
		return fmt.Errorf("%s %s: %w", kind, id, domain.ErrConflict)
	default:
		return fmt.Errorf("%s %s: %w", kind, id, err)
	}
}

var (
	_ domain.Store   = (*StorePG)(nil)
	_ domain.Catalog = (*StorePG)(nil)
	_ domain.Tx      = (*txPG)(nil)
)
