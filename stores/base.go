package stores

import (
	"context"
	"errors"

	"github.com/malwarebo/paygate/utils"
	pkgerrors "github.com/pkg/errors"
	"gorm.io/gorm"
)

type contextKey string

const TxKey contextKey = "tx"

type BaseStore struct {
	db *gorm.DB
}

func (s *BaseStore) GetDB(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(TxKey).(*gorm.DB); ok {
		return tx
	}
	return s.db.WithContext(ctx)
}

func (s *BaseStore) WithTransaction(ctx context.Context, fn func(context.Context) error) error {
	if _, ok := ctx.Value(TxKey).(*gorm.DB); ok {
		return fn(ctx)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txCtx := context.WithValue(ctx, TxKey, tx)
		return fn(txCtx)
	})
}

// translate maps driver errors onto the utils sentinels and adds call context.
func translate(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return pkgerrors.Wrapf(utils.ErrNotFound, format, args...)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return pkgerrors.Wrapf(utils.ErrDuplicate, format, args...)
	default:
		return pkgerrors.Wrapf(err, format, args...)
	}
}
