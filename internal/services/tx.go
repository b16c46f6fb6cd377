package services

import (
	"context"

	"gorm.io/gorm"
)

// TxRunner runs fn inside one database transaction. fn's error rolls the
// transaction back; a nil return commits it. Session returns a handle bound to
// ctx for reads outside a transaction.
type TxRunner interface {
	Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error
	Session(ctx context.Context) *gorm.DB
}

type gormTxRunner struct {
	db *gorm.DB
}

// NewTxRunner returns a TxRunner backed by db.
func NewTxRunner(db *gorm.DB) TxRunner {
	return &gormTxRunner{db: db}
}

func (r *gormTxRunner) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

func (r *gormTxRunner) Session(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx)
}
