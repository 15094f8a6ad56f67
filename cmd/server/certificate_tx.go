package main

import (
	"context"
	"database/sql"
	"time"

	dErrors "attesta/pkg/domain-errors"
	txcontext "attesta/pkg/platform/tx"
)

const defaultCertificateTxTimeout = 5 * time.Second

// certificatePostgresTx runs orchestrator units of work inside one SQL
// transaction. The transaction travels in the context so the certificate
// store and the audit outbox store commit or roll back together.
type certificatePostgresTx struct {
	db      *sql.DB
	timeout time.Duration
}

func newCertificatePostgresTx(db *sql.DB) *certificatePostgresTx {
	return &certificatePostgresTx{db: db}
}

func (t *certificatePostgresTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultCertificateTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(txcontext.WithTx(ctx, tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	return nil
}
