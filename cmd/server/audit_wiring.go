package main

import (
	"context"
	"errors"

	audit "attesta/pkg/platform/audit"
	"attesta/pkg/platform/sentinel"
	txcontext "attesta/pkg/platform/tx"
)

// splitAuditor routes audit events by context: events emitted inside a
// storage transaction go through the tx-aware store so they commit with the
// business write; everything else goes through the async channel.
type splitAuditor struct {
	transactional audit.Publisher
	async         audit.Publisher
}

func newSplitAuditor(transactional, async audit.Publisher) *splitAuditor {
	return &splitAuditor{transactional: transactional, async: async}
}

func (a *splitAuditor) Emit(ctx context.Context, event audit.Event) {
	if _, ok := txcontext.From(ctx); ok {
		a.transactional.Emit(ctx, event)
		return
	}
	a.async.Emit(ctx, event)
}

// registryFailureFilter keeps business not-found responses from counting
// against the registry breaker; only transport-level trouble should open it.
func registryFailureFilter(err error) bool {
	return !errors.Is(err, sentinel.ErrNotFound)
}
