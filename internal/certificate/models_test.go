package certificate

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusStateMachine(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusPending, StatusProcessing}:   true,
		{StatusProcessing, StatusCompleted}: true,
		{StatusProcessing, StatusFailed}:    true,
		{StatusCompleted, StatusCancelled}:  true,
		{StatusCompleted, StatusSuspended}:  true,
	}

	all := []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled, StatusSuspended}
	for _, from := range all {
		for _, to := range all {
			got := from.CanTransitionTo(to)
			want := allowed[[2]Status{from, to}]
			assert.Equalf(t, want, got, "transition %s -> %s", from, to)
		}
	}
}

func TestStatusReconcileRules(t *testing.T) {
	// Reconciliation may cross ordinary edges but never overwrites a local
	// revocation with a lagging provider view.
	assert.True(t, StatusProcessing.CanReconcileTo(StatusCompleted))
	assert.True(t, StatusFailed.CanReconcileTo(StatusCompleted))
	assert.True(t, StatusCompleted.CanReconcileTo(StatusProcessing))

	assert.False(t, StatusCancelled.CanReconcileTo(StatusCompleted))
	assert.False(t, StatusSuspended.CanReconcileTo(StatusCompleted))
	assert.True(t, StatusCancelled.CanReconcileTo(StatusCancelled))
}

func TestStatusIsActive(t *testing.T) {
	assert.True(t, StatusPending.IsActive())
	assert.True(t, StatusProcessing.IsActive())
	assert.True(t, StatusCompleted.IsActive())
	assert.False(t, StatusFailed.IsActive())
	assert.False(t, StatusCancelled.IsActive())
	assert.False(t, StatusSuspended.IsActive())
}

func TestMetadataMergeNeverReplaces(t *testing.T) {
	base := Metadata{"a": 1, "b": "keep"}
	merged := base.Merge(Metadata{"b": "new", "c": true})

	assert.Equal(t, Metadata{"a": 1, "b": "new", "c": true}, merged)
	// Original bag untouched.
	assert.Equal(t, Metadata{"a": 1, "b": "keep"}, base)

	var nilBag Metadata
	assert.Equal(t, Metadata{"x": 1}, nilBag.Merge(Metadata{"x": 1}))
}

func TestNewReferenceNumber(t *testing.T) {
	now := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	ref := NewReferenceNumber(now)

	require.True(t, strings.HasPrefix(ref, "ATT-20260314150926-"), ref)
	assert.Len(t, ref, len("ATT-20260314150926-")+8)
	assert.NotEqual(t, ref, NewReferenceNumber(now), "random suffix must differ")
}
