package worker

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "attesta/pkg/platform/audit"
	auditmemory "attesta/pkg/platform/audit/store/memory"
)

func TestWorker_PersistsEmittedEvents(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	publisher := audit.NewChannelPublisher(16, log)
	store := auditmemory.New()
	w := New(store, publisher.Inbox(), log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	publisher.Emit(ctx, audit.Event{Action: "a", CertificateID: "c1"})
	publisher.Emit(ctx, audit.Event{Action: "b", CertificateID: "c2"})

	require.Eventually(t, func() bool {
		return len(store.Events()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	events := store.Events()
	assert.Equal(t, "a", events[0].Action)
	assert.Equal(t, "b", events[1].Action)

	cancel()
	<-done
}

type brokenStore struct{ after *auditmemory.Store }

func (s *brokenStore) Append(ctx context.Context, event audit.Event) error {
	if event.Action == "poison" {
		return assert.AnError
	}
	return s.after.Append(ctx, event)
}

func TestWorker_SurvivesStoreFailures(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	publisher := audit.NewChannelPublisher(16, log)
	inner := auditmemory.New()
	w := New(&brokenStore{after: inner}, publisher.Inbox(), log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	publisher.Emit(ctx, audit.Event{Action: "poison"})
	publisher.Emit(ctx, audit.Event{Action: "healthy"})

	require.Eventually(t, func() bool {
		return len(inner.Events()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "healthy", inner.Events()[0].Action)

	cancel()
	<-done
}
