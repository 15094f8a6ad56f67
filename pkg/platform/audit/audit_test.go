package audit

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attesta/pkg/requestcontext"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestChannelPublisher_StampsRequestScopedFields(t *testing.T) {
	p := NewChannelPublisher(4, discard())
	pinned := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), pinned)
	ctx = requestcontext.WithRequestID(ctx, "req-42")

	p.Emit(ctx, Event{Action: string(EventCertificateCreated)})

	event := <-p.Inbox()
	assert.Equal(t, pinned, event.Timestamp)
	assert.Equal(t, "req-42", event.RequestID)
}

func TestChannelPublisher_KeepsExplicitFields(t *testing.T) {
	p := NewChannelPublisher(4, discard())
	set := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	p.Emit(context.Background(), Event{Timestamp: set, RequestID: "explicit"})

	event := <-p.Inbox()
	assert.Equal(t, set, event.Timestamp)
	assert.Equal(t, "explicit", event.RequestID)
}

func TestChannelPublisher_DropsWhenFullWithoutBlocking(t *testing.T) {
	p := NewChannelPublisher(1, discard())
	ctx := context.Background()

	p.Emit(ctx, Event{Action: "first"})

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Emit(ctx, Event{Action: "overflow"})
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full inbox")
	}

	event := <-p.Inbox()
	assert.Equal(t, "first", event.Action)
	select {
	case extra := <-p.Inbox():
		t.Fatalf("overflow event was not dropped: %+v", extra)
	default:
	}
}

type failingStore struct{ calls int }

func (s *failingStore) Append(context.Context, Event) error {
	s.calls++
	return assert.AnError
}

func TestStorePublisher_SwallowsStoreErrors(t *testing.T) {
	store := &failingStore{}
	p := NewStorePublisher(store, discard())

	// Must not panic or surface the error.
	p.Emit(context.Background(), Event{Action: "anything"})
	require.Equal(t, 1, store.calls)
}
