package outbox_test

import (
	"context"
	"errors"
	"testing"
	"time"

	domoutbox "github.com/rnrlcrm/tradecore/internal/app/domain/outbox"
	svcoutbox "github.com/rnrlcrm/tradecore/internal/app/services/outbox"
	"github.com/rnrlcrm/tradecore/internal/app/storage/memory"
	"github.com/stretchr/testify/require"
)

type failingBus struct{ fail bool }

func (b *failingBus) Publish(_ context.Context, _, _ string, _ []byte, _ map[string]string) error {
	if b.fail {
		return errors.New("simulated publish failure")
	}
	return nil
}

func stageOne(t *testing.T, store *memory.OutboxStore, aggregateID string) string {
	t.Helper()
	uow := svcoutbox.NewUnitOfWork()
	require.NoError(t, uow.Stage(context.Background(), domoutbox.Event{
		AggregateID:   aggregateID,
		AggregateType: "availability",
		EventType:     domoutbox.EventAvailabilityCreated,
		SchemaVersion: 1,
		Topic:         "availability.events",
	}))
	events := uow.Events()
	require.NoError(t, store.Insert(context.Background(), events))
	return events[0].EventID
}

func TestRetryLadderToDeadLetter(t *testing.T) {
	store := memory.NewOutboxStore()
	eventID := stageOne(t, store, "avail-1")

	bus := &failingBus{fail: true}
	pub := svcoutbox.NewPublisher(store, bus, nil, nil)

	for i := 0; i < svcoutbox.MaxAttempts; i++ {
		_, err := pub.RunPartition(context.Background(), 0, 1, 10)
		require.NoError(t, err)
		if i < svcoutbox.MaxAttempts-1 {
			// Force next_attempt_at into the past so the next poll picks it up.
			store.ForceNextAttempt(eventID, time.Now().Add(-time.Second))
		}
	}

	row, ok := store.Get(eventID)
	require.True(t, ok)
	require.Equal(t, domoutbox.StatusDead, row.Status)
	require.Equal(t, svcoutbox.MaxAttempts, row.Attempts)

	// A DLQ alert event should have been emitted for the dead-lettered aggregate.
	deadEvents := store.ByAggregate("avail-1")
	var sawDead bool
	for _, e := range deadEvents {
		if e.EventType == domoutbox.EventOutboxDead {
			sawDead = true
		}
	}
	require.True(t, sawDead, "expected an OUTBOX_DEAD event")
}

func TestPublishSuccessMarksPublished(t *testing.T) {
	store := memory.NewOutboxStore()
	eventID := stageOne(t, store, "avail-2")
	bus := &failingBus{fail: false}
	pub := svcoutbox.NewPublisher(store, bus, nil, nil)

	published, err := pub.RunPartition(context.Background(), 0, 1, 10)
	require.NoError(t, err)
	require.Equal(t, 1, published)

	row, ok := store.Get(eventID)
	require.True(t, ok)
	require.Equal(t, domoutbox.StatusPublished, row.Status)
	require.NotNil(t, row.PublishedAt)
}

func TestIdempotencyKeyDedup(t *testing.T) {
	store := memory.NewOutboxStore()
	key := "req-123"
	uow := svcoutbox.NewUnitOfWork()
	for i := 0; i < 2; i++ {
		require.NoError(t, uow.Stage(context.Background(), domoutbox.Event{
			AggregateID:    "avail-3",
			AggregateType:  "availability",
			EventType:      domoutbox.EventAvailabilityCreated,
			SchemaVersion:  1,
			Topic:          "availability.events",
			IdempotencyKey: &key,
		}))
	}
	require.NoError(t, store.Insert(context.Background(), uow.Events()))
	rows := store.ByAggregate("avail-3")
	require.Len(t, rows, 1)
}

func TestPublishRejectsUnregisteredSchemaVersion(t *testing.T) {
	store := memory.NewOutboxStore()
	bus := &failingBus{}
	registry := domoutbox.NewRegistry() // empty: nothing registered
	pub := svcoutbox.NewPublisher(store, bus, registry, nil)

	err := pub.PublishOne(context.Background(), domoutbox.Event{
		EventType:     domoutbox.EventAvailabilityCreated,
		SchemaVersion: 99,
		Topic:         "availability.events",
	})
	require.Error(t, err)
}

func TestBackoffLadder(t *testing.T) {
	require.Equal(t, 10*time.Second, svcoutbox.Backoff(1))
	require.Equal(t, 20*time.Second, svcoutbox.Backoff(2))
	require.Equal(t, 40*time.Second, svcoutbox.Backoff(3))
	require.Equal(t, 80*time.Second, svcoutbox.Backoff(4))
	require.Equal(t, 160*time.Second, svcoutbox.Backoff(5))
	require.Equal(t, 600*time.Second, svcoutbox.Backoff(20))
}
