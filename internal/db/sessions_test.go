package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statecast-project/statecast/internal/events"
)

func newTestStore(t *testing.T) *SessionStore {
	t.Helper()
	store, err := NewSessionStore(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSessionStore_RecordAndRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Record(ctx, SessionRecord{
			SessionID:   uint64(i),
			RemoteAddr:  "10.0.0.1:5000",
			OpenedAt:    base,
			ClosedAt:    base.Add(time.Duration(i+1) * time.Minute),
			CloseReason: "peer_closed",
			FramesIn:    uint64(i * 10),
			BytesIn:     uint64(i * 100),
		}))
	}

	records, err := store.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, uint64(2), records[0].SessionID)
	assert.Equal(t, uint64(1), records[1].SessionID)
	assert.Equal(t, 3*time.Minute, records[0].Duration())
	assert.True(t, records[0].OpenedAt.Equal(base))

	totals, err := store.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), totals.Sessions)
	assert.Equal(t, uint64(30), totals.FramesIn)
	assert.Equal(t, uint64(300), totals.BytesIn)
}

func TestSessionStore_PruneBefore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.Record(ctx, SessionRecord{SessionID: 1, OpenedAt: now.Add(-48 * time.Hour), ClosedAt: now.Add(-47 * time.Hour)}))
	require.NoError(t, store.Record(ctx, SessionRecord{SessionID: 2, OpenedAt: now.Add(-time.Hour), ClosedAt: now}))

	n, err := store.PruneBefore(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	records, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, uint64(2), records[0].SessionID)
}

func TestSessionStore_RecordsClosedEvents(t *testing.T) {
	store := newTestStore(t)
	bus := events.NewEventBus()
	defer bus.Stop()
	store.RegisterHandlers(bus)

	now := time.Now()
	require.NoError(t, bus.EmitSync(context.Background(), events.Event{
		Type: events.EventSessionClosed,
		Payload: events.SessionClosedPayload{
			SessionID:    7,
			RemoteAddr:   "192.168.1.5:41000",
			OpenedAt:     now.Add(-time.Minute),
			ClosedAt:     now,
			Reason:       events.CloseReasonKicked,
			FramesIn:     4,
			SendFailures: 1,
		},
	}))

	records, err := store.Recent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, uint64(7), records[0].SessionID)
	assert.Equal(t, "kicked", records[0].CloseReason)
	assert.Equal(t, uint64(1), records[0].SendFailures)
}
