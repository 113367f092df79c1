package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statecast-project/statecast/internal/config"
	"github.com/statecast-project/statecast/internal/db"
)

type fakeStore struct {
	mu      sync.Mutex
	cutoffs []time.Time
	err     error
}

func (f *fakeStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	return 1, f.err
}

func (f *fakeStore) Totals(ctx context.Context) (db.SessionTotals, error) {
	return db.SessionTotals{Sessions: 2, BytesIn: 4096}, nil
}

func (f *fakeStore) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cutoffs)
}

func TestScheduler_RetentionCutoff(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ApplicationData.Database.RetentionDays = 7

	s := NewScheduler(cfg, &fakeStore{})
	fixed := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	assert.Equal(t, time.Date(2026, 5, 3, 12, 0, 0, 0, time.UTC), s.RetentionCutoff())
}

func TestScheduler_RunsRetentionOnStart(t *testing.T) {
	store := &fakeStore{}
	s := NewScheduler(config.DefaultConfig(), store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return store.calls() == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestScheduler_RetentionErrorIsLogged(t *testing.T) {
	store := &fakeStore{err: errors.New("disk full")}
	s := NewScheduler(config.DefaultConfig(), store)

	s.runRetention(context.Background())
	assert.Equal(t, 1, store.calls())
}

func TestScheduler_WithoutStore(t *testing.T) {
	s := NewScheduler(config.DefaultConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Start(ctx)
}
