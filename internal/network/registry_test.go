package network

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu      sync.Mutex
	sent    []string
	closed  int
	sendErr error
}

func (f *fakeSink) Send(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func TestConnectionRegistry_IDsIncreaseAndAreNotReused(t *testing.T) {
	r := NewConnectionRegistry()

	a := r.Add(&fakeSink{})
	b := r.Add(&fakeSink{})
	assert.Equal(t, uint64(0), a)
	assert.Equal(t, uint64(1), b)

	_, ok := r.Remove(a)
	require.True(t, ok)

	c := r.Add(&fakeSink{})
	assert.Equal(t, uint64(2), c)
	assert.Equal(t, []uint64{1, 2}, r.IDs())
}

func TestConnectionRegistry_CountersArePerInstance(t *testing.T) {
	r1 := NewConnectionRegistry()
	r2 := NewConnectionRegistry()

	r1.Add(&fakeSink{})
	r1.Add(&fakeSink{})

	assert.Equal(t, uint64(0), r2.Add(&fakeSink{}))
}

func TestConnectionRegistry_RemoveIsIdempotent(t *testing.T) {
	r := NewConnectionRegistry()
	sink := &fakeSink{}
	id := r.Add(sink)

	got, ok := r.Remove(id)
	require.True(t, ok)
	assert.Same(t, sink, got)

	_, ok = r.Remove(id)
	assert.False(t, ok)
	assert.Equal(t, 0, r.Count())
}

func TestConnectionRegistry_PeersExcludesSender(t *testing.T) {
	r := NewConnectionRegistry()
	for i := 0; i < 3; i++ {
		r.Add(&fakeSink{})
	}

	peers := r.Peers(1)
	require.Len(t, peers, 2)
	assert.Equal(t, uint64(0), peers[0].ID)
	assert.Equal(t, uint64(2), peers[1].ID)

	_, ok := r.Get(1)
	assert.True(t, ok)
	_, ok = r.Get(9)
	assert.False(t, ok)
}

func TestConnectionRegistry_CloseAll(t *testing.T) {
	r := NewConnectionRegistry()
	sinks := []*fakeSink{{}, {}}
	for _, s := range sinks {
		r.Add(s)
	}

	r.CloseAll()

	assert.Equal(t, 0, r.Count())
	for _, s := range sinks {
		assert.Equal(t, 1, s.closed)
	}
}

func TestConnectionRegistry_ConcurrentAddRemove(t *testing.T) {
	r := NewConnectionRegistry()

	var wg sync.WaitGroup
	ids := make(chan uint64, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := r.Add(&fakeSink{})
			ids <- id
			r.Peers(id)
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint64]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
		_, ok := r.Remove(id)
		assert.True(t, ok)
	}
	assert.Len(t, seen, 100)
	assert.Equal(t, 0, r.Count())
}

func TestSessionServer_BroadcastSkipsSenderAndSurvivesFailures(t *testing.T) {
	srv := NewSessionServer(Options{}, nil)
	reg := srv.Registry()

	sender := &fakeSink{}
	broken := &fakeSink{sendErr: errors.New("broken pipe")}
	healthy := &fakeSink{}

	senderID := reg.Add(sender)
	reg.Add(broken)
	reg.Add(healthy)

	delivered, failed := srv.Broadcast(context.Background(), senderID, playMessage())
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 1, failed)
	assert.Empty(t, sender.sent)
	assert.Len(t, healthy.sent, 1)
}

func TestReuseAddrListenConfig(t *testing.T) {
	lc := ReuseAddrListenConfig()
	ln, err := lc.Listen(context.Background(), "tcp", "127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, ln.Close())
}
