package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statecast-project/statecast/internal/delta"
	"github.com/statecast-project/statecast/internal/network"
	"github.com/statecast-project/statecast/internal/protocol"
)

func startRelay(t *testing.T) (*network.SessionServer, string) {
	t.Helper()
	srv := network.NewSessionServer(network.Options{WriteTimeout: time.Second}, nil)
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
		ts.Close()
	})
	return srv, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(t *testing.T, srv *network.SessionServer, url string) *Client {
	t.Helper()
	want := srv.Count() + 1
	c, err := Dial(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	require.Eventually(t, func() bool { return srv.Count() == want }, 2*time.Second, 5*time.Millisecond)
	return c
}

func receive(t *testing.T, c *Client) protocol.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	m, err := c.Receive(ctx)
	require.NoError(t, err)
	return m
}

func TestClient_SendsEveryKind(t *testing.T) {
	srv, url := startRelay(t)
	sender := dial(t, srv, url)
	receiver := dial(t, srv, url)

	require.NoError(t, sender.SendBios([]byte("bios")))
	require.NoError(t, sender.SendRom([]byte("rom")))
	require.NoError(t, sender.SendPlay([]byte{1}))
	require.NoError(t, sender.SendSnapshot([]byte{0, 0, 0}))

	assert.Equal(t, protocol.Bios{Image: []byte("bios")}, receive(t, receiver))
	assert.Equal(t, protocol.Rom{Image: []byte("rom")}, receive(t, receiver))
	assert.Equal(t, protocol.Play{Event: []byte{1}}, receive(t, receiver))
	assert.Equal(t, protocol.Snapshot{State: []byte{0, 0, 0}}, receive(t, receiver))
}

func TestClient_SendStateTracksBaseline(t *testing.T) {
	srv, url := startRelay(t)
	sender := dial(t, srv, url)
	receiver := dial(t, srv, url)

	first := make([]byte, 600)
	second := append([]byte(nil), first...)
	second[10] = 1
	second[599] = 2

	require.NoError(t, sender.SendState(first))
	require.NoError(t, sender.SendState(second))

	var baseline Baseline

	m := receive(t, receiver)
	require.IsType(t, protocol.Snapshot{}, m)
	state, ok, err := baseline.Apply(m)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first, state)

	m = receive(t, receiver)
	require.IsType(t, protocol.DeltaSnapshot{}, m)
	state, ok, err = baseline.Apply(m)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, second, state)

	current, ok := baseline.State()
	require.True(t, ok)
	assert.Equal(t, second, current)

	// A length change restarts from a full snapshot.
	require.NoError(t, sender.SendState(make([]byte, 4)))
	assert.IsType(t, protocol.Snapshot{}, receive(t, receiver))
}

func TestClient_SendDeltaLengthMismatch(t *testing.T) {
	srv, url := startRelay(t)
	c := dial(t, srv, url)

	err := c.SendDelta([]byte{1, 2}, []byte{1})
	assert.ErrorIs(t, err, delta.ErrLengthMismatch)
}

func TestClient_ReceiveHonoursContext(t *testing.T) {
	srv, url := startRelay(t)
	c := dial(t, srv, url)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_CloseDeregisters(t *testing.T) {
	srv, url := startRelay(t)
	c := dial(t, srv, url)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	require.Eventually(t, func() bool { return srv.Count() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestDial_Refused(t *testing.T) {
	_, err := Dial(context.Background(), "ws://127.0.0.1:1/websocket")
	assert.Error(t, err)
}

func TestBaseline_DeltaWithoutSnapshot(t *testing.T) {
	var b Baseline
	d, err := delta.Diff([]byte{0}, []byte{1})
	require.NoError(t, err)

	_, ok, err := b.Apply(protocol.DeltaSnapshot{Delta: d})
	assert.True(t, ok)
	assert.ErrorIs(t, err, ErrNoBaseline)
}

func TestBaseline_HashMismatchKeepsState(t *testing.T) {
	var b Baseline
	_, _, err := b.Apply(protocol.Snapshot{State: []byte{5, 5, 5}})
	require.NoError(t, err)

	d, err := delta.Diff([]byte{1, 2, 3}, []byte{1, 2, 4})
	require.NoError(t, err)

	_, _, err = b.Apply(protocol.DeltaSnapshot{Delta: d})
	require.Error(t, err)
	assert.ErrorIs(t, err, delta.ErrHashMismatch)

	var mismatch *delta.HashMismatchError
	assert.True(t, errors.As(err, &mismatch))

	state, ok := b.State()
	require.True(t, ok)
	assert.Equal(t, []byte{5, 5, 5}, state)
}

func TestBaseline_IgnoresOtherKinds(t *testing.T) {
	var b Baseline
	state, ok, err := b.Apply(protocol.Play{Event: []byte{1}})
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, state)

	_, ok = b.State()
	assert.False(t, ok)

	_, _, err = b.Apply(protocol.Snapshot{State: []byte{}})
	require.NoError(t, err)
	state, ok = b.State()
	assert.True(t, ok)
	assert.Empty(t, state)

	b.Reset()
	_, ok = b.State()
	assert.False(t, ok)
}
