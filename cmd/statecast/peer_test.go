package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statecast-project/statecast/internal/delta"
	"github.com/statecast-project/statecast/internal/protocol"
)

type scriptedReceiver struct {
	messages []protocol.Message
	err      error
}

func (s *scriptedReceiver) Receive(ctx context.Context) (protocol.Message, error) {
	if len(s.messages) == 0 {
		return nil, s.err
	}
	m := s.messages[0]
	s.messages = s.messages[1:]
	return m, nil
}

func mustDiff(t *testing.T, old, next []byte) *delta.Delta {
	t.Helper()
	d, err := delta.Diff(old, next)
	require.NoError(t, err)
	return d
}

func TestWatch_PrintsMessagesAndBaselineProblems(t *testing.T) {
	closed := errors.New("connection closed")
	r := &scriptedReceiver{
		messages: []protocol.Message{
			protocol.DeltaSnapshot{Delta: mustDiff(t, []byte{1, 2}, []byte{1, 3})},
			protocol.Snapshot{State: []byte{1, 2}},
			protocol.DeltaSnapshot{Delta: mustDiff(t, []byte{1, 2}, []byte{1, 3})},
			protocol.DeltaSnapshot{Delta: mustDiff(t, []byte{9, 9}, []byte{9, 8})},
			protocol.Play{Event: []byte{1}},
		},
		err: closed,
	}

	var out bytes.Buffer
	err := watch(context.Background(), r, &out)
	assert.ErrorIs(t, err, closed)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 5)
	assert.Contains(t, lines[0], "delta_snapshot")
	assert.Contains(t, lines[0], "no baseline yet")
	assert.Contains(t, lines[1], "snapshot")
	assert.NotContains(t, lines[2], "(")
	assert.Contains(t, lines[3], "baseline mismatch")
	assert.Contains(t, lines[4], "play")
}

func TestWatch_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := watch(ctx, &scriptedReceiver{err: context.Canceled}, &bytes.Buffer{})
	assert.NoError(t, err)
}

func TestFileMessage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "game.rom")
	require.NoError(t, os.WriteFile(path, []byte{0xAA, 0xBB}, 0o644))

	m, err := fileMessage("rom", path)
	require.NoError(t, err)
	assert.Equal(t, protocol.Rom{Image: []byte{0xAA, 0xBB}}, m)

	m, err = fileMessage("bios", path)
	require.NoError(t, err)
	assert.Equal(t, protocol.KindBios, m.Kind())

	m, err = fileMessage("snapshot", path)
	require.NoError(t, err)
	assert.Equal(t, protocol.KindSnapshot, m.Kind())

	_, err = fileMessage("play", path)
	assert.ErrorContains(t, err, "unknown kind")

	_, err = fileMessage("rom", filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
