package cli

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statecast-project/statecast/internal/events"
	"github.com/statecast-project/statecast/internal/health"
	"github.com/statecast-project/statecast/internal/network"
	"github.com/statecast-project/statecast/internal/util"
)

type fakeSessions struct {
	mu     sync.Mutex
	infos  []network.SessionInfo
	kicked []uint64
}

func (f *fakeSessions) Count() int { return len(f.infos) }

func (f *fakeSessions) Sessions() []network.SessionInfo { return f.infos }

func (f *fakeSessions) Kick(id uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.infos {
		if s.ID == id {
			f.kicked = append(f.kicked, id)
			return nil
		}
	}
	return fmt.Errorf("kick %d: %w", id, network.ErrSessionNotFound)
}

type fixedStatus health.Status

func (f fixedStatus) Status() health.Status { return health.Status(f) }

func run(t *testing.T, bus *events.EventBus, sessions Sessions, status StatusSource, input string) string {
	t.Helper()
	var out bytes.Buffer
	c := NewCLI(bus, sessions, status, strings.NewReader(input), &out)

	done := make(chan struct{})
	go func() {
		c.Start(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("console did not stop")
	}
	return out.String()
}

func TestCLI_Sessions(t *testing.T) {
	sessions := &fakeSessions{infos: []network.SessionInfo{
		{ID: 0, RemoteAddr: "10.0.0.1:5000", OpenedAt: time.Now(), FramesIn: 3, BytesIn: 2048},
		{ID: 4, RemoteAddr: "10.0.0.2:5001", OpenedAt: time.Now()},
	}}

	out := run(t, nil, sessions, nil, "sessions\n")
	assert.Contains(t, out, "10.0.0.1:5000")
	assert.Contains(t, out, "10.0.0.2:5001")
	assert.Contains(t, out, "2.0 KiB")
}

func TestCLI_NoSessions(t *testing.T) {
	out := run(t, nil, &fakeSessions{}, nil, "ls\n")
	assert.Contains(t, out, "No active sessions")
}

func TestCLI_Kick(t *testing.T) {
	sessions := &fakeSessions{infos: []network.SessionInfo{{ID: 2}}}

	out := run(t, nil, sessions, nil, "kick 2\nkick 9\nkick x\nkick\n")
	assert.Equal(t, []uint64{2}, sessions.kicked)
	assert.Contains(t, out, "Session 2 kicked")
	assert.Contains(t, out, "session not found")
	assert.Contains(t, out, "invalid session id: x")
	assert.Contains(t, out, "usage: kick <id>")
}

func TestCLI_Status(t *testing.T) {
	status := fixedStatus{
		Healthy:      false,
		Uptime:       "1m0s",
		PeakSessions: 5,
		Memory:       &util.MemoryUsage{UsedPercent: 42},
		Warnings:     map[string]string{"disk": "disk usage at 95.0%"},
	}

	out := run(t, nil, &fakeSessions{infos: []network.SessionInfo{{ID: 1}}}, status, "status\n")
	assert.Contains(t, out, "Active sessions: 1")
	assert.Contains(t, out, "Peak sessions:   5")
	assert.Contains(t, out, "42.0%")
	assert.Contains(t, out, "disk usage at 95.0%")
}

func TestCLI_QuitEmitsShutdown(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Stop()

	shutdown := make(chan struct{}, 1)
	bus.Subscribe(events.EventShutdown, "test", func(ctx context.Context, e events.Event) error {
		shutdown <- struct{}{}
		return nil
	})

	out := run(t, bus, &fakeSessions{}, nil, "help\nquit\nsessions\n")
	assert.Contains(t, out, "kick <id>")
	assert.NotContains(t, out, "No active sessions")

	select {
	case <-shutdown:
	case <-time.After(2 * time.Second):
		require.Fail(t, "shutdown not emitted")
	}
}

func TestCLI_UnknownCommand(t *testing.T) {
	out := run(t, nil, &fakeSessions{}, nil, "frobnicate\n")
	assert.Contains(t, out, "Unknown command: 'frobnicate'")
}
