package client

import (
	"errors"
	"fmt"
	"sync"

	"github.com/statecast-project/statecast/internal/protocol"
)

// ErrNoBaseline is returned when a delta arrives before any snapshot.
var ErrNoBaseline = errors.New("client: delta received before a snapshot")

// Baseline tracks the receiver's last-known snapshot. A Snapshot replaces
// it and a DeltaSnapshot is applied to it.
//
// When a delta does not match the baseline, Apply returns an error that
// satisfies errors.Is(err, delta.ErrHashMismatch) and the baseline is left
// unchanged; the peer should wait for, or ask for, a full snapshot.
type Baseline struct {
	mu    sync.RWMutex
	state []byte
}

// Apply folds m into the baseline. It reports whether m was a snapshot or
// delta and returns a copy of the resulting state if so. Other kinds are
// ignored.
func (b *Baseline) Apply(m protocol.Message) ([]byte, bool, error) {
	switch m := m.(type) {
	case protocol.Snapshot:
		state := make([]byte, len(m.State))
		copy(state, m.State)

		b.mu.Lock()
		b.state = state
		b.mu.Unlock()
		return append([]byte{}, state...), true, nil

	case protocol.DeltaSnapshot:
		if m.Delta == nil {
			return nil, true, errors.New("client: empty delta snapshot")
		}

		b.mu.Lock()
		defer b.mu.Unlock()
		if b.state == nil {
			return nil, true, ErrNoBaseline
		}

		next, err := m.Delta.Apply(b.state)
		if err != nil {
			return nil, true, fmt.Errorf("apply delta: %w", err)
		}
		b.state = next
		return append([]byte{}, next...), true, nil
	}
	return nil, false, nil
}

// State returns a copy of the current baseline, or false if none is set.
func (b *Baseline) State() ([]byte, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.state == nil {
		return nil, false
	}
	return append([]byte{}, b.state...), true
}

// Reset discards the baseline.
func (b *Baseline) Reset() {
	b.mu.Lock()
	b.state = nil
	b.mu.Unlock()
}
