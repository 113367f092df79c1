package network

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Sink is the outbound half of a registered session.
type Sink interface {
	Send(text string) error
	Close() error
}

// Peer is a registry entry captured by a snapshot.
type Peer struct {
	ID   uint64
	Sink Sink
}

// ConnectionRegistry tracks active sessions by id. Ids come from a counter
// owned by the registry, so two registries never share an id space.
type ConnectionRegistry struct {
	mu     sync.RWMutex
	nextID atomic.Uint64
	sinks  map[uint64]Sink
}

// NewConnectionRegistry creates a new ConnectionRegistry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		sinks: make(map[uint64]Sink),
	}
}

// Add registers a sink and returns its id. Ids start at 0, increase
// strictly and are never reused.
func (r *ConnectionRegistry) Add(sink Sink) uint64 {
	id := r.nextID.Add(1) - 1

	r.mu.Lock()
	r.sinks[id] = sink
	r.mu.Unlock()

	log.Debug().Uint64("session_id", id).Msg("connection registered")
	return id
}

// Remove deregisters id. It reports false when id was not registered,
// so repeated removal is harmless.
func (r *ConnectionRegistry) Remove(id uint64) (Sink, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sink, ok := r.sinks[id]
	if !ok {
		return nil, false
	}
	delete(r.sinks, id)

	log.Debug().Uint64("session_id", id).Msg("connection unregistered")
	return sink, true
}

// Get returns the sink registered under id.
func (r *ConnectionRegistry) Get(id uint64) (Sink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sink, ok := r.sinks[id]
	return sink, ok
}

// Peers returns every entry except the one registered under except,
// sorted by id. The lock is released before the caller sends anything.
func (r *ConnectionRegistry) Peers(except uint64) []Peer {
	r.mu.RLock()
	peers := make([]Peer, 0, len(r.sinks))
	for id, sink := range r.sinks {
		if id != except {
			peers = append(peers, Peer{ID: id, Sink: sink})
		}
	}
	r.mu.RUnlock()

	sort.Slice(peers, func(i, j int) bool { return peers[i].ID < peers[j].ID })
	return peers
}

// All returns every entry sorted by id.
func (r *ConnectionRegistry) All() []Peer {
	r.mu.RLock()
	peers := make([]Peer, 0, len(r.sinks))
	for id, sink := range r.sinks {
		peers = append(peers, Peer{ID: id, Sink: sink})
	}
	r.mu.RUnlock()

	sort.Slice(peers, func(i, j int) bool { return peers[i].ID < peers[j].ID })
	return peers
}

// IDs returns the registered ids in ascending order.
func (r *ConnectionRegistry) IDs() []uint64 {
	peers := r.All()
	ids := make([]uint64, len(peers))
	for i, p := range peers {
		ids[i] = p.ID
	}
	return ids
}

// Count returns the number of active connections.
func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sinks)
}

// CloseAll deregisters and closes every connection. Close errors are
// logged and otherwise ignored.
func (r *ConnectionRegistry) CloseAll() {
	r.mu.Lock()
	sinks := r.sinks
	r.sinks = make(map[uint64]Sink)
	r.mu.Unlock()

	for id, sink := range sinks {
		if err := sink.Close(); err != nil {
			log.Debug().Err(err).Uint64("session_id", id).Msg("close failed")
		}
	}

	log.Info().Int("count", len(sinks)).Msg("all connections closed")
}
