// Package metrics holds the thread-safe per-stream snapshot stores
// (spec §4.12): client/host metrics merge, cursor state, and cursor
// position. It follows the map-plus-RWMutex shape of
// internal/session.Manager, generalized from one global active session
// to independent per-StreamID entries.
package metrics

import "sync"

// Snapshot is the merged client+host metrics view for one stream.
type Snapshot struct {
	FPS            float64
	EncodedFPS     float64
	DroppedFrames  uint64
	DecodedFrames  uint64
	LastBitrateBps int64
	LastQuality    string
}

// ClientUpdate carries fields reported by the client side.
type ClientUpdate struct {
	FPS           float64
	DroppedFrames uint64
	DecodedFrames uint64
}

// HostUpdate carries fields reported by the host side.
type HostUpdate struct {
	EncodedFPS     float64
	LastBitrateBps int64
	LastQuality    string
}

// Store is a thread-safe map of StreamID to Snapshot.
type Store struct {
	mu        sync.RWMutex
	snapshots map[uint32]Snapshot
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{snapshots: make(map[uint32]Snapshot)}
}

// UpdateClientMetrics merges a client-reported update into the
// stream's snapshot, creating one if absent.
func (s *Store) UpdateClientMetrics(streamID uint32, u ClientUpdate) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshots[streamID]
	snap.FPS = u.FPS
	snap.DroppedFrames = u.DroppedFrames
	snap.DecodedFrames = u.DecodedFrames
	s.snapshots[streamID] = snap
	return snap
}

// UpdateHostMetrics merges a host-reported update into the stream's
// snapshot, creating one if absent.
func (s *Store) UpdateHostMetrics(streamID uint32, u HostUpdate) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshots[streamID]
	snap.EncodedFPS = u.EncodedFPS
	snap.LastBitrateBps = u.LastBitrateBps
	snap.LastQuality = u.LastQuality
	s.snapshots[streamID] = snap
	return snap
}

// Get returns the current snapshot for a stream, if any.
func (s *Store) Get(streamID uint32) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[streamID]
	return snap, ok
}

// Clear removes a single stream's snapshot (spec: "Clear on stream
// stop").
func (s *Store) Clear(streamID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, streamID)
}

// ClearAll removes every stream's snapshot (spec: "clear-all on
// disconnect").
func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = make(map[uint32]Snapshot)
}
