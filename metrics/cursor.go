package metrics

import (
	"sync"
	"time"
)

// CursorType enumerates the cursor shapes the host can report.
type CursorType int

const (
	CursorArrow CursorType = iota
	CursorIBeam
	CursorResize
	CursorHand
	CursorHidden
)

// CursorSnapshot is a per-stream, monotonically sequenced cursor-state
// update (spec §3 "CursorSnapshot").
type CursorSnapshot struct {
	StreamID  uint32
	Type      CursorType
	Visible   bool
	Sequence  uint64
	UpdatedAt time.Time
}

// CursorPositionSnapshot is a per-stream, monotonically sequenced
// cursor-position update (spec §3 "CursorPositionSnapshot").
type CursorPositionSnapshot struct {
	StreamID  uint32
	X, Y      float64
	Sequence  uint64
	UpdatedAt time.Time
}

type cursorState struct {
	lastType    CursorType
	lastVisible bool
	hasAny      bool
	seq         uint64
	posSeq      uint64
}

// CursorStore tracks per-stream cursor state and position,
// deduplicating identical state updates (spec §4.12: "same type+visible
// → no change") and assigning a strictly increasing sequence number to
// each accepted update.
type CursorStore struct {
	mu     sync.Mutex
	states map[uint32]*cursorState
}

// NewCursorStore returns an empty CursorStore.
func NewCursorStore() *CursorStore {
	return &CursorStore{states: make(map[uint32]*cursorState)}
}

// UpdateCursor records a cursor type/visibility change. It returns
// ok=false when the update is a duplicate of the last reported state
// for this stream and therefore produced no snapshot.
func (c *CursorStore) UpdateCursor(streamID uint32, t CursorType, visible bool) (CursorSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.states[streamID]
	if !ok {
		st = &cursorState{}
		c.states[streamID] = st
	}
	if st.hasAny && st.lastType == t && st.lastVisible == visible {
		return CursorSnapshot{}, false
	}
	st.lastType = t
	st.lastVisible = visible
	st.hasAny = true
	st.seq++

	return CursorSnapshot{StreamID: streamID, Type: t, Visible: visible, Sequence: st.seq, UpdatedAt: time.Now()}, true
}

// UpdatePosition records a cursor-position update, always sequenced
// (position updates are not deduplicated by value).
func (c *CursorStore) UpdatePosition(streamID uint32, x, y float64) CursorPositionSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.states[streamID]
	if !ok {
		st = &cursorState{}
		c.states[streamID] = st
	}
	st.posSeq++
	return CursorPositionSnapshot{StreamID: streamID, X: x, Y: y, Sequence: st.posSeq, UpdatedAt: time.Now()}
}

// Clear removes a single stream's cursor state.
func (c *CursorStore) Clear(streamID uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.states, streamID)
}

// ClearAll removes every stream's cursor state.
func (c *CursorStore) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states = make(map[uint32]*cursorState)
}
