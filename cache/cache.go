// Package cache implements the shared decoded-frame cache (spec §4.6):
// a per-stream, lock-protected queue of decoded entries with strictly
// increasing local sequence numbers and an emergency-trim policy for
// sustained backlog. It generalizes the teacher's
// moonlight-common-go/video.Stream frame buffer (a small ring guarded by
// a mutex, trimmed on overflow) to this spec's per-stream map and named
// trim thresholds.
package cache

import (
	"sync"
	"time"

	"github.com/miragestream/core/policy"
	"github.com/miragestream/core/wire"
)

// Entry is one decoded frame ready for presentation.
type Entry struct {
	StreamID  uint32
	Sequence  uint64
	Rect      wire.ContentRect
	Pixels    []byte
	DecodedAt time.Time
}

// EnqueueResult reports the bookkeeping values the caller needs after an
// enqueue (spec §4.6: "enqueue returns {sequence, queueDepth,
// oldestAgeMs, emergencyDrops}").
type EnqueueResult struct {
	Sequence       uint64
	QueueDepth     int
	OldestAgeMs    int64
	EmergencyDrops int
}

type streamQueue struct {
	mu               sync.Mutex
	entries          []Entry
	nextSeq          uint64
	maxQueueDepth    int
	lastPresentedSeq uint64
	hasPresented     bool
	lastPresentedAt  time.Time
}

func newStreamQueue() *streamQueue {
	return &streamQueue{maxQueueDepth: policy.DefaultMaxQueueDepth}
}

// Cache holds one streamQueue per active StreamID.
type Cache struct {
	mu      sync.RWMutex
	streams map[uint32]*streamQueue
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{streams: make(map[uint32]*streamQueue)}
}

func (c *Cache) queueFor(streamID uint32) *streamQueue {
	c.mu.RLock()
	q := c.streams[streamID]
	c.mu.RUnlock()
	if q != nil {
		return q
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if q = c.streams[streamID]; q == nil {
		q = newStreamQueue()
		c.streams[streamID] = q
	}
	return q
}

// Enqueue appends a decoded entry, assigning it the next local sequence
// number, and runs the emergency-trim policy (spec §3): when depth >= 8
// and the oldest entry's age >= 150ms, or depth > 12, entries are
// dropped down to emergencySafeDepth (4).
func (c *Cache) Enqueue(streamID uint32, rect wire.ContentRect, pixels []byte, decodedAt time.Time) EnqueueResult {
	q := c.queueFor(streamID)
	q.mu.Lock()
	defer q.mu.Unlock()

	q.nextSeq++
	seq := q.nextSeq
	q.entries = append(q.entries, Entry{
		StreamID:  streamID,
		Sequence:  seq,
		Rect:      rect,
		Pixels:    pixels,
		DecodedAt: decodedAt,
	})

	drops := q.trimLocked()

	return EnqueueResult{
		Sequence:       seq,
		QueueDepth:     len(q.entries),
		OldestAgeMs:    q.oldestAgeMsLocked(),
		EmergencyDrops: drops,
	}
}

func (q *streamQueue) trimLocked() int {
	depth := len(q.entries)
	if depth == 0 {
		return 0
	}
	oldestAge := time.Since(q.entries[0].DecodedAt)
	needsTrim := depth > policy.DefaultMaxQueueDepth ||
		(depth >= policy.EmergencyTrimDepthTrigger && oldestAge >= policy.EmergencyTrimAgeTrigger)
	if !needsTrim {
		return 0
	}
	drop := depth - policy.EmergencySafeDepth
	if drop <= 0 {
		return 0
	}
	q.entries = append([]Entry(nil), q.entries[drop:]...)
	return drop
}

func (q *streamQueue) oldestAgeMsLocked() int64 {
	if len(q.entries) == 0 {
		return 0
	}
	return time.Since(q.entries[0].DecodedAt).Milliseconds()
}

// Dequeue removes and returns the oldest entry, if any.
func (c *Cache) Dequeue(streamID uint32) (Entry, bool) {
	q := c.queueFor(streamID)
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return Entry{}, false
	}
	e := q.entries[0]
	q.entries = q.entries[1:]
	return e, true
}

// PeekLatest returns the newest entry without removing it.
func (c *Cache) PeekLatest(streamID uint32) (Entry, bool) {
	q := c.queueFor(streamID)
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return Entry{}, false
	}
	return q.entries[len(q.entries)-1], true
}

// QueueDepth reports the current entry count for streamID.
func (c *Cache) QueueDepth(streamID uint32) int {
	q := c.queueFor(streamID)
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// OldestAgeMs reports the age of the oldest queued entry in
// milliseconds, or 0 if the queue is empty.
func (c *Cache) OldestAgeMs(streamID uint32) int64 {
	q := c.queueFor(streamID)
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.oldestAgeMsLocked()
}

// LatestSequence returns the highest sequence number assigned so far.
func (c *Cache) LatestSequence(streamID uint32) uint64 {
	q := c.queueFor(streamID)
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.nextSeq
}

// MarkPresented records the most recently rendered sequence, for
// telemetry and for the present scheduler's newest-wins decision.
func (c *Cache) MarkPresented(streamID uint32, sequence uint64) {
	q := c.queueFor(streamID)
	q.mu.Lock()
	defer q.mu.Unlock()
	q.lastPresentedSeq = sequence
	q.hasPresented = true
	q.lastPresentedAt = time.Now()
}

// LastPresented reports the most recently marked-presented sequence.
func (c *Cache) LastPresented(streamID uint32) (uint64, bool) {
	q := c.queueFor(streamID)
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastPresentedSeq, q.hasPresented
}

// Clear purges all queued entries for a stream (spec §4.6 "clear(streamID) purges on stream end").
func (c *Cache) Clear(streamID uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.streams, streamID)
}
