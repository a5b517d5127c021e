package controlchan

import (
	"sync"
	"time"

	"github.com/miragestream/core/policy"
)

// KeyframeCoalescer implements the host-side idempotency rule for
// keyframe/quality requests (spec §4.8: "coalesces requests within
// cooldown and drops them when an in-flight deadline is pending").
type KeyframeCoalescer struct {
	mu       sync.Mutex
	cooldown time.Duration
	lastEmit map[uint32]time.Time
}

// NewKeyframeCoalescer constructs a coalescer using the spec-resolved
// cooldown (policy.KeyframeRequestCoalesceCooldown).
func NewKeyframeCoalescer() *KeyframeCoalescer {
	return &KeyframeCoalescer{
		cooldown: policy.KeyframeRequestCoalesceCooldown,
		lastEmit: make(map[uint32]time.Time),
	}
}

// ShouldEmit reports whether a keyframe request for streamID arriving
// at now should actually be honored. inFlightDeadline, if non-nil and
// still in the future, means a keyframe is already pending for this
// stream — the request is dropped outright.
func (k *KeyframeCoalescer) ShouldEmit(streamID uint32, now time.Time, inFlightDeadline *time.Time) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	if inFlightDeadline != nil && now.Before(*inFlightDeadline) {
		return false
	}
	if last, ok := k.lastEmit[streamID]; ok && now.Sub(last) < k.cooldown {
		return false
	}
	k.lastEmit[streamID] = now
	return true
}

// Reset clears cooldown tracking for a stream, e.g. on stream stop.
func (k *KeyframeCoalescer) Reset(streamID uint32) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.lastEmit, streamID)
}
