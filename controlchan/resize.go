package controlchan

import (
	"sync"
	"time"

	"github.com/miragestream/core/policy"
)

// Size is a client-view resolution in points.
type Size struct {
	W, H int
}

func absDiff(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}

func withinTolerance(a, b Size, delta int) bool {
	return absDiff(a.W, b.W) <= delta && absDiff(a.H, b.H) <= delta
}

// ResizeCoordinator implements the resize-ack protocol (spec §4.8): the
// client sends displayResolutionChange and blocks input, waits for an
// ack within policy.ResizeAckTimeout; if the ack doesn't converge to
// within policy.ResizeAckToleranceDelta points, it issues exactly one
// correction before continuing to wait for the original timeout; on
// timeout it unblocks input regardless of convergence.
type ResizeCoordinator struct {
	mu sync.Mutex

	pending        bool
	correctionSent bool
	target         Size
	acked          Size
	hasAcked       bool
	inputBlocked   bool
	timer          *time.Timer

	onSend         func(Size)
	onBlockInput   func()
	onUnblockInput func()
	log            Logger
}

// NewResizeCoordinator constructs a coordinator; the callbacks perform
// the actual control-message send and input-blocking side effects.
func NewResizeCoordinator(onSend func(Size), onBlockInput, onUnblockInput func(), log Logger) *ResizeCoordinator {
	if log == nil {
		log = nopLogger{}
	}
	return &ResizeCoordinator{
		onSend:         onSend,
		onBlockInput:   onBlockInput,
		onUnblockInput: onUnblockInput,
		log:            log,
	}
}

// RequestResize sends a displayResolutionChange for target and blocks
// input, unless target already matches the last acknowledged size (spec
// §8 "Sending displayResolutionChange with the same target size as the
// acknowledged size is a no-op and leaves input unblocked").
func (r *ResizeCoordinator) RequestResize(target Size) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.hasAcked && r.acked == target {
		return
	}

	r.target = target
	r.pending = true
	r.correctionSent = false
	if !r.inputBlocked {
		r.inputBlocked = true
		if r.onBlockInput != nil {
			r.onBlockInput()
		}
	}
	if r.onSend != nil {
		r.onSend(target)
	}
	r.armTimeoutLocked()
}

func (r *ResizeCoordinator) armTimeoutLocked() {
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(policy.ResizeAckTimeout, r.onTimeout)
}

func (r *ResizeCoordinator) onTimeout() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.pending {
		return
	}
	r.pending = false
	r.unblockLocked()
}

func (r *ResizeCoordinator) unblockLocked() {
	if r.inputBlocked {
		r.inputBlocked = false
		if r.onUnblockInput != nil {
			r.onUnblockInput()
		}
	}
}

// OnAck processes an acknowledged size from the host's
// streamStarted-style minSize update.
func (r *ResizeCoordinator) OnAck(acked Size) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.pending {
		r.acked = acked
		r.hasAcked = true
		return
	}

	if withinTolerance(acked, r.target, policy.ResizeAckToleranceDelta) {
		r.acked = r.target
		r.hasAcked = true
		r.pending = false
		if r.timer != nil {
			r.timer.Stop()
		}
		r.unblockLocked()
		return
	}

	if !r.correctionSent {
		r.correctionSent = true
		r.log.Debugf("controlchan: resize ack %+v outside tolerance of target %+v, issuing correction", acked, r.target)
		if r.onSend != nil {
			r.onSend(r.target)
		}
	}
	// Otherwise: one correction already sent, keep waiting for the
	// original timeout rather than retrying indefinitely.
}

// InputBlocked reports whether input is currently blocked for this
// stream's resize.
func (r *ResizeCoordinator) InputBlocked() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inputBlocked
}
