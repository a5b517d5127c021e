// Package hoststream implements the host-side per-stream keyframe
// cadence, motion smoothing, and loss-mode escalation policy (spec
// §4.4). It generalizes the teacher's encoder-feedback bookkeeping in
// moonlight-common-go/video.Stream (which tracks a simpler "request
// IDR on loss" counter) into the spec's fuller keyframe-cadence,
// pending-keyframe gate, and epoch/loss-mode state machine.
package hoststream

import (
	"sync"
	"time"

	"github.com/miragestream/core/policy"
)

// KeyframeReason names why a keyframe is currently pending.
type KeyframeReason int

const (
	ReasonNone KeyframeReason = iota
	ReasonScheduled
	ReasonSoftRecovery
	ReasonHardRecovery
)

// PendingKeyframe is the gate state for an outstanding keyframe
// decision (spec §3 "pending-keyframe state").
type PendingKeyframe struct {
	Reason        KeyframeReason
	Deadline      time.Time
	Urgent        bool
	RequiresFlush bool
	RequiresReset bool
}

// LossMode tracks the general and P-frame-FEC escalation windows (spec
// §4.4 "loss mode").
type LossMode struct {
	Active            bool
	Deadline          time.Time
	PFrameFECActive   bool
	PFrameFECDeadline time.Time
}

// Logger is the minimal structured-logging surface this package needs.
type Logger interface {
	Debugf(format string, args ...any)
	Warnf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Warnf(string, ...any)  {}

// Config seeds a StreamContext's encoder-cadence parameters.
type Config struct {
	TargetFrameRate        float64
	KeyFrameIntervalFrames int
	DimensionToken         uint16
	Log                    Logger
}

// Context is one host stream's keyframe/loss-mode policy state.
type Context struct {
	mu sync.Mutex

	frameRate              float64
	keyFrameIntervalFrames int
	dimensionToken         uint16
	epoch                  uint16

	pending          PendingKeyframe
	smoothedDirtyPct float64
	queuedBytes      int
	loss             LossMode

	lastKeyframeTime        time.Time
	lastKeyframeRequestTime time.Time
	recoveryRequestTimes    []time.Time

	recoveryOnlyMode bool
	midResize        bool

	log Logger
}

// New constructs a Context from cfg.
func New(cfg Config) *Context {
	log := cfg.Log
	if log == nil {
		log = nopLogger{}
	}
	rate := cfg.TargetFrameRate
	if rate <= 0 {
		rate = 60
	}
	interval := cfg.KeyFrameIntervalFrames
	if interval <= 0 {
		interval = 300
	}
	return &Context{
		frameRate:              rate,
		keyFrameIntervalFrames: interval,
		dimensionToken:         cfg.DimensionToken,
		log:                    log,
	}
}

// SetFrameRate updates the frame rate used for cadence math.
func (c *Context) SetFrameRate(rate float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rate > 0 {
		c.frameRate = rate
	}
}

// SetRecoveryOnlyMode toggles whether scheduled (non-recovery)
// keyframes are currently suppressed.
func (c *Context) SetRecoveryOnlyMode(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recoveryOnlyMode = v
}

// SetMidResize toggles whether a resize is in flight, which suppresses
// scheduled keyframes (spec §4.4 "not mid-resize").
func (c *Context) SetMidResize(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.midResize = v
}

// OnDirtyArea folds a new per-frame dirty-area percentage into the
// smoothed motion estimate via an exponential moving average.
func (c *Context) OnDirtyArea(pct float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.smoothedDirtyPct = c.smoothedDirtyPct*(1-policy.MotionSmoothingFactor) + pct*policy.MotionSmoothingFactor
}

// OnQueuedBytes records the sender's current outgoing queue depth, used
// by ShouldScheduleKeyframe to hold off cadence keyframes while the
// queue is already backed up.
func (c *Context) OnQueuedBytes(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queuedBytes = n
}

func (c *Context) intervalLocked() time.Duration {
	perFrame := time.Duration(float64(c.keyFrameIntervalFrames) / c.frameRate * float64(time.Second))
	if perFrame < time.Second {
		return time.Second
	}
	return perFrame
}

func (c *Context) maxIntervalLocked() time.Duration {
	interval := c.intervalLocked()
	doubled := interval * 2
	plusOne := interval + time.Second
	if doubled > plusOne {
		return doubled
	}
	return plusOne
}

// ShouldScheduleKeyframe evaluates the cadence rule (spec §4.4
// "Scheduled keyframes are queued only when all hold: ...").
func (c *Context) ShouldScheduleKeyframe(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.recoveryOnlyMode || c.midResize || c.pending.Reason != ReasonNone {
		return false
	}
	elapsed := now.Sub(c.lastKeyframeTime)
	interval := c.intervalLocked()
	if elapsed < interval {
		return false
	}
	maxInterval := c.maxIntervalLocked()
	if elapsed >= maxInterval {
		return true
	}
	highMotion := c.smoothedDirtyPct >= policy.MotionThresholdPercent
	queueBackedUp := c.queuedBytes >= policy.QueueBackedUpBytesThreshold
	return !highMotion && !queueBackedUp
}

// ScheduleKeyframe arms the pending-keyframe gate for a cadence-driven
// keyframe (not urgent, no flush/reset required).
func (c *Context) ScheduleKeyframe(now time.Time, deadline time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = PendingKeyframe{Reason: ReasonScheduled, Deadline: now.Add(deadline)}
}

// RequestKeyframe handles a client-initiated recovery request (spec
// §4.4 "Recovery"). It returns the resulting reason (soft or hard) so
// the caller can drive the encoder accordingly.
func (c *Context) RequestKeyframe(now time.Time, deadline time.Duration) KeyframeReason {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastKeyframeRequestTime = now
	c.recoveryRequestTimes = append(c.recoveryRequestTimes, now)
	c.pruneRecoveryWindowLocked(now)

	if len(c.recoveryRequestTimes) >= policy.HardRecoveryThreshold {
		c.recoveryRequestTimes = nil
		c.epoch++
		c.loss.Active = true
		c.loss.Deadline = now.Add(policy.LossModeHoldSeconds)
		c.loss.PFrameFECActive = true
		c.loss.PFrameFECDeadline = c.loss.Deadline
		c.pending = PendingKeyframe{
			Reason:        ReasonHardRecovery,
			Deadline:      now.Add(deadline),
			Urgent:        true,
			RequiresFlush: true,
			RequiresReset: true,
		}
		c.log.Warnf("hoststream: hard recovery, epoch advanced to %d", c.epoch)
		return ReasonHardRecovery
	}

	c.pending = PendingKeyframe{
		Reason:   ReasonSoftRecovery,
		Deadline: now.Add(deadline),
		Urgent:   true,
	}
	return ReasonSoftRecovery
}

func (c *Context) pruneRecoveryWindowLocked(now time.Time) {
	cutoff := now.Add(-policy.SoftRecoveryWindow)
	kept := c.recoveryRequestTimes[:0]
	for _, t := range c.recoveryRequestTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	c.recoveryRequestTimes = kept
}

// Gate evaluates the pending-keyframe gate (spec §4.4 "Pending-keyframe
// gate"): whether a currently pending keyframe may emit now, given the
// encoder's queued bytes and the queue-pressure baseline used to derive
// the settle threshold.
func (c *Context) Gate(now time.Time, queuedBytes int, queuePressureBytes int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending.Reason == ReasonNone {
		return false
	}
	if c.pending.Urgent {
		return true
	}
	if !now.Before(c.pending.Deadline) {
		return true
	}
	settleThreshold := float64(queuePressureBytes) * policy.KeyframeQueueSettleFac
	if settleThreshold < policy.MinQueuedBytesSettle {
		settleThreshold = policy.MinQueuedBytesSettle
	}
	lowMotion := c.smoothedDirtyPct < policy.MotionThresholdPercent
	return float64(queuedBytes) < settleThreshold && lowMotion
}

// PendingKeyframe reports a copy of the current pending-keyframe state.
func (c *Context) PendingKeyframe() PendingKeyframe {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// OnKeyframeEmitted clears the pending gate and records timing.
func (c *Context) OnKeyframeEmitted(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = PendingKeyframe{}
	c.lastKeyframeTime = now
}

// ResolveFECBlockSize implements spec §4.4 "Loss mode" resolution: 0
// outside loss mode; 8 for keyframes in loss mode; 16 for P-frames in
// loss mode iff P-frame FEC is active, else 0.
func (c *Context) ResolveFECBlockSize(now time.Time, isKeyframe bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLossModeLocked(now)

	if !c.loss.Active {
		return 0
	}
	if isKeyframe {
		return policy.FECBlockSizeKeyframe
	}
	if c.loss.PFrameFECActive {
		return policy.FECBlockSizePFrame
	}
	return 0
}

func (c *Context) expireLossModeLocked(now time.Time) {
	if c.loss.Active && !now.Before(c.loss.Deadline) {
		c.loss.Active = false
	}
	if c.loss.PFrameFECActive && !now.Before(c.loss.PFrameFECDeadline) {
		c.loss.PFrameFECActive = false
	}
}

// AdvanceEpoch bumps the 16-bit epoch, invalidating in-flight frames
// after a hard reset (spec §4.4 "Epoch").
func (c *Context) AdvanceEpoch() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	return c.epoch
}

// Epoch returns the current epoch.
func (c *Context) Epoch() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// DimensionToken returns the current dimension token.
func (c *Context) DimensionToken() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dimensionToken
}

// SetDimensionToken updates the dimension token, e.g. after a resize.
func (c *Context) SetDimensionToken(v uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dimensionToken = v
}
