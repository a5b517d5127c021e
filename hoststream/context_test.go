package hoststream

import (
	"testing"
	"time"

	"github.com/miragestream/core/policy"
)

func TestIntervalDerivedFromFrameRate(t *testing.T) {
	c := New(Config{TargetFrameRate: 60, KeyFrameIntervalFrames: 300})
	got := c.intervalLocked()
	if got != 5*time.Second {
		t.Fatalf("interval = %v, want 5s", got)
	}
}

func TestIntervalFloorsAtOneSecond(t *testing.T) {
	c := New(Config{TargetFrameRate: 60, KeyFrameIntervalFrames: 10})
	got := c.intervalLocked()
	if got != time.Second {
		t.Fatalf("interval = %v, want floor of 1s", got)
	}
}

func TestShouldScheduleKeyframeRespectsCadence(t *testing.T) {
	c := New(Config{TargetFrameRate: 60, KeyFrameIntervalFrames: 60}) // interval = 1s
	now := time.Now()
	c.lastKeyframeTime = now.Add(-500 * time.Millisecond)
	if c.ShouldScheduleKeyframe(now) {
		t.Fatalf("expected no scheduled keyframe before interval elapses")
	}

	c.lastKeyframeTime = now.Add(-2 * time.Second)
	if !c.ShouldScheduleKeyframe(now) {
		t.Fatalf("expected scheduled keyframe once interval elapses")
	}
}

func TestShouldScheduleKeyframeSuppressedByHighMotionUntilMaxInterval(t *testing.T) {
	c := New(Config{TargetFrameRate: 60, KeyFrameIntervalFrames: 60}) // interval=1s, maxInterval=2s
	now := time.Now()
	c.smoothedDirtyPct = policy.MotionThresholdPercent + 1

	c.lastKeyframeTime = now.Add(-1500 * time.Millisecond)
	if c.ShouldScheduleKeyframe(now) {
		t.Fatalf("expected high motion to suppress scheduling before maxInterval")
	}

	c.lastKeyframeTime = now.Add(-3 * time.Second)
	if !c.ShouldScheduleKeyframe(now) {
		t.Fatalf("expected scheduling once maxInterval elapses regardless of motion")
	}
}

func TestShouldScheduleKeyframeSuppressedByBackedUpQueueUntilMaxInterval(t *testing.T) {
	c := New(Config{TargetFrameRate: 60, KeyFrameIntervalFrames: 60}) // interval=1s, maxInterval=2s
	now := time.Now()
	c.OnQueuedBytes(policy.QueueBackedUpBytesThreshold)

	c.lastKeyframeTime = now.Add(-1500 * time.Millisecond)
	if c.ShouldScheduleKeyframe(now) {
		t.Fatalf("expected backed up queue to suppress scheduling before maxInterval")
	}

	c.lastKeyframeTime = now.Add(-3 * time.Second)
	if !c.ShouldScheduleKeyframe(now) {
		t.Fatalf("expected scheduling once maxInterval elapses regardless of queue depth")
	}
}

func TestShouldScheduleKeyframeSuppressedDuringResizeOrRecoveryOnly(t *testing.T) {
	c := New(Config{TargetFrameRate: 60, KeyFrameIntervalFrames: 60})
	now := time.Now()
	c.lastKeyframeTime = now.Add(-10 * time.Second)

	c.SetMidResize(true)
	if c.ShouldScheduleKeyframe(now) {
		t.Fatalf("expected suppression mid-resize")
	}
	c.SetMidResize(false)

	c.SetRecoveryOnlyMode(true)
	if c.ShouldScheduleKeyframe(now) {
		t.Fatalf("expected suppression in recovery-only mode")
	}
}

func TestRequestKeyframeSoftThenHardEscalation(t *testing.T) {
	c := New(Config{TargetFrameRate: 60, KeyFrameIntervalFrames: 300})
	now := time.Now()

	for i := 0; i < policy.HardRecoveryThreshold-1; i++ {
		reason := c.RequestKeyframe(now, time.Second)
		if reason != ReasonSoftRecovery {
			t.Fatalf("request %d: got %v, want soft recovery", i, reason)
		}
	}
	if c.Epoch() != 0 {
		t.Fatalf("epoch should not advance on soft recovery, got %d", c.Epoch())
	}

	reason := c.RequestKeyframe(now, time.Second)
	if reason != ReasonHardRecovery {
		t.Fatalf("final request: got %v, want hard recovery", reason)
	}
	if c.Epoch() != 1 {
		t.Fatalf("expected epoch advanced to 1 on hard recovery, got %d", c.Epoch())
	}
	pending := c.PendingKeyframe()
	if !pending.Urgent || !pending.RequiresFlush || !pending.RequiresReset {
		t.Fatalf("hard recovery pending state incomplete: %+v", pending)
	}
}

func TestRequestKeyframeWindowExpires(t *testing.T) {
	c := New(Config{TargetFrameRate: 60, KeyFrameIntervalFrames: 300})
	base := time.Now()

	c.RequestKeyframe(base, time.Second)
	c.RequestKeyframe(base, time.Second)

	// Third request arrives after the soft-recovery window has expired;
	// the earlier two must not count toward hard escalation.
	later := base.Add(policy.SoftRecoveryWindow + time.Second)
	reason := c.RequestKeyframe(later, time.Second)
	if reason != ReasonSoftRecovery {
		t.Fatalf("expected soft recovery after window reset, got %v", reason)
	}
}

func TestGateUrgentBypassesEverything(t *testing.T) {
	c := New(Config{TargetFrameRate: 60, KeyFrameIntervalFrames: 300})
	now := time.Now()
	c.RequestKeyframe(now, time.Minute) // soft, urgent=true
	if !c.Gate(now, 1<<30, 1<<30) {
		t.Fatalf("expected urgent pending keyframe to bypass the gate")
	}
}

func TestGateSettlesBelowThreshold(t *testing.T) {
	c := New(Config{TargetFrameRate: 60, KeyFrameIntervalFrames: 300})
	now := time.Now()
	c.ScheduleKeyframe(now, time.Hour) // far deadline, not urgent
	if c.Gate(now, 1_000_000, 2_000_000) {
		t.Fatalf("expected gate closed while queued bytes exceed settle threshold")
	}
	if !c.Gate(now, 10, 2_000_000) {
		t.Fatalf("expected gate open once queued bytes settle below threshold")
	}
}

func TestGateOpensOnDeadlineElapsed(t *testing.T) {
	c := New(Config{TargetFrameRate: 60, KeyFrameIntervalFrames: 300})
	now := time.Now()
	c.ScheduleKeyframe(now.Add(-time.Second), time.Millisecond) // deadline already in the past
	if !c.Gate(now, 1_000_000, 2_000_000) {
		t.Fatalf("expected gate open once deadline elapses regardless of queue pressure")
	}
}

func TestResolveFECBlockSize(t *testing.T) {
	c := New(Config{TargetFrameRate: 60, KeyFrameIntervalFrames: 300})
	now := time.Now()

	if got := c.ResolveFECBlockSize(now, true); got != 0 {
		t.Fatalf("outside loss mode, keyframe block size = %d, want 0", got)
	}

	c.RequestKeyframe(now, time.Second) // not yet hard, loss mode inactive
	c.RequestKeyframe(now, time.Second)
	c.RequestKeyframe(now, time.Second) // hard recovery triggers loss mode

	if got := c.ResolveFECBlockSize(now, true); got != policy.FECBlockSizeKeyframe {
		t.Fatalf("keyframe block size in loss mode = %d, want %d", got, policy.FECBlockSizeKeyframe)
	}
	if got := c.ResolveFECBlockSize(now, false); got != policy.FECBlockSizePFrame {
		t.Fatalf("p-frame block size in loss mode = %d, want %d", got, policy.FECBlockSizePFrame)
	}

	after := now.Add(policy.LossModeHoldSeconds + time.Second)
	if got := c.ResolveFECBlockSize(after, false); got != 0 {
		t.Fatalf("p-frame block size after loss mode expires = %d, want 0", got)
	}
}

func TestOnKeyframeEmittedClearsPendingState(t *testing.T) {
	c := New(Config{TargetFrameRate: 60, KeyFrameIntervalFrames: 300})
	now := time.Now()
	c.ScheduleKeyframe(now, time.Second)
	c.OnKeyframeEmitted(now)

	pending := c.PendingKeyframe()
	if pending.Reason != ReasonNone {
		t.Fatalf("expected pending reason cleared, got %v", pending.Reason)
	}
}
