package controlchan

import (
	"testing"
	"time"

	"github.com/miragestream/core/policy"
)

func TestResizeConvergesWithinTolerance(t *testing.T) {
	var sent []Size
	blocked, unblocked := 0, 0
	r := NewResizeCoordinator(
		func(s Size) { sent = append(sent, s) },
		func() { blocked++ },
		func() { unblocked++ },
		nil,
	)

	r.RequestResize(Size{960, 540})
	if blocked != 1 {
		t.Fatalf("expected input blocked once, got %d", blocked)
	}
	r.OnAck(Size{960, 540})

	if unblocked != 1 {
		t.Fatalf("expected input unblocked on convergence, got %d", unblocked)
	}
	if r.InputBlocked() {
		t.Fatalf("expected input unblocked")
	}
	if len(sent) != 1 {
		t.Fatalf("expected exactly one resize request sent, got %d", len(sent))
	}
}

func TestResizeOneCorrectionThenTimeoutUnblocks(t *testing.T) {
	var sent []Size
	unblocked := make(chan struct{}, 1)
	r := NewResizeCoordinator(
		func(s Size) { sent = append(sent, s) },
		func() {},
		func() { unblocked <- struct{}{} },
		nil,
	)

	r.RequestResize(Size{960, 540})
	r.OnAck(Size{900, 540}) // clearly outside tolerance
	r.OnAck(Size{901, 540}) // second out-of-tolerance ack must not send a second correction

	if len(sent) != 2 {
		t.Fatalf("expected exactly one correction (2 sends total), got %d: %+v", len(sent), sent)
	}

	select {
	case <-unblocked:
		t.Fatalf("should not unblock before timeout")
	case <-time.After(50 * time.Millisecond):
	}

	select {
	case <-unblocked:
	case <-time.After(policy.ResizeAckTimeout + time.Second):
		t.Fatalf("expected input unblocked once the ack timeout elapsed")
	}
}

func TestResizeSameTargetAsAckedIsNoOp(t *testing.T) {
	sends := 0
	blocks := 0
	r := NewResizeCoordinator(
		func(Size) { sends++ },
		func() { blocks++ },
		func() {},
		nil,
	)

	r.RequestResize(Size{960, 540})
	r.OnAck(Size{960, 540})

	sends, blocks = 0, 0
	r.RequestResize(Size{960, 540}) // same as already-acknowledged size
	if sends != 0 || blocks != 0 {
		t.Fatalf("expected no-op resize request, got sends=%d blocks=%d", sends, blocks)
	}
	if r.InputBlocked() {
		t.Fatalf("expected input to remain unblocked")
	}
}

func TestResizeToleranceBoundaryConverges(t *testing.T) {
	unblocked := 0
	r := NewResizeCoordinator(func(Size) {}, func() {}, func() { unblocked++ }, nil)
	r.RequestResize(Size{960, 540})
	r.OnAck(Size{964, 544}) // exactly at the +4 tolerance boundary on both axes

	if unblocked != 1 {
		t.Fatalf("expected convergence at the tolerance boundary")
	}
}
