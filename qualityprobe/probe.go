// Package qualityprobe implements the host-driven staged bandwidth sweep
// used to characterize a link before full streaming begins (spec
// §4.11). It reuses the packet sender's pacing.Pacer for the host-side
// emitter — the probe's "emit paced UDP packets at a target bitrate"
// requirement is the exact same token-bucket shaping the sender package
// already provides for media fragments.
package qualityprobe

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/miragestream/core/pacing"
	"github.com/miragestream/core/policy"
	"github.com/miragestream/core/wire"
)

// Stage is one step of a host-driven bitrate ladder.
type Stage struct {
	ID               uint32
	TargetBitrateBps int64
	DurationMs       int
	PayloadBytes     int
}

// Plan is an ordered list of stages sharing one testID (spec
// "QualityTestPlan").
type Plan struct {
	TestID uuid.UUID
	Stages []Stage
}

// StageResult is the client's measurement for one completed stage.
type StageResult struct {
	StageID       uint32
	ThroughputBps float64
	LossPercent   float64
	Stable        bool
}

// TargetPayloadBps computes the achievable payload-only bitrate given
// per-packet header overhead (spec §4.11 point 4).
func TargetPayloadBps(targetBitrateBps int64, payloadBytes int) float64 {
	total := payloadBytes + wire.QualityTestHeaderSize
	if total <= 0 {
		return 0
	}
	return float64(targetBitrateBps) * float64(payloadBytes) / float64(total)
}

// IsStable applies the stage-stability rule (spec §4.11 point 4).
func IsStable(result StageResult, targetBitrateBps int64, payloadBytes int) bool {
	targetPayloadBps := TargetPayloadBps(targetBitrateBps, payloadBytes)
	return result.ThroughputBps >= targetPayloadBps*policy.ThroughputFloor &&
		result.LossPercent <= policy.LossCeiling*100
}

// Sender is the host side of one armed stage: it paces probe packets at
// the stage's target bitrate for its duration.
type Sender struct {
	send func(payload []byte) error
}

// NewSender wraps a raw UDP write function.
func NewSender(send func(payload []byte) error) *Sender {
	return &Sender{send: send}
}

// RunStage emits paced probe packets for one stage and returns the
// number of packets actually sent (for host-side bookkeeping only —
// the authoritative throughput/loss measurement is client-side).
func (s *Sender) RunStage(ctx context.Context, testID uuid.UUID, stage Stage, nowNs func() uint64) (int, error) {
	pacer := pacing.New(stage.TargetBitrateBps, stage.PayloadBytes+wire.QualityTestHeaderSize)
	deadline := time.Now().Add(time.Duration(stage.DurationMs) * time.Millisecond)

	var seq uint32
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return int(seq), err
		}
		hdr := wire.QualityTestPacketHeader{
			Magic:         wire.MagicQualityTest,
			TestID:        testID,
			StageID:       stage.ID,
			SequenceNum:   seq,
			PayloadLength: uint32(stage.PayloadBytes),
			SentAtNs:      nowNs(),
		}
		packet := append(hdr.Marshal(), make([]byte, stage.PayloadBytes)...)
		if err := pacer.Wait(ctx, len(packet)); err != nil {
			return int(seq), err
		}
		if err := s.send(packet); err != nil {
			return int(seq), err
		}
		seq++
	}
	return int(seq), nil
}
