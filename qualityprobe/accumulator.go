package qualityprobe

import (
	"sync"

	"github.com/google/uuid"
)

// stageAccum tracks one stage's in-progress measurement.
type stageAccum struct {
	bytesReceived uint64
	packets       uint64
	maxSeqSeen    uint32
	sawAny        bool
}

// Accumulator is the client-side receiver for an armed test plan. Only
// packets whose testID matches the currently armed plan are counted
// (spec §3 "QualityTestPlan" invariant).
type Accumulator struct {
	mu     sync.Mutex
	testID uuid.UUID
	plan   Plan
	armed  bool
	stages map[uint32]*stageAccum
}

// NewAccumulator returns an unarmed accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{stages: make(map[uint32]*stageAccum)}
}

// Arm keys the accumulator to a new plan, discarding any prior stage
// measurements.
func (a *Accumulator) Arm(plan Plan) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.testID = plan.TestID
	a.plan = plan
	a.armed = true
	a.stages = make(map[uint32]*stageAccum)
}

// Disarm drops the current test, ignoring any further packets until
// the next Arm.
func (a *Accumulator) Disarm() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.armed = false
}

// RecordPacket ingests one received probe packet's header. Packets for
// a testID other than the currently armed one are silently dropped.
func (a *Accumulator) RecordPacket(testID uuid.UUID, stageID, sequenceNum uint32, payloadLen int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.armed || testID != a.testID {
		return
	}
	acc, ok := a.stages[stageID]
	if !ok {
		acc = &stageAccum{}
		a.stages[stageID] = acc
	}
	acc.bytesReceived += uint64(payloadLen)
	acc.packets++
	if !acc.sawAny || sequenceNum > acc.maxSeqSeen {
		acc.maxSeqSeen = sequenceNum
	}
	acc.sawAny = true
}

// FinishStage computes the final throughput/loss/stability verdict for
// a completed stage and clears its accumulator state.
func (a *Accumulator) FinishStage(stage Stage) StageResult {
	a.mu.Lock()
	acc, ok := a.stages[stage.ID]
	delete(a.stages, stage.ID)
	a.mu.Unlock()

	if !ok || !acc.sawAny {
		return StageResult{StageID: stage.ID, ThroughputBps: 0, LossPercent: 100}
	}

	durationSec := float64(stage.DurationMs) / 1000
	var throughputBps float64
	if durationSec > 0 {
		throughputBps = float64(acc.bytesReceived*8) / durationSec
	}

	expected := uint64(acc.maxSeqSeen) + 1
	var lossPercent float64
	if expected > acc.packets {
		lossPercent = float64(expected-acc.packets) / float64(expected) * 100
	}

	result := StageResult{
		StageID:       stage.ID,
		ThroughputBps: throughputBps,
		LossPercent:   lossPercent,
	}
	result.Stable = IsStable(result, stage.TargetBitrateBps, stage.PayloadBytes)
	return result
}

// ArmedTestID reports the currently armed test, if any.
func (a *Accumulator) ArmedTestID() (uuid.UUID, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.testID, a.armed
}
