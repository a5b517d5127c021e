// Package assembler implements the client-side per-stream jitter buffer
// (spec §4.5): fragment arrival tracking, FEC-based reconstruction of one
// missing data fragment per block, emergency-trim-by-deadline, and
// strictly-increasing-frame-number emission to the decoder. It
// generalizes the teacher's RTP reassembly in
// moonlight-common-go/video.Stream (FrameAssembly keyed by frame number,
// held in a map, retired on completion or supersession) to this spec's
// fragment+FEC+epoch model.
package assembler

import (
	"sync"
	"time"

	"github.com/miragestream/core/fec"
	"github.com/miragestream/core/policy"
	"github.com/miragestream/core/wire"
)

// Frame is a fully reassembled (or FEC-repaired) frame ready for
// decoding.
type Frame struct {
	StreamID       uint32
	FrameNumber    uint32
	Epoch          uint16
	DimensionToken uint16
	Rect           wire.ContentRect
	TimestampNs    uint64
	Data           []byte
}

// Logger is the minimal structured-logging surface the assembler needs.
type Logger interface {
	Debugf(format string, args ...any)
	Warnf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Warnf(string, ...any)  {}

// Assembler reassembles one stream's fragments into frames.
type Assembler struct {
	maxPayload int
	onEmit     func(Frame)
	onRequestKeyframe func()
	log        Logger

	mu          sync.Mutex
	active      bool
	newestEpoch uint16
	slots       map[uint32]*frameSlot
	lastEmitted uint32
	hasEmitted  bool

	smoothedInterval time.Duration
	lastArrival      time.Time
}

type frameSlot struct {
	streamID       uint32
	frameNumber    uint32
	epoch          uint16
	dimensionToken uint16
	rect           wire.ContentRect
	timestampNs    uint64
	frameByteCount uint32

	dataFragmentCount   int
	parityFragmentCount int
	blockSize           int

	data          [][]byte
	dataPresent   []bool
	receivedData  int
	parity        [][]byte
	parityPresent []bool

	endOfFrameSeen bool
	createdAt      time.Time
	timer          *time.Timer
}

// New constructs an Assembler. maxPayload must match the value both
// host and client negotiated (it determines dataFragmentCount from
// frameByteCount per the wire invariant in spec §3).
func New(maxPayload int, onEmit func(Frame), onRequestKeyframe func(), log Logger) *Assembler {
	if log == nil {
		log = nopLogger{}
	}
	return &Assembler{
		maxPayload:        maxPayload,
		onEmit:            onEmit,
		onRequestKeyframe: onRequestKeyframe,
		log:               log,
		slots:             make(map[uint32]*frameSlot),
		smoothedInterval:  policy.AssemblerMinDeadline,
	}
}

// SetActive enables or disables ingestion; frames arriving while
// inactive are dropped (spec §4.5 step 1).
func (a *Assembler) SetActive(active bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active = active
	if !active {
		a.purgeAllLocked()
	}
}

// Ingest processes one already-decrypted, CRC-verified fragment. The
// receive loop owns decryption/CRC verification (spec §4.5 preamble);
// this only ever sees trusted plaintext payloads.
func (a *Assembler) Ingest(h wire.FrameHeader, payload []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.active {
		return
	}
	if h.Epoch < a.newestEpoch {
		return
	}
	if h.Epoch > a.newestEpoch {
		a.newestEpoch = h.Epoch
		a.purgeAllLocked() // epoch bump invalidates all in-flight state
		a.hasEmitted = false
	}

	if h.FragmentIndex >= h.FragmentCount {
		a.log.Warnf("assembler: fragment index %d >= count %d, dropping", h.FragmentIndex, h.FragmentCount)
		return
	}
	if a.hasEmitted && h.FrameNumber <= a.lastEmitted {
		return // stale/duplicate relative to what was already delivered
	}

	slot := a.slots[h.FrameNumber]
	if slot == nil {
		slot = a.newSlotLocked(h)
		a.slots[h.FrameNumber] = slot
	}

	now := time.Now()
	a.updateSmoothedIntervalLocked(now)

	a.storeFragmentLocked(slot, h, payload)

	if slot.receivedData == slot.dataFragmentCount {
		a.completeLocked(slot)
		return
	}

	if h.Flags.Has(wire.FlagEndOfFrame) {
		slot.endOfFrameSeen = true
		a.tryReconstructLocked(slot)
		if slot.receivedData == slot.dataFragmentCount {
			a.completeLocked(slot)
			return
		}
	}

	// The slot is still incomplete after this fragment. Arm its deadline
	// regardless of whether FlagEndOfFrame has been seen yet, so a lost
	// end-of-frame fragment (data or parity) still bounds the slot's
	// lifetime instead of leaving it live with no timer.
	a.armDeadlineLocked(slot)
}

func (a *Assembler) newSlotLocked(h wire.FrameHeader) *frameSlot {
	dataCount := ceilDiv(int(h.FrameByteCount), a.maxPayload)
	if dataCount == 0 {
		dataCount = 1
	}
	parityCount := int(h.FragmentCount) - dataCount
	if parityCount < 0 {
		parityCount = 0
		dataCount = int(h.FragmentCount)
	}
	blockSize := 0
	if parityCount > 0 {
		blockSize = ceilDiv(dataCount, parityCount)
	}

	s := &frameSlot{
		streamID:            h.StreamID,
		frameNumber:          h.FrameNumber,
		epoch:                h.Epoch,
		dimensionToken:       h.DimensionToken,
		rect:                 h.Rect,
		timestampNs:          h.TimestampNs,
		frameByteCount:       h.FrameByteCount,
		dataFragmentCount:    dataCount,
		parityFragmentCount:  parityCount,
		blockSize:            blockSize,
		data:                 make([][]byte, dataCount),
		dataPresent:          make([]bool, dataCount),
		parity:               make([][]byte, maxInt(parityCount, 0)),
		parityPresent:        make([]bool, maxInt(parityCount, 0)),
		createdAt:            time.Now(),
	}
	return s
}

func (a *Assembler) storeFragmentLocked(slot *frameSlot, h wire.FrameHeader, payload []byte) {
	idx := int(h.FragmentIndex)
	if h.Flags.Has(wire.FlagFECParity) {
		parityIdx := idx - slot.dataFragmentCount
		if parityIdx < 0 || parityIdx >= len(slot.parity) || slot.parityPresent[parityIdx] {
			return
		}
		slot.parity[parityIdx] = append([]byte(nil), payload...)
		slot.parityPresent[parityIdx] = true
		return
	}
	if idx >= slot.dataFragmentCount || slot.dataPresent[idx] {
		return
	}
	slot.data[idx] = append([]byte(nil), payload...)
	slot.dataPresent[idx] = true
	slot.receivedData++
}

// tryReconstructLocked attempts, per FEC block, to recover exactly one
// missing data fragment via XOR of the block's other data fragments and
// its parity fragment (spec §4.5 step 4).
func (a *Assembler) tryReconstructLocked(slot *frameSlot) {
	if slot.blockSize == 0 {
		return
	}
	for blockStart := 0; blockStart < slot.dataFragmentCount; blockStart += slot.blockSize {
		blockEnd := blockStart + slot.blockSize
		if blockEnd > slot.dataFragmentCount {
			blockEnd = slot.dataFragmentCount
		}
		blockIdx := blockStart / slot.blockSize
		if blockIdx >= len(slot.parity) || !slot.parityPresent[blockIdx] {
			continue
		}

		missing := -1
		missingCount := 0
		for i := blockStart; i < blockEnd; i++ {
			if !slot.dataPresent[i] {
				missing = i
				missingCount++
			}
		}
		if missingCount != 1 {
			continue
		}

		blockData := make([][]byte, blockEnd-blockStart)
		present := make([]bool, blockEnd-blockStart)
		for i := blockStart; i < blockEnd; i++ {
			shard := slot.data[i]
			// The sender computes parity over zero-padded fragments, so a
			// short (final) fragment is padded back to parity length here.
			if slot.dataPresent[i] && len(shard) < len(slot.parity[blockIdx]) {
				padded := make([]byte, len(slot.parity[blockIdx]))
				copy(padded, shard)
				shard = padded
			}
			blockData[i-blockStart] = shard
			present[i-blockStart] = slot.dataPresent[i]
		}
		recovered, err := fec.Reconstruct(blockData, present, slot.parity[blockIdx], missing-blockStart)
		if err != nil || recovered == nil {
			continue
		}
		slot.data[missing] = recovered
		slot.dataPresent[missing] = true
		slot.receivedData++
	}
}

func (a *Assembler) completeLocked(slot *frameSlot) {
	if slot.timer != nil {
		slot.timer.Stop()
	}
	delete(a.slots, slot.frameNumber)

	full := make([]byte, 0, slot.frameByteCount)
	for _, d := range slot.data {
		full = append(full, d...)
	}
	if uint32(len(full)) > slot.frameByteCount {
		full = full[:slot.frameByteCount]
	}

	a.lastEmitted = slot.frameNumber
	a.hasEmitted = true
	a.purgeOlderThanLocked(slot.frameNumber)

	if a.onEmit != nil {
		a.onEmit(Frame{
			StreamID:       slot.streamID,
			FrameNumber:    slot.frameNumber,
			Epoch:          slot.epoch,
			DimensionToken: slot.dimensionToken,
			Rect:           slot.rect,
			TimestampNs:    slot.timestampNs,
			Data:           full,
		})
	}
}

func (a *Assembler) armDeadlineLocked(slot *frameSlot) {
	if slot.timer != nil {
		return
	}
	deadline := a.smoothedInterval * time.Duration(policy.AssemblerDeadlineFactor*100) / 100
	if deadline < policy.AssemblerMinDeadline {
		deadline = policy.AssemblerMinDeadline
	}
	slot.timer = time.AfterFunc(deadline, func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if cur, ok := a.slots[slot.frameNumber]; !ok || cur != slot {
			return // already completed/purged
		}
		delete(a.slots, slot.frameNumber)
		a.log.Warnf("assembler: dropping incomplete frame %d after deadline", slot.frameNumber)
		if a.onRequestKeyframe != nil {
			a.onRequestKeyframe()
		}
	})
}

func (a *Assembler) updateSmoothedIntervalLocked(now time.Time) {
	if !a.lastArrival.IsZero() {
		delta := now.Sub(a.lastArrival)
		if delta > 0 {
			const factor = 0.2
			a.smoothedInterval = time.Duration(float64(a.smoothedInterval)*(1-factor) + float64(delta)*factor)
		}
	}
	a.lastArrival = now
}

func (a *Assembler) purgeOlderThanLocked(frameNumber uint32) {
	for fn, slot := range a.slots {
		if fn < frameNumber {
			if slot.timer != nil {
				slot.timer.Stop()
			}
			delete(a.slots, fn)
		}
	}
}

func (a *Assembler) purgeAllLocked() {
	for fn, slot := range a.slots {
		if slot.timer != nil {
			slot.timer.Stop()
		}
		delete(a.slots, fn)
	}
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
