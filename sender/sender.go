// Package sender implements the per-stream packet sender actor (spec
// §4.3): a serial worker that fragments encoder output, attaches XOR
// parity, paces egress, and drops stale work on generation bumps or
// keyframe supersession. The actor/FIFO-worker shape is the teacher's
// own model for stream I/O (moonlight-common-go/video.Stream runs its
// receive/decode loops as dedicated goroutines fed by channels); this is
// that same idiom applied to the host's transmit side.
package sender

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/miragestream/core/fec"
	"github.com/miragestream/core/pacing"
	"github.com/miragestream/core/policy"
	"github.com/miragestream/core/security"
	"github.com/miragestream/core/wire"
)

// DatagramSender is the minimum UDP-socket capability the sender needs;
// the concrete *net.UDPConn lives outside this package.
type DatagramSender interface {
	SendDatagram(b []byte) error
}

// KeyframeCallbacks notify the stream context when a keyframe starts and
// finishes emitting (spec §4.3 step 5).
type KeyframeCallbacks struct {
	OnSendStart    func()
	OnSendComplete func()
}

// WorkItem is one encoder output handed to the sender (spec §4.3).
type WorkItem struct {
	EncodedData       []byte
	IsKeyframe        bool
	ContentRect       wire.ContentRect
	StreamID          uint32
	FrameNumber       uint32
	DimensionToken    uint16
	Epoch             uint16
	FECBlockSize      int // 0 disables FEC for this frame
	Generation        uint32
	TimestampNs       uint64
	Discontinuity     bool
	Callbacks         KeyframeCallbacks
}

// Sender is the per-stream serial worker. Construct one per active
// stream; it owns its own goroutine and FIFO.
type Sender struct {
	out        DatagramSender
	pacer      *pacing.Pacer
	maxPayload int
	security   *security.Context // nil disables encryption

	queue chan WorkItem

	generation   atomic.Uint32
	dropNonKeys  atomic.Bool
	highestKeyFN atomic.Uint32

	seqMu sync.Mutex
	seq   uint32

	log Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// Logger is the minimal structured-logging surface the sender needs;
// satisfied by a bound logging.Logger at call sites.
type Logger interface {
	Debugf(format string, args ...any)
	Warnf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Warnf(string, ...any)  {}

// New starts a Sender's worker goroutine. maxPayload bounds a single
// fragment's data bytes (spec "maxPayload").
func New(ctx context.Context, out DatagramSender, pacer *pacing.Pacer, maxPayload int, sec *security.Context, log Logger) *Sender {
	if log == nil {
		log = nopLogger{}
	}
	runCtx, cancel := context.WithCancel(ctx)
	s := &Sender{
		out:        out,
		pacer:      pacer,
		maxPayload: maxPayload,
		security:   sec,
		queue:      make(chan WorkItem, 256),
		log:        log,
		cancel:     cancel,
	}
	s.wg.Add(1)
	go s.run(runCtx)
	return s
}

// Enqueue submits item to the FIFO. Never blocks the encoder caller for
// more than a channel send (spec §5 "the packet sender never blocks the
// encoder"); when the queue is full, item itself is dropped and a warning
// logged, rather than blocking the encoder thread.
func (s *Sender) Enqueue(item WorkItem) {
	if item.IsKeyframe {
		bumpMax(&s.highestKeyFN, item.FrameNumber)
	}
	select {
	case s.queue <- item:
	default:
		s.log.Warnf("sender: queue full, dropping frame %d", item.FrameNumber)
	}
}

func bumpMax(v *atomic.Uint32, candidate uint32) {
	for {
		cur := v.Load()
		if candidate <= cur && cur-candidate < 1<<31 { // handle wraparound conservatively
			return
		}
		if v.CompareAndSwap(cur, candidate) {
			return
		}
	}
}

// BumpGeneration invalidates all currently queued work without clearing
// the queue (spec "invalidates all queued work"); stale items are
// dropped as the worker reaches them.
func (s *Sender) BumpGeneration() uint32 {
	return s.generation.Add(1)
}

// ResetQueue bumps the generation and drains any already-queued items,
// logging reason (spec "resetQueue does the same and logs the reason").
func (s *Sender) ResetQueue(reason string) {
	s.BumpGeneration()
	for {
		select {
		case <-s.queue:
		default:
			s.log.Warnf("sender: queue reset: %s", reason)
			return
		}
	}
}

// SetDropNonKeyframesUntilKeyframe toggles the fast-path mirror used by
// the hot path (spec §5: "mirrored to an atomic counter for fast-path
// reads from encoder callbacks").
func (s *Sender) SetDropNonKeyframesUntilKeyframe(v bool) {
	s.dropNonKeys.Store(v)
}

// CurrentGeneration reads the active generation.
func (s *Sender) CurrentGeneration() uint32 { return s.generation.Load() }

// Close stops the worker and waits for it to exit.
func (s *Sender) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Sender) run(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-s.queue:
			s.process(ctx, item)
		}
	}
}

func (s *Sender) process(ctx context.Context, item WorkItem) {
	if item.Generation != s.generation.Load() {
		return
	}
	if !item.IsKeyframe && s.dropNonKeys.Load() {
		return
	}
	if item.FrameNumber < s.highestKeyFN.Load() {
		return // a newer keyframe has already been enqueued/emitted, even if item itself is a (stale) keyframe
	}

	if item.IsKeyframe && item.Callbacks.OnSendStart != nil {
		item.Callbacks.OnSendStart()
	}

	if err := s.emit(ctx, item); err != nil {
		s.log.Warnf("sender: emit frame %d: %v", item.FrameNumber, err)
	}

	if item.IsKeyframe {
		s.dropNonKeys.Store(false)
		if item.Callbacks.OnSendComplete != nil {
			item.Callbacks.OnSendComplete()
		}
	}
}

func (s *Sender) emit(ctx context.Context, item WorkItem) error {
	frameBytes := item.EncodedData
	dataFragmentCount := ceilDiv(len(frameBytes), s.maxPayload)
	if dataFragmentCount > policy.MaxFragmentsPerFrame {
		return errFrameTooLarge
	}

	var fecCodec *fec.Block
	parityCount := 0
	if item.FECBlockSize > 1 {
		var err error
		fecCodec, err = fec.New(item.FECBlockSize)
		if err != nil {
			return err
		}
		parityCount = fecCodec.ParityFragmentCount(dataFragmentCount)
	}
	totalFragments := dataFragmentCount + parityCount
	if totalFragments > policy.MaxFragmentsPerFrame {
		return errFrameTooLarge
	}

	fragments := splitFragments(frameBytes, s.maxPayload, dataFragmentCount)

	seqStart := s.reserveSequence(uint32(totalFragments))

	for i, frag := range fragments {
		if err := s.sendFragment(ctx, item, frag, uint16(i), uint16(totalFragments), seqStart+uint32(i)); err != nil {
			return err
		}
	}

	if fecCodec != nil {
		if err := s.emitParity(ctx, item, fragments, fecCodec, dataFragmentCount, totalFragments, seqStart); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sender) emitParity(ctx context.Context, item WorkItem, fragments [][]byte, codec *fec.Block, dataCount, totalCount int, seqStart uint32) error {
	blockSize := codec.BlockSize()
	fragLen := maxLen(fragments)
	padded := padFragments(fragments, fragLen)

	parityIdx := dataCount
	for blockStart := 0; blockStart < dataCount; blockStart += blockSize {
		blockEnd := blockStart + blockSize
		if blockEnd > dataCount {
			blockEnd = dataCount
		}
		parity := make([]byte, fragLen)
		if err := fec.Encode(padded[blockStart:blockEnd], parity); err != nil {
			return err
		}
		if err := s.sendFragment(ctx, item, parity, uint16(parityIdx), uint16(totalCount), seqStart+uint32(parityIdx), wire.FlagFECParity); err != nil {
			return err
		}
		parityIdx++
	}
	return nil
}

func (s *Sender) sendFragment(ctx context.Context, item WorkItem, payload []byte, index, count uint16, seq uint32, extraFlags ...wire.FrameFlags) error {
	flags := wire.FrameFlags(0)
	for _, f := range extraFlags {
		flags |= f
	}
	if item.IsKeyframe && !flags.Has(wire.FlagFECParity) {
		flags |= wire.FlagKeyframe
	}
	if int(index) == int(count)-1 {
		flags |= wire.FlagEndOfFrame
	}
	if index == 0 && item.IsKeyframe {
		flags |= wire.FlagParameterSet
	}
	if index == 0 && item.Discontinuity {
		flags |= wire.FlagDiscontinuity
	}

	crc := wire.CRC32Of(payload)

	hdr := wire.FrameHeader{
		Flags:          flags,
		StreamID:       item.StreamID,
		SequenceNumber: seq,
		TimestampNs:    item.TimestampNs,
		FrameNumber:    item.FrameNumber,
		FragmentIndex:  index,
		FragmentCount:  count,
		PayloadLength:  uint16(len(payload)),
		FrameByteCount: uint32(len(item.EncodedData)),
		CRC32:          crc,
		Rect:           item.ContentRect,
		DimensionToken: item.DimensionToken,
		Epoch:          item.Epoch,
	}

	body := payload
	if s.security != nil {
		hdr.Flags |= wire.FlagEncryptedPayload
		nonce := security.Nonce(item.StreamID, item.FrameNumber, seq, security.DirHostToClient)
		body = s.security.Seal(security.DirHostToClient, nonce, hdr.Marshal(), payload)
	}

	datagram := append(hdr.Marshal(), body...)

	if s.pacer != nil {
		if err := s.pacer.Wait(ctx, len(datagram)); err != nil {
			return err
		}
	}

	return s.out.SendDatagram(datagram)
}

func (s *Sender) reserveSequence(n uint32) uint32 {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	start := s.seq
	s.seq += n
	return start
}

func ceilDiv(a, b int) int {
	if a == 0 {
		return 1 // an empty frame still gets one (empty) fragment
	}
	return (a + b - 1) / b
}

func splitFragments(data []byte, maxPayload, count int) [][]byte {
	out := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		start := i * maxPayload
		end := start + maxPayload
		if end > len(data) {
			end = len(data)
		}
		out = append(out, data[start:end])
	}
	return out
}

func padFragments(fragments [][]byte, length int) [][]byte {
	out := make([][]byte, len(fragments))
	for i, f := range fragments {
		if len(f) == length {
			out[i] = f
			continue
		}
		p := make([]byte, length)
		copy(p, f)
		out[i] = p
	}
	return out
}

func maxLen(fragments [][]byte) int {
	m := 0
	for _, f := range fragments {
		if len(f) > m {
			m = len(f)
		}
	}
	return m
}

var errFrameTooLarge = frameTooLargeError{}

type frameTooLargeError struct{}

func (frameTooLargeError) Error() string { return "sender: frame exceeds maxPayload*65535 fragments" }
