package sender

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/miragestream/core/pacing"
	"github.com/miragestream/core/wire"
)

type captureSender struct {
	mu   sync.Mutex
	sent [][]byte
}

func (c *captureSender) SendDatagram(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := append([]byte(nil), b...)
	c.sent = append(c.sent, cp)
	return nil
}

func (c *captureSender) snapshot() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestSenderFragmentsNoLossNoFEC(t *testing.T) {
	out := &captureSender{}
	ctx := context.Background()
	s := New(ctx, out, pacing.New(0, 1200), 1200, nil, nil)
	defer s.Close()

	data := make([]byte, 200_000)
	s.Enqueue(WorkItem{
		EncodedData: data,
		IsKeyframe:  false,
		StreamID:    1,
		FrameNumber: 1,
		Generation:  0,
	})

	wantFragments := 167 // ceil(200000/1200)
	waitFor(t, func() bool { return len(out.snapshot()) == wantFragments })

	sent := out.snapshot()
	total := 0
	endOfFrameCount := 0
	seenIndex := map[uint16]bool{}
	for _, b := range sent {
		h, err := wire.Parse(b)
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		total += int(h.PayloadLength)
		if h.Flags.Has(wire.FlagEndOfFrame) {
			endOfFrameCount++
		}
		if seenIndex[h.FragmentIndex] {
			t.Fatalf("duplicate fragment index %d", h.FragmentIndex)
		}
		seenIndex[h.FragmentIndex] = true
	}
	if total != len(data) {
		t.Fatalf("sum of fragment lengths = %d, want %d", total, len(data))
	}
	if endOfFrameCount != 1 {
		t.Fatalf("endOfFrame count = %d, want 1", endOfFrameCount)
	}
	if len(seenIndex) != wantFragments {
		t.Fatalf("unique fragment indices = %d, want %d", len(seenIndex), wantFragments)
	}
}

func TestSenderEmitsParityForKeyframe(t *testing.T) {
	out := &captureSender{}
	ctx := context.Background()
	s := New(ctx, out, pacing.New(0, 1200), 1200, nil, nil)
	defer s.Close()

	data := make([]byte, 4096) // ceil(4096/1200) = 4 data fragments
	s.Enqueue(WorkItem{
		EncodedData:  data,
		IsKeyframe:   true,
		StreamID:     1,
		FrameNumber:  1,
		FECBlockSize: 8, // 1 parity fragment for blockSize 8
		Generation:   0,
	})

	waitFor(t, func() bool { return len(out.snapshot()) == 5 })

	sent := out.snapshot()
	parityCount := 0
	keyframeFlagCount := 0
	for _, b := range sent {
		h, err := wire.Parse(b)
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if h.Flags.Has(wire.FlagFECParity) {
			parityCount++
		} else if h.Flags.Has(wire.FlagKeyframe) {
			keyframeFlagCount++
		}
	}
	if parityCount != 1 {
		t.Fatalf("parity fragments = %d, want 1", parityCount)
	}
	if keyframeFlagCount != 4 {
		t.Fatalf("keyframe-flagged data fragments = %d, want 4", keyframeFlagCount)
	}
}

func TestSenderDropsStaleGeneration(t *testing.T) {
	out := &captureSender{}
	ctx := context.Background()
	s := New(ctx, out, pacing.New(0, 1200), 1200, nil, nil)
	defer s.Close()

	s.BumpGeneration() // current generation is now 1

	s.Enqueue(WorkItem{EncodedData: []byte("x"), StreamID: 1, FrameNumber: 1, Generation: 0})
	time.Sleep(20 * time.Millisecond)
	if len(out.snapshot()) != 0 {
		t.Fatalf("expected stale-generation item to be dropped, got %d sent", len(out.snapshot()))
	}

	s.Enqueue(WorkItem{EncodedData: []byte("y"), StreamID: 1, FrameNumber: 2, Generation: s.CurrentGeneration()})
	waitFor(t, func() bool { return len(out.snapshot()) == 1 })
}

func TestSenderDropsSupersededNonKeyframe(t *testing.T) {
	out := &captureSender{}
	ctx := context.Background()
	s := New(ctx, out, pacing.New(0, 1200), 1200, nil, nil)
	defer s.Close()

	// Enqueue a keyframe at frame 10, then an older non-keyframe at
	// frame 5: the older one must be dropped.
	s.Enqueue(WorkItem{EncodedData: []byte("key"), IsKeyframe: true, StreamID: 1, FrameNumber: 10, Generation: 0})
	waitFor(t, func() bool { return len(out.snapshot()) == 1 })

	s.Enqueue(WorkItem{EncodedData: []byte("stale"), IsKeyframe: false, StreamID: 1, FrameNumber: 5, Generation: 0})
	time.Sleep(20 * time.Millisecond)
	if len(out.snapshot()) != 1 {
		t.Fatalf("expected superseded frame to be dropped, sent count = %d", len(out.snapshot()))
	}
}

func TestSenderDropsSupersededStaleKeyframe(t *testing.T) {
	out := &captureSender{}
	ctx := context.Background()
	s := New(ctx, out, pacing.New(0, 1200), 1200, nil, nil)
	defer s.Close()

	// Enqueue a keyframe at frame 10, then an older keyframe at frame 5
	// that was superseded before it reached the front of the queue: it
	// must be dropped too, not just older non-keyframes.
	s.Enqueue(WorkItem{EncodedData: []byte("key"), IsKeyframe: true, StreamID: 1, FrameNumber: 10, Generation: 0})
	waitFor(t, func() bool { return len(out.snapshot()) == 1 })

	s.Enqueue(WorkItem{EncodedData: []byte("stale-key"), IsKeyframe: true, StreamID: 1, FrameNumber: 5, Generation: 0})
	time.Sleep(20 * time.Millisecond)
	if len(out.snapshot()) != 1 {
		t.Fatalf("expected superseded stale keyframe to be dropped, sent count = %d", len(out.snapshot()))
	}
}

func TestSenderSequenceNumbersContiguous(t *testing.T) {
	out := &captureSender{}
	ctx := context.Background()
	s := New(ctx, out, pacing.New(0, 1200), 1200, nil, nil)
	defer s.Close()

	data := make([]byte, 3600) // 3 fragments
	s.Enqueue(WorkItem{EncodedData: data, StreamID: 1, FrameNumber: 1, Generation: 0})
	waitFor(t, func() bool { return len(out.snapshot()) == 3 })

	sent := out.snapshot()
	seqs := make([]uint32, len(sent))
	for i, b := range sent {
		h, _ := wire.Parse(b)
		seqs[i] = h.SequenceNumber
	}
	for i := 1; i < len(seqs); i++ {
		if seqs[i] != seqs[i-1]+1 {
			t.Fatalf("sequence numbers not contiguous: %v", seqs)
		}
	}
}
