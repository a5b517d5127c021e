package controlchan

import (
	"fmt"
	"sync"
)

// StreamState is the per-stream lifecycle (spec §4.8 "Stream
// lifecycle"): requested → started{...} → {active | paused} → stopped.
type StreamState int

const (
	StreamRequested StreamState = iota
	StreamStarted
	StreamActive
	StreamPaused
	StreamStopped
)

func (s StreamState) String() string {
	switch s {
	case StreamRequested:
		return "requested"
	case StreamStarted:
		return "started"
	case StreamActive:
		return "active"
	case StreamPaused:
		return "paused"
	case StreamStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ErrInvalidStreamTransition reports an attempted stream transition the
// lifecycle does not allow from its current state.
type ErrInvalidStreamTransition struct {
	From StreamState
	Op   string
}

func (e ErrInvalidStreamTransition) Error() string {
	return fmt.Sprintf("controlchan: stream %s invalid from state %s", e.Op, e.From)
}

// StreamDescriptor is the {streamID, w, h, fps, codec} tuple carried by
// the started transition.
type StreamDescriptor struct {
	StreamID uint32
	Width    int
	Height   int
	FPS      int
	Codec    string
}

// StreamLifecycle tracks one stream's state on the client side. The
// client only enters Active once the first UDP packet for the stream
// arrives (spec §4.8: "the client enters active only after the first
// UDP packet for the stream is received") — Started alone does not
// imply data flow.
type StreamLifecycle struct {
	mu    sync.Mutex
	state StreamState
	desc  StreamDescriptor
}

// NewStreamLifecycle constructs a lifecycle in StreamRequested.
func NewStreamLifecycle() *StreamLifecycle {
	return &StreamLifecycle{state: StreamRequested}
}

// State reports the current state.
func (l *StreamLifecycle) State() StreamState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Descriptor reports the stream's negotiated parameters, valid once
// Started.
func (l *StreamLifecycle) Descriptor() StreamDescriptor {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.desc
}

// OnStarted records the host's streamStarted/desktopStreamStarted/
// loginDisplayReady descriptor (spec §4.8 "started{streamID, w, h, fps,
// codec}") and transitions requested → started.
func (l *StreamLifecycle) OnStarted(desc StreamDescriptor) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StreamRequested {
		return ErrInvalidStreamTransition{From: l.state, Op: "started"}
	}
	l.state = StreamStarted
	l.desc = desc
	return nil
}

// OnFirstPacket transitions started → active on arrival of the first
// UDP media packet for this stream.
func (l *StreamLifecycle) OnFirstPacket() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StreamStarted && l.state != StreamPaused {
		return ErrInvalidStreamTransition{From: l.state, Op: "firstPacket"}
	}
	l.state = StreamActive
	return nil
}

// Pause transitions active → paused.
func (l *StreamLifecycle) Pause() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StreamActive {
		return ErrInvalidStreamTransition{From: l.state, Op: "pause"}
	}
	l.state = StreamPaused
	return nil
}

// Resume transitions paused → active.
func (l *StreamLifecycle) Resume() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StreamPaused {
		return ErrInvalidStreamTransition{From: l.state, Op: "resume"}
	}
	l.state = StreamActive
	return nil
}

// Stop transitions any non-terminal state to stopped.
func (l *StreamLifecycle) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = StreamStopped
}
