package controlchan

import (
	"fmt"
	"sync"
	"time"

	"github.com/miragestream/core/policy"
)

// ConnectionState is the client-side connection state machine (spec
// §4.8 "Connection states").
type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateError
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// ErrInvalidTransition reports an attempted state transition the
// connection FSM does not allow from its current state.
type ErrInvalidTransition struct {
	From ConnectionState
	Op   string
}

func (e ErrInvalidTransition) Error() string {
	return fmt.Sprintf("controlchan: %s invalid from state %s", e.Op, e.From)
}

// Connection drives the client-side state machine described in spec
// §4.8: idle → connecting → connected{host} → disconnected | error.
// Side effects (sending hello, starting the approval timer, clearing
// per-stream state) are the caller's responsibility, invoked from the
// callbacks supplied at construction.
type Connection struct {
	mu    sync.Mutex
	state ConnectionState
	log   Logger

	approvalTimer *time.Timer

	onSendHello     func()
	onApprovalTimeout func()
	onCleanup       func()
}

// ConnectionCallbacks are the side effects the owning layer performs at
// each transition.
type ConnectionCallbacks struct {
	// SendHello sends the signed hello envelope once the transport is
	// ready (spec §4.8 "sends hello ... and starts manual-approval
	// timer").
	SendHello func()
	// ApprovalTimeout fires if no helloResponse arrives within
	// policy.ManualApprovalTimeout.
	ApprovalTimeout func()
	// Cleanup runs on any transition into Disconnected or Error: clear
	// per-stream state, cancel tasks, clear cursor/metric stores, stop
	// video/audio connections, reset adaptive-fallback and
	// startup-packet state (spec §4.8).
	Cleanup func()
}

// NewConnection constructs a Connection in StateIdle.
func NewConnection(cb ConnectionCallbacks, log Logger) *Connection {
	if log == nil {
		log = nopLogger{}
	}
	return &Connection{
		state:             StateIdle,
		log:               log,
		onSendHello:       cb.SendHello,
		onApprovalTimeout: cb.ApprovalTimeout,
		onCleanup:         cb.Cleanup,
	}
}

// State reports the current state.
func (c *Connection) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect transitions idle → connecting.
func (c *Connection) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return ErrInvalidTransition{From: c.state, Op: "connect"}
	}
	c.state = StateConnecting
	return nil
}

// TransportReady transitions connecting → connected, sends hello, and
// arms the manual-approval timer.
func (c *Connection) TransportReady() error {
	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		return ErrInvalidTransition{From: c.state, Op: "transportReady"}
	}
	c.state = StateConnected
	c.mu.Unlock()

	if c.onSendHello != nil {
		c.onSendHello()
	}
	c.armApprovalTimer()
	return nil
}

func (c *Connection) armApprovalTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.approvalTimer != nil {
		c.approvalTimer.Stop()
	}
	c.approvalTimer = time.AfterFunc(policy.ManualApprovalTimeout, func() {
		c.mu.Lock()
		stillConnected := c.state == StateConnected
		c.mu.Unlock()
		if stillConnected && c.onApprovalTimeout != nil {
			c.onApprovalTimeout()
		}
	})
}

// HelloAccepted cancels the approval timer once helloResponse.accepted
// arrives (spec §4.8: "record negotiated features, ... Start video UDP
// socket, send registration packet, begin receiving" — those actions
// are the caller's, driven off this acknowledgement).
func (c *Connection) HelloAccepted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.approvalTimer != nil {
		c.approvalTimer.Stop()
	}
}

// HelloRejected transitions to Disconnected (spec: "On helloResponse
// rejected or timeout → disconnected/error").
func (c *Connection) HelloRejected() {
	c.transitionTerminal(StateDisconnected, "hello rejected")
}

// TransportFailed transitions to Disconnected from any state (spec:
// "Any transport failure or explicit disconnect → disconnected").
func (c *Connection) TransportFailed(reason string) {
	c.transitionTerminal(StateDisconnected, reason)
}

// Fail transitions to Error from any state (fatal, non-recoverable
// failures such as identity rejection).
func (c *Connection) Fail(reason string) {
	c.transitionTerminal(StateError, reason)
}

func (c *Connection) transitionTerminal(target ConnectionState, reason string) {
	c.mu.Lock()
	if c.approvalTimer != nil {
		c.approvalTimer.Stop()
	}
	already := c.state == target
	c.state = target
	c.mu.Unlock()

	if already {
		return
	}
	c.log.Warnf("controlchan: connection -> %s: %s", target, reason)
	if c.onCleanup != nil {
		c.onCleanup()
	}
}
