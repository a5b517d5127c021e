// Package controlchan implements the reliable control-plane transport
// and the connection/stream/resize state machines driven over it (spec
// §4.8). The length-prefixed dispatch loop generalizes the teacher's
// moonlight-common-go/control stream reader (one goroutine decoding
// framed messages into a type-keyed dispatch table) to this spec's CBOR
// envelope and stable numeric message types.
package controlchan

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/miragestream/core/wire"
)

// Logger is the minimal structured-logging surface this package needs.
type Logger interface {
	Debugf(format string, args ...any)
	Warnf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Warnf(string, ...any)  {}

// ErrSessionClosed is returned from Send after Close.
var ErrSessionClosed = errors.New("controlchan: session closed")

// Session owns one control-plane connection: a single reader goroutine
// that dispatches decoded envelopes to registered handlers in arrival
// order (spec §5 "Control messages on one connection are processed in
// order"), and a write path serialized by a mutex since control traffic
// is not rate-limited (spec §5 "Backpressure").
type Session struct {
	conn io.ReadWriteCloser
	log  Logger

	writeMu sync.Mutex

	handlersMu sync.RWMutex
	handlers   map[wire.MessageType]func(wire.Envelope)

	closeOnce sync.Once
	closed    chan struct{}
}

// NewSession wraps conn (a TCP connection with NODELAY+keep-alive
// already configured by the caller, or a QUIC stream) for framed
// message exchange.
func NewSession(conn io.ReadWriteCloser, log Logger) *Session {
	if log == nil {
		log = nopLogger{}
	}
	return &Session{
		conn:     conn,
		log:      log,
		handlers: make(map[wire.MessageType]func(wire.Envelope)),
		closed:   make(chan struct{}),
	}
}

// Handle registers fn as the handler for message type t. Must be called
// before Run.
func (s *Session) Handle(t wire.MessageType, fn func(wire.Envelope)) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers[t] = fn
}

// Send encodes v as CBOR and writes a framed envelope of type t.
func (s *Session) Send(t wire.MessageType, v any) error {
	env, err := wire.EncodeEnvelope(t, v)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}
	_, err = env.WriteTo(s.conn)
	return err
}

// Run blocks reading and dispatching envelopes until ctx is cancelled or
// the transport returns an error (including a graceful EOF). Unknown
// message types are logged and ignored, never treated as a protocol
// failure (spec §4.1).
func (s *Session) Run(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.conn.Close()
		case <-done:
		}
	}()

	for {
		env, err := wire.ReadEnvelope(s.conn)
		if err != nil {
			return err
		}
		s.handlersMu.RLock()
		h, ok := s.handlers[env.Type]
		s.handlersMu.RUnlock()
		if !ok {
			if wire.KnownMessageType(env.Type) {
				s.log.Debugf("controlchan: no handler registered for %v", env.Type)
			} else {
				s.log.Warnf("controlchan: unknown message type %d, ignoring", env.Type)
			}
			continue
		}
		h(env)
	}
}

// Close closes the underlying transport; Run returns and Send starts
// failing with ErrSessionClosed.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.conn.Close()
	})
	return err
}
