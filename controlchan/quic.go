package controlchan

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"time"

	"github.com/quic-go/quic-go"
)

// quicALPN is the ALPN protocol identifier this control channel
// negotiates over QUIC, distinguishing it from any other QUIC service
// sharing the same listener port.
const quicALPN = "mirage-control"

// quicStreamConn adapts a quic.Connection plus one of its bidirectional
// streams to io.ReadWriteCloser so it can be handed to NewSession
// exactly like a TCP connection.
type quicStreamConn struct {
	conn   quic.Connection
	stream quic.Stream
}

func (q *quicStreamConn) Read(p []byte) (int, error)  { return q.stream.Read(p) }
func (q *quicStreamConn) Write(p []byte) (int, error) { return q.stream.Write(p) }
func (q *quicStreamConn) Close() error {
	_ = q.stream.Close()
	return q.conn.CloseWithError(0, "closed")
}

// DialQUIC opens a QUIC connection to addr and its single control
// stream and returns a *Session running over that stream. This
// is the QUIC fallback transport for the control channel (spec §4.8);
// the TCP path dials a plain net.Conn directly instead.
func DialQUIC(ctx context.Context, addr string, tlsConf *tls.Config) (*Session, error) {
	conf := tlsConf.Clone()
	conf.NextProtos = []string{quicALPN}

	qc, err := quic.DialAddr(ctx, addr, conf, nil)
	if err != nil {
		return nil, fmt.Errorf("controlchan: quic dial: %w", err)
	}
	stream, err := qc.OpenStreamSync(ctx)
	if err != nil {
		_ = qc.CloseWithError(0, "open stream failed")
		return nil, fmt.Errorf("controlchan: quic open stream: %w", err)
	}
	return NewSession(&quicStreamConn{conn: qc, stream: stream}, nil), nil
}

// QUICListener accepts incoming control-channel connections over QUIC,
// handing back one *Session per accepted connection+stream pair.
type QUICListener struct {
	ln *quic.Listener
}

// ListenQUIC binds a QUIC listener on addr for the control channel.
func ListenQUIC(addr string, tlsConf *tls.Config) (*QUICListener, error) {
	conf := tlsConf.Clone()
	conf.NextProtos = []string{quicALPN}

	ln, err := quic.ListenAddr(addr, conf, nil)
	if err != nil {
		return nil, fmt.Errorf("controlchan: quic listen: %w", err)
	}
	return &QUICListener{ln: ln}, nil
}

// Accept blocks for the next incoming connection's first stream and
// wraps it as a *Session. The caller is expected to loop calling Accept
// to serve multiple clients.
func (l *QUICListener) Accept(ctx context.Context) (*Session, error) {
	qc, err := l.ln.Accept(ctx)
	if err != nil {
		return nil, fmt.Errorf("controlchan: quic accept: %w", err)
	}
	stream, err := qc.AcceptStream(ctx)
	if err != nil {
		_ = qc.CloseWithError(0, "accept stream failed")
		return nil, fmt.Errorf("controlchan: quic accept stream: %w", err)
	}
	return NewSession(&quicStreamConn{conn: qc, stream: stream}, nil), nil
}

// Close shuts down the listener; in-flight Accept calls return an error.
func (l *QUICListener) Close() error {
	return l.ln.Close()
}

// Addr reports the listener's bound local address.
func (l *QUICListener) Addr() net.Addr {
	return l.ln.Addr()
}

// GenerateSelfSignedTLSConfig produces an ephemeral self-signed
// certificate for local/devtools use where no real certificate is
// provisioned yet.
func GenerateSelfSignedTLSConfig() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return nil, err
	}
	tmpl := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"mirage"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	cert := tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}
