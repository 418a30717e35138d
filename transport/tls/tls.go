// Package tls frames EPP messages over TLS connections per RFC 5734.
package tls

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/gbxyz/epp-server/transport"
)

// alias it to a private type so we can make it private when embedding
type framer = transport.Framer

// Transport implements RFC 5734 framing over an established TLS connection.
// It serves both sides: servers wrap the connection they accepted, clients
// usually go through Connect.
type Transport struct {
	conn *tls.Conn
	*framer
}

// Connect dials an EPP server and completes the connection establishment of
// RFC 5730 section 2: after the TLS handshake the server speaks first, so
// the greeting frame it is required to send is consumed before the transport
// is handed back, leaving the stream aligned on the command/response
// alternation.  The greeting payload is returned alongside the transport.
// Any deadline on the context also bounds the wait for the greeting.
func Connect(ctx context.Context, network, addr string, config *tls.Config) (*Transport, []byte, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, nil, err
	}

	tlsConn := tls.Client(conn, config)

	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = tlsConn.Close()
		return nil, nil, err
	}

	t := NewTransport(tlsConn)

	if deadline, ok := ctx.Deadline(); ok {
		_ = tlsConn.SetReadDeadline(deadline)
		defer func() {
			_ = tlsConn.SetReadDeadline(time.Time{})
		}()
	}

	greeting, err := t.readGreeting()
	if err != nil {
		_ = tlsConn.Close()
		return nil, nil, fmt.Errorf("reading server greeting: %w", err)
	}

	return t, greeting, nil
}

// readGreeting consumes the frame the server sends on connect.
func (t *Transport) readGreeting() ([]byte, error) {
	r, err := t.MsgReader()
	if err != nil {
		return nil, err
	}

	greeting, err := io.ReadAll(r)
	if cerr := r.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}
	return greeting, nil
}

// NewTransport takes an already connected TLS connection and returns a new
// Transport.
func NewTransport(conn *tls.Conn) *Transport {
	return &Transport{
		conn:   conn,
		framer: transport.NewFramer(conn, conn),
	}
}

// SetReadDeadline bounds the next read on the underlying connection.
func (t *Transport) SetReadDeadline(d time.Time) error {
	return t.conn.SetReadDeadline(d)
}

// Close will close the transport and the underlying TLS connection.
func (t *Transport) Close() error {
	return t.conn.Close()
}
