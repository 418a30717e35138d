// Package transport frames EPP messages for the wire.  EPP data units are
// length-prefixed per RFC 5734 section 4; the Transport interface keeps the
// engine independent of how the underlying stream was established.
package transport

import (
	"errors"
	"io"
	"net"
	"time"
)

var (
	// ErrInvalidIO is returned when a write or read operation is called on
	// a message io.Reader or a message io.Writer when they are no longer
	// valid (i.e. the message has been closed).
	ErrInvalidIO = errors.New("transport: read/write on invalid io")
)

// Transport carries EPP messages between the engine and one client.  It is
// message oriented so framing details stay out of the protocol engine.
type Transport interface {
	// MsgReader returns a reader over the next message payload.  The
	// caller must close the reader when done.
	MsgReader() (io.ReadCloser, error)

	// MsgWriter returns a writer for a new message.  Closing it finalizes
	// the framing and flushes to the underlying stream.
	MsgWriter() (io.WriteCloser, error)

	Close() error
}

// Conn is a Transport over an established network connection.  The engine
// uses SetReadDeadline to bound how long it waits for the next frame.
type Conn struct {
	conn net.Conn
	*Framer
}

// NewConn wraps an already-connected stream.  Closing the Conn closes the
// underlying connection.
func NewConn(conn net.Conn) *Conn {
	return &Conn{
		conn:   conn,
		Framer: NewFramer(conn, conn),
	}
}

// SetReadDeadline bounds the next read on the underlying connection.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}
