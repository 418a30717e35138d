// Package epp implements the server side of the Extensible Provisioning
// Protocol defined in RFC 5730, framed over TLS per RFC 5734.  The package
// drives connected clients through the EPP command state machine and hands
// each command to caller-supplied business logic; it knows nothing about
// domains, hosts or contacts itself.
package epp

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/gbxyz/epp-server/transport"
	tlstransport "github.com/gbxyz/epp-server/transport/tls"
)

const (
	// DefaultAddr is where ListenAndServe binds when no address is given.
	DefaultAddr = "localhost:7000"

	// DefaultIdleTimeout bounds how long the server waits for the next
	// frame before giving up on the connection.
	DefaultIdleTimeout = 10 * time.Minute
)

// Server accepts EPP connections and runs one protocol engine per
// connection.  All fields are fixed by the time serving starts; connections
// share only the handler set, the cached greeting skeleton and the
// transaction ID counter.
type Server struct {
	addr        string
	handlers    Handlers
	validator   Validator
	idleTimeout time.Duration
	logger      *log.Logger
	ready       func(net.Addr)
	now         func() time.Time

	plainTCP     bool
	tlsConfig    *tls.Config
	certFile     string
	keyFile      string
	clientCAFile string

	greetOnce sync.Once
	greetSkel *Element
	greetErr  error
}

// Option configures a Server.
type Option func(*Server)

// WithAddress sets the host:port ListenAndServe binds to.
func WithAddress(addr string) Option {
	return func(s *Server) { s.addr = addr }
}

// WithHandlers installs the business-logic callbacks.
func WithHandlers(h Handlers) Option {
	return func(s *Server) { s.handlers = h }
}

// WithValidator installs a schema validator run on every inbound frame.
func WithValidator(v Validator) Option {
	return func(s *Server) { s.validator = v }
}

// WithIdleTimeout sets how long the server waits for a frame before closing
// the connection.  Zero disables the timeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) { s.idleTimeout = d }
}

// WithLogger redirects the server's diagnostics.
func WithLogger(l *log.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithKeyPair sets the server certificate and key files.
func WithKeyPair(certFile, keyFile string) Option {
	return func(s *Server) {
		s.certFile = certFile
		s.keyFile = keyFile
	}
}

// WithClientCAFile sets a CA bundle and makes client certificates
// mandatory.  Without it, client certificates are not requested.
func WithClientCAFile(path string) Option {
	return func(s *Server) { s.clientCAFile = path }
}

// WithTLSConfig supplies a ready-made TLS configuration, overriding
// WithKeyPair and WithClientCAFile.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(s *Server) { s.tlsConfig = cfg }
}

// WithoutTLS serves plain TCP.  Meant for tests and for runners that
// terminate TLS themselves and hand connections to ServeConn.
func WithoutTLS() Option {
	return func(s *Server) { s.plainTCP = true }
}

// WithReadyFunc registers a callback invoked with the bound address once
// the listener is accepting connections.
func WithReadyFunc(fn func(net.Addr)) Option {
	return func(s *Server) { s.ready = fn }
}

// NewServer returns a Server configured by the given options.
func NewServer(opts ...Option) *Server {
	s := &Server{
		addr:        DefaultAddr,
		idleTimeout: DefaultIdleTimeout,
		logger:      log.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) logf(format string, args ...any) {
	s.logger.Printf(format, args...)
}

// buildTLSConfig assembles the server's TLS configuration from the
// configured files.
func (s *Server) buildTLSConfig() (*tls.Config, error) {
	if s.tlsConfig != nil {
		return s.tlsConfig, nil
	}

	if s.certFile == "" || s.keyFile == "" {
		return nil, errors.New("epp: TLS requires a certificate and key (or WithoutTLS)")
	}

	cert, err := tls.LoadX509KeyPair(s.certFile, s.keyFile)
	if err != nil {
		return nil, fmt.Errorf("epp: loading key pair: %w", err)
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
	}

	if s.clientCAFile != "" {
		pem, err := os.ReadFile(s.clientCAFile)
		if err != nil {
			return nil, fmt.Errorf("epp: loading client CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("epp: no usable certificates in client CA bundle")
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return cfg, nil
}

// ListenAndServe binds the configured address and serves until the context
// is cancelled or the listener fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections from the listener, terminating TLS unless the
// server was built WithoutTLS, and runs one session per connection.  The
// listener is closed when the context is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	var tlsCfg *tls.Config
	if !s.plainTCP {
		var err error
		if tlsCfg, err = s.buildTLSConfig(); err != nil {
			_ = ln.Close()
			return err
		}
	}

	if s.ready != nil {
		s.ready(ln.Addr())
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = ln.Close()
		case <-done:
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		go func() {
			if tlsCfg != nil {
				tlsConn := tls.Server(conn, tlsCfg)
				if err := tlsConn.HandshakeContext(ctx); err != nil {
					s.logf("epp: %s: tls handshake: %v", conn.RemoteAddr(), err)
					_ = tlsConn.Close()
					return
				}
				s.ServeTransport(ctx, tlstransport.NewTransport(tlsConn))
				return
			}
			s.ServeConn(ctx, conn)
		}()
	}
}

// ServeConn runs one EPP session over an already-connected, TLS-terminated
// stream.  It is the seam for external concurrency runners; it returns when
// the session ends and closes the connection.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) {
	s.ServeTransport(ctx, transport.NewConn(conn))
}

// ServeTransport runs one EPP session over a message transport: greet, then
// strictly alternate reads and writes until a terminal result code or a read
// failure.  A failed read terminates silently, as if the session had ended
// with code 2500.
func (s *Server) ServeTransport(ctx context.Context, tr transport.Transport) {
	defer func() {
		_ = tr.Close()
	}()

	sess := newSession()

	greet, err := s.greeting(sess)
	if err != nil {
		s.logf("epp: session %s: greeting: %v", sess.id, err)
		return
	}
	if err := writeFrame(tr, greet); err != nil {
		s.logf("epp: session %s: write greeting: %v", sess.id, err)
		return
	}

	deadline, _ := tr.(interface{ SetReadDeadline(time.Time) error })

	for {
		if deadline != nil && s.idleTimeout > 0 {
			_ = deadline.SetReadDeadline(s.now().Add(s.idleTimeout))
		}

		payload, err := readFrame(tr)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logf("epp: session %s: read: %v", sess.id, err)
			}
			return
		}

		resp := s.dispatch(ctx, sess, payload)

		if err := writeFrame(tr, resp); err != nil {
			s.logf("epp: session %s: write: %v", sess.id, err)
			return
		}

		if isGreeting(resp) {
			continue
		}
		if resultCode(resp).IsTerminal() {
			return
		}
	}
}

func readFrame(tr transport.Transport) ([]byte, error) {
	r, err := tr.MsgReader()
	if err != nil {
		return nil, err
	}
	payload, err := io.ReadAll(r)
	if cerr := r.Close(); err == nil {
		err = cerr
	}
	if err == nil && len(payload) == 0 {
		// The peer closed the stream cleanly between frames.
		return nil, io.EOF
	}
	return payload, err
}

func writeFrame(tr transport.Transport, doc *Element) error {
	w, err := tr.MsgWriter()
	if err != nil {
		return err
	}
	if _, err := w.Write(doc.Document()); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}
