package transport

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
)

var ErrStreamBusy = errors.New("transport: stream is already active")

// ErrBadLength is returned when a frame header carries a total length that
// cannot describe a valid EPP data unit.
var ErrBadLength = errors.New("transport: invalid frame length")

// DefaultMaxFrameSize caps inbound payloads.  The length header is attacker
// controlled, so unbounded reads are not an option.
const DefaultMaxFrameSize = 1 << 24

// headerLen is the size of the total-length field that precedes every EPP
// data unit.  The value on the wire includes these four octets.
const headerLen = 4

// Framer implements the EPP data unit format of RFC 5734 section 4: each
// message is a four octet unsigned big-endian total length followed by the
// XML payload.  A Framer is not a transport on its own (it has no Close
// method) and is intended to be embedded into transports.
type Framer struct {
	br *bufio.Reader
	bw *bufio.Writer

	mu           sync.Mutex
	maxFrame     uint32
	activeReader bool
	activeWriter bool
}

// NewFramer returns a new Framer over the given io.Reader and io.Writer.
func NewFramer(r io.Reader, w io.Writer) *Framer {
	return &Framer{
		br:       bufio.NewReader(r),
		bw:       bufio.NewWriter(w),
		maxFrame: DefaultMaxFrameSize,
	}
}

// SetMaxFrameSize changes the largest inbound payload the framer accepts.
// Zero removes the bound.
func (f *Framer) SetMaxFrameSize(n uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.maxFrame = n
}

func (f *Framer) closeReader() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activeReader = false
}

func (f *Framer) closeWriter() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activeWriter = false
}

// MsgReader returns a reader over the payload of the next frame.  The
// length header is consumed lazily on first read, so this does not block.
func (f *Framer) MsgReader() (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.activeReader {
		return nil, ErrStreamBusy
	}
	f.activeReader = true

	return &frameReader{
		f: f,
		r: f.br,
	}, nil
}

// MsgWriter returns a writer for one outbound frame.  The payload is
// buffered until Close, which writes the header and payload together.
func (f *Framer) MsgWriter() (io.WriteCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.activeWriter {
		return nil, ErrStreamBusy
	}
	f.activeWriter = true

	return &frameWriter{
		f: f,
		w: f.bw,
	}, nil
}

type frameReader struct {
	f         *Framer
	r         *bufio.Reader
	remaining uint32
	started   bool
	eof       bool
}

// readHeader consumes the four octet total length.  A clean EOF before any
// header byte is reported as io.EOF: the peer hung up between frames.
func (r *frameReader) readHeader() error {
	var hdr [headerLen]byte
	if _, err := io.ReadFull(r.r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return io.ErrUnexpectedEOF
		}
		return err
	}

	total := binary.BigEndian.Uint32(hdr[:])
	if total <= headerLen {
		return fmt.Errorf("%w: %d", ErrBadLength, total)
	}
	if max := r.f.maxFrame; max > 0 && total-headerLen > max {
		return fmt.Errorf("%w: %d exceeds the %d byte bound", ErrBadLength, total, max)
	}

	r.remaining = total - headerLen
	r.started = true
	return nil
}

func (r *frameReader) Read(p []byte) (int, error) {
	if r.r == nil {
		return 0, ErrInvalidIO
	}

	if !r.started {
		if err := r.readHeader(); err != nil {
			return 0, err
		}
	}

	if r.remaining == 0 {
		r.eof = true
		return 0, io.EOF
	}

	toRead := len(p)
	if uint64(toRead) > uint64(r.remaining) {
		toRead = int(r.remaining)
	}

	n, err := r.r.Read(p[:toRead])
	r.remaining -= uint32(n)
	if errors.Is(err, io.EOF) && r.remaining > 0 {
		// The stream ended inside a frame.
		err = io.ErrUnexpectedEOF
	}
	return n, err
}

// Close discards whatever is left of the frame so the stream stays aligned
// on the next header.
func (r *frameReader) Close() error {
	if r.r == nil {
		return nil
	}
	defer func() {
		r.r = nil
		r.f.closeReader()
	}()

	if r.eof {
		return nil
	}

	if !r.started {
		if err := r.readHeader(); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}

	for r.remaining > 0 {
		toDiscard := int(r.remaining)
		if uint(r.remaining) > uint(math.MaxInt) {
			toDiscard = math.MaxInt
		}

		n, err := r.r.Discard(toDiscard)
		r.remaining -= uint32(n)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			return err
		}
	}
	return nil
}

type frameWriter struct {
	f   *Framer
	w   *bufio.Writer
	buf bytes.Buffer
}

func (w *frameWriter) Write(p []byte) (int, error) {
	if w.w == nil {
		return 0, ErrInvalidIO
	}

	if uint64(w.buf.Len())+uint64(len(p)) > math.MaxUint32-headerLen {
		return 0, fmt.Errorf("%w: frame too large", ErrBadLength)
	}

	return w.buf.Write(p)
}

// Close writes the length header followed by the buffered payload and
// flushes, so the frame reaches the wire in one piece.
func (w *frameWriter) Close() error {
	if w.w == nil {
		return nil
	}
	defer func() {
		w.w = nil
		w.f.closeWriter()
	}()

	var hdr [headerLen]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(w.buf.Len()+headerLen))

	if _, err := w.w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := w.w.Write(w.buf.Bytes()); err != nil {
		return err
	}
	return w.w.Flush()
}
