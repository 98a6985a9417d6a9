// Package transport implements spec.md §6.1's Transport contract: an
// ordered, reliable, bidirectional byte-frame connection the engine reads
// from and writes to, but never owns the implementation of. Grounded on
// golang.org/x/tools/internal/mcp/transport.go's Transport/dialerFunc/rwc
// and its NewLocalTransport (net.Pipe) and NewStdIOTransport helpers.
package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
)

// ErrClosed is returned by Send once Close has completed, mirroring
// the teacher's ErrConnectionClosed.
var ErrClosed = errors.New("transport: closed")

// Transport is the engine's external collaborator for moving bytes.
// receive() in spec.md §6.1 is modeled here as Receive, an iterator-style
// callback-free channel of frames terminated by a closed channel; send()
// is modeled as a blocking Send whose backpressure is just "the call
// blocks" — the same contract jsonrpc2_v2.Writer.Write has.
type Transport interface {
	// Receive returns a channel of inbound frames. The channel is closed
	// when the transport is closed or the peer disconnects; a final error
	// (if any) is available from Err after the channel closes.
	Receive(ctx context.Context) <-chan []byte
	// Send delivers one frame. It may fail terminally (e.g. after Close).
	Send(ctx context.Context, frame []byte) error
	// IsAvailable reports whether Send/Receive are still expected to work.
	IsAvailable() bool
	// Err returns the error that caused Receive's channel to close, if any.
	Err() error
	// Close tears down the transport. Idempotent.
	Close() error
}

// framedConn adapts a newline-delimited reader loop over an
// io.ReadWriteCloser into the Transport interface. Frames are delimited by
// a single trailing newline, the same delimiter wire.NDJSONFramer uses;
// callers needing a different delimiter supply their own
// Transport implementation, as spec.md treats this as a pluggable seam.
type framedConn struct {
	rwc io.ReadWriteCloser

	mu       sync.Mutex
	closed   bool
	err      error
	ch       chan []byte
	once     sync.Once
}

func newFramedConn(rwc io.ReadWriteCloser) *framedConn {
	f := &framedConn{rwc: rwc, ch: make(chan []byte, 64)}
	go f.readLoop()
	return f
}

func (f *framedConn) readLoop() {
	defer close(f.ch)
	reader := newLineReader(f.rwc)
	for {
		line, err := reader.next()
		if err != nil {
			f.mu.Lock()
			if !errors.Is(err, io.EOF) {
				f.err = err
			}
			f.mu.Unlock()
			return
		}
		f.ch <- line
	}
}

func (f *framedConn) Receive(ctx context.Context) <-chan []byte {
	return f.ch
}

func (f *framedConn) Send(ctx context.Context, frame []byte) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	f.mu.Unlock()
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	data := append(append([]byte(nil), frame...), '\n')
	_, err := f.rwc.Write(data)
	return err
}

func (f *framedConn) IsAvailable() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed
}

func (f *framedConn) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *framedConn) Close() error {
	var err error
	f.once.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
		err = f.rwc.Close()
	})
	return err
}

// lineReader is a tiny buffered newline-delimited reader, avoiding a
// dependency on bufio.Scanner's fixed max-token-size default.
type lineReader struct {
	r   io.Reader
	buf []byte
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{r: r}
}

func (l *lineReader) next() ([]byte, error) {
	for {
		if i := indexByte(l.buf, '\n'); i >= 0 {
			line := l.buf[:i]
			l.buf = l.buf[i+1:]
			return line, nil
		}
		tmp := make([]byte, 4096)
		n, err := l.r.Read(tmp)
		if n > 0 {
			l.buf = append(l.buf, tmp[:n]...)
		}
		if err != nil {
			if n > 0 {
				if i := indexByte(l.buf, '\n'); i >= 0 {
					line := l.buf[:i]
					l.buf = l.buf[i+1:]
					return line, nil
				}
			}
			return nil, err
		}
	}
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// NewLocalPair returns two in-process Transports wired to each other over
// net.Pipe, for tests and same-process client/server pairs — the engine's
// analogue of the teacher's NewLocalTransport.
func NewLocalPair() (Transport, Transport) {
	c1, c2 := net.Pipe()
	return newFramedConn(c1), newFramedConn(c2)
}

// NewStdIO returns a Transport that communicates over stdin/stdout,
// mirroring the teacher's NewStdIOTransport.
func NewStdIO() Transport {
	return newFramedConn(rwc{os.Stdin, os.Stdout})
}

// rwc binds an io.ReadCloser and io.WriteCloser into one
// io.ReadWriteCloser, exactly as internal/mcp/transport.go's rwc does.
type rwc struct {
	r io.ReadCloser
	w io.WriteCloser
}

func (x rwc) Read(p []byte) (int, error)  { return x.r.Read(p) }
func (x rwc) Write(p []byte) (int, error) { return x.w.Write(p) }
func (x rwc) Close() error {
	return errors.Join(x.r.Close(), x.w.Close())
}
