package v8

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
)

// Transport moves frames between the engine and a debugger listener.
type Transport interface {
	// Send writes one encoded frame. Concurrent calls are serialized so a
	// frame is fully written before the next one begins.
	Send(frame []byte) error

	// Receive returns the next decoded message. It must be called from a
	// single goroutine. A non-fatal *ProtocolError may be followed by
	// further successful calls.
	Receive() (Message, error)

	// Close closes the underlying stream.
	Close() error
}

// readChunkSize is the size of a single read from the stream.
const readChunkSize = 32 * 1024

// StreamTransport implements Transport over any io.ReadWriteCloser.
type StreamTransport struct {
	rwc     io.ReadWriteCloser
	decoder *Decoder
	chunk   []byte
	readErr error

	// mu serializes writes only; reads never take it.
	mu     sync.Mutex
	closed atomic.Bool
}

// NewStreamTransport creates a transport from any ReadWriteCloser.
func NewStreamTransport(rwc io.ReadWriteCloser) *StreamTransport {
	return &StreamTransport{
		rwc:     rwc,
		decoder: NewDecoder(),
		chunk:   make([]byte, readChunkSize),
	}
}

// Dial connects to a debugger listener at address ("host:port").
func Dial(ctx context.Context, address string) (*StreamTransport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	return NewStreamTransport(conn), nil
}

// Send writes one frame.
func (t *StreamTransport) Send(frame []byte) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := t.rwc.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Receive reads until one message is available.
func (t *StreamTransport) Receive() (Message, error) {
	for {
		frame, err := t.decoder.Next()
		switch {
		case err == nil:
			return Decode(frame)
		case !errors.Is(err, ErrIncomplete):
			return nil, err
		}

		if t.readErr != nil {
			return nil, t.readErr
		}

		n, err := t.rwc.Read(t.chunk)
		if n > 0 {
			t.decoder.Feed(t.chunk[:n])
		}
		if err != nil {
			// Frames already buffered are still delivered before the error.
			t.readErr = err
		}
	}
}

// Close closes the underlying stream.
func (t *StreamTransport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	return t.rwc.Close()
}
