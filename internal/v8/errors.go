package v8

import (
	"errors"
	"fmt"
)

// Standard errors returned by the codec.
var (
	// ErrIncomplete indicates the decoder needs more bytes to produce a frame.
	ErrIncomplete = errors.New("v8: incomplete frame")

	// ErrProtocol is the sentinel matched by every *ProtocolError.
	ErrProtocol = errors.New("v8: protocol error")

	// ErrTransportClosed indicates Send was called on a closed transport.
	ErrTransportClosed = errors.New("v8: transport closed")
)

// ProtocolError reports a malformed frame or message.
//
// A non-fatal error means the decoder dropped the offending bytes and is
// positioned at a frame boundary again; decoding may continue. A fatal error
// means the stream cannot be resynchronized and the connection must be
// abandoned.
type ProtocolError struct {
	// Reason describes what was wrong with the input.
	Reason string

	// Fatal is set when the frame boundary could not be recovered.
	Fatal bool

	// Err is the underlying parse error, if any.
	Err error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("v8 protocol error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("v8 protocol error: %s", e.Reason)
}

// Unwrap returns the underlying error.
func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrProtocol.
func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

// IsFatal reports whether err is a ProtocolError that ends the connection.
func IsFatal(err error) bool {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Fatal
	}
	return false
}
