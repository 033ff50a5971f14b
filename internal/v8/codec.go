package v8

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// MaxContentLength is the maximum allowed body length (10MB).
const MaxContentLength = 10 * 1024 * 1024

// maxHeaderBytes bounds a header block that never terminates.
const maxHeaderBytes = 8 * 1024

var (
	headerTerminator = []byte("\r\n\r\n")
	contentLengthKey = []byte("content-length:")
)

// Frame is one complete unit read off the wire.
type Frame struct {
	// Headers holds the frame headers keyed by their canonical spelling.
	Headers map[string]string

	// Body is the JSON payload. It is empty for the connect handshake.
	Body []byte
}

// Encode builds a request frame for command.
func Encode(command string, seq int, args any) ([]byte, error) {
	var argsJSON json.RawMessage
	if args != nil {
		var err error
		argsJSON, err = json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("marshal arguments: %w", err)
		}
	}

	req := Request{
		ProtocolMessage: ProtocolMessage{
			Seq:  seq,
			Type: TypeRequest,
		},
		Command:   command,
		Arguments: argsJSON,
	}

	content, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var buf bytes.Buffer
	if err := writeFrame(&buf, content); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeFrame writes body with a Content-Length header.
func writeFrame(w io.Writer, body []byte) error {
	header := "Content-Length: " + strconv.Itoa(len(body)) + "\r\n\r\n"
	if _, err := io.WriteString(w, header); err != nil {
		return fmt.Errorf("write headers: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write content: %w", err)
	}
	return nil
}

// Decoder splits a byte stream into frames.
//
// Bytes are appended with Feed and frames are taken with Next. The decoder
// keeps partial input between calls, so it can be fed whatever chunks the
// transport delivers. A Decoder is not safe for concurrent use.
type Decoder struct {
	buf []byte
}

// NewDecoder creates an empty decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends p to the decoder's buffer.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Buffered returns the number of bytes waiting to be decoded.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Next returns the next complete frame.
//
// It returns ErrIncomplete when more input is needed. A non-fatal
// *ProtocolError means the offending bytes were dropped and the next call
// starts at a frame boundary again.
func (d *Decoder) Next() (*Frame, error) {
	end := bytes.Index(d.buf, headerTerminator)
	if end < 0 {
		if len(d.buf) > maxHeaderBytes {
			return nil, d.resync(len(d.buf), "header block too large")
		}
		return nil, ErrIncomplete
	}

	headers, length, reason := parseHeaders(d.buf[:end])
	if reason != "" {
		return nil, d.resync(end+len(headerTerminator), reason)
	}
	if length > MaxContentLength {
		d.buf = nil
		return nil, &ProtocolError{
			Reason: fmt.Sprintf("content-length %d exceeds maximum allowed %d", length, MaxContentLength),
			Fatal:  true,
		}
	}

	start := end + len(headerTerminator)
	if len(d.buf)-start < length {
		return nil, ErrIncomplete
	}

	body := make([]byte, length)
	copy(body, d.buf[start:start+length])
	d.consume(start + length)

	return &Frame{Headers: headers, Body: body}, nil
}

// resync drops garbage up to the next Content-Length header found within
// the first limit bytes, or the whole limit when there is none.
func (d *Decoder) resync(limit int, reason string) error {
	lower := bytes.ToLower(d.buf[:limit])
	cut := limit
	// Skip offset 0 so a header that starts the buffer is not found again.
	if i := bytes.Index(lower[1:], contentLengthKey); i >= 0 {
		cut = i + 1
	}
	d.consume(cut)
	return &ProtocolError{Reason: reason}
}

func (d *Decoder) consume(n int) {
	if n >= len(d.buf) {
		d.buf = d.buf[:0]
		return
	}
	d.buf = append(d.buf[:0], d.buf[n:]...)
}

// parseHeaders parses a header block. A non-empty reason reports a
// malformed block.
func parseHeaders(block []byte) (map[string]string, int, string) {
	headers := make(map[string]string)
	length := -1

	for _, line := range strings.Split(string(block), "\r\n") {
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, 0, fmt.Sprintf("invalid header: %q", line)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		if strings.EqualFold(key, HeaderContentLength) {
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return nil, 0, fmt.Sprintf("invalid content-length: %q", value)
			}
			length = n
			key = HeaderContentLength
		}
		headers[key] = value
	}

	if length < 0 {
		return nil, 0, "missing Content-Length header"
	}
	return headers, length, ""
}

// Decode turns a frame into a typed message.
func Decode(frame *Frame) (Message, error) {
	if len(frame.Body) == 0 {
		if strings.EqualFold(frame.Headers[HeaderType], "connect") {
			return &Connect{Headers: frame.Headers}, nil
		}
		return nil, &ProtocolError{Reason: "empty frame"}
	}

	var base ProtocolMessage
	if err := json.Unmarshal(frame.Body, &base); err != nil {
		return nil, &ProtocolError{Reason: "invalid message", Err: err}
	}

	switch base.Type {
	case TypeResponse:
		var resp Response
		if err := json.Unmarshal(frame.Body, &resp); err != nil {
			return nil, &ProtocolError{Reason: "invalid response", Err: err}
		}
		return &resp, nil
	case TypeEvent:
		var evt Event
		if err := json.Unmarshal(frame.Body, &evt); err != nil {
			return nil, &ProtocolError{Reason: "invalid event", Err: err}
		}
		if evt.Event == "" {
			return nil, &ProtocolError{Reason: "event without name"}
		}
		return &evt, nil
	default:
		return nil, &ProtocolError{Reason: fmt.Sprintf("unexpected message type %q", base.Type)}
	}
}

// DecodeBody unmarshals a response or event body into v.
func DecodeBody(body json.RawMessage, v any) error {
	if len(body) == 0 {
		return &ProtocolError{Reason: "missing body"}
	}
	if err := json.Unmarshal(body, v); err != nil {
		return &ProtocolError{Reason: "invalid body", Err: err}
	}
	return nil
}
