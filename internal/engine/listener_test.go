package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	dbglog "github.com/dshills/nodedbg/internal/log"
	"github.com/dshills/nodedbg/internal/v8"
)

// reply is a canned listener response.
type reply struct {
	success bool
	running bool
	message string
	body    any
	refs    []v8.Ref
}

func ok(body any) *reply {
	return &reply{success: true, body: body}
}

func fail(message string) *reply {
	return &reply{message: message}
}

// fakeListener plays the debuggee side of a connection.
type fakeListener struct {
	t    *testing.T
	conn net.Conn

	writeMu sync.Mutex
	seq     int

	mu      sync.Mutex
	respond func(req v8.Request) *reply

	requests chan v8.Request
}

// newFakeListener connects an engine to a fake listener over a pipe.
func newFakeListener(t *testing.T, opts ...Option) (*Engine, *fakeListener) {
	t.Helper()

	client, server := net.Pipe()
	l := &fakeListener{
		t:        t,
		conn:     server,
		requests: make(chan v8.Request, 100),
		respond:  func(v8.Request) *reply { return ok(nil) },
	}
	go l.serve()

	opts = append([]Option{WithLogger(dbglog.Discard()), WithCommandTimeout(2 * time.Second)}, opts...)
	e := New(v8.NewStreamTransport(client), opts...)
	t.Cleanup(func() {
		e.Close()
		server.Close()
	})
	return e, l
}

// handle replaces the response function.
func (l *fakeListener) handle(fn func(req v8.Request) *reply) {
	l.mu.Lock()
	l.respond = fn
	l.mu.Unlock()
}

func (l *fakeListener) serve() {
	dec := v8.NewDecoder()
	buf := make([]byte, 4096)
	for {
		n, err := l.conn.Read(buf)
		if err != nil {
			return
		}
		dec.Feed(buf[:n])
		for {
			frame, err := dec.Next()
			if err != nil {
				break
			}
			var req v8.Request
			if err := json.Unmarshal(frame.Body, &req); err != nil {
				continue
			}
			l.requests <- req

			l.mu.Lock()
			respond := l.respond
			l.mu.Unlock()
			if r := respond(req); r != nil {
				l.sendResponse(req, r)
			}
		}
	}
}

func (l *fakeListener) sendResponse(req v8.Request, r *reply) {
	resp := v8.Response{
		RequestSeq: req.Seq,
		Command:    req.Command,
		Success:    r.success,
		Running:    r.running,
		Message:    r.message,
		Refs:       r.refs,
	}
	resp.Type = v8.TypeResponse
	if r.body != nil {
		data, err := json.Marshal(r.body)
		if err != nil {
			l.t.Errorf("marshal response body: %v", err)
			return
		}
		resp.Body = data
	}
	l.writeJSON(&resp)
}

// event sends an event frame.
func (l *fakeListener) event(name string, body any) {
	evt := v8.Event{Event: name}
	evt.Type = v8.TypeEvent
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			l.t.Errorf("marshal event body: %v", err)
			return
		}
		evt.Body = data
	}
	l.writeJSON(&evt)
}

func (l *fakeListener) writeJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		l.t.Errorf("marshal: %v", err)
		return
	}
	l.writeRaw(fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(data), data))
}

func (l *fakeListener) writeRaw(s string) {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if _, err := l.conn.Write([]byte(s)); err != nil && !errors.Is(err, net.ErrClosed) {
		l.t.Logf("listener write: %v", err)
	}
}

// next returns the next request the engine sent.
func (l *fakeListener) next() v8.Request {
	l.t.Helper()
	select {
	case req := <-l.requests:
		return req
	case <-time.After(2 * time.Second):
		l.t.Fatal("timed out waiting for a request")
		return v8.Request{}
	}
}

// close drops the connection from the debuggee side.
func (l *fakeListener) close() {
	l.conn.Close()
}
