package v8

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Message type tags.
const (
	TypeRequest  = "request"
	TypeResponse = "response"
	TypeEvent    = "event"
)

// Commands accepted by the debugger listener.
const (
	CommandContinue          = "continue"
	CommandSetBreakpoint     = "setbreakpoint"
	CommandClearBreakpoint   = "clearbreakpoint"
	CommandChangeBreakpoint  = "changebreakpoint"
	CommandSetExceptionBreak = "setexceptionbreak"
	CommandBacktrace         = "backtrace"
	CommandEvaluate          = "evaluate"
	CommandSuspend           = "suspend"
	CommandScripts           = "scripts"
	CommandVersion           = "version"
	CommandDisconnect        = "disconnect"
)

// Event names emitted by the debugger listener.
const (
	EventBreak        = "break"
	EventException    = "exception"
	EventAfterCompile = "afterCompile"
	EventCompileError = "compileError"

	// EventThread and EventExit are emitted by listeners that multiplex
	// worker contexts or report process termination. Classic listeners
	// never send them.
	EventThread = "thread"
	EventExit   = "exit"
)

// Step actions for the continue command.
const (
	StepIn   = "in"
	StepNext = "next"
	StepOut  = "out"
)

// Exception break types for setexceptionbreak.
const (
	ExceptionBreakAll      = "all"
	ExceptionBreakUncaught = "uncaught"
)

// Handshake header names.
const (
	HeaderContentLength   = "Content-Length"
	HeaderType            = "Type"
	HeaderV8Version       = "V8-Version"
	HeaderProtocolVersion = "Protocol-Version"
	HeaderEmbeddingHost   = "Embedding-Host"
)

// Message is implemented by every decoded message.
type Message interface {
	// MessageType returns "connect", "response" or "event".
	MessageType() string
}

// ProtocolMessage is the base for all JSON messages.
type ProtocolMessage struct {
	Seq  int    `json:"seq"`
	Type string `json:"type"`
}

// Request represents an outgoing command.
type Request struct {
	ProtocolMessage
	Command   string          `json:"command"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Response represents the listener's answer to a request.
type Response struct {
	ProtocolMessage
	RequestSeq int             `json:"request_seq"`
	Command    string          `json:"command"`
	Success    bool            `json:"success"`
	Running    bool            `json:"running"`
	Message    string          `json:"message,omitempty"`
	Body       json.RawMessage `json:"body,omitempty"`
	Refs       []Ref           `json:"refs,omitempty"`
}

// MessageType implements Message.
func (r *Response) MessageType() string { return TypeResponse }

// Event represents an unsolicited notification.
type Event struct {
	ProtocolMessage
	Event string          `json:"event"`
	Body  json.RawMessage `json:"body,omitempty"`
}

// MessageType implements Message.
func (e *Event) MessageType() string { return TypeEvent }

// Connect is the handshake the listener sends when a client attaches.
type Connect struct {
	Headers map[string]string
}

// MessageType implements Message.
func (c *Connect) MessageType() string { return "connect" }

// V8Version returns the V8 version announced by the listener.
func (c *Connect) V8Version() string { return c.Headers[HeaderV8Version] }

// ProtocolVersion returns the protocol version announced by the listener.
func (c *Connect) ProtocolVersion() string { return c.Headers[HeaderProtocolVersion] }

// EmbeddingHost returns the embedding host, e.g. "node v0.10.48".
func (c *Connect) EmbeddingHost() string { return c.Headers[HeaderEmbeddingHost] }

// BreakpointID is a runtime-assigned breakpoint identifier.
//
// Listeners report identifiers as JSON numbers; some bridges use strings.
// Both forms decode into a BreakpointID and numeric identifiers are encoded
// back as numbers.
type BreakpointID string

// UnmarshalJSON accepts a JSON number or string.
func (id *BreakpointID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = BreakpointID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("breakpoint id: %w", err)
	}
	*id = BreakpointID(n.String())
	return nil
}

// MarshalJSON writes numeric identifiers as numbers.
func (id BreakpointID) MarshalJSON() ([]byte, error) {
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil && strconv.FormatInt(n, 10) == string(id) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// Ref is an entry of a response's refs table, or an inline object
// reference inside a body.
type Ref struct {
	Ref       int    `json:"ref,omitempty"`
	Handle    int    `json:"handle,omitempty"`
	Type      string `json:"type,omitempty"`
	Name      string `json:"name,omitempty"`
	ClassName string `json:"className,omitempty"`
	Text      string `json:"text,omitempty"`
}

// LookupRef finds the refs entry for handle.
func LookupRef(refs []Ref, handle int) (Ref, bool) {
	for _, r := range refs {
		if r.Handle == handle {
			return r, true
		}
	}
	return Ref{}, false
}

// ContinueArguments are the arguments for continue.
// An empty StepAction resumes freely.
type ContinueArguments struct {
	StepAction string `json:"stepaction,omitempty"`
	StepCount  int    `json:"stepcount,omitempty"`
}

// SetBreakpointArguments are the arguments for setbreakpoint.
// Line and Column are 0-based.
type SetBreakpointArguments struct {
	Type        string `json:"type"`
	Target      string `json:"target"`
	Line        int    `json:"line"`
	Column      *int   `json:"column,omitempty"`
	Enabled     bool   `json:"enabled"`
	Condition   string `json:"condition,omitempty"`
	IgnoreCount int    `json:"ignoreCount,omitempty"`
}

// SetBreakpointBody is the response body for setbreakpoint.
type SetBreakpointBody struct {
	Type            string           `json:"type"`
	Breakpoint      BreakpointID     `json:"breakpoint"`
	ScriptName      string           `json:"script_name,omitempty"`
	Line            *int             `json:"line,omitempty"`
	Column          *int             `json:"column,omitempty"`
	ActualLocations []ScriptLocation `json:"actual_locations,omitempty"`
}

// ScriptLocation is a resolved position inside a script.
type ScriptLocation struct {
	Line     int `json:"line"`
	Column   int `json:"column"`
	ScriptID int `json:"script_id,omitempty"`
}

// ClearBreakpointArguments are the arguments for clearbreakpoint.
type ClearBreakpointArguments struct {
	Breakpoint BreakpointID `json:"breakpoint"`
}

// ChangeBreakpointArguments are the arguments for changebreakpoint.
type ChangeBreakpointArguments struct {
	Breakpoint  BreakpointID `json:"breakpoint"`
	Enabled     *bool        `json:"enabled,omitempty"`
	Condition   *string      `json:"condition,omitempty"`
	IgnoreCount *int         `json:"ignoreCount,omitempty"`
}

// SetExceptionBreakArguments are the arguments for setexceptionbreak.
type SetExceptionBreakArguments struct {
	Type    string `json:"type"`
	Enabled bool   `json:"enabled"`
}

// BacktraceArguments are the arguments for backtrace.
type BacktraceArguments struct {
	FromFrame  int  `json:"fromFrame"`
	ToFrame    int  `json:"toFrame"`
	Bottom     bool `json:"bottom,omitempty"`
	InlineRefs bool `json:"inlineRefs,omitempty"`
}

// BacktraceBody is the response body for backtrace.
type BacktraceBody struct {
	FromFrame   int              `json:"fromFrame"`
	ToFrame     int              `json:"toFrame"`
	TotalFrames int              `json:"totalFrames"`
	Frames      []BacktraceFrame `json:"frames,omitempty"`
}

// BacktraceFrame is one entry of a backtrace. Line and Column are 0-based.
type BacktraceFrame struct {
	Index          int     `json:"index"`
	Func           FuncRef `json:"func"`
	Script         Ref     `json:"script"`
	Line           int     `json:"line"`
	Column         int     `json:"column"`
	SourceLineText string  `json:"sourceLineText,omitempty"`
}

// FuncRef describes the function of a frame.
type FuncRef struct {
	Ref          int    `json:"ref,omitempty"`
	Name         string `json:"name,omitempty"`
	InferredName string `json:"inferredName,omitempty"`
	ScriptID     int    `json:"scriptId,omitempty"`
}

// DisplayName returns the best available function name.
func (f FuncRef) DisplayName() string {
	switch {
	case f.Name != "":
		return f.Name
	case f.InferredName != "":
		return f.InferredName
	default:
		return "(anonymous function)"
	}
}

// EvaluateArguments are the arguments for evaluate.
type EvaluateArguments struct {
	Expression      string `json:"expression"`
	Frame           *int   `json:"frame,omitempty"`
	Global          bool   `json:"global,omitempty"`
	DisableBreak    bool   `json:"disable_break"`
	MaxStringLength int    `json:"maxStringLength,omitempty"`
}

// Value is a mirror of a JavaScript value.
type Value struct {
	Handle    int             `json:"handle"`
	Type      string          `json:"type"`
	ClassName string          `json:"className,omitempty"`
	Value     json.RawMessage `json:"value,omitempty"`
	Text      string          `json:"text,omitempty"`
}

// ScriptInfo describes a compiled script.
type ScriptInfo struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	LineOffset   int    `json:"lineOffset,omitempty"`
	ColumnOffset int    `json:"columnOffset,omitempty"`
	LineCount    int    `json:"lineCount,omitempty"`
}

// ScriptsArguments are the arguments for scripts.
type ScriptsArguments struct {
	Types         int  `json:"types,omitempty"`
	IncludeSource bool `json:"includeSource"`
}

// ScriptTypeNormal selects user scripts in ScriptsArguments.Types.
const ScriptTypeNormal = 4

// VersionBody is the response body for version.
type VersionBody struct {
	V8Version string `json:"V8Version"`
}

// BreakEventBody is the body of a break event. Lines are 0-based.
type BreakEventBody struct {
	InvocationText string         `json:"invocationText,omitempty"`
	SourceLine     int            `json:"sourceLine"`
	SourceColumn   int            `json:"sourceColumn"`
	SourceLineText string         `json:"sourceLineText,omitempty"`
	Script         *ScriptInfo    `json:"script,omitempty"`
	Breakpoints    []BreakpointID `json:"breakpoints,omitempty"`
	ThreadID       int            `json:"threadId,omitempty"`
}

// ExceptionEventBody is the body of an exception event.
type ExceptionEventBody struct {
	Uncaught     bool        `json:"uncaught"`
	Exception    Value       `json:"exception"`
	SourceLine   int         `json:"sourceLine"`
	SourceColumn int         `json:"sourceColumn"`
	Script       *ScriptInfo `json:"script,omitempty"`
	ThreadID     int         `json:"threadId,omitempty"`
}

// AfterCompileEventBody is the body of an afterCompile event.
type AfterCompileEventBody struct {
	Script ScriptInfo `json:"script"`
}

// ThreadEventBody is the body of a thread event.
type ThreadEventBody struct {
	Reason   string `json:"reason"` // "started" or "exited"
	ThreadID int    `json:"threadId"`
	Name     string `json:"name,omitempty"`
	IsWorker bool   `json:"isWorker,omitempty"`
}

// ExitEventBody is the body of an exit event.
type ExitEventBody struct {
	ExitCode int `json:"exitCode"`
}
