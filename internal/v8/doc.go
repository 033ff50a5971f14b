// Package v8 implements the wire side of the V8 debugger protocol spoken by
// the Node.js debugger listener (node --debug).
//
// Every message travels in a frame made of HTTP-style headers, a blank line
// and a JSON body whose size is given by the Content-Length header:
//
//	Content-Length: 57\r\n
//	\r\n
//	{"seq":1,"type":"request","command":"continue","arguments":{}}
//
// The listener opens the conversation with a body-less handshake frame
// carrying a "Type: connect" header and version information. After that it
// answers requests with responses matched by request_seq and emits events
// (break, exception, afterCompile) whenever the VM changes state.
//
// The package is organized in three layers:
//
//   - Encode builds request frames.
//   - Decoder splits a byte stream into frames. It buffers partial input,
//     is restartable across calls and resynchronizes after malformed headers.
//   - Decode turns a frame into a typed Message (*Connect, *Response or
//     *Event).
//
// StreamTransport combines them over any io.ReadWriteCloser.
package v8
