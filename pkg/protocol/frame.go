package protocol

import "encoding/json"

// ProtocolVersion is the wire protocol version exchanged during the
// "connect" handshake and reported on /health.
const ProtocolVersion = 1

// Request is an inbound WebSocket RPC call (MethodConnect, MethodChatSend, ...).
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response answers a Request with the same ID.
type Response struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  *RPCError   `json:"error,omitempty"`
}

// RPCError is the error shape carried in a failed Response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// EventFrame is a server-pushed event (EventAgent, EventChat, ...), distinct
// from Response so clients can tell unsolicited pushes from RPC replies.
type EventFrame struct {
	Type    string      `json:"type"` // always "event"
	Name    string      `json:"name"`
	Payload interface{} `json:"payload,omitempty"`
}

// NewEvent wraps name/payload into an EventFrame ready to send.
func NewEvent(name string, payload interface{}) *EventFrame {
	return &EventFrame{Type: "event", Name: name, Payload: payload}
}

func NewErrorResponse(id string, code int, message string) *Response {
	return &Response{ID: id, Error: &RPCError{Code: code, Message: message}}
}

func NewResultResponse(id string, result interface{}) *Response {
	return &Response{ID: id, Result: result}
}
