// Package jsonrpc provides the JSON-RPC 2.0 message model exchanged by the
// engines and a pluggable codec that encodes one message per line.
package jsonrpc

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
)

// Version is the only protocol version accepted and emitted.
const Version = "2.0"

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

var nullLiteral = []byte("null")

// ID is a request identifier held as raw JSON: a number, a string, or null.
// A zero-length ID means the member is absent (a notification).
type ID []byte

// NumberID returns a numeric identifier.
func NumberID(n int64) ID {
	return ID(strconv.AppendInt(nil, n, 10))
}

// StringID returns a string identifier.
func StringID(s string) ID {
	b, _ := json.Marshal(s)
	return ID(b)
}

// NullID returns the null identifier used in error responses to requests
// whose id could not be determined.
func NullID() ID {
	return ID(append([]byte(nil), nullLiteral...))
}

// IsZero reports whether the id member is absent.
func (id ID) IsZero() bool {
	return len(id) == 0
}

// IsNull reports whether the id is JSON null.
func (id ID) IsNull() bool {
	return bytes.Equal(id, nullLiteral)
}

// Equal reports whether two ids have the same JSON representation.
func (id ID) Equal(other ID) bool {
	return bytes.Equal(id, other)
}

// String returns the raw JSON text of the id.
func (id ID) String() string {
	return string(id)
}

// MarshalJSON implements json.Marshaler.
func (id ID) MarshalJSON() ([]byte, error) {
	if len(id) == 0 {
		return nullLiteral, nil
	}

	return id, nil
}

// UnmarshalJSON implements json.Unmarshaler. Only numbers, strings and null
// are valid identifiers.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("%w: empty id", ErrInvalidMessage)
	}

	switch c := data[0]; {
	case c == '"', c == '-', c >= '0' && c <= '9', bytes.Equal(data, nullLiteral):
	default:
		return fmt.Errorf("%w: id must be a number, string or null", ErrInvalidMessage)
	}

	*id = append((*id)[:0], data...)
	return nil
}

// Error is the error object carried by an error response.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Message is a request, notification, or response.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      ID              `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// IsRequest reports whether m is a call that expects a response.
func (m Message) IsRequest() bool {
	return m.Method != "" && !m.ID.IsZero()
}

// IsNotification reports whether m is a call without an id.
func (m Message) IsNotification() bool {
	return m.Method != "" && m.ID.IsZero()
}

// IsResponse reports whether m is a result or error response.
func (m Message) IsResponse() bool {
	return m.Method == "" && (m.Result != nil || m.Error != nil)
}

// NewRequest builds a request. params may be nil.
//
// Parameters:
//   - id: The request identifier
//   - method: The method name
//   - params: Any value encodable as a JSON object or array, or nil
//
// Returns:
//   - The request message
//   - An error if params cannot be encoded
func NewRequest(id ID, method string, params any) (Message, error) {
	raw, err := marshalOptional(params)
	if err != nil {
		return Message{}, fmt.Errorf("encode params for %s: %w", method, err)
	}

	return Message{JSONRPC: Version, ID: id, Method: method, Params: raw}, nil
}

// NewNotification builds a notification. params may be nil.
func NewNotification(method string, params any) (Message, error) {
	raw, err := marshalOptional(params)
	if err != nil {
		return Message{}, fmt.Errorf("encode params for %s: %w", method, err)
	}

	return Message{JSONRPC: Version, Method: method, Params: raw}, nil
}

// NewResult builds a success response. A nil result is encoded as null.
func NewResult(id ID, result any) (Message, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return Message{}, fmt.Errorf("encode result: %w", err)
	}

	return Message{JSONRPC: Version, ID: id, Result: raw}, nil
}

// NewErrorResponse builds an error response. A zero id is replaced by null.
func NewErrorResponse(id ID, code int, message string) Message {
	if id.IsZero() {
		id = NullID()
	}

	return Message{JSONRPC: Version, ID: id, Error: &Error{Code: code, Message: message}}
}

// DecodeParams unmarshals the params member into v.
func (m Message) DecodeParams(v any) error {
	if len(m.Params) == 0 {
		return fmt.Errorf("%w: missing params", ErrInvalidMessage)
	}

	return json.Unmarshal(m.Params, v)
}

// DecodeResult unmarshals the result member into v, or returns the response
// error when m is an error response.
func (m Message) DecodeResult(v any) error {
	if m.Error != nil {
		return m.Error
	}

	return json.Unmarshal(m.Result, v)
}

// wireMessage uses pointers so absent members are omitted regardless of how
// the encoder treats empty marshaler-typed slices.
type wireMessage struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id,omitempty"`
	Method  string           `json:"method,omitempty"`
	Params  *json.RawMessage `json:"params,omitempty"`
	Result  *json.RawMessage `json:"result,omitempty"`
	Error   *Error           `json:"error,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{JSONRPC: m.JSONRPC, Method: m.Method, Error: m.Error}
	if len(m.ID) > 0 {
		raw := json.RawMessage(m.ID)
		w.ID = &raw
	}

	if len(m.Params) > 0 {
		w.Params = &m.Params
	}

	if len(m.Result) > 0 {
		w.Result = &m.Result
	}

	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler. Member presence is tracked
// explicitly so that "result": null and "id": null survive decoding.
func (m *Message) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	member := func(key string) (json.RawMessage, bool) {
		v, ok := fields[key]
		if ok && len(v) == 0 {
			v = nullLiteral
		}

		return v, ok
	}

	var out Message
	if v, ok := member("jsonrpc"); ok {
		if err := json.Unmarshal(v, &out.JSONRPC); err != nil {
			return fmt.Errorf("%w: jsonrpc must be a string", ErrInvalidMessage)
		}
	}

	if v, ok := member("id"); ok {
		if err := out.ID.UnmarshalJSON(v); err != nil {
			return err
		}
	}

	if v, ok := member("method"); ok {
		if err := json.Unmarshal(v, &out.Method); err != nil {
			return fmt.Errorf("%w: method must be a string", ErrInvalidMessage)
		}
	}

	if v, ok := member("params"); ok {
		v = bytes.TrimSpace(v)
		if len(v) == 0 || (v[0] != '{' && v[0] != '[') {
			return fmt.Errorf("%w: params must be an object or array", ErrInvalidMessage)
		}

		out.Params = append(json.RawMessage(nil), v...)
	}

	if v, ok := member("result"); ok {
		out.Result = append(json.RawMessage(nil), v...)
	}

	if v, ok := member("error"); ok && !bytes.Equal(bytes.TrimSpace(v), nullLiteral) {
		var e Error
		if err := json.Unmarshal(v, &e); err != nil {
			return fmt.Errorf("%w: malformed error object", ErrInvalidMessage)
		}

		out.Error = &e
	}

	*m = out
	return nil
}

func marshalOptional(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}

	return json.Marshal(v)
}
