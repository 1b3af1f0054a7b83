package jsonrpc

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

var (
	// ErrParse marks a frame that is not valid JSON.
	ErrParse = errors.New("parse error")
	// ErrInvalidMessage marks valid JSON that is not a JSON-RPC 2.0 message.
	ErrInvalidMessage = errors.New("invalid message")
)

// Codec converts between messages and single-line payloads. Encode must never
// produce an unescaped newline. Decode receives exactly one frame, so the
// whole frame is consumed on success.
type Codec interface {
	Encode(m Message) ([]byte, error)
	Decode(frame []byte) (Message, error)
}

// JSONCodec is the default Codec.
type JSONCodec struct{}

// Encode marshals m, compacting any caller-supplied raw members that carry
// insignificant whitespace.
func (JSONCodec) Encode(m Message) ([]byte, error) {
	if m.JSONRPC == "" {
		m.JSONRPC = Version
	}

	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}

	if bytes.IndexByte(data, '\n') < 0 {
		return data, nil
	}

	var compacted bytes.Buffer
	if err := json.Compact(&compacted, data); err != nil {
		return nil, fmt.Errorf("compact message: %w", err)
	}

	return compacted.Bytes(), nil
}

// Decode parses and validates one frame.
//
// Returns:
//   - The decoded message
//   - An error wrapping ErrParse for malformed JSON, or ErrInvalidMessage for
//     JSON that is not a single valid JSON-RPC 2.0 message (batches included)
func (JSONCodec) Decode(frame []byte) (Message, error) {
	if !json.Valid(frame) {
		return Message{}, fmt.Errorf("%w: %d byte frame is not valid JSON", ErrParse, len(frame))
	}

	var m Message
	if err := json.Unmarshal(frame, &m); err != nil {
		if errors.Is(err, ErrInvalidMessage) {
			return Message{}, err
		}

		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	if err := Validate(m); err != nil {
		return Message{}, err
	}

	return m, nil
}

// Validate checks the structural rules of JSON-RPC 2.0.
func Validate(m Message) error {
	if m.JSONRPC != Version {
		return fmt.Errorf("%w: jsonrpc must be %q", ErrInvalidMessage, Version)
	}

	switch {
	case m.Method != "":
		if m.Result != nil || m.Error != nil {
			return fmt.Errorf("%w: call carries result or error", ErrInvalidMessage)
		}
	case m.Result != nil && m.Error != nil:
		return fmt.Errorf("%w: response carries both result and error", ErrInvalidMessage)
	case m.Result == nil && m.Error == nil:
		return fmt.Errorf("%w: neither call nor response", ErrInvalidMessage)
	case m.ID.IsZero():
		return fmt.Errorf("%w: response without id", ErrInvalidMessage)
	}

	return nil
}

// ErrorCode maps a Decode error to the JSON-RPC error code reported to the
// peer.
func ErrorCode(err error) int {
	if errors.Is(err, ErrParse) {
		return CodeParseError
	}

	return CodeInvalidRequest
}
