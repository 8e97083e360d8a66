package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned for commands issued on, or still pending when,
	// the connection closes.
	ErrClosed = errors.New("gateway: connection closed")
	// ErrCommandTimeout is returned when the gateway does not answer a
	// command within the command timeout.
	ErrCommandTimeout = errors.New("gateway: command timed out")
	// ErrWriteFailed reports a short write on a line-framed connection.
	ErrWriteFailed = errors.New("gateway: failed to write frame")
)

// Envelope is one frame on the gateway channel. Responses to commands carry
// the command's ID; notifications usually carry none.
type Envelope struct {
	Type  string          `json:"type"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *ErrorBody      `json:"error,omitempty"`
}

// ErrorBody is the error member of a failed command response.
type ErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// CommandError is the gateway's refusal of a command.
type CommandError struct {
	Kind    string
	Code    int
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("gateway: %s failed (code %d): %s", e.Kind, e.Code, e.Message)
}

// decodeEnvelope parses one frame.
func decodeEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("invalid frame: %w", err)
	}
	if env.Type == "" && env.ID == "" {
		return Envelope{}, errors.New("invalid frame: missing type")
	}
	return env, nil
}

// encodeEnvelope builds a frame carrying payload as its data member. A nil
// payload leaves data out.
func encodeEnvelope(kind, id string, payload interface{}) ([]byte, error) {
	env := Envelope{Type: kind, ID: id}
	if payload != nil {
		if raw, ok := payload.(json.RawMessage); ok {
			env.Data = raw
		} else {
			b, err := json.Marshal(payload)
			if err != nil {
				return nil, fmt.Errorf("failed to encode %s payload: %w", kind, err)
			}
			env.Data = b
		}
	}
	return json.Marshal(env)
}
