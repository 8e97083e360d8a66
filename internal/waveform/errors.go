package waveform

import (
	"fmt"
	"strings"
)

// Reason classifies why a candidate encoding was rejected.
type Reason string

const (
	ReasonParse         Reason = "parse failure"
	ReasonAxisLength    Reason = "axis length mismatch"
	ReasonExpectedCount Reason = "sample count mismatch"
	ReasonEmpty         Reason = "empty"
	ReasonNonFinite     Reason = "non-finite value"
	ReasonOutOfRange    Reason = "value out of range"
)

// AttemptFailure records why one candidate encoding did not validate.
type AttemptFailure struct {
	Encoding Encoding `json:"encoding"`
	Reason   Reason   `json:"reason"`
	Axis     string   `json:"axis,omitempty"`
	Detail   string   `json:"detail"`
}

func (f AttemptFailure) String() string {
	if f.Axis != "" {
		return fmt.Sprintf("%s: %s on axis %s (%s)", f.Encoding, f.Reason, f.Axis, f.Detail)
	}
	return fmt.Sprintf("%s: %s (%s)", f.Encoding, f.Reason, f.Detail)
}

// DecodeError is returned when no candidate encoding validates. It carries
// one AttemptFailure per encoding tried, in priority order.
type DecodeError struct {
	Attempts []AttemptFailure
}

func (e *DecodeError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = a.String()
	}
	return "waveform: no candidate encoding validated: " + strings.Join(parts, "; ")
}

// Attempt returns the failure recorded for enc, if any.
func (e *DecodeError) Attempt(enc Encoding) (AttemptFailure, bool) {
	for _, a := range e.Attempts {
		if a.Encoding == enc {
			return a, true
		}
	}
	return AttemptFailure{}, false
}
