package acquisition

import (
	"errors"
	"fmt"

	"github.com/banshee-data/vibration.report/internal/waveform"
)

var (
	// ErrNotSubscribed is returned by AcquireReading before Subscribe.
	ErrNotSubscribed = errors.New("acquisition: not subscribed to gateway notifications")
	// ErrBusy is returned when a reading is already in flight on the orchestrator.
	ErrBusy = errors.New("acquisition: a reading is already in flight")
	// ErrMalformedNotification wraps notification payloads that do not parse.
	ErrMalformedNotification = errors.New("acquisition: malformed notification")
)

// Step names the notification an acquisition was waiting for.
type Step string

const (
	StepStarted Step = "started"
	StepData    Step = "data"
)

// TimeoutError reports that a required notification did not arrive in time.
// Err is the underlying *notify.TimeoutError.
type TimeoutError struct {
	Step   Step
	Target string
	Err    error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("acquisition: sensor %s: timed out waiting for %s notification: %v", e.Target, e.Step, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// RejectedError reports that the gateway refused to start the reading.
type RejectedError struct {
	Target  string
	Message string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("acquisition: gateway rejected reading for sensor %s", e.Target)
	}
	return fmt.Sprintf("acquisition: gateway rejected reading for sensor %s: %s", e.Target, e.Message)
}

// DecodeError reports that the waveform payload of a reading could not be
// decoded under any candidate encoding.
type DecodeError struct {
	Target    string
	ReadingID int64
	Err       *waveform.DecodeError
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("acquisition: sensor %s reading %d: %v", e.Target, e.ReadingID, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
