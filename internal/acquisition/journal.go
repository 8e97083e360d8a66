package acquisition

import (
	"context"
	"errors"
	"time"

	"github.com/banshee-data/vibration.report/internal/notify"
)

// Outcome classifies how an acquisition ended.
type Outcome string

const (
	OutcomeComplete     Outcome = "complete"
	OutcomeRejected     Outcome = "rejected"
	OutcomeTimeout      Outcome = "timeout"
	OutcomeDecodeError  Outcome = "decode_error"
	OutcomeCommandError Outcome = "command_error"
	OutcomeProtocol     Outcome = "protocol_error"
	OutcomeAborted      Outcome = "aborted"
)

// Attempt is the journal record of one AcquireReading call. It never carries
// samples.
type Attempt struct {
	ID          string        `json:"id"`
	Serial      string        `json:"serial"`
	ReadingID   int64         `json:"reading_id,omitempty"`
	Outcome     Outcome       `json:"outcome"`
	FailedStep  Step          `json:"failed_step,omitempty"`
	Encoding    string        `json:"encoding,omitempty"`
	Error       string        `json:"error,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
}

// Journal records acquisition attempts. Recording is best effort.
type Journal interface {
	RecordAttempt(ctx context.Context, a Attempt) error
}

// classify maps an AcquireReading error to an outcome.
func classify(err error) Outcome {
	var (
		te *TimeoutError
		re *RejectedError
		de *DecodeError
	)
	switch {
	case err == nil:
		return OutcomeComplete
	case errors.As(err, &te):
		return OutcomeTimeout
	case errors.As(err, &re):
		return OutcomeRejected
	case errors.As(err, &de):
		return OutcomeDecodeError
	case errors.Is(err, ErrMalformedNotification), errors.Is(err, notify.ErrClosed):
		return OutcomeProtocol
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeAborted
	default:
		return OutcomeCommandError
	}
}
