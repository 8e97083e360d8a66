package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/banshee-data/vibration.report/internal/acquisition"
	"github.com/banshee-data/vibration.report/internal/httputil"
	"github.com/banshee-data/vibration.report/internal/waveform"
)

// readingRequest is the body of POST /api/readings. Fields left out fall back
// to the sensor registry, then to the orchestrator defaults.
type readingRequest struct {
	Serial          string `json:"serial"`
	ExpectedSamples *int   `json:"expected_samples"`
	DataTimeout     string `json:"data_timeout"`
	IncludeSamples  bool   `json:"include_samples"`
}

// ReadingResponse summarises a completed reading. Samples are only present
// when the request asked for them.
type ReadingResponse struct {
	Serial      string            `json:"serial"`
	ReadingID   int64             `json:"reading_id"`
	Timestamp   time.Time         `json:"timestamp"`
	SampleRate  float64           `json:"sample_rate,omitempty"`
	Encoding    waveform.Encoding `json:"encoding"`
	SampleCount int               `json:"sample_count"`
	Stats       waveform.AxisSet  `json:"stats"`
	Temperature *float64          `json:"temperature,omitempty"`
	Samples     *waveform.Samples `json:"samples,omitempty"`
}

func newReadingResponse(res *acquisition.Result, includeSamples bool) ReadingResponse {
	resp := ReadingResponse{
		Serial:      res.Target.Serial,
		ReadingID:   res.ReadingID,
		Timestamp:   res.Timestamp,
		SampleRate:  res.SampleRate,
		Encoding:    res.Encoding,
		SampleCount: res.Samples.Len(),
		Stats:       res.Stats(),
		Temperature: res.Temperature,
	}
	if includeSamples {
		samples := res.Samples
		resp.Samples = &samples
	}
	return resp
}

func (s *Server) takeReading(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}

	var req readingRequest
	if err := httputil.DecodeJSONBody(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	target, err := s.resolveTarget(req)
	if err != nil {
		var he *httpError
		if errors.As(err, &he) {
			httputil.WriteJSONError(w, he.status, he.msg)
			return
		}
		httputil.InternalServerError(w, err.Error())
		return
	}

	res, err := s.acq.AcquireReading(r.Context(), target)
	if err != nil {
		status, kind := classifyAcquireError(err)
		httputil.WriteJSONErrorKind(w, status, kind, err.Error())
		return
	}
	httputil.WriteJSONOK(w, newReadingResponse(res, req.IncludeSamples))
}

type httpError struct {
	status int
	msg    string
}

func (e *httpError) Error() string { return e.msg }

func (s *Server) resolveTarget(req readingRequest) (acquisition.Target, error) {
	target := acquisition.Target{Serial: strings.TrimSpace(req.Serial)}
	if target.Serial == "" {
		return target, &httpError{http.StatusBadRequest, "serial is required"}
	}

	if req.DataTimeout != "" {
		d, err := time.ParseDuration(req.DataTimeout)
		if err != nil || d <= 0 {
			return target, &httpError{http.StatusBadRequest, fmt.Sprintf("invalid data_timeout %q", req.DataTimeout)}
		}
		target.DataTimeout = d
	}

	sensor, err := s.store.GetSensor(target.Serial)
	if err != nil {
		return target, fmt.Errorf("failed to look up sensor: %w", err)
	}
	if sensor != nil {
		if !sensor.Enabled {
			return target, &httpError{http.StatusConflict, fmt.Sprintf("sensor %s is disabled", target.Serial)}
		}
		target.ExpectedSamples = sensor.ExpectedSamples
	}

	if req.ExpectedSamples != nil {
		if *req.ExpectedSamples < 0 {
			return target, &httpError{http.StatusBadRequest, "expected_samples must be non-negative"}
		}
		target.ExpectedSamples = *req.ExpectedSamples
	}
	return target, nil
}

// classifyAcquireError maps an AcquireReading failure to an HTTP status and
// the journal outcome name.
func classifyAcquireError(err error) (int, string) {
	var (
		timeoutErr  *acquisition.TimeoutError
		rejectedErr *acquisition.RejectedError
		decodeErr   *acquisition.DecodeError
	)
	switch {
	case errors.Is(err, acquisition.ErrBusy):
		return http.StatusConflict, "busy"
	case errors.Is(err, acquisition.ErrNotSubscribed):
		return http.StatusServiceUnavailable, "not_subscribed"
	case errors.As(err, &timeoutErr):
		return http.StatusGatewayTimeout, string(acquisition.OutcomeTimeout)
	case errors.As(err, &rejectedErr):
		return http.StatusUnprocessableEntity, string(acquisition.OutcomeRejected)
	case errors.As(err, &decodeErr):
		return http.StatusUnprocessableEntity, string(acquisition.OutcomeDecodeError)
	case errors.Is(err, acquisition.ErrMalformedNotification):
		return http.StatusBadGateway, string(acquisition.OutcomeProtocol)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, string(acquisition.OutcomeAborted)
	default:
		return http.StatusBadGateway, string(acquisition.OutcomeCommandError)
	}
}
