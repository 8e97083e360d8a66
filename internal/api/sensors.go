package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/banshee-data/vibration.report/internal/db"
	"github.com/banshee-data/vibration.report/internal/httputil"
)

// sensorRequest is the body of POST /api/sensors. Enabled defaults to true.
type sensorRequest struct {
	Serial          string  `json:"serial"`
	Name            string  `json:"name"`
	ExpectedSamples int     `json:"expected_samples"`
	SampleRateHz    float64 `json:"sample_rate_hz"`
	Enabled         *bool   `json:"enabled"`
}

func (s *Server) handleSensors(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		sensors, err := s.store.ListSensors()
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("Failed to list sensors: %v", err))
			return
		}
		httputil.WriteJSONOK(w, sensors)

	case http.MethodPost:
		var req sensorRequest
		if err := httputil.DecodeJSONBody(r, &req); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		sensor := &db.Sensor{
			Serial:          req.Serial,
			Name:            req.Name,
			ExpectedSamples: req.ExpectedSamples,
			SampleRateHz:    req.SampleRateHz,
			Enabled:         req.Enabled == nil || *req.Enabled,
		}
		if err := s.store.UpsertSensor(sensor); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, sensor)

	default:
		httputil.MethodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) handleSensor(w http.ResponseWriter, r *http.Request) {
	serial := r.PathValue("serial")

	switch r.Method {
	case http.MethodGet:
		sensor, err := s.store.GetSensor(serial)
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("Failed to get sensor: %v", err))
			return
		}
		if sensor == nil {
			httputil.NotFound(w, fmt.Sprintf("sensor %s not found", serial))
			return
		}
		httputil.WriteJSONOK(w, sensor)

	case http.MethodDelete:
		err := s.store.DeleteSensor(serial)
		if errors.Is(err, db.ErrNotFound) {
			httputil.NotFound(w, fmt.Sprintf("sensor %s not found", serial))
			return
		}
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("Failed to delete sensor: %v", err))
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		httputil.MethodNotAllowed(w, http.MethodGet, http.MethodDelete)
	}
}
