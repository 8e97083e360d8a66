package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/vibration.report/internal/acquisition"
	"github.com/banshee-data/vibration.report/internal/db"
	"github.com/banshee-data/vibration.report/internal/gateway"
	"github.com/banshee-data/vibration.report/internal/httputil"
	"github.com/banshee-data/vibration.report/internal/monitoring"
	"github.com/banshee-data/vibration.report/internal/notify"
	"github.com/banshee-data/vibration.report/internal/testutil"
	"github.com/banshee-data/vibration.report/internal/waveform"
)

// fakeAcquirer records targets and answers from result/err.
type fakeAcquirer struct {
	mu      sync.Mutex
	targets []acquisition.Target
	result  *acquisition.Result
	err     error
}

func (f *fakeAcquirer) AcquireReading(_ context.Context, target acquisition.Target) (*acquisition.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, target)
	if f.err != nil {
		return nil, f.err
	}
	res := *f.result
	res.Target = target
	return &res, nil
}

func (f *fakeAcquirer) State() acquisition.State { return acquisition.StateSubscribed }

func (f *fakeAcquirer) Subscribed() bool { return true }

func (f *fakeAcquirer) Timeouts() acquisition.Timeouts { return acquisition.DefaultTimeouts() }

func (f *fakeAcquirer) lastTarget() acquisition.Target {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.targets[len(f.targets)-1]
}

func (f *fakeAcquirer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.targets)
}

func captureLogs(f func(format string, v ...interface{})) (restore func()) {
	prev := monitoring.Logf
	monitoring.SetLogger(f)
	return func() { monitoring.SetLogger(prev) }
}

func setupTestServer(t *testing.T, acq Acquirer) (*Server, *db.DB) {
	t.Helper()
	store, err := db.NewDB(cloneAPITestDB(t))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewServer(acq, store), store
}

func sampleResult() *acquisition.Result {
	temp := 23.5
	return &acquisition.Result{
		ReadingID:  7,
		Timestamp:  time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		SampleRate: 3200,
		Encoding:   waveform.EncodingPacked,
		Samples: waveform.Samples{
			X: []float64{0.1, -0.1, 0.2},
			Y: []float64{0, 0, 0},
			Z: []float64{1, 1, 1},
		},
		Temperature: &temp,
	}
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := testutil.NewTestRecorder()
	s.ServeMux().ServeHTTP(rec, req)
	return rec
}

func TestSensorsCRUD(t *testing.T) {
	s, _ := setupTestServer(t, &fakeAcquirer{result: sampleResult()})

	rec := serve(s, testutil.NewJSONRequest(t, http.MethodPost, "/api/sensors",
		`{"serial":"VS-1","name":"fan","expected_samples":512,"sample_rate_hz":3200}`))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var created db.Sensor
	testutil.DecodeJSON(t, rec, &created)
	if !created.Enabled {
		t.Error("sensor should default to enabled")
	}
	if created.CreatedAt == 0 {
		t.Error("created_at not populated")
	}

	rec = serve(s, testutil.NewTestRequest(http.MethodGet, "/api/sensors/VS-1"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var got db.Sensor
	testutil.DecodeJSON(t, rec, &got)
	if diff := cmp.Diff(created, got); diff != "" {
		t.Errorf("GET sensor mismatch (-want +got):\n%s", diff)
	}

	rec = serve(s, testutil.NewTestRequest(http.MethodGet, "/api/sensors"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var list []db.Sensor
	testutil.DecodeJSON(t, rec, &list)
	if len(list) != 1 || list[0].Serial != "VS-1" {
		t.Errorf("list = %+v", list)
	}

	rec = serve(s, testutil.NewTestRequest(http.MethodDelete, "/api/sensors/VS-1"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusNoContent)

	rec = serve(s, testutil.NewTestRequest(http.MethodGet, "/api/sensors/VS-1"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)

	rec = serve(s, testutil.NewTestRequest(http.MethodDelete, "/api/sensors/VS-1"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
}

func TestSensors_BadRequests(t *testing.T) {
	s, _ := setupTestServer(t, &fakeAcquirer{result: sampleResult()})

	tests := []struct {
		name   string
		req    *http.Request
		status int
	}{
		{"missing serial", testutil.NewJSONRequest(t, http.MethodPost, "/api/sensors", `{"name":"x"}`), http.StatusBadRequest},
		{"malformed", testutil.NewJSONRequest(t, http.MethodPost, "/api/sensors", `{"serial":`), http.StatusBadRequest},
		{"unknown field", testutil.NewJSONRequest(t, http.MethodPost, "/api/sensors", `{"serial":"A","axis":"x"}`), http.StatusBadRequest},
		{"negative samples", testutil.NewJSONRequest(t, http.MethodPost, "/api/sensors", `{"serial":"A","expected_samples":-2}`), http.StatusBadRequest},
		{"collection put", testutil.NewTestRequest(http.MethodPut, "/api/sensors"), http.StatusMethodNotAllowed},
		{"item post", testutil.NewTestRequest(http.MethodPost, "/api/sensors/A"), http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(s, tt.req)
			testutil.AssertStatusCode(t, rec.Code, tt.status)
			var resp httputil.ErrorResponse
			testutil.DecodeJSON(t, rec, &resp)
			if resp.Error == "" {
				t.Error("error message missing")
			}
		})
	}
}

func TestTakeReading(t *testing.T) {
	acq := &fakeAcquirer{result: sampleResult()}
	s, store := setupTestServer(t, acq)

	rec := serve(s, testutil.NewJSONRequest(t, http.MethodPost, "/api/readings", `{"serial":"VS-9"}`))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	var resp ReadingResponse
	testutil.DecodeJSON(t, rec, &resp)
	if resp.Serial != "VS-9" || resp.ReadingID != 7 || resp.SampleCount != 3 {
		t.Errorf("response = %+v", resp)
	}
	if resp.Encoding != waveform.EncodingPacked {
		t.Errorf("encoding = %q", resp.Encoding)
	}
	if resp.Stats.Z.Mean != 1 || resp.Stats.X.Count != 3 {
		t.Errorf("stats = %+v", resp.Stats)
	}
	if resp.Temperature == nil || *resp.Temperature != 23.5 {
		t.Errorf("temperature = %v", resp.Temperature)
	}
	if resp.Samples != nil {
		t.Error("samples should be omitted unless requested")
	}
	if acq.lastTarget().ExpectedSamples != 0 {
		t.Errorf("unregistered sensor should not impose a sample count, got %d", acq.lastTarget().ExpectedSamples)
	}

	// registry supplies the expected count
	if err := store.UpsertSensor(&db.Sensor{Serial: "VS-9", ExpectedSamples: 512, Enabled: true}); err != nil {
		t.Fatal(err)
	}
	rec = serve(s, testutil.NewJSONRequest(t, http.MethodPost, "/api/readings",
		`{"serial":"VS-9","include_samples":true,"data_timeout":"90s"}`))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	testutil.DecodeJSON(t, rec, &resp)
	if resp.Samples == nil || len(resp.Samples.X) != 3 {
		t.Errorf("samples = %+v", resp.Samples)
	}
	want := acquisition.Target{Serial: "VS-9", ExpectedSamples: 512, DataTimeout: 90 * time.Second}
	if diff := cmp.Diff(want, acq.lastTarget()); diff != "" {
		t.Errorf("target mismatch (-want +got):\n%s", diff)
	}

	// the request overrides the registry
	rec = serve(s, testutil.NewJSONRequest(t, http.MethodPost, "/api/readings", `{"serial":"VS-9","expected_samples":0}`))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	if acq.lastTarget().ExpectedSamples != 0 {
		t.Errorf("ExpectedSamples = %d, want request override 0", acq.lastTarget().ExpectedSamples)
	}
}

func TestTakeReading_InvalidRequests(t *testing.T) {
	acq := &fakeAcquirer{result: sampleResult()}
	s, store := setupTestServer(t, acq)
	if err := store.UpsertSensor(&db.Sensor{Serial: "OFF", Enabled: false}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		req    *http.Request
		status int
	}{
		{"get", testutil.NewTestRequest(http.MethodGet, "/api/readings"), http.StatusMethodNotAllowed},
		{"empty body", testutil.NewJSONRequest(t, http.MethodPost, "/api/readings", nil), http.StatusBadRequest},
		{"blank serial", testutil.NewJSONRequest(t, http.MethodPost, "/api/readings", `{"serial":"  "}`), http.StatusBadRequest},
		{"bad timeout", testutil.NewJSONRequest(t, http.MethodPost, "/api/readings", `{"serial":"A","data_timeout":"soon"}`), http.StatusBadRequest},
		{"negative timeout", testutil.NewJSONRequest(t, http.MethodPost, "/api/readings", `{"serial":"A","data_timeout":"-1s"}`), http.StatusBadRequest},
		{"negative samples", testutil.NewJSONRequest(t, http.MethodPost, "/api/readings", `{"serial":"A","expected_samples":-1}`), http.StatusBadRequest},
		{"disabled sensor", testutil.NewJSONRequest(t, http.MethodPost, "/api/readings", `{"serial":"OFF"}`), http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(s, tt.req)
			testutil.AssertStatusCode(t, rec.Code, tt.status)
		})
	}
	if acq.calls() != 0 {
		t.Errorf("invalid requests reached the orchestrator %d times", acq.calls())
	}
}

func TestTakeReading_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"busy", acquisition.ErrBusy, http.StatusConflict, "busy"},
		{"not subscribed", acquisition.ErrNotSubscribed, http.StatusServiceUnavailable, "not_subscribed"},
		{"timeout", &acquisition.TimeoutError{Step: acquisition.StepData, Target: "A", Err: &notify.TimeoutError{Kind: "reading_data", After: time.Minute}}, http.StatusGatewayTimeout, "timeout"},
		{"rejected", &acquisition.RejectedError{Target: "A", Message: "sensor asleep"}, http.StatusUnprocessableEntity, "rejected"},
		{"decode", &acquisition.DecodeError{Target: "A", ReadingID: 3, Err: &waveform.DecodeError{}}, http.StatusUnprocessableEntity, "decode_error"},
		{"malformed", acquisition.ErrMalformedNotification, http.StatusBadGateway, "protocol_error"},
		{"command", &gateway.CommandError{Kind: "take_reading", Code: 500, Message: "radio down"}, http.StatusBadGateway, "command_error"},
		{"closed", gateway.ErrClosed, http.StatusBadGateway, "command_error"},
		{"cancelled", context.Canceled, http.StatusServiceUnavailable, "aborted"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := setupTestServer(t, &fakeAcquirer{err: tt.err})
			rec := serve(s, testutil.NewJSONRequest(t, http.MethodPost, "/api/readings", `{"serial":"A"}`))
			testutil.AssertStatusCode(t, rec.Code, tt.status)

			var resp httputil.ErrorResponse
			testutil.DecodeJSON(t, rec, &resp)
			if resp.Kind != tt.kind {
				t.Errorf("kind = %q, want %q", resp.Kind, tt.kind)
			}
			if resp.Error != tt.err.Error() {
				t.Errorf("error = %q, want %q", resp.Error, tt.err.Error())
			}
		})
	}
}

func TestListAttempts(t *testing.T) {
	s, store := setupTestServer(t, &fakeAcquirer{result: sampleResult()})
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, serial := range []string{"A", "B", "A"} {
		a := acquisition.Attempt{
			ID:        string(rune('a' + i)),
			Serial:    serial,
			Outcome:   acquisition.OutcomeComplete,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.RecordAttempt(ctx, a); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		path    string
		status  int
		wantIDs []string
	}{
		{"/api/attempts", http.StatusOK, []string{"c", "b", "a"}},
		{"/api/attempts?limit=1", http.StatusOK, []string{"c"}},
		{"/api/attempts?serial=A", http.StatusOK, []string{"c", "a"}},
		{"/api/attempts?limit=0", http.StatusBadRequest, nil},
		{"/api/attempts?limit=many", http.StatusBadRequest, nil},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := serve(s, testutil.NewTestRequest(http.MethodGet, tt.path))
			testutil.AssertStatusCode(t, rec.Code, tt.status)
			if tt.status != http.StatusOK {
				return
			}
			var attempts []acquisition.Attempt
			testutil.DecodeJSON(t, rec, &attempts)
			ids := []string{}
			for _, a := range attempts {
				ids = append(ids, a.ID)
			}
			if diff := cmp.Diff(tt.wantIDs, ids); diff != "" {
				t.Errorf("ids mismatch (-want +got):\n%s", diff)
			}
		})
	}

	rec := serve(s, testutil.NewTestRequest(http.MethodPost, "/api/attempts"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusMethodNotAllowed)
}

func TestShowStatus(t *testing.T) {
	s, _ := setupTestServer(t, &fakeAcquirer{result: sampleResult()})
	rec := serve(s, testutil.NewTestRequest(http.MethodGet, "/api/status"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	var resp statusResponse
	testutil.DecodeJSON(t, rec, &resp)
	want := statusResponse{State: "subscribed", Subscribed: true, Started: "15s", Data: "1m0s", Temperature: "10s"}
	if diff := cmp.Diff(want, resp); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}
}

func TestLoggingMiddleware(t *testing.T) {
	var logged []string
	var mu sync.Mutex
	restore := captureLogs(func(format string, v ...interface{}) {
		mu.Lock()
		defer mu.Unlock()
		logged = append(logged, format)
	})
	defer restore()

	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := testutil.NewTestRecorder()
	h.ServeHTTP(rec, testutil.NewTestRequest(http.MethodGet, "/api/status?x=1"))

	testutil.AssertStatusCode(t, rec.Code, http.StatusTeapot)
	mu.Lock()
	defer mu.Unlock()
	if len(logged) != 1 {
		t.Fatalf("logged %d lines, want 1", len(logged))
	}
}

func TestStatusCodeColor(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, colorBoldGreen},
		{302, colorYellow},
		{404, colorBoldRed},
		{502, colorBoldRed},
		{101, "101"},
	}
	for _, tt := range tests {
		if got := statusCodeColor(tt.code); !strings.Contains(got, tt.want) {
			t.Errorf("statusCodeColor(%d) = %q, want it to contain %q", tt.code, got, tt.want)
		}
	}
}
