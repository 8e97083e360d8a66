// Package acquisition drives one triggered vibration reading through a
// gateway: subscribe, trigger, wait for the start acknowledgement, wait for
// the waveform, decode it, and pick up the optional temperature.
//
// Each notification kind has its own deadline. The start acknowledgement is
// quick, the waveform takes at least the physical capture time, and the
// temperature is informational and may never come. All three listeners are
// registered before the trigger is sent because the gateway does not replay
// notifications.
package acquisition

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/vibration.report/internal/monitoring"
	"github.com/banshee-data/vibration.report/internal/notify"
	"github.com/banshee-data/vibration.report/internal/timeutil"
	"github.com/banshee-data/vibration.report/internal/waveform"
)

// Commander sends a command to the gateway and returns its response.
type Commander interface {
	SendCommand(ctx context.Context, kind string, payload interface{}) (json.RawMessage, error)
}

// Timeouts holds the per-notification deadlines.
type Timeouts struct {
	Started     time.Duration
	Data        time.Duration
	Temperature time.Duration
}

// DefaultTimeouts returns the deadlines used when none are configured.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Started:     15 * time.Second,
		Data:        60 * time.Second,
		Temperature: 10 * time.Second,
	}
}

func (t Timeouts) withDefaults() Timeouts {
	d := DefaultTimeouts()
	if t.Started <= 0 {
		t.Started = d.Started
	}
	if t.Data <= 0 {
		t.Data = d.Data
	}
	if t.Temperature <= 0 {
		t.Temperature = d.Temperature
	}
	return t
}

// Target identifies the sensor to read.
type Target struct {
	Serial string `json:"serial"`
	// ExpectedSamples is the per-axis sample count the decoder must produce.
	// Zero disables the check.
	ExpectedSamples int `json:"expected_samples,omitempty"`
	// DataTimeout overrides Timeouts.Data for this reading. Long captures
	// (many samples at a low rate) need more than the default.
	DataTimeout time.Duration `json:"data_timeout,omitempty"`
}

// Result is a completed reading.
type Result struct {
	Target      Target            `json:"target"`
	ReadingID   int64             `json:"reading_id"`
	Timestamp   time.Time         `json:"timestamp"`
	SampleRate  float64           `json:"sample_rate,omitempty"`
	Encoding    waveform.Encoding `json:"encoding"`
	Samples     waveform.Samples  `json:"samples"`
	Temperature *float64          `json:"temperature,omitempty"`
}

// Stats computes per-axis statistics for the reading.
func (r *Result) Stats() waveform.AxisSet {
	return r.Samples.Stats()
}

// Options configures an Orchestrator. Zero values select defaults.
type Options struct {
	Timeouts Timeouts
	Decoder  *waveform.Decoder
	Clock    timeutil.Clock
	Journal  Journal
}

// Orchestrator runs one acquisition at a time against one gateway
// connection.
type Orchestrator struct {
	cmd      Commander
	notes    notify.Registrar
	timeouts Timeouts
	decoder  *waveform.Decoder
	clock    timeutil.Clock
	journal  Journal

	// subMu serialises subscribe and unsubscribe commands.
	subMu sync.Mutex

	mu         sync.Mutex
	state      State
	subscribed bool
	busy       bool
	// stopTemperature releases the temperature wait left behind by the
	// previous reading.
	stopTemperature context.CancelFunc
}

// New creates an Orchestrator that sends commands through cmd and registers
// listeners on notes.
func New(cmd Commander, notes notify.Registrar, opts Options) *Orchestrator {
	o := &Orchestrator{
		cmd:      cmd,
		notes:    notes,
		timeouts: opts.Timeouts.withDefaults(),
		decoder:  opts.Decoder,
		clock:    opts.Clock,
		journal:  opts.Journal,
	}
	if o.decoder == nil {
		o.decoder = waveform.NewDecoder(waveform.DefaultLimits())
	}
	if o.clock == nil {
		o.clock = timeutil.RealClock{}
	}
	return o
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Subscribed reports whether gateway notifications are subscribed.
func (o *Orchestrator) Subscribed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.subscribed
}

// Timeouts returns the effective deadlines.
func (o *Orchestrator) Timeouts() Timeouts {
	return o.timeouts
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// Subscribe asks the gateway to start sending notifications. It is a no-op
// when already subscribed. Command errors are returned unchanged.
func (o *Orchestrator) Subscribe(ctx context.Context) error {
	o.subMu.Lock()
	defer o.subMu.Unlock()

	if o.Subscribed() {
		return nil
	}
	if _, err := o.cmd.SendCommand(ctx, CommandSubscribe, nil); err != nil {
		return err
	}

	o.mu.Lock()
	o.subscribed = true
	o.state = StateSubscribed
	o.mu.Unlock()
	monitoring.Debugf("acquisition: subscribed to gateway notifications")
	return nil
}

// Unsubscribe asks the gateway to stop sending notifications and returns to
// idle. It is safe from any state and never fails: command errors are logged
// and the orchestrator is reset regardless.
func (o *Orchestrator) Unsubscribe(ctx context.Context) {
	o.subMu.Lock()
	defer o.subMu.Unlock()

	if !o.Subscribed() {
		return
	}
	if _, err := o.cmd.SendCommand(ctx, CommandUnsubscribe, nil); err != nil {
		monitoring.Logf("acquisition: unsubscribe failed, continuing: %v", err)
	}

	o.mu.Lock()
	o.subscribed = false
	o.state = StateIdle
	stop := o.stopTemperature
	o.stopTemperature = nil
	o.mu.Unlock()

	if stop != nil {
		stop()
	}
}

// AcquireReading triggers one reading on target and waits for it. It returns
// a *TimeoutError, *RejectedError or *DecodeError on the corresponding
// failure, and command errors unchanged. It never retries.
func (o *Orchestrator) AcquireReading(ctx context.Context, target Target) (*Result, error) {
	o.mu.Lock()
	switch {
	case !o.subscribed:
		o.mu.Unlock()
		return nil, ErrNotSubscribed
	case o.busy:
		o.mu.Unlock()
		return nil, ErrBusy
	}
	o.busy = true
	stale := o.stopTemperature
	o.stopTemperature = nil
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.busy = false
		o.mu.Unlock()
	}()

	// A temperature wait from an earlier reading must not take this
	// reading's notification.
	if stale != nil {
		stale()
	}

	startedAt := o.clock.Now()
	res, step, err := o.acquire(ctx, target)

	if err != nil {
		o.setState(StateFailed)
		monitoring.Logf("acquisition: sensor %s failed: %v", target.Serial, err)
	} else {
		o.setState(StateComplete)
	}
	o.record(ctx, target, startedAt, res, step, err)
	return res, err
}

func (o *Orchestrator) acquire(ctx context.Context, target Target) (*Result, Step, error) {
	// Register every listener before the trigger leaves.
	started := notify.AwaitOnce(o.notes, KindReadingStarted)
	data := notify.AwaitOnce(o.notes, KindReadingData)
	temperature := notify.AwaitOnce(o.notes, KindTemperature)
	defer started.Cancel()
	defer data.Cancel()

	triggeredAt := o.clock.Now()
	if _, err := o.cmd.SendCommand(ctx, CommandTakeReading, TakeReadingRequest{Serial: target.Serial}); err != nil {
		temperature.Cancel()
		return nil, "", err
	}
	o.setState(StateTriggered)
	monitoring.Debugf("acquisition: triggered reading on sensor %s", target.Serial)

	res, step, err := o.awaitReading(ctx, target, started, data)

	temp := o.collectTemperature(ctx, target, temperature, triggeredAt)
	if res != nil {
		res.Temperature = temp
	}
	return res, step, err
}

func (o *Orchestrator) awaitReading(ctx context.Context, target Target, started, data *notify.Token) (*Result, Step, error) {
	ev, err := notify.RaceWithTimeout(ctx, o.clock, started, o.timeouts.Started,
		fmt.Sprintf("no %s notification within %s", KindReadingStarted, o.timeouts.Started))
	if err != nil {
		return nil, StepStarted, wrapWait(StepStarted, target, err)
	}

	var ack StartedNotification
	if err := ev.Decode(&ack); err != nil {
		return nil, StepStarted, fmt.Errorf("%w: %s: %v", ErrMalformedNotification, KindReadingStarted, err)
	}
	if !ack.Success {
		return nil, StepStarted, &RejectedError{Target: target.Serial, Message: ack.Message}
	}
	o.setState(StateStartConfirmed)

	dataTimeout := o.timeouts.Data
	if target.DataTimeout > 0 {
		dataTimeout = target.DataTimeout
	}
	ev, err = notify.RaceWithTimeout(ctx, o.clock, data, dataTimeout,
		fmt.Sprintf("no %s notification within %s", KindReadingData, dataTimeout))
	if err != nil {
		return nil, StepData, wrapWait(StepData, target, err)
	}

	var payload DataNotification
	if err := ev.Decode(&payload); err != nil {
		return nil, StepData, fmt.Errorf("%w: %s: %v", ErrMalformedNotification, KindReadingData, err)
	}
	o.setState(StateDataReceived)
	if payload.Serial != "" && payload.Serial != target.Serial {
		monitoring.Logf("acquisition: data notification names sensor %s, expected %s", payload.Serial, target.Serial)
	}

	decoded, err := o.decoder.Decode(payload.X, payload.Y, payload.Z, target.ExpectedSamples)
	if err != nil {
		var de *waveform.DecodeError
		if !errors.As(err, &de) {
			return nil, StepData, err
		}
		for _, a := range de.Attempts {
			monitoring.Logf("acquisition: sensor %s reading %d: rejected %s", target.Serial, payload.ReadingID, a)
		}
		return nil, StepData, &DecodeError{Target: target.Serial, ReadingID: payload.ReadingID, Err: de}
	}
	monitoring.Debugf("acquisition: sensor %s reading %d decoded as %s (%d samples/axis)",
		target.Serial, payload.ReadingID, decoded.Encoding, decoded.Samples.Len())

	ts := payload.Timestamp
	if ts.IsZero() {
		ts = ev.ReceivedAt
	}
	return &Result{
		Target:     target,
		ReadingID:  payload.ReadingID,
		Timestamp:  ts,
		SampleRate: payload.SampleRate,
		Encoding:   decoded.Encoding,
		Samples:    decoded.Samples,
	}, "", nil
}

// wrapWait converts a notification wait failure into the acquisition error
// for step.
func wrapWait(step Step, target Target, err error) error {
	var te *notify.TimeoutError
	if errors.As(err, &te) {
		return &TimeoutError{Step: step, Target: target.Serial, Err: err}
	}
	return err
}

// collectTemperature returns the temperature if it arrived within its
// deadline and before the reading finished. It never waits. When nothing has
// arrived yet the token is handed to a background wait for the rest of its
// deadline so a late notification is logged and dropped instead of being
// left for the next reading.
func (o *Orchestrator) collectTemperature(ctx context.Context, target Target, tok *notify.Token, triggeredAt time.Time) *float64 {
	select {
	case ev := <-tok.C():
		if ev.ReceivedAt.Sub(triggeredAt) > o.timeouts.Temperature {
			monitoring.Logf("acquisition: sensor %s temperature arrived after %s; discarded", target.Serial, o.timeouts.Temperature)
			return nil
		}
		var t TemperatureNotification
		if err := ev.Decode(&t); err != nil {
			monitoring.Logf("acquisition: sensor %s temperature unavailable: %v", target.Serial, err)
			return nil
		}
		return &t.Temperature
	default:
	}

	remaining := o.timeouts.Temperature - o.clock.Since(triggeredAt)
	if remaining <= 0 {
		tok.Cancel()
		monitoring.Logf("acquisition: sensor %s temperature unavailable", target.Serial)
		return nil
	}

	bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.mu.Lock()
	// The token leaves the bus before stop returns so the next reading's
	// temperature token is the oldest one pending.
	o.stopTemperature = func() {
		tok.Cancel()
		cancel()
	}
	o.mu.Unlock()

	go func() {
		defer cancel()
		_, err := notify.RaceWithTimeout(bg, o.clock, tok, remaining, "")
		if err == nil {
			monitoring.Logf("acquisition: sensor %s temperature arrived after the reading completed; discarded", target.Serial)
			return
		}
		monitoring.Debugf("acquisition: sensor %s temperature unavailable: %v", target.Serial, err)
	}()
	return nil
}

func (o *Orchestrator) record(ctx context.Context, target Target, startedAt time.Time, res *Result, step Step, err error) {
	if o.journal == nil {
		return
	}
	a := Attempt{
		ID:         uuid.NewString(),
		Serial:     target.Serial,
		Outcome:    classify(err),
		FailedStep: step,
		StartedAt:  startedAt,
		Duration:   o.clock.Since(startedAt),
	}
	if err != nil {
		a.Error = err.Error()
		var de *DecodeError
		if errors.As(err, &de) {
			a.ReadingID = de.ReadingID
		}
	}
	if res != nil {
		a.ReadingID = res.ReadingID
		a.Encoding = string(res.Encoding)
		a.Temperature = res.Temperature
	}
	if jerr := o.journal.RecordAttempt(context.WithoutCancel(ctx), a); jerr != nil {
		monitoring.Logf("acquisition: failed to record attempt %s: %v", a.ID, jerr)
	}
}
