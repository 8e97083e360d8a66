package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/vibration.report/internal/acquisition"
	"github.com/banshee-data/vibration.report/internal/monitoring"
	"github.com/banshee-data/vibration.report/internal/waveform"
)

// SimulatorOptions shapes the simulated gateway's behaviour. Zero values
// select defaults.
type SimulatorOptions struct {
	// Encoding of the emitted waveform strings. Defaults to delimited text.
	Encoding waveform.Encoding
	// Samples per axis. Defaults to 512.
	Samples    int
	SampleRate float64
	// Amplitude of the synthetic vibration in g.
	Amplitude   float64
	Temperature float64

	// Delays are measured from the take_reading command.
	StartDelay       time.Duration
	DataDelay        time.Duration
	TemperatureDelay time.Duration

	// Reject lists serials whose readings are refused, mapped to the reason.
	Reject map[string]string
	// DropData suppresses the reading_data notification.
	DropData bool
	// DropTemperature suppresses the temperature notification.
	DropTemperature bool
}

func (o SimulatorOptions) withDefaults() SimulatorOptions {
	if o.Encoding == "" {
		o.Encoding = waveform.EncodingDelimited
	}
	if o.Samples <= 0 {
		o.Samples = 512
	}
	if o.SampleRate <= 0 {
		o.SampleRate = 3200
	}
	if o.Amplitude == 0 {
		o.Amplitude = 1.5
	}
	if o.Temperature == 0 {
		o.Temperature = 22.5
	}
	return o
}

// Simulator is an in-memory gateway. It answers subscribe_changes,
// unsubscribe_changes and take_reading and, while subscribed, emits the
// reading notifications with a synthetic waveform.
type Simulator struct {
	opts      SimulatorOptions
	readingID atomic.Int64
	upgrader  websocket.Upgrader
}

// NewSimulator creates a Simulator.
func NewSimulator(opts SimulatorOptions) *Simulator {
	return &Simulator{
		opts:     opts.withDefaults(),
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
}

// simSession is the simulator's state for one connection.
type simSession struct {
	conn       Conn
	writeMu    sync.Mutex
	subscribed atomic.Bool
	wg         sync.WaitGroup
}

func (s *simSession) send(env Envelope) {
	b, err := json.Marshal(env)
	if err != nil {
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(b); err != nil {
		monitoring.Debugf("simulator: write failed: %v", err)
	}
}

func (s *simSession) notify(kind string, v interface{}) {
	if !s.subscribed.Load() {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.send(Envelope{Type: kind, Data: b})
}

// Serve answers commands on conn until ctx is done or conn fails.
func (sim *Simulator) Serve(ctx context.Context, conn Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	sess := &simSession{conn: conn}
	defer sess.wg.Wait()
	defer cancel()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		frame, err := conn.ReadMessage()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		env, err := decodeEnvelope(frame)
		if err != nil {
			monitoring.Logf("simulator: %v", err)
			continue
		}
		sim.handle(ctx, sess, env)
	}
}

func (sim *Simulator) handle(ctx context.Context, sess *simSession, env Envelope) {
	ok := Envelope{Type: env.Type, ID: env.ID, Data: json.RawMessage(`{}`)}

	switch env.Type {
	case acquisition.CommandSubscribe:
		sess.subscribed.Store(true)
		sess.send(ok)

	case acquisition.CommandUnsubscribe:
		sess.subscribed.Store(false)
		sess.send(ok)

	case acquisition.CommandTakeReading:
		var req acquisition.TakeReadingRequest
		if len(env.Data) > 0 {
			_ = json.Unmarshal(env.Data, &req)
		}
		if req.Serial == "" {
			sess.send(Envelope{Type: env.Type, ID: env.ID, Error: &ErrorBody{Code: 400, Message: "serial is required"}})
			return
		}
		sess.send(ok)
		sess.wg.Add(1)
		go func() {
			defer sess.wg.Done()
			sim.emit(ctx, sess, req.Serial)
		}()

	default:
		sess.send(Envelope{Type: env.Type, ID: env.ID, Error: &ErrorBody{Code: 404, Message: "unknown command"}})
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// emit plays out one reading: started, then temperature and data at their
// own delays.
func (sim *Simulator) emit(ctx context.Context, sess *simSession, serial string) {
	opts := sim.opts
	triggered := time.Now()

	if !sleepCtx(ctx, opts.StartDelay) {
		return
	}
	if reason, refused := opts.Reject[serial]; refused {
		sess.notify(string(acquisition.KindReadingStarted), acquisition.StartedNotification{Serial: serial, Success: false, Message: reason})
		return
	}
	sess.notify(string(acquisition.KindReadingStarted), acquisition.StartedNotification{Serial: serial, Success: true})

	var wg sync.WaitGroup
	if !opts.DropTemperature {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if sleepCtx(ctx, opts.TemperatureDelay-time.Since(triggered)) {
				sess.notify(string(acquisition.KindTemperature), acquisition.TemperatureNotification{Serial: serial, Temperature: opts.Temperature})
			}
		}()
	}
	if !opts.DropData && sleepCtx(ctx, opts.DataDelay-time.Since(triggered)) {
		sess.notify(string(acquisition.KindReadingData), sim.reading(serial))
	}
	wg.Wait()
}

// reading synthesises one waveform: a 60 Hz tone on X, a 120 Hz harmonic
// on Y and a 1 g offset with a 25 Hz wobble on Z.
func (sim *Simulator) reading(serial string) acquisition.DataNotification {
	opts := sim.opts
	n := opts.Samples
	x := make([]float64, n)
	y := make([]float64, n)
	z := make([]float64, n)
	for i := 0; i < n; i++ {
		t := float64(i) / opts.SampleRate
		x[i] = round3(opts.Amplitude * math.Sin(2*math.Pi*60*t))
		y[i] = round3(0.6 * opts.Amplitude * math.Sin(2*math.Pi*120*t+0.5))
		z[i] = round3(1 + 0.2*opts.Amplitude*math.Cos(2*math.Pi*25*t))
	}

	return acquisition.DataNotification{
		Serial:     serial,
		ReadingID:  sim.readingID.Add(1),
		Timestamp:  time.Now().UTC(),
		SampleRate: opts.SampleRate,
		Samples:    n,
		X:          encodeAxis(opts.Encoding, x),
		Y:          encodeAxis(opts.Encoding, y),
		Z:          encodeAxis(opts.Encoding, z),
	}
}

// round3 keeps values exactly representable at the packed divisor.
func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func encodeAxis(enc waveform.Encoding, values []float64) string {
	switch enc {
	case waveform.EncodingJSONArray:
		b, _ := json.Marshal(values)
		return string(b)
	case waveform.EncodingPacked:
		return waveform.EncodePacked(values, waveform.DefaultPackedDivisor)
	default:
		return waveform.EncodeDelimited(values)
	}
}

// ServeHTTP upgrades the request to a WebSocket and serves it, so the
// simulator can stand in for a networked gateway.
func (sim *Simulator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := sim.upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Logf("simulator: upgrade failed: %v", err)
		return
	}
	if err := sim.Serve(r.Context(), NewWebSocketConn(ws)); err != nil {
		monitoring.Debugf("simulator: session ended: %v", err)
	}
}
