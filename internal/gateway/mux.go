// Package gateway speaks the sensor gateway's command channel. One Mux owns
// one connection: command responses are matched to their callers by request
// ID and every other frame is dispatched as a notification on a notify.Bus,
// where any number of listeners may observe it.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/vibration.report/internal/monitoring"
	"github.com/banshee-data/vibration.report/internal/notify"
	"github.com/banshee-data/vibration.report/internal/timeutil"
)

// DefaultCommandTimeout bounds the wait for a command response.
const DefaultCommandTimeout = 10 * time.Second

// Gateway is the command channel as seen by the rest of the program.
type Gateway interface {
	// SendCommand sends a command and waits for the gateway's response.
	SendCommand(ctx context.Context, kind string, payload interface{}) (json.RawMessage, error)
	// Monitor reads frames until ctx is done or the connection fails.
	Monitor(ctx context.Context) error
	// Close fails pending commands and closes the connection.
	Close() error
	// AttachAdminRoutes attaches debugging endpoints served at /debug/.
	AttachAdminRoutes(*http.ServeMux)
}

// MuxOptions configures a Mux. Zero values select defaults.
type MuxOptions struct {
	CommandTimeout time.Duration
	Clock          timeutil.Clock
}

type reply struct {
	data json.RawMessage
	err  error
}

// Mux multiplexes commands and notifications over a single connection.
type Mux struct {
	conn    Conn
	bus     *notify.Bus
	timeout time.Duration
	clock   timeutil.Clock

	commandMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan reply
	closing bool
	done    chan struct{}
}

// NewMux creates a Mux over conn that dispatches notifications on bus.
func NewMux(conn Conn, bus *notify.Bus, opts MuxOptions) *Mux {
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	return &Mux{
		conn:    conn,
		bus:     bus,
		timeout: opts.CommandTimeout,
		clock:   opts.Clock,
		pending: make(map[string]chan reply),
		done:    make(chan struct{}),
	}
}

// Bus returns the bus notifications are dispatched on.
func (m *Mux) Bus() *notify.Bus {
	return m.bus
}

// SendCommand writes a command frame and waits for the response with the
// same ID. A gateway error response is returned as a *CommandError.
func (m *Mux) SendCommand(ctx context.Context, kind string, payload interface{}) (json.RawMessage, error) {
	id := uuid.NewString()
	frame, err := encodeEnvelope(kind, id, payload)
	if err != nil {
		return nil, err
	}

	ch := make(chan reply, 1)
	m.mu.Lock()
	if m.closing || m.stopped() {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	m.pending[id] = ch
	m.mu.Unlock()
	defer m.forget(id)

	timer := m.clock.NewTimer(m.timeout)
	defer timer.Stop()

	m.commandMu.Lock()
	err = m.conn.WriteMessage(frame)
	m.commandMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to send %s: %w", kind, err)
	}
	monitoring.Debugf("gateway: sent %s (%s)", kind, id)

	select {
	case r := <-ch:
		return r.data, r.err
	case <-timer.C():
		return nil, fmt.Errorf("%w: %s after %s", ErrCommandTimeout, kind, m.timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.done:
		return nil, ErrClosed
	}
}

func (m *Mux) forget(id string) {
	m.mu.Lock()
	delete(m.pending, id)
	m.mu.Unlock()
}

// Monitor reads frames from the connection until ctx is done or the
// connection fails, routing responses to waiting commands and everything
// else to the notification bus. Pending commands fail with ErrClosed once
// the connection stops delivering frames.
func (m *Mux) Monitor(ctx context.Context) error {
	frames := make(chan []byte)
	readErr := make(chan error, 1)

	// ReadMessage blocks, so it runs apart from the loop that watches ctx.
	go func() {
		defer close(frames)
		for {
			frame, err := m.conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readErr:
			m.shutdown()
			if m.isClosing() {
				return nil
			}
			return err

		case frame, ok := <-frames:
			if !ok {
				// the reader only exits early on ctx or after reporting an error
				select {
				case err := <-readErr:
					m.shutdown()
					if m.isClosing() {
						return nil
					}
					return err
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			m.route(frame)
		}
	}
}

func (m *Mux) route(frame []byte) {
	env, err := decodeEnvelope(frame)
	if err != nil {
		monitoring.Logf("gateway: dropping frame: %v", err)
		return
	}

	if env.ID != "" {
		m.mu.Lock()
		ch, ok := m.pending[env.ID]
		if ok {
			delete(m.pending, env.ID)
		}
		m.mu.Unlock()
		if ok {
			r := reply{data: env.Data}
			if env.Error != nil {
				r.err = &CommandError{Kind: env.Type, Code: env.Error.Code, Message: env.Error.Message}
			}
			ch <- r
			return
		}
	}

	if env.Type == "" {
		monitoring.Logf("gateway: dropping response %s with no waiting command", env.ID)
		return
	}
	if !m.bus.Dispatch(notify.Event{Kind: notify.Kind(env.Type), Payload: env.Data}) {
		monitoring.Debugf("gateway: %s notification had no listener", env.Type)
	}
}

func (m *Mux) isClosing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closing
}

// stopped reports whether shutdown has run. Callers hold m.mu.
func (m *Mux) stopped() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// shutdown fails every pending command and refuses new ones. It returns
// false if it had already run.
func (m *Mux) shutdown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped() {
		return false
	}
	close(m.done)
	for id := range m.pending {
		delete(m.pending, id)
	}
	return true
}

// Close fails pending commands with ErrClosed and closes the connection.
func (m *Mux) Close() error {
	m.mu.Lock()
	m.closing = true
	m.mu.Unlock()
	m.shutdown()
	return m.conn.Close()
}
