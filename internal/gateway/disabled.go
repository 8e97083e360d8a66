package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
)

// ErrDisabled is returned by every command sent to a Disabled gateway.
var ErrDisabled = errors.New("gateway: disabled")

// Disabled is a Gateway used when no gateway is attached (-disable-gateway).
// It lets the API and admin routes run without hardware: stored sensors and
// attempts stay browsable while every acquisition fails with ErrDisabled.
type Disabled struct {
	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func NewDisabled() *Disabled {
	return &Disabled{done: make(chan struct{})}
}

func (d *Disabled) SendCommand(context.Context, string, interface{}) (json.RawMessage, error) {
	return nil, ErrDisabled
}

// Monitor blocks until ctx is done or the gateway is closed.
func (d *Disabled) Monitor(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-d.done:
		return nil
	}
}

func (d *Disabled) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		close(d.done)
	}
	return nil
}

func (d *Disabled) AttachAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/debug/gateway-disabled", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("gateway disabled"))
	})
}
