package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/vibration.report/internal/timeutil"
)

// Token is a pending wait for exactly one event of one kind. It is resolved
// at most once.
type Token struct {
	bus    *Bus
	kind   Kind
	ch     chan Event
	closed chan struct{}
}

// Kind returns the notification kind the token waits for.
func (t *Token) Kind() Kind {
	return t.kind
}

// C returns the channel the resolving event is delivered on.
func (t *Token) C() <-chan Event {
	return t.ch
}

// Cancel deregisters the token. It reports whether the token was still
// pending; false means it was already resolved, cancelled or released by
// Close.
func (t *Token) Cancel() bool {
	return t.bus.remove(t)
}

// Wait blocks until the token resolves, ctx is done or the bus closes. The
// token is deregistered on return.
func (t *Token) Wait(ctx context.Context) (Event, error) {
	defer t.Cancel()
	select {
	case ev := <-t.ch:
		return ev, nil
	case <-ctx.Done():
		if ev, ok := t.settle(); ok {
			return ev, nil
		}
		return Event{}, ctx.Err()
	case <-t.closed:
		return Event{}, ErrClosed
	}
}

// settle deregisters the token and returns an event that was delivered
// before deregistration completed, if any.
func (t *Token) settle() (Event, bool) {
	if t.Cancel() {
		return Event{}, false
	}
	select {
	case ev := <-t.ch:
		return ev, true
	default:
		return Event{}, false
	}
}

// TimeoutError reports that no event of Kind arrived within After.
type TimeoutError struct {
	Kind    Kind
	After   time.Duration
	Message string
}

func (e *TimeoutError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("notify: no %s notification within %s", e.Kind, e.After)
}

// Timeout reports true, matching the net.Error convention.
func (e *TimeoutError) Timeout() bool { return true }

// RaceWithTimeout waits for t to resolve, for d to elapse on clock, or for ctx
// to finish, whichever happens first. On timeout it returns a *TimeoutError
// carrying message. An event dispatched before the token is deregistered
// always wins over the timer, so a resolved token never reports a timeout.
// The token is deregistered on every return path. A nil clock uses real time.
func RaceWithTimeout(ctx context.Context, clock timeutil.Clock, t *Token, d time.Duration, message string) (Event, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	timer := clock.NewTimer(d)
	defer timer.Stop()
	defer t.Cancel()

	select {
	case ev := <-t.ch:
		return ev, nil
	case <-timer.C():
		if ev, ok := t.settle(); ok {
			return ev, nil
		}
		return Event{}, &TimeoutError{Kind: t.kind, After: d, Message: message}
	case <-ctx.Done():
		if ev, ok := t.settle(); ok {
			return ev, nil
		}
		return Event{}, ctx.Err()
	case <-t.closed:
		return Event{}, ErrClosed
	}
}
