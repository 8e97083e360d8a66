package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/vibration.report/internal/timeutil"
)

func event(kind Kind, payload string) Event {
	return Event{Kind: kind, Payload: json.RawMessage(payload)}
}

func received(tok *Token) (Event, bool) {
	select {
	case ev := <-tok.C():
		return ev, true
	default:
		return Event{}, false
	}
}

func TestBus_SingleFire(t *testing.T) {
	bus := NewBus()
	a := AwaitOnce(bus, "K")
	b := AwaitOnce(bus, "K")
	require.Equal(t, 2, bus.Pending("K"))

	assert.True(t, bus.Dispatch(event("K", `{"n":1}`)))

	_, gotA := received(a)
	_, gotB := received(b)
	assert.True(t, gotA != gotB, "exactly one token should resolve (a=%v b=%v)", gotA, gotB)
	assert.Equal(t, 1, bus.Pending("K"))
}

func TestBus_TokenResolvesOnlyOnce(t *testing.T) {
	bus := NewBus()
	tok := bus.Await("K")

	bus.Dispatch(event("K", `1`))
	assert.False(t, bus.Dispatch(event("K", `2`)))

	ev, ok := received(tok)
	require.True(t, ok)
	assert.JSONEq(t, `1`, string(ev.Payload))
	_, ok = received(tok)
	assert.False(t, ok)
	assert.False(t, tok.Cancel(), "a resolved token is no longer pending")
}

func TestBus_LostNotification(t *testing.T) {
	bus := NewBus()

	assert.False(t, bus.Dispatch(event("K", `{}`)))

	tok := bus.Await("K")
	_, ok := received(tok)
	assert.False(t, ok, "an event dispatched before registration must not be replayed")
	assert.Equal(t, 1, bus.Pending("K"))
}

func TestBus_KindsAreIndependent(t *testing.T) {
	bus := NewBus()
	a := bus.Await("A")
	b := bus.Await("B")

	bus.Dispatch(event("B", `"b"`))

	_, ok := received(a)
	assert.False(t, ok)
	ev, ok := received(b)
	require.True(t, ok)
	assert.Equal(t, Kind("B"), ev.Kind)
	assert.False(t, ev.ReceivedAt.IsZero())
}

func TestBus_Cancel(t *testing.T) {
	bus := NewBus()
	tok := bus.Await("K")

	assert.True(t, tok.Cancel())
	assert.False(t, tok.Cancel())
	assert.Equal(t, 0, bus.Pending("K"))
	assert.False(t, bus.Dispatch(event("K", `{}`)))
}

func TestBus_BroadcastSubscribers(t *testing.T) {
	bus := NewBus()
	id1, ch1 := bus.Subscribe()
	id2, ch2 := bus.Subscribe()
	require.NotEqual(t, id1, id2)

	tok := bus.Await("K")
	bus.Dispatch(event("K", `{}`))

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			assert.Equal(t, Kind("K"), ev.Kind)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not observe the event")
		}
	}
	_, ok := received(tok)
	assert.True(t, ok, "broadcast subscribers do not consume the token's event")

	bus.Unsubscribe(id1)
	_, open := <-ch1
	assert.False(t, open)
	bus.Unsubscribe(id1) // second unsubscribe is a no-op
}

func TestBus_SlowSubscriberDoesNotBlockDispatch(t *testing.T) {
	bus := NewBus()
	bus.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*3; i++ {
			bus.Dispatch(event("K", `{}`))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Dispatch blocked on a full subscriber")
	}
}

func TestBus_Close(t *testing.T) {
	bus := NewBus()
	_, ch := bus.Subscribe()
	tok := bus.Await("K")

	bus.Close()
	bus.Close()

	_, open := <-ch
	assert.False(t, open)

	_, err := tok.Wait(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	late := bus.Await("K")
	_, err = RaceWithTimeout(context.Background(), nil, late, time.Hour, "")
	assert.ErrorIs(t, err, ErrClosed)

	_, lateCh := bus.Subscribe()
	_, open = <-lateCh
	assert.False(t, open)
	assert.False(t, bus.Dispatch(event("K", `{}`)))
}

func TestEvent_Decode(t *testing.T) {
	var v struct {
		Success bool `json:"success"`
	}
	require.NoError(t, event("K", `{"success":true}`).Decode(&v))
	assert.True(t, v.Success)

	assert.Error(t, Event{Kind: "K"}.Decode(&v))
}

func TestTimeoutError(t *testing.T) {
	err := error(&TimeoutError{Kind: "reading_data", After: 2 * time.Second})
	assert.Contains(t, err.Error(), "reading_data")
	assert.Contains(t, err.Error(), "2s")

	err = &TimeoutError{Kind: "K", Message: "data never arrived"}
	assert.Equal(t, "data never arrived", err.Error())

	var te *TimeoutError
	assert.True(t, errors.As(err, &te))
	assert.True(t, te.Timeout())
}

func TestRaceWithTimeout_EventBeforeDeadline(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	bus := NewBus()
	tok := bus.Await("K")

	type result struct {
		ev  Event
		err error
	}
	out := make(chan result, 1)
	go func() {
		ev, err := RaceWithTimeout(context.Background(), clock, tok, 10*time.Second, "too slow")
		out <- result{ev, err}
	}()

	require.True(t, clock.WaitForTimers(1, time.Second))
	clock.Advance(5 * time.Second)
	bus.Dispatch(event("K", `{"v":42}`))

	r := <-out
	require.NoError(t, r.err)
	assert.JSONEq(t, `{"v":42}`, string(r.ev.Payload))

	// the deadline passing afterwards has no effect
	clock.Advance(time.Minute)
	assert.Equal(t, 0, clock.ActiveTimers())
	assert.Equal(t, 0, bus.Pending("K"))
}

func TestRaceWithTimeout_Timeout(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	bus := NewBus()
	tok := bus.Await("K")

	errs := make(chan error, 1)
	go func() {
		_, err := RaceWithTimeout(context.Background(), clock, tok, 10*time.Second, "K timed out")
		errs <- err
	}()

	require.True(t, clock.WaitForTimers(1, time.Second))
	clock.Advance(10 * time.Second)

	err := <-errs
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, Kind("K"), te.Kind)
	assert.Equal(t, 10*time.Second, te.After)
	assert.Equal(t, "K timed out", te.Error())

	assert.Equal(t, 0, bus.Pending("K"), "the abandoned token must be deregistered")
	assert.False(t, bus.Dispatch(event("K", `{}`)), "a late event must not reach the abandoned token")
}

func TestRaceWithTimeout_ReadyEventBeatsExpiredTimer(t *testing.T) {
	for i := 0; i < 200; i++ {
		bus := NewBus()
		tok := bus.Await("K")
		bus.Dispatch(event("K", `{}`))

		_, err := RaceWithTimeout(context.Background(), timeutil.RealClock{}, tok, 0, "")
		require.NoError(t, err, "iteration %d", i)
	}
}

func TestRaceWithTimeout_ContextCancelled(t *testing.T) {
	bus := NewBus()
	tok := bus.Await("K")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := RaceWithTimeout(ctx, timeutil.NewMockClock(time.Time{}), tok, time.Hour, "")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, bus.Pending("K"))
}

func TestToken_Wait(t *testing.T) {
	bus := NewBus()
	tok := bus.Await("K")

	go bus.Dispatch(event("K", `"hello"`))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ev, err := tok.Wait(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `"hello"`, string(ev.Payload))
}

func TestBus_StampsReceivedAt(t *testing.T) {
	at := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	bus := NewBusWithClock(timeutil.NewMockClock(at))
	tok := bus.Await("K")

	bus.Dispatch(event("K", `{}`))
	ev, ok := received(tok)
	require.True(t, ok)
	assert.Equal(t, at, ev.ReceivedAt)

	// a timestamp set by the sender is kept
	tok = bus.Await("K")
	sent := at.Add(-time.Minute)
	bus.Dispatch(Event{Kind: "K", Payload: json.RawMessage(`{}`), ReceivedAt: sent})
	ev, ok = received(tok)
	require.True(t, ok)
	assert.Equal(t, sent, ev.ReceivedAt)
}
