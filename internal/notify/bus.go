// Package notify correlates fire-and-forget gateway notifications with the
// code waiting for them.
//
// A Bus has two kinds of listener. Broadcast subscribers see every event, as
// serial mux subscribers see every line. One-shot tokens wait for the next
// event of a single kind: each dispatch resolves the oldest pending token of
// that kind and removes it. Nothing is queued. An event dispatched while no
// token of its kind is registered is gone, so callers must register before
// they trigger whatever produces the event.
package notify

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/banshee-data/vibration.report/internal/timeutil"
)

// ErrClosed is returned to waiters when the bus shuts down.
var ErrClosed = errors.New("notify: bus closed")

// Kind discriminates notifications, e.g. "reading_started".
type Kind string

// Event is one inbound notification.
type Event struct {
	Kind       Kind            `json:"type"`
	Payload    json.RawMessage `json:"data,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v interface{}) error {
	if len(e.Payload) == 0 {
		return errors.New("notify: empty payload")
	}
	return json.Unmarshal(e.Payload, v)
}

// Registrar hands out one-shot tokens.
type Registrar interface {
	Await(kind Kind) *Token
}

// subscriberBuffer bounds how far a broadcast subscriber may lag before
// events are dropped for it.
const subscriberBuffer = 64

// Bus fans notifications out to broadcast subscribers and resolves one-shot
// tokens.
type Bus struct {
	clock       timeutil.Clock
	mu          sync.Mutex
	pending     map[Kind][]*Token
	subscribers map[string]chan Event
	closing     bool
}

// NewBus creates an empty Bus that stamps events with real time.
func NewBus() *Bus {
	return NewBusWithClock(timeutil.RealClock{})
}

// NewBusWithClock creates an empty Bus that stamps ReceivedAt from clock.
func NewBusWithClock(clock timeutil.Clock) *Bus {
	return &Bus{
		clock:       clock,
		pending:     make(map[Kind][]*Token),
		subscribers: make(map[string]chan Event),
	}
}

// randomID generates a random subscriber ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// Await registers a token for the next event of kind. The token is live as
// soon as Await returns.
func (b *Bus) Await(kind Kind) *Token {
	t := &Token{
		bus:    b,
		kind:   kind,
		ch:     make(chan Event, 1),
		closed: make(chan struct{}),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closing {
		close(t.closed)
		return t
	}
	b.pending[kind] = append(b.pending[kind], t)
	return t
}

// AwaitOnce registers interest in the next event of kind on r.
func AwaitOnce(r Registrar, kind Kind) *Token {
	return r.Await(kind)
}

// Dispatch delivers ev to every broadcast subscriber (dropping it for any
// subscriber whose buffer is full) and resolves the oldest pending token of
// ev.Kind. It reports whether a token was resolved.
func (b *Bus) Dispatch(ev Event) bool {
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = b.clock.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closing {
		return false
	}

	for _, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}

	queue := b.pending[ev.Kind]
	if len(queue) == 0 {
		return false
	}
	t := queue[0]
	queue[0] = nil
	if len(queue) == 1 {
		delete(b.pending, ev.Kind)
	} else {
		b.pending[ev.Kind] = queue[1:]
	}
	// ch has capacity one and a token leaves the queue exactly once, so this
	// never blocks.
	t.ch <- ev
	return true
}

// Pending returns the number of unresolved tokens for kind.
func (b *Bus) Pending(kind Kind) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending[kind])
}

// Subscribe creates a broadcast channel that receives every dispatched
// event. The ID is used to unsubscribe.
func (b *Bus) Subscribe() (string, <-chan Event) {
	id := randomID()
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closing {
		close(ch)
		return id, ch
	}
	b.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a broadcast subscriber and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
}

// Close closes every subscriber channel and releases every pending token with
// ErrClosed. Later registrations are released immediately.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closing {
		return
	}
	b.closing = true

	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
	for kind, queue := range b.pending {
		for _, t := range queue {
			close(t.closed)
		}
		delete(b.pending, kind)
	}
}

// remove takes t out of the pending queue. It reports whether t was still
// pending.
func (b *Bus) remove(t *Token) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	queue := b.pending[t.kind]
	for i, p := range queue {
		if p != t {
			continue
		}
		queue = append(queue[:i], queue[i+1:]...)
		if len(queue) == 0 {
			delete(b.pending, t.kind)
		} else {
			b.pending[t.kind] = queue
		}
		return true
	}
	return false
}
