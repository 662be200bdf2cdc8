// Package eventbus is a small publish/subscribe primitive used to decouple the
// transcription pipeline from the code that consumes its output.
//
// Every event kind owns a dispatch lock that is held for the whole dispatch of
// a Publish call. Handlers therefore run serialized per kind, in subscription
// order, on the publishing goroutine. A handler must never Publish the kind it
// is handling: the dispatch lock is not re-entrant and the call deadlocks.
// Publishing a different kind from inside a handler is fine. Slow consumers
// should use SubscribeAsync so they do not stall the publisher.
package eventbus

import (
	"fmt"
	"sync"
	"sync/atomic"

	evbus "github.com/asaskevich/EventBus"
	"github.com/rs/zerolog/log"
)

// Kind identifies a class of events.
type Kind int

const (
	TranscriptUpdated Kind = iota
	PauseTranscription
	ResumeTranscription
	Shutdown
)

var kindNames = map[Kind]string{
	TranscriptUpdated:   "transcript:updated",
	PauseTranscription:  "transcription:pause",
	ResumeTranscription: "transcription:resume",
	Shutdown:            "system:shutdown",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind:%d", int(k))
}

// Event is delivered to handlers. Payload is nil for control events.
type Event struct {
	Kind    Kind
	Payload any
}

// Handler receives events synchronously. A non-nil error aborts the dispatch
// and is returned to the publisher.
type Handler func(Event) error

// SubscriptionID is an opaque handle returned by Subscribe.
type SubscriptionID uint64

type subscriber struct {
	id SubscriptionID
	fn Handler
}

type asyncSubscriber struct {
	id SubscriptionID
	fn func(Event)
}

type topic struct {
	dispatch sync.Mutex // held across a full Publish

	mu      sync.Mutex // guards the fields below
	subs    []subscriber
	async   []asyncSubscriber
	bridged bool
}

// Bus dispatches events by kind. The zero value is not usable; call New.
type Bus struct {
	mu     sync.Mutex
	topics map[Kind]*topic
	nextID atomic.Uint64
	closed atomic.Bool

	async evbus.Bus
}

func New() *Bus {
	return &Bus{
		topics: make(map[Kind]*topic),
		async:  evbus.New(),
	}
}

func (b *Bus) topic(kind Kind) *topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[kind]
	if !ok {
		t = &topic{}
		b.topics[kind] = t
	}
	return t
}

// Subscribe registers fn for kind and returns its id. It never fails.
func (b *Bus) Subscribe(kind Kind, fn Handler) SubscriptionID {
	id := SubscriptionID(b.nextID.Add(1))
	t := b.topic(kind)
	t.mu.Lock()
	t.subs = append(t.subs, subscriber{id: id, fn: fn})
	t.mu.Unlock()
	return id
}

// Unsubscribe removes a synchronous or asynchronous subscription. Unknown ids
// are ignored. A dispatch already in progress keeps calling the handlers it
// started with.
func (b *Bus) Unsubscribe(kind Kind, id SubscriptionID) {
	t := b.topic(kind)
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, s := range t.subs {
		if s.id == id {
			t.subs = append(t.subs[:i:i], t.subs[i+1:]...)
			return
		}
	}
	for i, s := range t.async {
		if s.id == id {
			t.async = append(t.async[:i:i], t.async[i+1:]...)
			return
		}
	}
}

// Publish calls every handler subscribed to kind, in subscription order, on
// the calling goroutine. The first handler error stops the dispatch and is
// returned. A panicking handler is not recovered.
func (b *Bus) Publish(kind Kind, payload any) error {
	t := b.topic(kind)
	t.dispatch.Lock()
	defer t.dispatch.Unlock()

	t.mu.Lock()
	subs := make([]subscriber, len(t.subs))
	copy(subs, t.subs)
	t.mu.Unlock()

	ev := Event{Kind: kind, Payload: payload}
	for _, s := range subs {
		if err := s.fn(ev); err != nil {
			return fmt.Errorf("publish %s: subscriber %d: %w", kind, s.id, err)
		}
	}
	return nil
}

// SubscribeAsync registers fn to run off the publisher's goroutine. Deliveries
// of one kind are serialized and keep publish order; a publisher only waits
// when the previous delivery of that kind is still running, so fn must not
// publish its own kind either. Panics in fn are recovered and logged.
func (b *Bus) SubscribeAsync(kind Kind, fn func(Event)) SubscriptionID {
	id := SubscriptionID(b.nextID.Add(1))
	t := b.topic(kind)

	t.mu.Lock()
	t.async = append(t.async, asyncSubscriber{id: id, fn: fn})
	bridge := !t.bridged
	t.bridged = true
	t.mu.Unlock()

	if bridge {
		name := kind.String()
		if err := b.async.SubscribeAsync(name, func(ev Event) { b.deliverAsync(t, ev) }, true); err != nil {
			log.Error().Err(err).Str("kind", name).Msg("eventbus: async bridge subscribe failed")
		}
		b.Subscribe(kind, func(ev Event) error {
			if b.closed.Load() {
				return nil
			}
			b.async.Publish(name, ev)
			return nil
		})
	}
	return id
}

func (b *Bus) deliverAsync(t *topic, ev Event) {
	t.mu.Lock()
	subs := make([]asyncSubscriber, len(t.async))
	copy(subs, t.async)
	t.mu.Unlock()

	for _, s := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Str("kind", ev.Kind.String()).Uint64("subscription", uint64(s.id)).Msg("eventbus: async subscriber panicked")
				}
			}()
			s.fn(ev)
		}()
	}
}

// SubscriberCount reports the synchronous and asynchronous subscriptions for kind.
func (b *Bus) SubscriberCount(kind Kind) int {
	t := b.topic(kind)
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.subs) + len(t.async)
	if t.bridged {
		n-- // internal forwarder
	}
	return n
}

// WaitAsync blocks until every queued async delivery has run.
func (b *Bus) WaitAsync() {
	b.async.WaitAsync()
}

// Close stops forwarding to async subscribers and drains pending deliveries.
// Synchronous subscriptions keep working.
func (b *Bus) Close() {
	b.closed.Store(true)
	b.async.WaitAsync()
}
