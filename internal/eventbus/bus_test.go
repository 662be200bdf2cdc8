package eventbus

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFanOutInSubscriptionOrder(t *testing.T) {
	bus := New()
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		bus.Subscribe(TranscriptUpdated, func(Event) error {
			order = append(order, i)
			return nil
		})
	}

	require.NoError(t, bus.Publish(TranscriptUpdated, nil))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestPublishDeliversPayloadAndKind(t *testing.T) {
	bus := New()
	var got Event
	bus.Subscribe(TranscriptUpdated, func(ev Event) error {
		got = ev
		return nil
	})

	require.NoError(t, bus.Publish(TranscriptUpdated, []string{"a", "b"}))
	assert.Equal(t, TranscriptUpdated, got.Kind)
	assert.Equal(t, []string{"a", "b"}, got.Payload)
}

func TestPublishOnlyReachesMatchingKind(t *testing.T) {
	bus := New()
	calls := 0
	bus.Subscribe(PauseTranscription, func(Event) error {
		calls++
		return nil
	})

	require.NoError(t, bus.Publish(ResumeTranscription, nil))
	require.NoError(t, bus.Publish(TranscriptUpdated, nil))
	assert.Equal(t, 0, calls)

	require.NoError(t, bus.Publish(PauseTranscription, nil))
	assert.Equal(t, 1, calls)
}

func TestPublishWithoutSubscribers(t *testing.T) {
	bus := New()
	assert.NoError(t, bus.Publish(Shutdown, nil))
}

func TestUnsubscribe(t *testing.T) {
	bus := New()
	var a, b int
	idA := bus.Subscribe(TranscriptUpdated, func(Event) error { a++; return nil })
	bus.Subscribe(TranscriptUpdated, func(Event) error { b++; return nil })

	bus.Unsubscribe(TranscriptUpdated, idA)
	require.NoError(t, bus.Publish(TranscriptUpdated, nil))

	assert.Equal(t, 0, a)
	assert.Equal(t, 1, b)
	assert.Equal(t, 1, bus.SubscriberCount(TranscriptUpdated))
}

func TestUnsubscribeUnknownIsNoop(t *testing.T) {
	bus := New()
	bus.Subscribe(TranscriptUpdated, func(Event) error { return nil })

	bus.Unsubscribe(TranscriptUpdated, SubscriptionID(9999))
	bus.Unsubscribe(Shutdown, SubscriptionID(1))

	assert.Equal(t, 1, bus.SubscriberCount(TranscriptUpdated))
}

func TestUnsubscribeDuringDispatchKeepsCurrentDispatch(t *testing.T) {
	bus := New()
	var calls []string
	var idB SubscriptionID

	bus.Subscribe(TranscriptUpdated, func(Event) error {
		calls = append(calls, "a")
		bus.Unsubscribe(TranscriptUpdated, idB)
		return nil
	})
	idB = bus.Subscribe(TranscriptUpdated, func(Event) error {
		calls = append(calls, "b")
		return nil
	})

	require.NoError(t, bus.Publish(TranscriptUpdated, nil))
	assert.Equal(t, []string{"a", "b"}, calls, "in-flight dispatch uses the snapshot taken at its start")

	calls = nil
	require.NoError(t, bus.Publish(TranscriptUpdated, nil))
	assert.Equal(t, []string{"a"}, calls)
}

func TestSubscribeDuringDispatchAppliesToNextPublish(t *testing.T) {
	bus := New()
	late := 0
	once := sync.Once{}
	bus.Subscribe(TranscriptUpdated, func(Event) error {
		once.Do(func() {
			bus.Subscribe(TranscriptUpdated, func(Event) error { late++; return nil })
		})
		return nil
	})

	require.NoError(t, bus.Publish(TranscriptUpdated, nil))
	assert.Equal(t, 0, late)
	require.NoError(t, bus.Publish(TranscriptUpdated, nil))
	assert.Equal(t, 1, late)
}

func TestHandlerErrorStopsDispatchAndPropagates(t *testing.T) {
	bus := New()
	boom := errors.New("boom")
	reached := false
	bus.Subscribe(TranscriptUpdated, func(Event) error { return boom })
	bus.Subscribe(TranscriptUpdated, func(Event) error { reached = true; return nil })

	err := bus.Publish(TranscriptUpdated, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.False(t, reached)
}

func TestHandlerPanicPropagatesAndReleasesLock(t *testing.T) {
	bus := New()
	id := bus.Subscribe(Shutdown, func(Event) error { panic("consumer bug") })

	assert.Panics(t, func() { _ = bus.Publish(Shutdown, nil) })

	bus.Unsubscribe(Shutdown, id)
	done := make(chan struct{})
	go func() {
		_ = bus.Publish(Shutdown, nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch lock was not released after panic")
	}
}

func TestPublishDifferentKindFromHandler(t *testing.T) {
	bus := New()
	paused := false
	bus.Subscribe(PauseTranscription, func(Event) error { paused = true; return nil })
	bus.Subscribe(TranscriptUpdated, func(Event) error {
		return bus.Publish(PauseTranscription, nil)
	})

	require.NoError(t, bus.Publish(TranscriptUpdated, nil))
	assert.True(t, paused)
}

func TestPublishSameKindIsSerialized(t *testing.T) {
	bus := New()
	var mu sync.Mutex
	inside, maxInside := 0, 0
	bus.Subscribe(TranscriptUpdated, func(Event) error {
		mu.Lock()
		inside++
		if inside > maxInside {
			maxInside = inside
		}
		mu.Unlock()
		time.Sleep(time.Millisecond)
		mu.Lock()
		inside--
		mu.Unlock()
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = bus.Publish(TranscriptUpdated, nil)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxInside)
}

func TestSubscribeAsyncDeliversInOrder(t *testing.T) {
	bus := New()
	var mu sync.Mutex
	var got []int
	bus.SubscribeAsync(TranscriptUpdated, func(ev Event) {
		mu.Lock()
		got = append(got, ev.Payload.(int))
		mu.Unlock()
	})

	for i := 0; i < 10; i++ {
		require.NoError(t, bus.Publish(TranscriptUpdated, i))
	}
	bus.WaitAsync()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
	assert.Equal(t, 1, bus.SubscriberCount(TranscriptUpdated))
}

func TestSubscribeAsyncRecoversPanic(t *testing.T) {
	bus := New()
	delivered := make(chan struct{}, 1)
	bus.SubscribeAsync(Shutdown, func(Event) { panic("async bug") })
	bus.SubscribeAsync(Shutdown, func(Event) { delivered <- struct{}{} })

	require.NoError(t, bus.Publish(Shutdown, nil))
	bus.WaitAsync()

	select {
	case <-delivered:
	default:
		t.Fatal("second async subscriber was not called")
	}
}

func TestUnsubscribeAsync(t *testing.T) {
	bus := New()
	calls := 0
	id := bus.SubscribeAsync(TranscriptUpdated, func(Event) { calls++ })
	bus.Unsubscribe(TranscriptUpdated, id)

	require.NoError(t, bus.Publish(TranscriptUpdated, nil))
	bus.WaitAsync()
	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, bus.SubscriberCount(TranscriptUpdated))
}

func TestCloseStopsAsyncForwarding(t *testing.T) {
	bus := New()
	calls := 0
	bus.SubscribeAsync(TranscriptUpdated, func(Event) { calls++ })
	syncCalls := 0
	bus.Subscribe(TranscriptUpdated, func(Event) error { syncCalls++; return nil })

	bus.Close()
	require.NoError(t, bus.Publish(TranscriptUpdated, nil))
	bus.WaitAsync()

	assert.Equal(t, 0, calls)
	assert.Equal(t, 1, syncCalls)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "transcript:updated", TranscriptUpdated.String())
	assert.Equal(t, "system:shutdown", Shutdown.String())
	assert.Equal(t, "kind:42", Kind(42).String())
}
