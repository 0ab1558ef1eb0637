package event

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_EmitDeliversInSubscriptionOrder(t *testing.T) {
	t.Parallel()

	b := NewBus()
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		b.Subscribe(TaskCreated, func(Event) error {
			order = append(order, i)
			return nil
		})
	}

	b.Emit(TaskCreated, nil)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestBus_EmitCarriesPayload(t *testing.T) {
	t.Parallel()

	b := NewBus()
	var got Event
	b.Subscribe(ViewChanged, func(e Event) error {
		got = e
		return nil
	})

	b.Emit(ViewChanged, ViewChangedEvent{From: "month", To: "agenda"})

	assert.Equal(t, ViewChanged, got.Type)
	payload, ok := got.Payload.(ViewChangedEvent)
	require.True(t, ok)
	assert.Equal(t, "agenda", payload.To)
}

func TestBus_EmitToOtherTypeDoesNotDeliver(t *testing.T) {
	t.Parallel()

	b := NewBus()
	called := false
	b.Subscribe(TaskCreated, func(Event) error {
		called = true
		return nil
	})

	b.Emit(TaskDeleted, nil)
	assert.False(t, called)
}

func TestBus_FailingHandlerDoesNotBlockSiblings(t *testing.T) {
	t.Parallel()

	b := NewBus()
	var delivered []string
	b.Subscribe(TaskCreated, func(Event) error {
		delivered = append(delivered, "first")
		return errors.New("boom")
	})
	b.Subscribe(TaskCreated, func(Event) error {
		delivered = append(delivered, "second")
		return nil
	})

	b.Emit(TaskCreated, nil)
	assert.Equal(t, []string{"first", "second"}, delivered)
}

func TestBus_PanickingHandlerIsContained(t *testing.T) {
	t.Parallel()

	b := NewBus()
	reached := false
	b.Subscribe(TaskCreated, func(Event) error {
		panic("handler exploded")
	})
	b.Subscribe(TaskCreated, func(Event) error {
		reached = true
		return nil
	})

	require.NotPanics(t, func() { b.Emit(TaskCreated, nil) })
	assert.True(t, reached)
}

func TestBus_FaultFuncReceivesOwnerAndError(t *testing.T) {
	t.Parallel()

	b := NewBus()
	var faultOwner string
	var faultErr error
	b.SetFaultFunc(func(owner string, e Event, err error) {
		faultOwner = owner
		faultErr = err
	})

	b.SubscribeFor("weather", TaskCreated, func(Event) error {
		return errors.New("boom")
	})

	b.Emit(TaskCreated, nil)
	assert.Equal(t, "weather", faultOwner)
	require.Error(t, faultErr)
	assert.Contains(t, faultErr.Error(), "boom")
}

func TestBus_Unsubscribe(t *testing.T) {
	t.Parallel()

	b := NewBus()
	calls := 0
	sub := b.Subscribe(TaskCreated, func(Event) error {
		calls++
		return nil
	})

	b.Emit(TaskCreated, nil)
	b.Unsubscribe(sub)
	b.Emit(TaskCreated, nil)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, b.SubscriberCount(TaskCreated))

	// Removing again, or removing nil, is a no-op.
	b.Unsubscribe(sub)
	b.Unsubscribe(nil)
}

func TestBus_UnsubscribeOwner(t *testing.T) {
	t.Parallel()

	b := NewBus()
	b.SubscribeFor("weather", TaskCreated, func(Event) error { return nil })
	b.SubscribeFor("weather", TaskDeleted, func(Event) error { return nil })
	b.SubscribeFor("agenda", TaskCreated, func(Event) error { return nil })

	removed := b.UnsubscribeOwner("weather")
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, b.SubscriberCount(TaskCreated))
	assert.Equal(t, 0, b.SubscriberCount(TaskDeleted))

	assert.Equal(t, 0, b.UnsubscribeOwner("weather"))
	assert.Equal(t, 0, b.UnsubscribeOwner(""))
}

func TestBus_SubscriberAddedDuringEmitMissesIt(t *testing.T) {
	t.Parallel()

	b := NewBus()
	lateCalled := false
	b.Subscribe(TaskCreated, func(Event) error {
		b.Subscribe(TaskCreated, func(Event) error {
			lateCalled = true
			return nil
		})
		return nil
	})

	b.Emit(TaskCreated, nil)
	assert.False(t, lateCalled)

	b.Emit(TaskCreated, nil)
	assert.True(t, lateCalled)
}

func TestBus_ConcurrentEmitAndSubscribe(t *testing.T) {
	t.Parallel()

	b := NewBus()
	var mu sync.Mutex
	count := 0
	b.Subscribe(TaskCreated, func(Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			b.Emit(TaskCreated, nil)
		}()
		go func() {
			defer wg.Done()
			sub := b.Subscribe(TaskUpdated, func(Event) error { return nil })
			b.Unsubscribe(sub)
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 10, count)
}
