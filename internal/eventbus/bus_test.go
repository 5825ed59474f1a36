package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/lightctl/internal/ensure"
)

func TestBus_DeliversToAllSubscribers(t *testing.T) {
	bus := NewWithConfig(2, 10)

	var wg sync.WaitGroup
	var calls atomic.Int32
	wg.Add(2)
	for i := 0; i < 2; i++ {
		bus.Subscribe(EventTypePresetActivated, func(Event) {
			calls.Add(1)
			wg.Done()
		})
	}

	bus.Publish(Event{Type: EventTypePresetActivated, Data: "evening"})
	wg.Wait()
	bus.Close(context.Background())

	assert.Equal(t, int32(2), calls.Load())
}

func TestBus_RecoversHandlerPanic(t *testing.T) {
	bus := NewWithConfig(1, 10)

	done := make(chan struct{})
	bus.Subscribe(EventTypePresetActivated, func(e Event) {
		if e.Data == "boom" {
			panic("handler failure")
		}
		close(done)
	})

	bus.Publish(Event{Type: EventTypePresetActivated, Data: "boom"})
	bus.Publish(Event{Type: EventTypePresetActivated, Data: "ok"})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive a panicking handler")
	}
	bus.Close(context.Background())
}

func TestBus_DropsWhenQueueFull(t *testing.T) {
	bus := NewWithConfig(1, 1)

	var dropped atomic.Int32
	bus.OnDrop(func(EventType) { dropped.Add(1) })

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	bus.Subscribe(EventTypePresetActivated, func(Event) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	})

	bus.Publish(Event{Type: EventTypePresetActivated})
	<-started
	bus.Publish(Event{Type: EventTypePresetActivated}) // fills the queue
	bus.Publish(Event{Type: EventTypePresetActivated}) // dropped

	assert.Equal(t, int32(1), dropped.Load())
	close(release)
	bus.Close(context.Background())
}

func TestBus_PublishAfterCloseIsDropped(t *testing.T) {
	bus := NewWithConfig(1, 10)
	var dropped atomic.Int32
	bus.OnDrop(func(EventType) { dropped.Add(1) })
	bus.Subscribe(EventTypePresetActivated, func(Event) {})

	bus.Close(context.Background())
	bus.Close(context.Background())

	assert.NotPanics(t, func() { bus.Publish(Event{Type: EventTypePresetActivated}) })
	assert.Equal(t, int32(1), dropped.Load())
}

func TestSink_PublishesOperationRecords(t *testing.T) {
	bus := NewWithConfig(1, 10)

	got := make(chan ensure.OperationRecord, 1)
	bus.Subscribe(EventTypeOperationCompleted, OperationHandler(func(rec ensure.OperationRecord) {
		got <- rec
	}))

	NewSink(bus).Record(ensure.OperationRecord{
		Result: ensure.OperationResult{OperationID: "op-7", Code: ensure.ResultTimeout},
		Source: "lua",
	})

	select {
	case rec := <-got:
		require.Equal(t, "op-7", rec.Result.OperationID)
		assert.Equal(t, "lua", rec.Source)
	case <-time.After(2 * time.Second):
		t.Fatal("record not delivered")
	}
	bus.Close(context.Background())
}
