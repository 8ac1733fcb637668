package pipeline

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corda/corda-runtime-os-sub032/internal/ir"
)

func TestEventQueue_FIFO(t *testing.T) {
	q := newEventQueue()

	for _, id := range []string{"A", "B", "C"} {
		require.True(t, q.Enqueue(ir.FlowEvent{FlowID: id, Kind: ir.EventWakeup}))
	}

	for _, want := range []string{"A", "B", "C"} {
		e, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, e.FlowID)
	}
}

func TestEventQueue_TryDequeue_Empty(t *testing.T) {
	q := newEventQueue()

	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestEventQueue_Enqueue_AfterClose(t *testing.T) {
	q := newEventQueue()
	q.Close()
	q.Close() // idempotent

	ok := q.Enqueue(ir.FlowEvent{FlowID: "after-close"})
	assert.False(t, ok, "enqueue after close should return false")
}

func TestEventQueue_WaitSignalsAndCloses(t *testing.T) {
	q := newEventQueue()
	q.Enqueue(ir.FlowEvent{FlowID: "x"})

	select {
	case <-q.Wait():
	case <-time.After(100 * time.Millisecond):
		t.Fatal("no signal after enqueue")
	}

	q.Close()
	select {
	case _, open := <-q.Wait():
		assert.False(t, open, "signal channel should be closed")
	case <-time.After(100 * time.Millisecond):
		t.Fatal("close did not wake waiters")
	}
}

func TestEventQueue_Len(t *testing.T) {
	q := newEventQueue()
	assert.Equal(t, 0, q.Len())

	q.Enqueue(ir.FlowEvent{FlowID: "1"})
	q.Enqueue(ir.FlowEvent{FlowID: "2"})
	assert.Equal(t, 2, q.Len())

	q.TryDequeue()
	assert.Equal(t, 1, q.Len())
	q.TryDequeue()
	assert.Equal(t, 0, q.Len())
}

func TestEventQueue_ThreadSafe(t *testing.T) {
	q := newEventQueue()

	const producers = 10
	const eventsPerProducer = 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(producerID int) {
			defer wg.Done()
			for i := 0; i < eventsPerProducer; i++ {
				q.Enqueue(ir.FlowEvent{FlowID: fmt.Sprintf("%d-%d", producerID, i)})
			}
		}(p)
	}
	wg.Wait()

	seen := map[string]bool{}
	for {
		e, ok := q.TryDequeue()
		if !ok {
			break
		}
		seen[e.FlowID] = true
	}
	assert.Len(t, seen, producers*eventsPerProducer)
}
