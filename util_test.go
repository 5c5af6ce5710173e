package treestore

import (
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestCallbackList(t *testing.T) {
	callbacks := NewCallbackList[func()]()
	assert.Equal(t, callbacks.Len(), 0)

	order := []int{}
	aId := callbacks.Add(func() { order = append(order, 0) })
	bId := callbacks.Add(func() { order = append(order, 1) })
	cId := callbacks.Add(func() { order = append(order, 2) })
	assert.Equal(t, callbacks.Len(), 3)

	for _, callback := range callbacks.Get() {
		callback()
	}
	assert.Equal(t, order, []int{0, 1, 2})

	callbacks.Remove(bId)
	assert.Equal(t, callbacks.Len(), 2)
	order = nil
	for _, callback := range callbacks.Get() {
		callback()
	}
	assert.Equal(t, order, []int{0, 2})

	// removing twice is a no-op
	callbacks.Remove(bId)
	assert.Equal(t, callbacks.Len(), 2)

	callbacks.Clear()
	assert.Equal(t, callbacks.Len(), 0)
	callbacks.Remove(aId)
	callbacks.Remove(cId)
}

func TestNotifyQueueOrderAndClose(t *testing.T) {
	queue := newNotifyQueue[int]()

	n := 1000
	for i := 0; i < n; i += 1 {
		queue.Add(i)
	}
	queue.Close()

	// every queued item delivers in order, then the channel closes
	received := []int{}
	for item := range queue.Out() {
		received = append(received, item)
	}
	assert.Equal(t, len(received), n)
	for i, item := range received {
		assert.Equal(t, item, i)
	}

	// adds after close are dropped
	queue.Add(99)
}

func TestNotifyQueueCancel(t *testing.T) {
	queue := newNotifyQueue[int]()

	for i := 0; i < 100; i += 1 {
		queue.Add(i)
	}
	queue.Cancel()

	// cancel closes the channel without requiring a consumer
	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-queue.Out():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("timeout waiting for close")
		}
	}
}

func TestCoalescingScheduler(t *testing.T) {
	scheduler := NewCoalescingScheduler()
	defer scheduler.Close()

	lock := sync.Mutex{}
	order := []int{}
	done := make(chan struct{})

	n := 100
	for i := 0; i < n; i += 1 {
		i := i
		scheduler.Schedule(func() {
			lock.Lock()
			order = append(order, i)
			lock.Unlock()
			if i == n-1 {
				close(done)
			}
		})
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for scheduled functions")
	}

	lock.Lock()
	defer lock.Unlock()
	assert.Equal(t, len(order), n)
	for i, item := range order {
		assert.Equal(t, item, i)
	}
}

func TestCoalescingSchedulerCloseDrains(t *testing.T) {
	scheduler := NewCoalescingScheduler()

	n := 100
	out := make(chan int, n)
	for i := 0; i < n; i += 1 {
		i := i
		scheduler.Schedule(func() {
			out <- i
		})
	}

	// already scheduled functions must still run
	scheduler.Close()

	for i := 0; i < n; i += 1 {
		select {
		case item := <-out:
			assert.Equal(t, item, i)
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for scheduled functions after close")
		}
	}
}
