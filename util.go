package treestore

import (
	"sync"

	"golang.org/x/exp/maps"
)

// makes a copy of the list on read. callbacks are addressed by id so that
// non-comparable values (functions, closures) can be removed.
type CallbackList[T any] struct {
	stateLock sync.Mutex

	nextCallbackId int
	callbackIds    []int
	callbacks      map[int]T
}

func NewCallbackList[T any]() *CallbackList[T] {
	return &CallbackList[T]{
		callbacks: map[int]T{},
	}
}

// snapshot of the callbacks in add order
func (self *CallbackList[T]) Get() []T {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	out := make([]T, 0, len(self.callbackIds))
	for _, callbackId := range self.callbackIds {
		out = append(out, self.callbacks[callbackId])
	}
	return out
}

func (self *CallbackList[T]) Add(callback T) int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	callbackId := self.nextCallbackId
	self.nextCallbackId += 1
	self.callbackIds = append(self.callbackIds, callbackId)
	self.callbacks[callbackId] = callback
	return callbackId
}

func (self *CallbackList[T]) Remove(callbackId int) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if _, ok := self.callbacks[callbackId]; !ok {
		// not present
		return
	}
	delete(self.callbacks, callbackId)
	for i, id := range self.callbackIds {
		if id == callbackId {
			self.callbackIds = append(self.callbackIds[:i], self.callbackIds[i+1:]...)
			break
		}
	}
}

func (self *CallbackList[T]) Clear() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	maps.Clear(self.callbacks)
	self.callbackIds = nil
}

func (self *CallbackList[T]) Len() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return len(self.callbackIds)
}

// unbounded ordered queue bridging synchronous publishers to a channel
// consumer. `Close` delivers all queued items then closes the out channel.
// `Cancel` drops undelivered items and closes the out channel.
type notifyQueue[T any] struct {
	stateLock sync.Mutex

	items  []T
	closed bool

	updateSignal chan struct{}
	done         chan struct{}
	doneOnce     sync.Once

	out chan T
}

func newNotifyQueue[T any]() *notifyQueue[T] {
	queue := &notifyQueue[T]{
		updateSignal: make(chan struct{}, 1),
		done:         make(chan struct{}),
		out:          make(chan T),
	}
	go queue.run()
	return queue
}

func (self *notifyQueue[T]) Out() <-chan T {
	return self.out
}

func (self *notifyQueue[T]) Add(item T) {
	self.stateLock.Lock()
	if self.closed {
		self.stateLock.Unlock()
		return
	}
	self.items = append(self.items, item)
	self.stateLock.Unlock()

	select {
	case self.updateSignal <- struct{}{}:
	default:
	}
}

func (self *notifyQueue[T]) Close() {
	self.stateLock.Lock()
	self.closed = true
	self.stateLock.Unlock()

	select {
	case self.updateSignal <- struct{}{}:
	default:
	}
}

func (self *notifyQueue[T]) Cancel() {
	self.stateLock.Lock()
	self.closed = true
	self.items = nil
	self.stateLock.Unlock()

	self.doneOnce.Do(func() {
		close(self.done)
	})
}

func (self *notifyQueue[T]) run() {
	defer close(self.out)
	for {
		self.stateLock.Lock()
		var item T
		have := false
		if 0 < len(self.items) {
			item = self.items[0]
			self.items = self.items[1:]
			have = true
		}
		closed := self.closed
		self.stateLock.Unlock()

		if have {
			select {
			case self.out <- item:
			case <-self.done:
				return
			}
			continue
		}
		if closed {
			return
		}
		select {
		case <-self.updateSignal:
		case <-self.done:
			return
		}
	}
}

// redirects notification delivery to a later turn
type ScheduleFunction = func(do func())

// runs scheduled functions on a single goroutine, batching functions
// scheduled close together into one turn. useful to coalesce a run of
// synchronous writes into asynchronously delivered notifications.
type CoalescingScheduler struct {
	stateLock sync.Mutex

	pending []func()

	updateSignal chan struct{}
	done         chan struct{}
	doneOnce     sync.Once
}

func NewCoalescingScheduler() *CoalescingScheduler {
	scheduler := &CoalescingScheduler{
		updateSignal: make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
	go scheduler.run()
	return scheduler
}

func (self *CoalescingScheduler) Schedule(do func()) {
	self.stateLock.Lock()
	self.pending = append(self.pending, do)
	self.stateLock.Unlock()

	select {
	case self.updateSignal <- struct{}{}:
	default:
	}
}

// Close stops the scheduler after running every function already accepted
// by `Schedule`. Functions scheduled after close may not run.
func (self *CoalescingScheduler) Close() {
	self.doneOnce.Do(func() {
		close(self.done)
	})
}

func (self *CoalescingScheduler) run() {
	for {
		select {
		case <-self.updateSignal:
		case <-self.done:
			self.runPending()
			return
		}
		self.runPending()
	}
}

func (self *CoalescingScheduler) runPending() {
	self.stateLock.Lock()
	batch := self.pending
	self.pending = nil
	self.stateLock.Unlock()

	for _, do := range batch {
		do()
	}
}
