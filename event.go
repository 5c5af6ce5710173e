package treestore

import (
	"sync"
)

type TreeEventType string

const (
	TreeEventTypeChildAdded   TreeEventType = "child_added"
	TreeEventTypeChildRemoved TreeEventType = "child_removed"
	TreeEventTypeChildChanged TreeEventType = "child_changed"
	TreeEventTypeValueChanged TreeEventType = "value_changed"
)

// a change event observed at a node. child events carry the live child
// (or a valueless placeholder for child removed), value changed carries
// the node itself.
type TreeEvent struct {
	Type TreeEventType

	node *treeNode
}

// the key of the node the event carries. for a child removed event this is
// the only meaningful state of the placeholder.
func (self *TreeEvent) Key() string {
	return self.node.key
}

type TreeEventFunction = func(event *TreeEvent)

type nodeSubscriber struct {
	eventCallback    TreeEventFunction
	completeCallback func()
}

// per-node subscriber registry. completing the publisher is terminal:
// subscribers are notified once and all later publishes are dropped.
type nodePublisher struct {
	stateLock sync.Mutex

	completed   bool
	subscribers *CallbackList[*nodeSubscriber]
}

func newNodePublisher() *nodePublisher {
	return &nodePublisher{
		subscribers: NewCallbackList[*nodeSubscriber](),
	}
}

func (self *nodePublisher) Subscribe(eventCallback TreeEventFunction, completeCallback func()) func() {
	self.stateLock.Lock()
	completed := self.completed
	self.stateLock.Unlock()

	if completed {
		if completeCallback != nil {
			completeCallback()
		}
		return func() {}
	}

	callbackId := self.subscribers.Add(&nodeSubscriber{
		eventCallback:    eventCallback,
		completeCallback: completeCallback,
	})
	return func() {
		self.subscribers.Remove(callbackId)
	}
}

func (self *nodePublisher) Publish(event *TreeEvent) {
	self.stateLock.Lock()
	completed := self.completed
	self.stateLock.Unlock()
	if completed {
		return
	}

	for _, subscriber := range self.subscribers.Get() {
		if subscriber.eventCallback != nil {
			subscriber.eventCallback(event)
		}
	}
}

func (self *nodePublisher) Complete() {
	self.stateLock.Lock()
	if self.completed {
		self.stateLock.Unlock()
		return
	}
	self.completed = true
	self.stateLock.Unlock()

	subscribers := self.subscribers.Get()
	self.subscribers.Clear()
	for _, subscriber := range subscribers {
		if subscriber.completeCallback != nil {
			subscriber.completeCallback()
		}
	}
}
