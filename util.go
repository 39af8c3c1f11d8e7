package stream

import (
	"sync"
)

// Monitor notifies waiters of updates by closing the update channel and
// replacing it. Waiters must take the channel before reading the state they
// wait on, or they can miss an update.
type Monitor struct {
	mutex  sync.Mutex
	update chan struct{}
}

func NewMonitor() *Monitor {
	return &Monitor{
		update: make(chan struct{}),
	}
}

func (self *Monitor) NotifyChannel() <-chan struct{} {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.update
}

func (self *Monitor) NotifyAll() {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	close(self.update)
	self.update = make(chan struct{})
}

// callbackList is a listener registry. Callbacks are snapshotted before
// dispatch so that add/remove during a callback cannot deadlock.
type callbackList[T any] struct {
	mutex     sync.Mutex
	callbacks map[Id]T
}

func newCallbackList[T any]() *callbackList[T] {
	return &callbackList[T]{
		callbacks: map[Id]T{},
	}
}

func (self *callbackList[T]) add(callback T) Id {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	callbackId := NewId()
	self.callbacks[callbackId] = callback
	return callbackId
}

func (self *callbackList[T]) remove(callbackId Id) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	delete(self.callbacks, callbackId)
}

func (self *callbackList[T]) get() []T {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	callbacks := make([]T, 0, len(self.callbacks))
	for _, callback := range self.callbacks {
		callbacks = append(callbacks, callback)
	}
	return callbacks
}
