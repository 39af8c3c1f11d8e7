package stream

import (
	"context"
	"slices"
	"sync"
)

// ChangeEvent is the closed set of list change notifications. The variants
// are sealed so that a dispatch site handles every kind.
type ChangeEvent interface {
	changeEvent()
}

type UserCreated struct {
	User      *User
	Timestamp int64
}

type UserUpdated struct {
	User      *User
	Timestamp int64
}

type UserDeleted struct {
	User      *User
	Timestamp int64
}

func (self *UserCreated) changeEvent() {}
func (self *UserUpdated) changeEvent() {}
func (self *UserDeleted) changeEvent() {}

// Reconciler folds change events into the current ordered list, in arrival
// order. It holds the only mutable copy; Users returns a snapshot.
type Reconciler struct {
	monitor *Monitor

	mutex sync.Mutex
	users []*User
}

func NewReconciler() *Reconciler {
	return &Reconciler{
		monitor: NewMonitor(),
	}
}

// Apply applies one event.
// Created appends without checking for an existing id, so a duplicate
// created for the same id yields duplicate entries. Updated replaces in
// place, keeping list order, and drops events for unknown ids. Deleted
// removes matching entries and is a no-op when absent.
func (self *Reconciler) Apply(event ChangeEvent) {
	self.mutex.Lock()
	switch v := event.(type) {
	case *UserCreated:
		self.users = append(self.users, v.User)
	case *UserUpdated:
		for i, user := range self.users {
			if user.Id == v.User.Id {
				self.users[i] = v.User
				break
			}
		}
	case *UserDeleted:
		self.users = slices.DeleteFunc(self.users, func(user *User) bool {
			return user.Id == v.User.Id
		})
	}
	self.mutex.Unlock()
	self.monitor.NotifyAll()
}

func (self *Reconciler) Users() []*User {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return slices.Clone(self.users)
}

// NotifyChannel signals after each applied event. Take the channel before
// reading Users.
func (self *Reconciler) NotifyChannel() <-chan struct{} {
	return self.monitor.NotifyChannel()
}

// Watch folds socket frames from messages into the list until ctx is done or
// the channel closes. Frames with an unknown event type are dropped.
func (self *Reconciler) Watch(ctx context.Context, messages <-chan *SocketMessage) {
	logDrop := LogFn(LogLevelInfo, "[reconcile]")
	go HandleError(func() {
		for {
			select {
			case <-ctx.Done():
				return
			case message, ok := <-messages:
				if !ok {
					return
				}
				event, err := message.ChangeEvent()
				if err != nil {
					logDrop("drop event = %s", err)
					continue
				}
				self.Apply(event)
			}
		}
	})
}
