package stream

import (
	"context"
	"reflect"
	"sync"
)

// QueryState is the three-state result of a managed query. At any observable
// instant either Loading is true, or exactly one of HasData / Err holds.
// While loading, Data still reflects the previous completed attempt, so
// stale data stays visible during a reload.
type QueryState[T any] struct {
	Data    T
	HasData bool
	Loading bool
	Err     *ApiError
}

// Query manages at most one active subscription to a producer at a time.
// Starting, refetching, or a dependency change cancels the prior
// subscription before the next one begins. Late emissions from a canceled
// subscription never mutate state.
type Query[T any] struct {
	ctx    context.Context
	cancel context.CancelFunc

	monitor        *Monitor
	stateListeners *callbackList[func(QueryState[T])]

	mutex      sync.Mutex
	producer   Producer[T]
	deps       []any
	generation int
	subCancel  context.CancelFunc
	state      QueryState[T]
}

func NewQuery[T any](ctx context.Context) *Query[T] {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &Query[T]{
		ctx:            cancelCtx,
		cancel:         cancel,
		monitor:        NewMonitor(),
		stateListeners: newCallbackList[func(QueryState[T])](),
	}
}

// Start cancels any active subscription and subscribes to the producer.
// deps is the comparison list for SetDeps.
func (self *Query[T]) Start(producer Producer[T], deps []any) {
	self.mutex.Lock()
	self.producer = producer
	self.deps = deps
	state := self.startLocked()
	self.mutex.Unlock()
	self.notify(state)
}

// Refetch re-subscribes with the same producer and dependencies.
func (self *Query[T]) Refetch() {
	self.mutex.Lock()
	if self.producer == nil {
		self.mutex.Unlock()
		return
	}
	state := self.startLocked()
	self.mutex.Unlock()
	self.notify(state)
}

// SetDeps restarts the query when any element of the comparison list changed
// since the last observation.
func (self *Query[T]) SetDeps(deps []any) {
	self.mutex.Lock()
	if self.producer == nil || reflect.DeepEqual(deps, self.deps) {
		self.deps = deps
		self.mutex.Unlock()
		return
	}
	self.deps = deps
	state := self.startLocked()
	self.mutex.Unlock()
	self.notify(state)
}

// Reset cancels any active subscription and returns to idle with no data or
// error. It does not re-trigger loading.
func (self *Query[T]) Reset() {
	self.mutex.Lock()
	self.cancelLocked()
	self.state = QueryState[T]{}
	state := self.state
	self.mutex.Unlock()
	self.notify(state)
}

// Close cancels the active subscription unconditionally. Idempotent.
func (self *Query[T]) Close() {
	self.mutex.Lock()
	self.cancelLocked()
	if self.state.Loading {
		self.state.Loading = false
		state := self.state
		self.mutex.Unlock()
		self.cancel()
		self.notify(state)
		return
	}
	self.mutex.Unlock()
	self.cancel()
}

func (self *Query[T]) State() QueryState[T] {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.state
}

// AddStateListener registers a listener called on every published state
// change. The returned remove func is idempotent.
func (self *Query[T]) AddStateListener(listener func(QueryState[T])) func() {
	listenerId := self.stateListeners.add(listener)
	return func() {
		self.stateListeners.remove(listenerId)
	}
}

// WaitFor blocks until the published state satisfies the predicate or ctx is
// done, and returns the state it last observed.
func (self *Query[T]) WaitFor(ctx context.Context, predicate func(QueryState[T]) bool) (QueryState[T], error) {
	for {
		notify := self.monitor.NotifyChannel()
		state := self.State()
		if predicate(state) {
			return state, nil
		}
		select {
		case <-ctx.Done():
			return state, ctx.Err()
		case <-self.ctx.Done():
			return state, self.ctx.Err()
		case <-notify:
		}
	}
}

// must hold mutex. Cancels the prior subscription synchronously, before the
// new subscription can observe anything.
func (self *Query[T]) cancelLocked() {
	if self.subCancel != nil {
		self.subCancel()
		self.subCancel = nil
	}
	self.generation += 1
}

// must hold mutex
func (self *Query[T]) startLocked() QueryState[T] {
	self.cancelLocked()
	generation := self.generation

	subCtx, subCancel := context.WithCancel(self.ctx)
	self.subCancel = subCancel

	// loading clears the previous error but keeps stale data visible
	self.state.Loading = true
	self.state.Err = nil

	producer := self.producer
	go HandleError(func() {
		hasFirst := false
		err := producer(subCtx, func(value T) {
			if hasFirst {
				// after the first value only cancellation is observed
				return
			}
			hasFirst = true
			self.succeed(generation, value)
		})
		if err != nil && !hasFirst {
			self.fail(generation, err)
		}
		self.finish(generation)
	}, func(err error) {
		self.fail(generation, err)
		self.finish(generation)
	})

	return self.state
}

func (self *Query[T]) succeed(generation int, value T) {
	self.mutex.Lock()
	if generation != self.generation {
		self.mutex.Unlock()
		return
	}
	self.state.Data = value
	self.state.HasData = true
	self.state.Err = nil
	self.state.Loading = false
	state := self.state
	self.mutex.Unlock()
	self.notify(state)
}

func (self *Query[T]) fail(generation int, err error) {
	self.mutex.Lock()
	if generation != self.generation {
		self.mutex.Unlock()
		return
	}
	var empty T
	self.state.Data = empty
	self.state.HasData = false
	self.state.Err = NormalizeError(err)
	self.state.Loading = false
	state := self.state
	self.mutex.Unlock()
	self.notify(state)
}

// clears loading when a subscription terminates without a value or error,
// so loading=false holds on every completion path
func (self *Query[T]) finish(generation int) {
	self.mutex.Lock()
	if generation != self.generation || !self.state.Loading {
		self.mutex.Unlock()
		return
	}
	self.state.Loading = false
	state := self.state
	self.mutex.Unlock()
	self.notify(state)
}

func (self *Query[T]) notify(state QueryState[T]) {
	for _, listener := range self.stateListeners.get() {
		listener(state)
	}
	self.monitor.NotifyAll()
}
