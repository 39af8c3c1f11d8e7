package stream

import (
	"context"
	"sync"
)

// MutationState mirrors QueryState for caller-triggered writes.
type MutationState[R any] struct {
	Result    R
	HasResult bool
	Loading   bool
	Err       *ApiError
}

type MutationCallbacks[R any] struct {
	OnSuccess func(result R)
	OnError   func(err *ApiError)
}

// Mutation executes caller-triggered writes with their own loading / error /
// result state, independent of any query. No retry is layered here:
// create and delete are not idempotent by id, so the execute func must opt in
// to its own retry if it wants one. Concurrent calls are not coalesced; each
// Mutate runs independently and the published state reflects whichever
// completes last.
type Mutation[A any, R any] struct {
	ctx    context.Context
	cancel context.CancelFunc

	execute func(ctx context.Context, input A) (R, error)

	monitor *Monitor

	mutex    sync.Mutex
	inflight int
	state    MutationState[R]
}

func NewMutation[A any, R any](ctx context.Context, execute func(ctx context.Context, input A) (R, error)) *Mutation[A, R] {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &Mutation[A, R]{
		ctx:     cancelCtx,
		cancel:  cancel,
		execute: execute,
		monitor: NewMonitor(),
	}
}

// Mutate starts one execution over input. The returned cancel func
// unsubscribes without altering already-published result or error; a
// canceled execution invokes neither callback and clears loading once the
// execution unwinds. Loading stays true while any execution is in flight.
func (self *Mutation[A, R]) Mutate(input A, callbacks MutationCallbacks[R]) func() {
	subCtx, subCancel := context.WithCancel(self.ctx)

	self.mutex.Lock()
	self.inflight += 1
	self.state.Loading = true
	self.state.Err = nil
	self.mutex.Unlock()
	self.monitor.NotifyAll()

	go HandleError(func() {
		result, err := self.execute(subCtx, input)
		if subCtx.Err() != nil {
			self.mutex.Lock()
			self.inflight -= 1
			self.state.Loading = 0 < self.inflight
			self.mutex.Unlock()
			self.monitor.NotifyAll()
			return
		}
		if err != nil {
			apiErr := NormalizeError(err)
			self.mutex.Lock()
			self.inflight -= 1
			var empty R
			self.state.Result = empty
			self.state.HasResult = false
			self.state.Err = apiErr
			self.state.Loading = 0 < self.inflight
			self.mutex.Unlock()
			self.monitor.NotifyAll()
			if callbacks.OnError != nil {
				callbacks.OnError(apiErr)
			}
			return
		}
		self.mutex.Lock()
		self.inflight -= 1
		self.state.Result = result
		self.state.HasResult = true
		self.state.Err = nil
		self.state.Loading = 0 < self.inflight
		self.mutex.Unlock()
		self.monitor.NotifyAll()
		if callbacks.OnSuccess != nil {
			callbacks.OnSuccess(result)
		}
	}, func(err error) {
		// a panicking execute must not leave loading stuck
		self.mutex.Lock()
		self.inflight -= 1
		self.state.Loading = 0 < self.inflight
		self.mutex.Unlock()
		self.monitor.NotifyAll()
	})

	return subCancel
}

// Reset clears result, error, and loading back to initial.
func (self *Mutation[A, R]) Reset() {
	self.mutex.Lock()
	self.state = MutationState[R]{}
	self.mutex.Unlock()
	self.monitor.NotifyAll()
}

func (self *Mutation[A, R]) State() MutationState[R] {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.state
}

// WaitFor blocks until the published state satisfies the predicate or ctx is
// done.
func (self *Mutation[A, R]) WaitFor(ctx context.Context, predicate func(MutationState[R]) bool) (MutationState[R], error) {
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

func (self *Mutation[A, R]) Close() {
	self.cancel()
}
