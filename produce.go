package stream

import (
	"context"
	"time"
)

// Producer is the uniform lazy sequence shared by all transports. A producer
// calls emit for each value in order and returns when the sequence
// terminates. A nil return means the sequence completed. Producers must stop
// promptly when ctx is canceled. Values from one producer run are delivered
// in order; nothing is guaranteed across independent runs.
type Producer[T any] func(ctx context.Context, emit func(T)) error

// Single adapts a one-value factory into a producer that emits exactly one
// value then completes, or fails without emitting.
func Single[T any](produce func(ctx context.Context) (T, error)) Producer[T] {
	return func(ctx context.Context, emit func(T)) error {
		value, err := produce(ctx)
		if err != nil {
			return err
		}
		emit(value)
		return nil
	}
}

// TickerUsers yields the given users one per interval tick, in order, then
// completes. This is the demo stream adapter. It is not backed by the real
// transport.
func TickerUsers(users []*User, interval time.Duration) Producer[*User] {
	return func(ctx context.Context, emit func(*User)) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for _, user := range users {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				emit(user)
			}
		}
		return nil
	}
}
