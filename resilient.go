package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type ResilienceSettings struct {
	// MaxRetries is the number of re-attempts after the first failure
	MaxRetries uint64
	// RetryDelay is the fixed delay between attempts. No jitter.
	RetryDelay time.Duration
	// Timeout is the overall deadline, counted from subscription start,
	// independent of how many retries occurred
	Timeout time.Duration
}

func DefaultResilienceSettings() *ResilienceSettings {
	return &ResilienceSettings{
		MaxRetries: 3,
		RetryDelay: 1 * time.Second,
		Timeout:    30 * time.Second,
	}
}

// Resilient wraps a producer with bounded retry at a fixed delay, an overall
// wall-clock timeout, and error normalization into `*ApiError`. Retry is
// class-blind: a 4xx is re-attempted the same as a connection failure.
func Resilient[T any](producer Producer[T], settings *ResilienceSettings) Producer[T] {
	return func(ctx context.Context, emit func(T)) error {
		timeoutCtx, timeoutCancel := context.WithTimeout(ctx, settings.Timeout)
		defer timeoutCancel()

		retry := backoff.WithContext(
			backoff.WithMaxRetries(
				backoff.NewConstantBackOff(settings.RetryDelay),
				settings.MaxRetries,
			),
			timeoutCtx,
		)
		err := backoff.Retry(func() error {
			return producer(timeoutCtx, emit)
		}, retry)
		if err != nil {
			if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
				return NewApiError(500, "request timed out")
			}
			if ctx.Err() != nil {
				// canceled by the subscriber, not a failure to report
				return ctx.Err()
			}
			return NormalizeError(err)
		}
		return nil
	}
}

// Shared returns a producer whose underlying run happens at most once per
// returned instance: concurrent and later subscribers observe the same
// in-flight-or-completed result instead of triggering duplicate requests.
// Sharing does not extend across separate Shared calls. Intended for
// single-shot reads.
func Shared[T any](producer Producer[T]) Producer[T] {
	var mutex sync.Mutex
	var done chan struct{}
	var values []T
	var result error
	started := false

	return func(ctx context.Context, emit func(T)) error {
		mutex.Lock()
		if !started {
			started = true
			done = make(chan struct{})
			runDone := done
			go HandleError(func() {
				// the shared run outlives any one subscriber
				err := producer(context.Background(), func(value T) {
					mutex.Lock()
					values = append(values, value)
					mutex.Unlock()
				})
				mutex.Lock()
				result = err
				mutex.Unlock()
				close(runDone)
			}, func(err error) {
				mutex.Lock()
				result = NormalizeError(err)
				mutex.Unlock()
				close(runDone)
			})
		}
		runDone := done
		mutex.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-runDone:
		}

		mutex.Lock()
		runValues := values
		err := result
		mutex.Unlock()
		for _, value := range runValues {
			emit(value)
		}
		return err
	}
}
