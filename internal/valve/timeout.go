package valve

import (
	"context"
	"fmt"
	"time"

	"github.com/srg/valvectl/internal/device"
	"github.com/srg/valvectl/internal/groutine"
)

// withTimeout runs op in its own goroutine and waits for it, d, or ctx,
// whichever comes first. The transport cannot abort an operation in flight:
// on timeout op keeps running and its result is dropped into a buffered channel.
func withTimeout[T any](ctx context.Context, d time.Duration, name string, op func(ctx context.Context) (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}

	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan result, 1)
	groutine.Go(opCtx, name, func(ctx context.Context) {
		v, err := op(ctx)
		done <- result{value: v, err: err}
	})

	timer := time.NewTimer(d)
	defer timer.Stop()

	var zero T
	select {
	case r := <-done:
		return r.value, r.err
	case <-timer.C:
		return zero, fmt.Errorf("%s: %w after %s", name, device.ErrTimeout, d)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// withTimeoutErr is withTimeout for operations without a result value.
func withTimeoutErr(ctx context.Context, d time.Duration, name string, op func(ctx context.Context) error) error {
	_, err := withTimeout(ctx, d, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}
