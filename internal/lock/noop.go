package lock

import (
	"context"
	"time"
)

// NoOpLocker grants every stream lock immediately. It backs the "none" lock
// backend, where a single producer per stream is guaranteed by deployment
// rather than by the client. Only a cancelled context makes a call fail.
type NoOpLocker struct{}

// NewNoOpLocker creates a NoOpLocker.
func NewNoOpLocker() *NoOpLocker {
	return &NoOpLocker{}
}

// Acquire grants key unless ctx is done.
func (*NoOpLocker) Acquire(ctx context.Context, _ string, _ time.Duration) (bool, error) {
	return granted(ctx)
}

// AcquireWithRetry grants key on the first attempt unless ctx is done.
func (*NoOpLocker) AcquireWithRetry(ctx context.Context, _ string, _ time.Duration, _ int, _ time.Duration) (bool, error) {
	return granted(ctx)
}

// Release reports the stream lock as released.
func (*NoOpLocker) Release(ctx context.Context, _ string) (bool, error) {
	return granted(ctx)
}

// Extend reports the stream lock as extended, so upload keep-alives never fail.
func (*NoOpLocker) Extend(ctx context.Context, _ string, _ time.Duration) (bool, error) {
	return granted(ctx)
}

// IsHeld reports false: no upload is ever recorded as holding a stream.
func (*NoOpLocker) IsHeld(ctx context.Context, _ string) (bool, error) {
	return false, ctx.Err()
}

func granted(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return true, nil
}

var _ Locker = (*NoOpLocker)(nil)
