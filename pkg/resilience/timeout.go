package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/errors"
)

// WithTimeout bounds fn by timeout and reports an expiry as ErrTimeout
// naming the operation. A cancelled parent context is reported as is. fn
// keeps running in the background until it observes the cancellation, so it
// must honor ctx. A non-positive timeout runs fn unbounded.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	cause := fmt.Errorf("%s: %w after %v", name, apperrors.ErrTimeout, timeout)
	bounded, cancel := context.WithTimeoutCause(ctx, timeout, cause)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(bounded) }()

	select {
	case err := <-done:
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil && bounded.Err() != nil {
			return context.Cause(bounded)
		}
		return err
	case <-bounded.Done():
		return context.Cause(bounded)
	}
}
