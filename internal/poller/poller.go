// Package poller repeats a status check until it reports a final answer.
package poller

import (
	"context"
	"errors"
	"time"
)

const (
	DefaultInterval = 3 * time.Second
	DefaultTimeout  = 120 * time.Second
)

var ErrTimeout = errors.New("polling timed out before a final status")

// CheckFunc reports the current result and whether it is final.
// An error counts as a non-final answer; polling continues.
type CheckFunc[T any] func(ctx context.Context) (result T, done bool, err error)

// Poll calls check immediately and then every interval until check reports done,
// timeout elapses (ErrTimeout) or ctx ends (ctx.Err()). The last result seen is
// always returned.
func Poll[T any](ctx context.Context, interval, timeout time.Duration, check CheckFunc[T]) (T, error) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last T
	for {
		result, done, err := check(ctx)
		if err == nil {
			last = result
			if done {
				return last, nil
			}
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-deadline.C:
			return last, ErrTimeout
		case <-ticker.C:
		}
	}
}
