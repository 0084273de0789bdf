package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Runner is a long-lived loop such as the realtime relay subscription.
type Runner interface {
	Run(ctx context.Context) error
}

const (
	minRestartDelay = 500 * time.Millisecond
	maxRestartDelay = 30 * time.Second
)

// StartRelayWorker keeps runner alive until ctx ends, restarting it with
// exponential backoff whenever it fails. The returned channel is closed
// once the worker has stopped.
func StartRelayWorker(ctx context.Context, runner Runner, logger *zap.Logger) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		delay := minRestartDelay
		for {
			err := runner.Run(ctx)
			if ctx.Err() != nil {
				return
			}
			if err == nil {
				// local relays have nothing to do
				return
			}
			logger.Warn("realtime relay stopped; restarting", zap.Error(err), zap.Duration("backoff", delay))
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > maxRestartDelay {
				delay = maxRestartDelay
			}
		}
	}()
	return done
}
