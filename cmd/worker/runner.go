package main

import (
	"context"
	"sync"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// loop is a long-running background component
type loop interface {
	Run(ctx context.Context) error
}

// runInBackground starts l when the app starts and cancels it on stop,
// waiting for the unit of work in progress to finish.
func runInBackground(lc fx.Lifecycle, logger *zap.Logger, name string, l loop) {
	var (
		wg     sync.WaitGroup
		cancel context.CancelFunc
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())

			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := l.Run(ctx); err != nil {
					logger.Error("background worker exited", zap.String("worker", name), zap.Error(err))
				}
			}()

			logger.Info("background worker started", zap.String("worker", name))
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			if cancel != nil {
				cancel()
			}

			done := make(chan struct{})
			go func() {
				wg.Wait()
				close(done)
			}()

			select {
			case <-done:
				logger.Info("background worker stopped gracefully", zap.String("worker", name))
				return nil
			case <-stopCtx.Done():
				logger.Warn("background worker stop timed out", zap.String("worker", name))
				return stopCtx.Err()
			}
		},
	})
}
