package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/s35241607/ticket-system/internal/pkg/logger"
)

// defaultJobStopTimeout bounds how long running relays and sweeps may finish
// on shutdown when no server shutdown timeout is configured.
const defaultJobStopTimeout = 30 * time.Second

// jobStopper is the part of *river.Client used on shutdown.
type jobStopper interface {
	Stop(ctx context.Context) error
	StopAndCancel(ctx context.Context) error
}

// Start begins consuming relay, sweep and cleanup jobs. Without a River
// client (no database) it does nothing.
func (a *Application) Start(ctx context.Context) error {
	if a.DB == nil || a.DB.RiverClient == nil {
		return nil
	}
	if err := a.DB.RiverClient.Start(ctx); err != nil {
		return fmt.Errorf("start river client: %w", err)
	}
	names := make([]string, 0, len(a.Modules))
	for _, mod := range a.Modules {
		if mod != nil {
			names = append(names, mod.Name())
		}
	}
	logger.Info("Job processing started", zap.Strings("modules", names))
	return nil
}

// Shutdown stops job processing, then the modules, then infrastructure.
func (a *Application) Shutdown() {
	ctx := context.Background()

	if a.DB != nil && a.DB.RiverClient != nil {
		stopJobs(ctx, a.DB.RiverClient, a.jobStopTimeout())
	}

	for _, mod := range a.Modules {
		if mod == nil {
			continue
		}
		if err := mod.Shutdown(ctx); err != nil {
			logger.Warn("module shutdown returned error",
				zap.String("module", mod.Name()),
				zap.Error(err),
			)
		}
	}

	if a.infra != nil {
		a.infra.Close()
		return
	}
	if a.Pools != nil {
		a.Pools.Shutdown()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}

func (a *Application) jobStopTimeout() time.Duration {
	if a.Config != nil && a.Config.Server.ShutdownTimeout > 0 {
		return a.Config.Server.ShutdownTimeout
	}
	return defaultJobStopTimeout
}

// stopJobs lets running jobs finish within timeout and cancels the rest.
// Cancelled relays are retried by River after restart.
func stopJobs(ctx context.Context, s jobStopper, timeout time.Duration) {
	stopCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := s.Stop(stopCtx)
	if err == nil {
		logger.Info("Job processing stopped")
		return
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		logger.Error("failed to stop river client", zap.Error(err))
		return
	}

	logger.Warn("Jobs still running at shutdown deadline, cancelling", zap.Duration("timeout", timeout))
	cancelCtx, cancelCancel := context.WithTimeout(ctx, timeout)
	defer cancelCancel()
	if err := s.StopAndCancel(cancelCtx); err != nil {
		logger.Error("failed to cancel running jobs", zap.Error(err))
	}
}
