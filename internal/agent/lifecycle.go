package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

func (a *Agent) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.scheduler.Run(gctx)
	})
	g.Go(func() error {
		return a.watcher.Run(gctx, a.cfg.ShutdownTimeout)
	})
	g.Go(func() error {
		return a.runHealthLoop(gctx)
	})
	g.Go(func() error {
		return a.runAdminServer(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// runHealthLoop establishes the engine connection and keeps it alive. Other
// components do not wait for the first connect.
func (a *Agent) runHealthLoop(ctx context.Context) error {
	if err := a.conn.Connect(ctx); err != nil {
		return nil
	}
	a.health.SetDockerConnected(true)

	t := time.NewTicker(a.cfg.HealthInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := a.conn.Healthy(ctx); err != nil {
				a.logger.Warn("docker health check failed, reconnecting", "error", err)
				a.health.SetDockerConnected(false)
				if recErr := a.conn.Reconnect(ctx); recErr != nil {
					if ctx.Err() != nil {
						return nil
					}
					a.logger.Error("docker reconnect failed", "error", recErr)
					continue
				}
				a.health.SetDockerConnected(true)
				a.logHealth("recovered")
			} else {
				a.health.SetDockerConnected(true)
				a.logHealth("ok")
			}
		}
	}
}

func (a *Agent) logHealth(status string) {
	a.logger.Log(context.Background(), slog.LevelDebug, "agent health", "status", status, "snapshot", a.Health())
}

func (a *Agent) shutdown(ctx context.Context) {
	if err := a.sink.Close(ctx); err != nil {
		a.logger.Warn("stream sink close failed", "error", err)
	}
	a.health.SetStreamConnected(false)
	if err := a.conn.Close(); err != nil {
		a.logger.Warn("docker close failed", "error", err)
	}
	a.health.SetDockerConnected(false)
}
