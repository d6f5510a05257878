package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tugboat-agent/internal/agent/version"
	"tugboat-agent/internal/collector"
	"tugboat-agent/internal/command"
	"tugboat-agent/internal/config"
	"tugboat-agent/internal/docker"
	"tugboat-agent/internal/stream"
	"tugboat-agent/internal/system"
	"tugboat-agent/internal/watcher"
)

type Agent struct {
	cfg       config.Config
	logger    *slog.Logger
	conn      *docker.ConnManager
	sink      *healthSink
	scheduler *collector.Scheduler
	watcher   *watcher.Watcher
	health    *HealthStatus
}

const (
	interfaceProbeTimeout = 5 * time.Second
	inspectTimeout        = 5 * time.Second
)

func New(cfg config.Config, logger *slog.Logger) (*Agent, error) {
	tlsCfg, err := cfg.TLSConfig()
	if err != nil {
		return nil, fmt.Errorf("tls config: %w", err)
	}

	sink, err := stream.NewSinkFromConfig(cfg, tlsCfg, logger.With("component", "stream"))
	if err != nil {
		return nil, fmt.Errorf("stream sink: %w", err)
	}

	health := NewHealthStatus()
	wrappedSink := newHealthSink(sink, health)

	conn := docker.NewConnManager(cfg.DockerHost, cfg.ReconnectInterval, cfg.MaxReconnectJitter, logger.With("component", "docker"))
	dockerClient := docker.NewClient(conn, logger.With("component", "docker"))
	cmds := command.NewFactory()

	probeCtx, cancel := context.WithTimeout(context.Background(), interfaceProbeTimeout)
	defer cancel()
	sampler := system.NewSampler(probeCtx, cmds, cfg.ProcRoot, logger.With("component", "sampler"))

	var watcherEnv []string
	if cfg.DockerHost != "" {
		watcherEnv = append(watcherEnv, "DOCKER_HOST="+cfg.DockerHost)
	}
	w := watcher.New(logger.With("component", "watcher"), cmds, wrappedSink, dockerClient, watcher.Options{
		Binary:         cfg.DockerBinary,
		Backoff:        cfg.WatcherBackoff,
		Buffer:         cfg.EventBuffer,
		InspectTimeout: inspectTimeout,
		Env:            watcherEnv,
	})

	scheduler := collector.NewScheduler(
		logger.With("component", "heartbeat"),
		wrappedSink,
		dockerClient,
		sampler,
		cfg.AliveInterval,
		cfg.MetricsInterval,
	)

	return &Agent{
		cfg:       cfg,
		logger:    logger,
		conn:      conn,
		sink:      wrappedSink,
		scheduler: scheduler,
		watcher:   w,
		health:    health,
	}, nil
}

func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("starting tugboat-agent",
		"node_id", a.cfg.NodeID,
		"instance_id", a.cfg.InstanceID,
		"version", a.cfg.AgentVersion,
		"stream_mode", a.cfg.StreamMode,
	)
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- a.run(runCtx)
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case runErr = <-runErrCh:
	case sig := <-sigCh:
		a.logger.Info("shutdown signal received, starting graceful shutdown", "signal", sig.String(), "timeout", a.cfg.ShutdownTimeout)
		cancelRun()

		graceTimer := time.NewTimer(a.cfg.ShutdownTimeout)
		defer graceTimer.Stop()

		select {
		case runErr = <-runErrCh:
		case sig2 := <-sigCh:
			a.logger.Warn("second signal received, forcing immediate shutdown", "signal", sig2.String())
			runErr = context.Canceled
		case <-graceTimer.C:
			a.logger.Warn("graceful shutdown timeout reached, forcing shutdown", "timeout", a.cfg.ShutdownTimeout)
			runErr = context.DeadlineExceeded
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancelShutdown()
	a.shutdown(shutdownCtx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return runErr
	}
	a.logger.Info("tugboat-agent stopped")
	return nil
}

// Health returns the current health snapshot.
func (a *Agent) Health() HealthSnapshot {
	snap := a.health.Snapshot()
	snap.WatcherState = a.watcher.State()
	snap.Watcher = a.watcher.Stats()
	snap.HeartbeatRunning = a.scheduler.Running()
	snap.LastAliveAt = timeRef(a.scheduler.LastAlive())
	snap.LastMetricsAt = timeRef(a.scheduler.LastMetrics())
	return snap
}

func (a *Agent) Version() *version.GetVersionResponse {
	return version.Get(a.cfg)
}

func (a *Agent) RestartWatcher() {
	a.watcher.Restart()
}

func BuildLogger(cfg config.Config) *slog.Logger {
	return buildLogger(cfg, os.Stdout)
}

func buildLogger(cfg config.Config, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	hOpts := &slog.HandlerOptions{Level: level}
	if cfg.LogJSON {
		return slog.New(slog.NewJSONHandler(w, hOpts))
	}
	return slog.New(slog.NewTextHandler(w, hOpts))
}
