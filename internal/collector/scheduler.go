// Package collector runs the heartbeat: a liveness ping and a periodic host
// metrics report, each on its own cadence.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"tugboat-agent/internal/model"
	"tugboat-agent/internal/stream"
)

// ContainerLister lists the containers included in a metrics report.
type ContainerLister interface {
	ListContainers(ctx context.Context) ([]model.ContainerSummary, error)
}

// HostSampler provides the host part of a metrics report.
type HostSampler interface {
	Usage() (model.Usage, error)
	Disk(ctx context.Context) ([]model.DiskUsageRow, error)
	Network() (*model.NetworkUsage, error)
}

type Scheduler struct {
	logger          *slog.Logger
	sink            stream.Sink
	lister          ContainerLister
	sampler         HostSampler
	aliveInterval   time.Duration
	metricsInterval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	group   *errgroup.Group
	running atomic.Bool

	lastAlive   atomic.Int64
	lastMetrics atomic.Int64
}

func NewScheduler(
	logger *slog.Logger,
	sink stream.Sink,
	lister ContainerLister,
	sampler HostSampler,
	aliveInterval, metricsInterval time.Duration,
) *Scheduler {
	if aliveInterval <= 0 {
		aliveInterval = 60 * time.Second
	}
	if metricsInterval <= 0 {
		metricsInterval = 300 * time.Second
	}
	return &Scheduler{
		logger:          logger,
		sink:            sink,
		lister:          lister,
		sampler:         sampler,
		aliveInterval:   aliveInterval,
		metricsInterval: metricsInterval,
	}
}

// Start launches both cadences, each firing once right away. It does nothing
// when already running, when the sink has no endpoint or when there is no
// container lister.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	if s.sink == nil || !s.sink.Configured() || s.lister == nil {
		s.logger.Warn("heartbeat disabled, no telemetry endpoint or container lister")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.runLoop(gctx, "alive", s.aliveInterval, s.sendAlive)
	})
	g.Go(func() error {
		return s.runLoop(gctx, "metrics", s.metricsInterval, s.sendMetrics)
	})
	s.cancel = cancel
	s.group = g
	s.running.Store(true)
	s.logger.Info("heartbeat started", "alive_interval", s.aliveInterval, "metrics_interval", s.metricsInterval)
}

// Stop cancels both cadences and waits for in-flight sends to return. It is
// safe to call at any time, repeatedly.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, g := s.cancel, s.group
	s.cancel, s.group = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	_ = g.Wait()
	s.running.Store(false)
	s.logger.Info("heartbeat stopped")
}

// Run starts the heartbeat and stops it once ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start()
	<-ctx.Done()
	s.Stop()
	return nil
}

func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// LastAlive returns when the last liveness ping was accepted.
func (s *Scheduler) LastAlive() time.Time {
	return unixNano(s.lastAlive.Load())
}

// LastMetrics returns when the last metrics report was accepted.
func (s *Scheduler) LastMetrics() time.Time {
	return unixNano(s.lastMetrics.Load())
}

func (s *Scheduler) runLoop(ctx context.Context, name string, interval time.Duration, send func(context.Context) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := send(ctx); err != nil {
		s.logger.Warn("initial "+name+" heartbeat failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := send(ctx); err != nil {
				s.logger.Error(name+" heartbeat failed", "error", err)
			}
		}
	}
}

func (s *Scheduler) sendAlive(ctx context.Context) error {
	if err := s.sink.Post(ctx, model.Alive{}); err != nil {
		return err
	}
	s.lastAlive.Store(time.Now().UnixNano())
	return nil
}

func (s *Scheduler) sendMetrics(ctx context.Context) error {
	m, err := s.CollectMetrics(ctx)
	if err != nil {
		return err
	}
	if err := s.sink.Post(ctx, m); err != nil {
		return err
	}
	s.lastMetrics.Store(time.Now().UnixNano())
	return nil
}

// CollectMetrics builds one metrics report. A failed container listing or
// usage read fails the report; a failed disk or network probe only empties
// that section.
func (s *Scheduler) CollectMetrics(ctx context.Context) (model.Metrics, error) {
	containers, err := s.lister.ListContainers(ctx)
	if err != nil {
		return model.Metrics{}, fmt.Errorf("list containers: %w", err)
	}
	m := model.Metrics{Containers: containers, Disk: []model.DiskUsageRow{}}
	if s.sampler == nil {
		return m, nil
	}

	usage, err := s.sampler.Usage()
	if err != nil {
		return model.Metrics{}, fmt.Errorf("sample usage: %w", err)
	}
	m.Usage = usage

	if disk, err := s.sampler.Disk(ctx); err != nil {
		s.logger.Error("disk usage probe failed", "error", err)
	} else {
		m.Disk = disk
	}
	if netUsage, err := s.sampler.Network(); err != nil {
		s.logger.Error("network probe failed", "error", err)
	} else {
		m.Network = netUsage
	}
	return m, nil
}

func unixNano(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}
