// Package docker talks to the Docker engine API on behalf of the agent.
package docker

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/docker/docker/client"
)

// ConnManager owns a single Docker API client and its reconnect flow.
type ConnManager struct {
	mu        sync.RWMutex
	client    *client.Client
	opts      []client.Opt
	logger    *slog.Logger
	retryWait time.Duration
	maxJitter time.Duration
	randSrc   *rand.Rand
}

// NewConnManager prepares a manager for the engine at host. An empty host
// uses DOCKER_HOST and the other client environment variables.
func NewConnManager(host string, retryWait, maxJitter time.Duration, logger *slog.Logger, extra ...client.Opt) *ConnManager {
	if retryWait <= 0 {
		retryWait = 3 * time.Second
	}
	if maxJitter < 0 {
		maxJitter = 0
	}
	opts := []client.Opt{client.FromEnv}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	opts = append(opts, client.WithAPIVersionNegotiation())
	opts = append(opts, extra...)
	return &ConnManager{
		opts:      opts,
		logger:    logger,
		retryWait: retryWait,
		maxJitter: maxJitter,
		randSrc:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Connect blocks until the engine answers a ping or ctx is done.
func (m *ConnManager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectLocked(ctx)
}

func (m *ConnManager) Client(ctx context.Context) (*client.Client, error) {
	m.mu.RLock()
	c := m.client
	m.mu.RUnlock()
	if c != nil {
		return c, nil
	}
	if err := m.Connect(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.client == nil {
		return nil, fmt.Errorf("docker client is nil after connect")
	}
	return m.client, nil
}

func (m *ConnManager) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		if err := m.client.Close(); err != nil {
			m.logger.Warn("docker client close failed", "error", err)
		}
		m.client = nil
	}
	return m.connectLocked(ctx)
}

// Healthy pings the engine without reconnecting.
func (m *ConnManager) Healthy(ctx context.Context) error {
	m.mu.RLock()
	c := m.client
	m.mu.RUnlock()
	if c == nil {
		return fmt.Errorf("docker not connected")
	}
	if _, err := c.Ping(ctx); err != nil {
		return fmt.Errorf("docker ping failed: %w", err)
	}
	return nil
}

func (m *ConnManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return nil
	}
	err := m.client.Close()
	m.client = nil
	return err
}

func (m *ConnManager) connectLocked(ctx context.Context) error {
	if m.client != nil {
		if _, err := m.client.Ping(ctx); err == nil {
			return nil
		}
		_ = m.client.Close()
		m.client = nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		c, err := m.dial(ctx)
		if err == nil {
			m.client = c
			m.logger.Info("docker connected", "host", c.DaemonHost(), "api_version", c.ClientVersion())
			return nil
		}

		wait := m.retryWait + m.jitter()
		m.logger.Error("docker connect failed", "error", err, "retry_in", wait)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (m *ConnManager) dial(ctx context.Context) (*client.Client, error) {
	c, err := client.NewClientWithOpts(m.opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	if _, err := c.Ping(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("ping %s: %w", c.DaemonHost(), err)
	}
	return c, nil
}

func (m *ConnManager) jitter() time.Duration {
	if m.maxJitter == 0 {
		return 0
	}
	return time.Duration(m.randSrc.Int63n(int64(m.maxJitter)))
}
