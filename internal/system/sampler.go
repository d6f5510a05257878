// Package system samples host metrics from procfs and a few shell tools.
package system

import (
	"context"
	"errors"
	"log/slog"

	"tugboat-agent/internal/command"
	"tugboat-agent/internal/model"
)

const DefaultProcRoot = "/proc"

// Sampler collects point-in-time host metrics. The tracked network interface
// is probed once at construction; when that fails network metrics stay
// unavailable for the sampler's lifetime.
type Sampler struct {
	logger   *slog.Logger
	cmds     command.Factory
	procRoot string
	iface    string
	net      netTracker
}

func NewSampler(ctx context.Context, cmds command.Factory, procRoot string, logger *slog.Logger) *Sampler {
	if procRoot == "" {
		procRoot = DefaultProcRoot
	}
	s := &Sampler{logger: logger, cmds: cmds, procRoot: procRoot}

	iface, err := DetectDefaultInterface(ctx, func(ctx context.Context) ([]byte, error) {
		return cmds.CommandContext(ctx, "ip", "route", "show", "default").Output()
	})
	switch {
	case errors.Is(err, ErrNoDefaultInterface):
		logger.Warn("could not detect default interface")
	case err != nil:
		logger.Warn("could not detect default interface", "error", err)
	default:
		s.iface = iface
	}
	logger.Info("sampler initialized", "iface", s.ifaceOrNone())
	return s
}

// Interface returns the tracked interface, empty when none.
func (s *Sampler) Interface() string {
	return s.iface
}

// Usage gathers CPU, memory and uptime.
func (s *Sampler) Usage() (model.Usage, error) {
	cpu, err := s.CPU()
	if err != nil {
		return model.Usage{}, err
	}
	mem, err := s.Memory()
	if err != nil {
		return model.Usage{}, err
	}
	up, err := s.UptimeMinutes()
	if err != nil {
		return model.Usage{}, err
	}
	return model.Usage{CPU: cpu, Memory: mem, UptimeMinutes: up}, nil
}

func (s *Sampler) ifaceOrNone() string {
	if s.iface == "" {
		return "none"
	}
	return s.iface
}
