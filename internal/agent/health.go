package agent

import (
	"context"
	"sync/atomic"
	"time"

	"tugboat-agent/internal/model"
	"tugboat-agent/internal/stream"
	"tugboat-agent/internal/watcher"
)

type HealthStatus struct {
	dockerConnected atomic.Bool
	streamConnected atomic.Bool
	lastEventAt     atomic.Int64
}

type HealthSnapshot struct {
	DockerConnected bool          `json:"docker_connected"`
	StreamConnected bool          `json:"stream_connected"`
	WatcherState    watcher.State `json:"watcher_state"`
	Watcher         watcher.Stats `json:"watcher"`
	LastAliveAt     *time.Time    `json:"last_alive_at,omitempty"`
	LastMetricsAt   *time.Time    `json:"last_metrics_at,omitempty"`
	LastEventAt     *time.Time    `json:"last_event_at,omitempty"`
}

func NewHealthStatus() *HealthStatus {
	return &HealthStatus{}
}

func (h *HealthStatus) SetDockerConnected(ok bool) {
	h.dockerConnected.Store(ok)
}

func (h *HealthStatus) SetStreamConnected(ok bool) {
	h.streamConnected.Store(ok)
}

func (h *HealthStatus) DockerConnected() bool {
	return h.dockerConnected.Load()
}

// MarkEventPosted records a successful post of a forwarded docker event.
// Heartbeat posts are tracked by the scheduler itself.
func (h *HealthStatus) MarkEventPosted(ts time.Time) {
	h.lastEventAt.Store(ts.UnixNano())
}

// Snapshot covers the connectivity flags and the last forwarded event. The
// agent adds the watcher and heartbeat parts.
func (h *HealthStatus) Snapshot() HealthSnapshot {
	snap := HealthSnapshot{
		DockerConnected: h.dockerConnected.Load(),
		StreamConnected: h.streamConnected.Load(),
	}
	if ns := h.lastEventAt.Load(); ns > 0 {
		snap.LastEventAt = timeRef(time.Unix(0, ns))
	}
	return snap
}

// timeRef returns nil for the zero time.
func timeRef(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}

// healthSink tracks stream connectivity from the outcome of every post. An
// unconfigured sink never touches the stream flag.
type healthSink struct {
	sink   stream.Sink
	health *HealthStatus
	now    func() time.Time
}

func newHealthSink(sink stream.Sink, health *HealthStatus) *healthSink {
	return &healthSink{sink: sink, health: health, now: time.Now}
}

func (s *healthSink) Post(ctx context.Context, p model.Payload) error {
	err := s.sink.Post(ctx, p)
	if !s.sink.Configured() {
		return err
	}
	if err != nil {
		s.health.SetStreamConnected(false)
		return err
	}
	s.health.SetStreamConnected(true)
	if p.Type() == model.PayloadTypeDockerEvent {
		s.health.MarkEventPosted(s.now())
	}
	return nil
}

func (s *healthSink) Configured() bool {
	return s.sink.Configured()
}

func (s *healthSink) Close(ctx context.Context) error {
	return s.sink.Close(ctx)
}
