// Package stream delivers telemetry payloads to the control plane.
package stream

import (
	"context"
	"errors"
	"time"

	"tugboat-agent/internal/model"
)

// ErrStatus is wrapped by Post when the endpoint answers with a non-2xx
// status.
var ErrStatus = errors.New("unexpected response status")

// Sink posts payloads to the control plane. Delivery is best-effort: a
// failed Post is reported to the caller and never retried.
type Sink interface {
	Post(ctx context.Context, p model.Payload) error
	// Configured reports whether the sink has an endpoint. An unconfigured
	// sink accepts every Post as a no-op.
	Configured() bool
	Close(ctx context.Context) error
}

// Frame wraps a payload for the streaming transports, which unlike the HTTP
// endpoint carry no per-request headers.
type Frame struct {
	NodeID        string        `json:"node_id"`
	InstanceID    string        `json:"instance_id"`
	TimestampUnix int64         `json:"timestamp_unix"`
	Payload       model.Payload `json:"payload"`
}

func NewFrame(nodeID, instanceID string, p model.Payload) Frame {
	return Frame{
		NodeID:        nodeID,
		InstanceID:    instanceID,
		TimestampUnix: time.Now().UTC().Unix(),
		Payload:       p,
	}
}
