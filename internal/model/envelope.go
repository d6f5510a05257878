package model

import "encoding/json"

type PayloadType string

const (
	PayloadTypeAlive       PayloadType = "alive"
	PayloadTypeMetrics     PayloadType = "metrics"
	PayloadTypeDockerEvent PayloadType = "docker_event"
)

// Payload is one telemetry message posted to the phone-home endpoint. The set
// of variants is closed: Alive, Metrics and DockerEvent.
type Payload interface {
	Type() PayloadType
	isPayload()
}

// Alive is the liveness ping.
type Alive struct{}

func (Alive) Type() PayloadType { return PayloadTypeAlive }
func (Alive) isPayload()        {}

func (a Alive) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type PayloadType `json:"type"`
	}{Type: a.Type()})
}

// Metrics is the full host report.
type Metrics struct {
	Containers []ContainerSummary `json:"containers"`
	Usage      Usage              `json:"usage"`
	Disk       []DiskUsageRow     `json:"disk"`
	Network    *NetworkUsage      `json:"network"`
}

func (Metrics) Type() PayloadType { return PayloadTypeMetrics }
func (Metrics) isPayload()        {}

func (m Metrics) MarshalJSON() ([]byte, error) {
	type fields Metrics
	out := fields(m)
	if out.Containers == nil {
		out.Containers = []ContainerSummary{}
	}
	if out.Disk == nil {
		out.Disk = []DiskUsageRow{}
	}
	return json.Marshal(struct {
		Type PayloadType `json:"type"`
		fields
	}{Type: m.Type(), fields: out})
}

// DockerEvent carries one forwarded runtime event.
type DockerEvent struct {
	Payload ForwardedEvent `json:"payload"`
}

func (DockerEvent) Type() PayloadType { return PayloadTypeDockerEvent }
func (DockerEvent) isPayload()        {}

func (e DockerEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    PayloadType    `json:"type"`
		Payload ForwardedEvent `json:"payload"`
	}{Type: e.Type(), Payload: e.Payload})
}
