package model

import "time"

// ContainerDescriptor is the enriched form of a freshly created container.
// The three trailing ids correlate the container with the control plane's
// deployment records and are nil when the container does not carry them.
// Created is nil when the engine's timestamp does not parse.
type ContainerDescriptor struct {
	ID            string                   `json:"id"`
	Name          string                   `json:"name"`
	Image         string                   `json:"image"`
	Tag           string                   `json:"tag"`
	State         string                   `json:"state"`
	Created       *time.Time               `json:"created"`
	ApplicationID *string                  `json:"application_id"`
	EnvironmentID *string                  `json:"environment_id"`
	DeploymentID  *string                  `json:"deployment_id"`
	Labels        map[string]string        `json:"labels,omitempty"`
	Command       []string                 `json:"command,omitempty"`
	Ports         map[string][]PortBinding `json:"ports,omitempty"`
	NetworkMode   string                   `json:"network_mode,omitempty"`
	RestartPolicy string                   `json:"restart_policy,omitempty"`
}

// InspectedContainer is the subset of a container inspection the agent uses.
type InspectedContainer struct {
	ID            string
	Name          string
	Image         string
	State         string
	Created       string
	Env           []string
	Labels        map[string]string
	Cmd           []string
	Ports         map[string][]PortBinding
	NetworkMode   string
	RestartPolicy string
}

type PortBinding struct {
	HostIP   string `json:"host_ip"`
	HostPort string `json:"host_port"`
}

// ContainerSummary is a normalized container list entry.
type ContainerSummary struct {
	ID                string             `json:"id"`
	Name              string             `json:"name"`
	Image             ContainerImage     `json:"image"`
	State             string             `json:"state"`
	Ports             []ContainerPort    `json:"ports"`
	Command           string             `json:"command"`
	Created           int64              `json:"created"`
	CreatedNormalized time.Time          `json:"created_normalized"`
	Networks          []ContainerNetwork `json:"networks"`
}

type ContainerImage struct {
	Name string `json:"name"`
	ID   string `json:"id"`
	Tag  string `json:"tag"`
}

type ContainerPort struct {
	Type    string `json:"type"`
	IP      string `json:"ip"`
	Private uint16 `json:"private"`
	Public  uint16 `json:"public"`
}

type ContainerNetwork struct {
	IP         string   `json:"ip"`
	Name       string   `json:"name"`
	MacAddress string   `json:"mac_address"`
	NetworkID  string   `json:"network_id"`
	EndpointID string   `json:"endpoint_id"`
	Gateway    string   `json:"gateway"`
	Aliases    []string `json:"aliases"`
}
