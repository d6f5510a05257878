package watcher

import (
	"strings"
	"time"

	"tugboat-agent/internal/docker"
	"tugboat-agent/internal/model"
)

const (
	EnvApplicationID = "SERVERSINC_APPLICATION_ID"
	EnvEnvironmentID = "SERVERSINC_ENVIRONMENT_ID"
	EnvDeploymentID  = "SERVERSINC_DEPLOYMENT_ID"

	LabelApplicationID = "com.serversinc.app_id"
)

// DescribeContainer turns a container inspection into the descriptor
// forwarded with "create" events.
func DescribeContainer(c model.InspectedContainer) model.ContainerDescriptor {
	image, tag := docker.SplitImage(c.Image)
	d := model.ContainerDescriptor{
		ID:            c.ID,
		Name:          strings.TrimPrefix(c.Name, "/"),
		Image:         image,
		Tag:           tag,
		State:         c.State,
		ApplicationID: lookupEnv(c.Env, EnvApplicationID),
		EnvironmentID: lookupEnv(c.Env, EnvEnvironmentID),
		DeploymentID:  lookupEnv(c.Env, EnvDeploymentID),
		Labels:        c.Labels,
		Command:       c.Cmd,
		Ports:         c.Ports,
		NetworkMode:   c.NetworkMode,
		RestartPolicy: c.RestartPolicy,
	}
	if created, err := time.Parse(time.RFC3339Nano, c.Created); err == nil {
		d.Created = &created
	}
	if d.ApplicationID == nil {
		if v, ok := c.Labels[LabelApplicationID]; ok && v != "" {
			d.ApplicationID = &v
		}
	}
	return d
}

// lookupEnv finds key in KEY=VALUE entries. The value is everything after the
// first "=". The last entry wins, as in the process environment.
func lookupEnv(env []string, key string) *string {
	var found *string
	for _, kv := range env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k != key {
			continue
		}
		val := v
		found = &val
	}
	return found
}
