package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"

	"tugboat-agent/internal/demux"
	"tugboat-agent/internal/model"
)

var ErrNotFound = errors.New("container not found")

// Client exposes the container operations the agent needs on top of the
// managed engine connection.
type Client struct {
	conn   *ConnManager
	logger *slog.Logger
}

func NewClient(conn *ConnManager, logger *slog.Logger) *Client {
	return &Client{conn: conn, logger: logger}
}

// ListContainers returns every container known to the engine, normalized.
func (c *Client) ListContainers(ctx context.Context) ([]model.ContainerSummary, error) {
	api, err := c.conn.Client(ctx)
	if err != nil {
		return nil, err
	}
	list, err := api.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	out := make([]model.ContainerSummary, 0, len(list))
	for _, ct := range list {
		s := model.ContainerSummary{
			ID:    ct.ID,
			Image: model.ContainerImage{Name: ct.Image, ID: ct.ImageID, Tag: digestOf(ct.ImageID)},
			State: string(ct.State),
			Ports: make([]model.ContainerPort, 0, len(ct.Ports)),
			// Command is the engine's display form of the entrypoint and args.
			Command:           ct.Command,
			Created:           ct.Created,
			CreatedNormalized: time.Unix(ct.Created, 0).UTC(),
			Networks:          []model.ContainerNetwork{},
		}
		if len(ct.Names) > 0 {
			s.Name = ct.Names[0]
		}
		for _, p := range ct.Ports {
			s.Ports = append(s.Ports, model.ContainerPort{
				Type:    p.Type,
				IP:      p.IP,
				Private: p.PrivatePort,
				Public:  p.PublicPort,
			})
		}
		if ct.NetworkSettings != nil {
			for _, name := range sortedKeys(ct.NetworkSettings.Networks) {
				ep := ct.NetworkSettings.Networks[name]
				if ep == nil {
					continue
				}
				s.Networks = append(s.Networks, model.ContainerNetwork{
					IP:         ep.IPAddress,
					Name:       name,
					MacAddress: ep.MacAddress,
					NetworkID:  ep.NetworkID,
					EndpointID: ep.EndpointID,
					Gateway:    ep.Gateway,
					Aliases:    ep.Aliases,
				})
			}
		}
		out = append(out, s)
	}
	return out, nil
}

// InspectContainer returns the inspection of id. A missing container yields
// an error wrapping ErrNotFound.
func (c *Client) InspectContainer(ctx context.Context, id string) (model.InspectedContainer, error) {
	api, err := c.conn.Client(ctx)
	if err != nil {
		return model.InspectedContainer{}, err
	}
	resp, err := api.ContainerInspect(ctx, id)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return model.InspectedContainer{}, fmt.Errorf("inspect %s: %w", id, ErrNotFound)
		}
		return model.InspectedContainer{}, fmt.Errorf("inspect %s: %w", id, err)
	}
	if resp.ContainerJSONBase == nil {
		return model.InspectedContainer{}, fmt.Errorf("inspect %s: empty response", id)
	}

	out := model.InspectedContainer{
		ID:      resp.ID,
		Name:    strings.TrimPrefix(resp.Name, "/"),
		Created: resp.Created,
	}
	if resp.State != nil {
		out.State = string(resp.State.Status)
	}
	if resp.Config != nil {
		out.Image = resp.Config.Image
		out.Env = resp.Config.Env
		out.Labels = resp.Config.Labels
		out.Cmd = resp.Config.Cmd
	}
	if resp.HostConfig != nil {
		out.NetworkMode = string(resp.HostConfig.NetworkMode)
		out.RestartPolicy = string(resp.HostConfig.RestartPolicy.Name)
	}
	if resp.NetworkSettings != nil && len(resp.NetworkSettings.Ports) > 0 {
		out.Ports = make(map[string][]model.PortBinding, len(resp.NetworkSettings.Ports))
		for port, bindings := range resp.NetworkSettings.Ports {
			mapped := make([]model.PortBinding, 0, len(bindings))
			for _, b := range bindings {
				mapped = append(mapped, model.PortBinding{HostIP: b.HostIP, HostPort: b.HostPort})
			}
			out.Ports[string(port)] = mapped
		}
	}
	return out, nil
}

type ExecOutput struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// Exec runs cmd inside container id without a TTY, buffers the multiplexed
// output and returns each stream stripped of escape sequences and collapsed
// onto one line.
func (c *Client) Exec(ctx context.Context, id, cmd string) (ExecOutput, error) {
	args := strings.Fields(cmd)
	if len(args) == 0 {
		return ExecOutput{}, errors.New("empty command")
	}
	api, err := c.conn.Client(ctx)
	if err != nil {
		return ExecOutput{}, err
	}
	created, err := api.ContainerExecCreate(ctx, id, container.ExecOptions{
		Cmd:          args,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return ExecOutput{}, fmt.Errorf("exec in %s: %w", id, ErrNotFound)
		}
		return ExecOutput{}, fmt.Errorf("exec create in %s: %w", id, err)
	}
	attach, err := api.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return ExecOutput{}, fmt.Errorf("exec attach %s: %w", created.ID, err)
	}
	defer attach.Close()

	raw, err := io.ReadAll(attach.Reader)
	if err != nil {
		return ExecOutput{}, fmt.Errorf("read exec output: %w", err)
	}
	stdout, stderr := demux.Demultiplex(raw)
	return ExecOutput{
		Stdout: demux.CollapseLines(demux.StripANSI(stdout)),
		Stderr: demux.CollapseLines(demux.StripANSI(stderr)),
	}, nil
}

// LogLine is one cleaned frame of a container's log stream.
type LogLine struct {
	Stream demux.StreamType
	Text   string
}

// FollowLogs streams the last tail lines of id and everything after, calling
// fn for each frame until the stream ends, ctx is done or fn fails.
func (c *Client) FollowLogs(ctx context.Context, id string, tail int, fn func(LogLine) error) error {
	api, err := c.conn.Client(ctx)
	if err != nil {
		return err
	}
	opts := container.LogsOptions{ShowStdout: true, ShowStderr: true, Follow: true, Tail: "all"}
	if tail >= 0 {
		opts.Tail = strconv.Itoa(tail)
	}
	rc, err := api.ContainerLogs(ctx, id, opts)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return fmt.Errorf("logs of %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("logs of %s: %w", id, err)
	}
	defer rc.Close()

	r := demux.NewReader(rc)
	for {
		f, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read log frame: %w", err)
		}
		if f.Stream != demux.Stdout && f.Stream != demux.Stderr {
			continue
		}
		if err := fn(LogLine{Stream: f.Stream, Text: demux.StripANSI(string(f.Payload))}); err != nil {
			return err
		}
	}
}

// SplitImage separates an image reference into name and tag. A reference
// without a tag is "latest"; a registry port is not mistaken for a tag.
func SplitImage(ref string) (name, tag string) {
	if at := strings.Index(ref, "@"); at >= 0 {
		ref = ref[:at]
	}
	slash := strings.LastIndex(ref, "/")
	colon := strings.LastIndex(ref, ":")
	if colon > slash {
		return ref[:colon], ref[colon+1:]
	}
	return ref, "latest"
}

// digestOf returns the hex part of an image id such as "sha256:<hex>".
func digestOf(imageID string) string {
	_, after, ok := strings.Cut(imageID, ":")
	if !ok {
		return ""
	}
	return after
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
