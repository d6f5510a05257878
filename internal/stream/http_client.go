package stream

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"tugboat-agent/internal/model"
)

const eventsPath = "/events"

type HTTPOptions struct {
	BaseURL    string
	Token      string
	NodeID     string
	InstanceID string
	Timeout    time.Duration
}

// HTTPClient posts each payload as a JSON body to <BaseURL>/events. Requests
// are independent and may run concurrently.
type HTTPClient struct {
	logger     *slog.Logger
	endpoint   string
	token      string
	nodeID     string
	instanceID string
	client     *http.Client
}

// NewHTTPClient builds the phone-home client. With an empty BaseURL the
// client is inert: it holds no transport and every Post is a logged no-op.
func NewHTTPClient(opts HTTPOptions, tlsCfg *tls.Config, logger *slog.Logger) *HTTPClient {
	c := &HTTPClient{
		logger:     logger,
		token:      opts.Token,
		nodeID:     opts.NodeID,
		instanceID: opts.InstanceID,
	}
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		logger.Warn("phone home url not set, telemetry disabled")
		return c
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if tlsCfg != nil {
		transport.TLSClientConfig = tlsCfg
	}
	c.endpoint = base + eventsPath
	c.client = &http.Client{Timeout: timeout, Transport: transport}
	return c
}

func (c *HTTPClient) Configured() bool {
	return c.client != nil
}

// Endpoint returns the full events URL, empty when unconfigured.
func (c *HTTPClient) Endpoint() string {
	return c.endpoint
}

func (c *HTTPClient) Post(ctx context.Context, p model.Payload) error {
	if c.client == nil {
		c.logger.Warn("telemetry endpoint not configured, dropping payload", "type", p.Type())
		return nil
	}
	if err := c.post(ctx, p); err != nil {
		c.logger.Error("telemetry post failed", "type", p.Type(), "error", err)
		return err
	}
	return nil
}

func (c *HTTPClient) post(ctx context.Context, p model.Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", p.Type(), err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.nodeID != "" {
		req.Header.Set("X-Tugboat-Node", c.nodeID)
	}
	if c.instanceID != "" {
		req.Header.Set("X-Tugboat-Instance", c.instanceID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", c.endpoint, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("post %s: %w: %d", c.endpoint, ErrStatus, resp.StatusCode)
	}
	return nil
}

func (c *HTTPClient) Close(context.Context) error {
	if c.client != nil {
		c.client.CloseIdleConnections()
	}
	return nil
}
