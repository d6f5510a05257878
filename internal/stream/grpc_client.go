package stream

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"

	"tugboat-agent/internal/model"
)

type jsonCodec struct{}

func (jsonCodec) Name() string {
	return "json"
}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal accepts an empty reply.
func (jsonCodec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// GRPCClient posts each payload as one unary call of a configured method,
// JSON encoded. The connection is created on first use.
type GRPCClient struct {
	mu sync.Mutex

	logger     *slog.Logger
	addr       string
	method     string
	tlsConfig  *tls.Config
	token      string
	nodeID     string
	instanceID string
	conn       *grpc.ClientConn
}

func NewGRPCClient(addr, method string, tlsCfg *tls.Config, token, nodeID, instanceID string, logger *slog.Logger) *GRPCClient {
	return &GRPCClient{
		logger:     logger,
		addr:       addr,
		method:     method,
		tlsConfig:  tlsCfg,
		token:      token,
		nodeID:     nodeID,
		instanceID: instanceID,
	}
}

func (c *GRPCClient) Configured() bool {
	return c.addr != ""
}

func (c *GRPCClient) Post(ctx context.Context, p model.Payload) error {
	if !c.Configured() {
		c.logger.Warn("grpc endpoint not configured, dropping payload", "type", p.Type())
		return nil
	}
	conn, err := c.connection()
	if err != nil {
		c.logger.Error("telemetry post failed", "type", p.Type(), "error", err)
		return err
	}
	var reply json.RawMessage
	if err := conn.Invoke(c.decorateContext(ctx), c.method, NewFrame(c.nodeID, c.instanceID, p), &reply); err != nil {
		err = fmt.Errorf("invoke %s: %w", c.method, err)
		c.logger.Error("telemetry post failed", "type", p.Type(), "error", err)
		return err
	}
	return nil
}

func (c *GRPCClient) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *GRPCClient) connection() (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn, nil
	}

	var creds credentials.TransportCredentials
	if c.tlsConfig != nil {
		creds = credentials.NewTLS(c.tlsConfig)
	} else {
		creds = insecure.NewCredentials()
	}

	conn, err := grpc.NewClient(
		c.addr,
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{}), grpc.CallContentSubtype("json")),
	)
	if err != nil {
		return nil, fmt.Errorf("grpc client %s: %w", c.addr, err)
	}
	c.conn = conn
	c.logger.Info("grpc telemetry client created", "addr", c.addr)
	return conn, nil
}

func (c *GRPCClient) decorateContext(ctx context.Context) context.Context {
	if c.token == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
}
