package stream

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tugboat-agent/internal/model"
)

// WebSocketClient writes one text frame per payload over a long-lived
// connection. Writes are serialized; a failed write reconnects once.
type WebSocketClient struct {
	mu sync.Mutex

	logger       *slog.Logger
	url          string
	token        string
	nodeID       string
	instanceID   string
	dialer       *websocket.Dialer
	writeTimeout time.Duration
	pingInterval time.Duration
	conn         *websocket.Conn
	pingCancel   context.CancelFunc
}

func NewWebSocketClient(url, token, nodeID, instanceID string, tlsCfg *tls.Config, writeTimeout, pingInterval time.Duration, logger *slog.Logger) *WebSocketClient {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	if pingInterval <= 0 {
		pingInterval = 10 * time.Second
	}
	return &WebSocketClient{
		logger:     logger,
		url:        url,
		token:      token,
		nodeID:     nodeID,
		instanceID: instanceID,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: writeTimeout,
			TLSClientConfig:  tlsCfg,
		},
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
	}
}

func (c *WebSocketClient) Configured() bool {
	return c.url != ""
}

func (c *WebSocketClient) Post(ctx context.Context, p model.Payload) error {
	if !c.Configured() {
		c.logger.Warn("websocket endpoint not configured, dropping payload", "type", p.Type())
		return nil
	}
	data, err := json.Marshal(NewFrame(c.nodeID, c.instanceID, p))
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", p.Type(), err)
	}
	if err := c.send(ctx, data); err != nil {
		c.logger.Error("telemetry post failed", "type", p.Type(), "error", err)
		return err
	}
	return nil
}

func (c *WebSocketClient) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pingCancel != nil {
		c.pingCancel()
		c.pingCancel = nil
	}
	if c.conn == nil {
		return nil
	}
	deadline := time.Now().Add(c.writeTimeout)
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"), deadline)
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *WebSocketClient) send(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureConnLocked(ctx); err != nil {
		return err
	}
	if err := c.writeLocked(data); err != nil {
		c.logger.Warn("websocket write failed, reconnecting", "error", err)
		c.dropConnLocked()
		if err2 := c.ensureConnLocked(ctx); err2 != nil {
			return err2
		}
		if err2 := c.writeLocked(data); err2 != nil {
			c.dropConnLocked()
			return fmt.Errorf("write frame retry: %w", err2)
		}
	}
	return nil
}

func (c *WebSocketClient) writeLocked(data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *WebSocketClient) dropConnLocked() {
	if c.pingCancel != nil {
		c.pingCancel()
		c.pingCancel = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *WebSocketClient) ensureConnLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	h := http.Header{}
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	conn, _, err := c.dialer.DialContext(ctx, c.url, h)
	if err != nil {
		return fmt.Errorf("websocket dial %s: %w", c.url, err)
	}
	conn.SetReadLimit(1 << 20)
	c.conn = conn
	c.startLoopsLocked()
	c.logger.Info("websocket stream connected", "url", c.url)
	return nil
}

// startLoopsLocked runs the keepalive pinger and a reader that drains
// control frames until the connection fails.
func (c *WebSocketClient) startLoopsLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	c.pingCancel = cancel
	conn := c.conn

	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	go func(interval time.Duration) {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(3*time.Second))
			}
		}
	}(c.pingInterval)
}
