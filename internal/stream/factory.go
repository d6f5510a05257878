package stream

import (
	"crypto/tls"
	"fmt"
	"log/slog"

	"tugboat-agent/internal/config"
)

func NewSinkFromConfig(cfg config.Config, tlsCfg *tls.Config, logger *slog.Logger) (Sink, error) {
	switch cfg.StreamMode {
	case config.StreamModeHTTP, "":
		return NewHTTPClient(HTTPOptions{
			BaseURL:    cfg.PhoneHomeURL,
			Token:      cfg.SecretKey,
			NodeID:     cfg.NodeID,
			InstanceID: cfg.InstanceID,
			Timeout:    cfg.TelemetryTimeout,
		}, tlsCfg, logger), nil
	case config.StreamModeGRPC:
		return NewGRPCClient(cfg.GRPCAddr, cfg.GRPCMethod, tlsCfg, cfg.SecretKey, cfg.NodeID, cfg.InstanceID, logger), nil
	case config.StreamModeWebSocket:
		return NewWebSocketClient(cfg.WSURL, cfg.SecretKey, cfg.NodeID, cfg.InstanceID, tlsCfg,
			cfg.TelemetryTimeout, cfg.WebSocketPingInterval, logger), nil
	default:
		return nil, fmt.Errorf("unsupported stream mode %q", cfg.StreamMode)
	}
}
