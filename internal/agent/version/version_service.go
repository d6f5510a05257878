package version

import (
	"time"

	"tugboat-agent/internal/config"
)

func Get(cfg config.Config) *GetVersionResponse {
	return &GetVersionResponse{
		NodeID:        cfg.NodeID,
		InstanceID:    cfg.InstanceID,
		AgentVersion:  cfg.AgentVersion,
		StreamMode:    string(cfg.StreamMode),
		AdminAddr:     cfg.AdminAddr,
		CheckedAtUnix: time.Now().UTC().Unix(),
	}
}
