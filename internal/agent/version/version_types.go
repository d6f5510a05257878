package version

type GetVersionResponse struct {
	NodeID        string `json:"node_id"`
	InstanceID    string `json:"instance_id"`
	AgentVersion  string `json:"agent_version"`
	StreamMode    string `json:"stream_mode"`
	AdminAddr     string `json:"admin_addr,omitempty"`
	CheckedAtUnix int64  `json:"checked_at_unix"`
}
