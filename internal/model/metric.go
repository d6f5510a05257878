package model

type Usage struct {
	CPU           CPUUsage    `json:"cpu"`
	Memory        MemoryUsage `json:"memory"`
	UptimeMinutes uint64      `json:"uptimeMinutes"`
}

type CPUUsage struct {
	Cores int     `json:"cores"`
	Load  float64 `json:"load"`
}

// MemoryUsage is reported in whole megabytes.
type MemoryUsage struct {
	Total uint64 `json:"total"`
	Free  uint64 `json:"free"`
}

// DiskUsageRow is one mounted filesystem as reported by df.
type DiskUsageRow struct {
	Source string `json:"source"`
	FSType string `json:"fstype"`
	Size   string `json:"size"`
	Used   string `json:"used"`
	Avail  string `json:"avail"`
	PCent  string `json:"pcent"`
	Target string `json:"target"`
}

// NetworkUsage is one observation of the tracked interface. Deltas is nil on
// the first observation of the process lifetime.
type NetworkUsage struct {
	Iface  string        `json:"iface"`
	Total  NetworkTotals `json:"total"`
	Deltas *NetworkDelta `json:"deltas"`
}

type NetworkTotals struct {
	RX uint64 `json:"rx"`
	TX uint64 `json:"tx"`
}

// NetworkDelta is signed: a counter reset yields a negative delta.
type NetworkDelta struct {
	RXDelta int64 `json:"rxDelta"`
	TXDelta int64 `json:"txDelta"`
}
