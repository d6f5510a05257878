package system

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ReadUptime parses the first field of <procRoot>/uptime.
func ReadUptime(procRoot string) (time.Duration, error) {
	path := filepath.Join(procRoot, "uptime")
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}
	fields := strings.Fields(string(raw))
	if len(fields) == 0 {
		return 0, fmt.Errorf("unexpected uptime content: %q", string(raw))
	}
	secs, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("parse uptime %q: %w", fields[0], err)
	}
	if secs < 0 {
		return 0, fmt.Errorf("negative uptime %q", fields[0])
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// UptimeMinutes reports whole minutes of host uptime, rounded down.
func (s *Sampler) UptimeMinutes() (uint64, error) {
	up, err := ReadUptime(s.procRoot)
	if err != nil {
		return 0, err
	}
	return uint64(up / time.Minute), nil
}
