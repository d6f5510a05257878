package system

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"tugboat-agent/internal/model"
)

// ReadLoadAverage returns the 1-minute load average from <procRoot>/loadavg.
func ReadLoadAverage(procRoot string) (float64, error) {
	path := filepath.Join(procRoot, "loadavg")
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}
	fields := strings.Fields(string(raw))
	if len(fields) == 0 {
		return 0, fmt.Errorf("unexpected loadavg content: %q", string(raw))
	}
	load, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("parse load average %q: %w", fields[0], err)
	}
	return load, nil
}

// CPU reports the logical core count and the 1-minute load average.
func (s *Sampler) CPU() (model.CPUUsage, error) {
	load, err := ReadLoadAverage(s.procRoot)
	if err != nil {
		return model.CPUUsage{}, err
	}
	return model.CPUUsage{Cores: runtime.NumCPU(), Load: load}, nil
}
