package system

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"tugboat-agent/internal/model"
)

const megabyte = 1024 * 1024

type MemoryInfo struct {
	TotalBytes uint64
	FreeBytes  uint64
}

// ReadMemoryInfo parses <procRoot>/meminfo. Free memory is MemAvailable when
// the kernel reports it, MemFree otherwise.
func ReadMemoryInfo(procRoot string) (MemoryInfo, error) {
	path := filepath.Join(procRoot, "meminfo")
	f, err := os.Open(path)
	if err != nil {
		return MemoryInfo{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	vals := map[string]uint64{}
	s := bufio.NewScanner(f)
	for s.Scan() {
		parts := strings.Fields(s.Text())
		if len(parts) < 2 {
			continue
		}
		key := strings.TrimSuffix(parts[0], ":")
		v, convErr := strconv.ParseUint(parts[1], 10, 64)
		if convErr != nil {
			continue
		}
		vals[key] = v * 1024
	}
	if err := s.Err(); err != nil {
		return MemoryInfo{}, fmt.Errorf("scan %s: %w", path, err)
	}
	total := vals["MemTotal"]
	if total == 0 {
		return MemoryInfo{}, fmt.Errorf("MemTotal missing")
	}
	free, ok := vals["MemAvailable"]
	if !ok {
		free = vals["MemFree"]
	}
	return MemoryInfo{TotalBytes: total, FreeBytes: free}, nil
}

// Memory reports total and free memory in whole megabytes, rounded up.
func (s *Sampler) Memory() (model.MemoryUsage, error) {
	info, err := ReadMemoryInfo(s.procRoot)
	if err != nil {
		return model.MemoryUsage{}, err
	}
	return model.MemoryUsage{
		Total: ceilDiv(info.TotalBytes, megabyte),
		Free:  ceilDiv(info.FreeBytes, megabyte),
	}, nil
}

func ceilDiv(v, d uint64) uint64 {
	return (v + d - 1) / d
}
