package system

import (
	"context"
	"fmt"
	"os"
	"strings"

	"tugboat-agent/internal/model"
)

var dfArgs = []string{
	"-h",
	"--output=source,fstype,size,used,avail,pcent,target",
	"-x", "tmpfs",
	"-x", "devtmpfs",
}

// dfColumns follows the order fixed by --output. The header row is only
// skipped, its titles are translated under non-C locales.
var dfColumns = []func(*model.DiskUsageRow, string){
	func(r *model.DiskUsageRow, v string) { r.Source = v },
	func(r *model.DiskUsageRow, v string) { r.FSType = v },
	func(r *model.DiskUsageRow, v string) { r.Size = v },
	func(r *model.DiskUsageRow, v string) { r.Used = v },
	func(r *model.DiskUsageRow, v string) { r.Avail = v },
	func(r *model.DiskUsageRow, v string) { r.PCent = v },
	func(r *model.DiskUsageRow, v string) { r.Target = v },
}

// ParseDiskUsage maps each df row onto the --output columns by position.
// Missing cells leave the field empty; surplus cells are joined into the
// mount point so targets containing spaces survive.
func ParseDiskUsage(output string) []model.DiskUsageRow {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) < 2 {
		return []model.DiskUsageRow{}
	}

	last := len(dfColumns) - 1
	rows := make([]model.DiskUsageRow, 0, len(lines)-1)
	for _, line := range lines[1:] {
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		var row model.DiskUsageRow
		for i, set := range dfColumns {
			if i >= len(parts) {
				break
			}
			v := parts[i]
			if i == last {
				v = strings.Join(parts[i:], " ")
			}
			set(&row, v)
		}
		rows = append(rows, row)
	}
	return rows
}

// Disk runs df restricted to non-tmpfs filesystems and parses its table.
func (s *Sampler) Disk(ctx context.Context) ([]model.DiskUsageRow, error) {
	cmd := s.cmds.CommandContext(ctx, "df", dfArgs...)
	cmd.SetEnv(append(os.Environ(), "LC_ALL=C"))
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("df: %w", err)
	}
	return ParseDiskUsage(string(out)), nil
}
