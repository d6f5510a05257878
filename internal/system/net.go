package system

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"tugboat-agent/internal/model"
)

var ErrNoDefaultInterface = errors.New("no default network interface")

var defaultRouteDev = regexp.MustCompile(`dev\s+(\S+)`)

// ParseDefaultInterface extracts the interface name from `ip route show
// default` output.
func ParseDefaultInterface(output string) (string, bool) {
	m := defaultRouteDev.FindStringSubmatch(output)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// DetectDefaultInterface queries the default route.
func DetectDefaultInterface(ctx context.Context, run func(ctx context.Context) ([]byte, error)) (string, error) {
	out, err := run(ctx)
	if err != nil {
		return "", fmt.Errorf("ip route show default: %w", err)
	}
	iface, ok := ParseDefaultInterface(string(out))
	if !ok {
		return "", ErrNoDefaultInterface
	}
	return iface, nil
}

// ReadInterfaceCounters returns the receive and transmit byte counters of
// iface from <procRoot>/net/dev. ok is false when the interface has no row.
func ReadInterfaceCounters(procRoot, iface string) (totals model.NetworkTotals, ok bool, err error) {
	path := filepath.Join(procRoot, "net", "dev")
	f, err := os.Open(path)
	if err != nil {
		return model.NetworkTotals{}, false, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	s := bufio.NewScanner(f)
	lineNo := 0
	for s.Scan() {
		lineNo++
		if lineNo <= 2 {
			continue
		}
		line := strings.TrimSpace(s.Text())
		if !strings.HasPrefix(line, iface+":") {
			continue
		}
		// iface, rxBytes, rxPackets, rxErrs, rxDrop, rxFifo, rxFrame,
		// rxCompressed, rxMulticast, txBytes, ...
		parts := strings.FieldsFunc(line, func(r rune) bool {
			return r == ':' || unicode.IsSpace(r)
		})
		if len(parts) < 10 {
			return model.NetworkTotals{}, false, fmt.Errorf("unexpected %s row: %q", path, line)
		}
		rx, rxErr := strconv.ParseUint(parts[1], 10, 64)
		if rxErr != nil {
			return model.NetworkTotals{}, false, fmt.Errorf("parse rx bytes %q: %w", parts[1], rxErr)
		}
		tx, txErr := strconv.ParseUint(parts[9], 10, 64)
		if txErr != nil {
			return model.NetworkTotals{}, false, fmt.Errorf("parse tx bytes %q: %w", parts[9], txErr)
		}
		return model.NetworkTotals{RX: rx, TX: tx}, true, nil
	}
	if err := s.Err(); err != nil {
		return model.NetworkTotals{}, false, fmt.Errorf("scan %s: %w", path, err)
	}
	return model.NetworkTotals{}, false, nil
}

// Network samples the tracked interface and advances the delta state. It
// returns nil without error when no interface is tracked or its row is
// missing.
func (s *Sampler) Network() (*model.NetworkUsage, error) {
	if s.iface == "" {
		return nil, nil
	}
	totals, ok, err := ReadInterfaceCounters(s.procRoot, s.iface)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &model.NetworkUsage{
		Iface:  s.iface,
		Total:  totals,
		Deltas: s.net.observe(totals),
	}, nil
}
