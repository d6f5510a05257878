// Package demux decodes the Docker engine's multiplexed stdout/stderr framing
// used by container logs and exec attach streams without a TTY.
//
// Every frame starts with an 8 byte header: one stream tag (1 stdout,
// 2 stderr), three reserved bytes and a big-endian uint32 payload length.
package demux

import (
	"encoding/binary"
	"strings"
)

const headerLen = 8

type StreamType byte

const (
	Stdout StreamType = 1
	Stderr StreamType = 2
)

func (t StreamType) String() string {
	switch t {
	case Stdout:
		return "stdout"
	case Stderr:
		return "stderr"
	default:
		return "unknown"
	}
}

// StreamFrame is one decoded frame.
type StreamFrame struct {
	Stream  StreamType
	Length  uint32
	Payload []byte
}

// Demultiplex splits a fully buffered stream into its stdout and stderr text.
// Frames with other tags are skipped. A truncated trailing header or payload
// is dropped silently.
func Demultiplex(buf []byte) (stdout, stderr string) {
	var out, errOut strings.Builder
	offset := 0
	for len(buf)-offset >= headerLen {
		tag := StreamType(buf[offset])
		length := binary.BigEndian.Uint32(buf[offset+4 : offset+headerLen])
		start := offset + headerLen
		if uint64(len(buf)-start) < uint64(length) {
			break
		}
		payload := buf[start : start+int(length)]
		switch tag {
		case Stdout:
			out.Write(payload)
		case Stderr:
			errOut.Write(payload)
		}
		offset = start + int(length)
	}
	return out.String(), errOut.String()
}

// CollapseLines trims every line of s and joins them with single spaces,
// turning multi-line command output into one line.
func CollapseLines(s string) string {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "\n") {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.Join(lines, " ")
}
