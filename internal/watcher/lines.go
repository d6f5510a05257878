package watcher

import (
	"bytes"
	"log/slog"
	"strings"
)

// lineWriter accumulates stdout chunks of one event process and hands every
// complete line to onLine. A trailing fragment without a newline stays
// buffered and is discarded with the writer.
type lineWriter struct {
	buf    []byte
	onLine func(string)
}

func (l *lineWriter) Write(p []byte) (int, error) {
	l.buf = append(l.buf, p...)
	start := 0
	for {
		i := bytes.IndexByte(l.buf[start:], '\n')
		if i < 0 {
			break
		}
		l.onLine(string(l.buf[start : start+i]))
		start += i + 1
	}
	if start > 0 {
		l.buf = append(l.buf[:0], l.buf[start:]...)
	}
	return len(p), nil
}

// Pending returns the buffered fragment not yet terminated by a newline.
func (l *lineWriter) Pending() string {
	return string(l.buf)
}

// stderrWriter logs the event process's stderr as warnings.
type stderrWriter struct {
	logger *slog.Logger
}

func (w stderrWriter) Write(p []byte) (int, error) {
	if msg := strings.TrimSpace(string(p)); msg != "" {
		w.logger.Warn("docker events stderr", "output", msg)
	}
	return len(p), nil
}
