package system

import (
	"sync"

	"tugboat-agent/internal/model"
)

// netTracker remembers the previous interface totals for the lifetime of the
// process. Deltas are plain differences: a counter reset yields negative
// values.
type netTracker struct {
	mu   sync.Mutex
	last *model.NetworkTotals
}

func (t *netTracker) observe(cur model.NetworkTotals) *model.NetworkDelta {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev := t.last
	t.last = &cur
	if prev == nil {
		return nil
	}
	return &model.NetworkDelta{
		RXDelta: int64(cur.RX) - int64(prev.RX),
		TXDelta: int64(cur.TX) - int64(prev.TX),
	}
}
