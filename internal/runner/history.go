package runner

import (
	"sort"
	"sync"
)

// History keeps the last result per service for the status server.
type History struct {
	mu   sync.RWMutex
	last map[string]Result
}

// NewHistory returns an empty History.
func NewHistory() *History {
	return &History{last: make(map[string]Result)}
}

// Record stores res as the latest run of its service. A nil History ignores it.
func (h *History) Record(res Result) {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.last[res.Service] = res
	h.mu.Unlock()
}

// Last returns the latest results ordered by service name.
func (h *History) Last() []Result {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Result, 0, len(h.last))
	for _, r := range h.last {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}
