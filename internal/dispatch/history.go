package dispatch

import "sync"

// History is a bounded in-memory log of recent event outcomes, newest
// first. It backs the read-only outcomes API.
type History struct {
	mu   sync.RWMutex
	max  int
	recs []*Record          // append order, oldest first
	byID map[string]*Record // record ID -> record
}

// NewHistory creates a history that retains at most max records. A max
// below 1 is raised to 1.
func NewHistory(max int) *History {
	if max < 1 {
		max = 1
	}
	return &History{
		max:  max,
		byID: make(map[string]*Record),
	}
}

// Add appends a record, evicting the oldest when full. Stores a copy.
func (h *History) Add(r *Record) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cp := *r
	if len(h.recs) >= h.max {
		evicted := h.recs[0]
		h.recs = h.recs[1:]
		delete(h.byID, evicted.ID)
	}
	h.recs = append(h.recs, &cp)
	h.byID[cp.ID] = &cp
}

// Recent returns up to n records, newest first. Returns copies.
func (h *History) Recent(n int) []Record {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 || n > len(h.recs) {
		n = len(h.recs)
	}
	out := make([]Record, 0, n)
	for i := len(h.recs) - 1; i >= len(h.recs)-n; i-- {
		out = append(out, *h.recs[i])
	}
	return out
}

// Get retrieves a record by its ID. Returns a copy.
func (h *History) Get(id string) (*Record, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	r, ok := h.byID[id]
	if !ok {
		return nil, false
	}
	cp := *r
	return &cp, true
}
