package lsp

// DefaultMaxHistory is the number of jump locations kept.
const DefaultMaxHistory = 50

// NavigationHistory is a bounded stack of locations to jump back to.
// When full, pushing drops the oldest entry. Not safe for concurrent use.
type NavigationHistory struct {
	stack []Location
	max   int
}

// NewNavigationHistory creates a history holding at most max locations.
// A non-positive max uses DefaultMaxHistory.
func NewNavigationHistory(max int) *NavigationHistory {
	if max <= 0 {
		max = DefaultMaxHistory
	}
	return &NavigationHistory{max: max}
}

// Push records loc. Call it with the cursor location before jumping.
func (h *NavigationHistory) Push(loc Location) {
	h.stack = append(h.stack, loc)
	if len(h.stack) > h.max {
		copy(h.stack, h.stack[1:])
		h.stack = h.stack[:h.max]
	}
}

// Pop removes and returns the most recent location.
func (h *NavigationHistory) Pop() (Location, bool) {
	if len(h.stack) == 0 {
		return Location{}, false
	}
	loc := h.stack[len(h.stack)-1]
	h.stack = h.stack[:len(h.stack)-1]
	return loc, true
}

// Depth returns the number of stored locations.
func (h *NavigationHistory) Depth() int { return len(h.stack) }

// Empty reports whether there is nothing to jump back to.
func (h *NavigationHistory) Empty() bool { return len(h.stack) == 0 }

// Clear removes all locations.
func (h *NavigationHistory) Clear() { h.stack = h.stack[:0] }
