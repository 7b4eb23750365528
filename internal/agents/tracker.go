// Package agents tracks per-agent call load and selects agents for calls.
package agents

import "sync"

// Tracker holds process-local in-flight call counters per agent and the
// round-robin cursor per campaign. Counters are not durable; boot recovery
// reseeds them from leads still marked calling when campaigns resume.
type Tracker struct {
	mu      sync.Mutex
	active  map[string]int // agentID -> in-flight calls
	cursors map[string]int // campaignID -> round robin cursor
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		active:  make(map[string]int),
		cursors: make(map[string]int),
	}
}

// Increment records one more in-flight call for the agent.
func (t *Tracker) Increment(agentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active[agentID]++
}

// Decrement records a terminal call outcome for the agent. Clamped at zero.
func (t *Tracker) Decrement(agentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active[agentID] > 0 {
		t.active[agentID]--
	}
}

// Active returns the current in-flight count for the agent.
func (t *Tracker) Active(agentID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active[agentID]
}

// SetActive replaces an agent's counter. Used by boot recovery to reseed
// counters from durable lead state.
func (t *Tracker) SetActive(agentID string, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n <= 0 {
		delete(t.active, agentID)
		return
	}
	t.active[agentID] = n
}

// Snapshot returns a copy of all non-zero counters.
func (t *Tracker) Snapshot() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]int, len(t.active))
	for id, n := range t.active {
		if n > 0 {
			out[id] = n
		}
	}
	return out
}

// NextCursor returns the current round-robin cursor for the campaign and
// advances it.
func (t *Tracker) NextCursor(campaignID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := t.cursors[campaignID]
	t.cursors[campaignID] = cur + 1
	return cur
}

// Reset clears all counters and cursors. Test fixtures only.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = make(map[string]int)
	t.cursors = make(map[string]int)
}
