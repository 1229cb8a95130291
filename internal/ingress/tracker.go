package ingress

import (
	"sort"
	"sync"
	"time"
)

// DefaultAgentTTL is how long an agent counts as active after its last thought.
const DefaultAgentTTL = time.Minute

// AgentTracker counts agents that produced a thought within the TTL.
type AgentTracker struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	lastSeen map[string]time.Time
}

// NewAgentTracker creates a tracker. A non-positive ttl uses DefaultAgentTTL.
func NewAgentTracker(ttl time.Duration) *AgentTracker {
	if ttl <= 0 {
		ttl = DefaultAgentTTL
	}
	return &AgentTracker{
		ttl:      ttl,
		now:      time.Now,
		lastSeen: make(map[string]time.Time),
	}
}

// Touch records activity for agent.
func (t *AgentTracker) Touch(agent string) {
	if agent == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSeen[agent] = t.now()
}

// ActiveAgents returns the number of agents seen within the TTL and forgets
// the rest.
func (t *AgentTracker) ActiveAgents() int {
	return len(t.Active())
}

// Active returns the names of agents seen within the TTL, sorted.
func (t *AgentTracker) Active() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-t.ttl)
	names := make([]string, 0, len(t.lastSeen))
	for name, seen := range t.lastSeen {
		if seen.Before(cutoff) {
			delete(t.lastSeen, name)
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
