// Package membership implements the gossip-based membership view described
// in spec.md §3/§4.2: known nodes, their joining/ready state, the
// monotonically-growing dead set, and per-peer last-seen timestamps for
// health checking.
package membership

import (
	"sort"
	"sync"
	"time"
)

// State is a node's membership state. A node absent from the states map is
// treated as absent from the cluster entirely.
type State string

const (
	Joining State = "joining"
	Ready   State = "ready"
)

// Snapshot is an immutable copy of a View at one instant, safe to hand to
// the hash ring or serialize onto the wire.
type Snapshot struct {
	Nodes  []string         `json:"nodes"`
	States map[string]State `json:"states"`
	Dead   []string         `json:"dead_nodes"`
}

// View is the mutable, concurrency-safe membership state held by one node
// or gateway. All multi-field mutations take the lock once, per spec.md
// §5's shared-resource policy.
type View struct {
	mu       sync.Mutex
	self     string
	known    map[string]struct{}
	states   map[string]State
	dead     map[string]struct{}
	lastSeen map[string]time.Time
	updated  time.Time // last time this view was refreshed from a peer or merge
}

// New creates a View seeded with self in the joining state.
func New(self string) *View {
	v := &View{
		self:     self,
		known:    map[string]struct{}{self: {}},
		states:   map[string]State{self: Joining},
		dead:     make(map[string]struct{}),
		lastSeen: make(map[string]time.Time),
	}
	return v
}

// Self returns this process's own advertised address.
func (v *View) Self() string { return v.self }

// SetState transitions self between joining and ready. Per spec.md §3,
// self only ever moves joining -> ready, exactly once.
func (v *View) SetState(state State) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.states[v.self] = state
}

// SelfState returns self's current state.
func (v *View) SelfState() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.states[v.self]
}

// Snapshot returns a deep copy of the current view for gossip payloads or
// ring construction.
func (v *View) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snapshotLocked()
}

func (v *View) snapshotLocked() Snapshot {
	nodes := make([]string, 0, len(v.known))
	for n := range v.known {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)

	states := make(map[string]State, len(v.states))
	for k, s := range v.states {
		states[k] = s
	}

	dead := make([]string, 0, len(v.dead))
	for d := range v.dead {
		dead = append(dead, d)
	}
	sort.Strings(dead)

	return Snapshot{Nodes: nodes, States: states, Dead: dead}
}

// LastRefresh reports when this view was last updated by Merge (gossip
// and bootstrap), ReplaceFrom (the gateway's poll), or AddKnown. The
// gateway uses this for the ring-stability gate (spec.md §4.3).
func (v *View) LastRefresh() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.updated
}

// touchRefresh marks the view as freshly updated. Callers must hold v.mu.
func (v *View) touchRefresh() {
	v.updated = time.Now()
}

// Merge applies an incoming gossip/bootstrap view per spec.md §4.2:
//  1. union dead_nodes
//  2. evict any address now in dead_nodes from known_nodes/states
//  3. union remaining known_nodes
//  4. adopt every incoming state unconditionally, unless the address is dead
//
// Returns the number of newly-discovered addresses (for logging).
func (v *View) Merge(incoming Snapshot) int {
	v.mu.Lock()
	defer v.mu.Unlock()

	added := 0

	for _, d := range incoming.Dead {
		v.dead[d] = struct{}{}
	}
	for d := range v.dead {
		delete(v.known, d)
		delete(v.states, d)
	}

	for _, n := range incoming.Nodes {
		if _, isDead := v.dead[n]; isDead {
			continue
		}
		if _, alreadyKnown := v.known[n]; !alreadyKnown {
			v.seedLastSeenLocked(n)
			added++
		}
		v.known[n] = struct{}{}
	}

	for addr, state := range incoming.States {
		if _, isDead := v.dead[addr]; isDead {
			continue
		}
		v.states[addr] = state
	}

	v.touchRefresh()
	return added
}

// seedLastSeenLocked records addr as seen now if it has no prior
// lastSeen entry, so a newly-discovered peer gets a full DEAD_TIMEOUT
// grace window before a health-check failure can poison it. Callers
// must hold v.mu.
func (v *View) seedLastSeenLocked(addr string) {
	if _, seen := v.lastSeen[addr]; !seen {
		v.lastSeen[addr] = time.Now()
	}
}

// ReplaceFrom overwrites this view's known/states wholesale from a
// trusted poll result (used by the gateway, which has no view of its own
// to merge into — it simply mirrors whichever node it polled). dead_nodes
// is still unioned, never shrunk.
func (v *View) ReplaceFrom(incoming Snapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for _, d := range incoming.Dead {
		v.dead[d] = struct{}{}
	}

	known := make(map[string]struct{}, len(incoming.Nodes))
	states := make(map[string]State, len(incoming.States))
	for _, n := range incoming.Nodes {
		if _, isDead := v.dead[n]; isDead {
			continue
		}
		if _, alreadyKnown := v.known[n]; !alreadyKnown {
			v.seedLastSeenLocked(n)
		}
		known[n] = struct{}{}
	}
	for addr, s := range incoming.States {
		if _, isDead := v.dead[addr]; isDead {
			continue
		}
		states[addr] = s
	}
	v.known = known
	v.states = states
	v.touchRefresh()
}

// Touch records a successful health-check contact with addr.
func (v *View) Touch(addr string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lastSeen[addr] = time.Now()
}

// MarkDeadIfStale moves addr into dead_nodes if it hasn't been seen within
// timeout. Never marks self dead. Returns true if addr was newly marked.
func (v *View) MarkDeadIfStale(addr string, timeout time.Duration) bool {
	if addr == v.self {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, already := v.dead[addr]; already {
		return false
	}
	last, seen := v.lastSeen[addr]
	if !seen {
		// Never probed yet: start its grace window now rather than
		// poisoning it on the very first failed probe.
		v.lastSeen[addr] = time.Now()
		return false
	}
	if time.Since(last) <= timeout {
		return false
	}

	v.dead[addr] = struct{}{}
	delete(v.known, addr)
	delete(v.states, addr)
	return true
}

// Peers returns every known address except self.
func (v *View) Peers() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]string, 0, len(v.known))
	for n := range v.known {
		if n != v.self {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// ReadyPeers returns every known address (excluding self) whose state is
// Ready.
func (v *View) ReadyPeers() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]string, 0, len(v.known))
	for n := range v.known {
		if n == v.self {
			continue
		}
		if v.states[n] == Ready {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// ReadyCount returns the number of ready nodes including self, if ready.
func (v *View) ReadyCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for _, s := range v.states {
		if s == Ready {
			n++
		}
	}
	return n
}

// AddKnown inserts addr into known_nodes with the given state, unless it
// is poisoned in dead_nodes. Used by bootstrap to insert the seed itself.
func (v *View) AddKnown(addr string, state State) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, dead := v.dead[addr]; dead {
		return
	}
	v.seedLastSeenLocked(addr)
	v.known[addr] = struct{}{}
	if _, has := v.states[addr]; !has {
		v.states[addr] = state
	}
	v.touchRefresh()
}
