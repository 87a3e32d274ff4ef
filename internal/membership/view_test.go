package membership

import (
	"testing"
	"time"
)

func TestNewViewSeedsSelfJoining(t *testing.T) {
	v := New("http://a")
	if v.SelfState() != Joining {
		t.Fatalf("want Joining, got %v", v.SelfState())
	}
	snap := v.Snapshot()
	if len(snap.Nodes) != 1 || snap.Nodes[0] != "http://a" {
		t.Fatalf("want self in known_nodes, got %v", snap.Nodes)
	}
}

func TestMergeUnionsKnownAndDead(t *testing.T) {
	v := New("http://a")
	added := v.Merge(Snapshot{
		Nodes:  []string{"http://a", "http://b", "http://c"},
		States: map[string]State{"http://b": Ready, "http://c": Joining},
		Dead:   []string{"http://c"},
	})
	if added != 1 { // only http://b survives as new; http://c is poisoned
		t.Fatalf("want 1 new node, got %d", added)
	}
	snap := v.Snapshot()
	if !contains(snap.Dead, "http://c") {
		t.Fatalf("http://c should be in dead_nodes")
	}
	if _, ok := snap.States["http://c"]; ok {
		t.Fatalf("dead node must not appear in states")
	}
	if snap.States["http://b"] != Ready {
		t.Fatalf("http://b should be ready")
	}
}

func TestMergeDeadNodeCannotBeReAdded(t *testing.T) {
	v := New("http://a")
	v.Merge(Snapshot{Nodes: []string{"http://a", "http://b"}, Dead: []string{"http://b"}})

	// A later gossip round still lists http://b as live — it must stay dead.
	v.Merge(Snapshot{Nodes: []string{"http://a", "http://b"}, States: map[string]State{"http://b": Ready}})

	snap := v.Snapshot()
	if _, ok := snap.States["http://b"]; ok {
		t.Fatalf("poisoned node resurrected via states")
	}
	for _, n := range snap.Nodes {
		if n == "http://b" {
			t.Fatalf("poisoned node resurrected via known_nodes")
		}
	}
}

func TestMarkDeadIfStaleIgnoresSelf(t *testing.T) {
	v := New("http://a")
	if v.MarkDeadIfStale("http://a", 0) {
		t.Fatalf("self must never be marked dead")
	}
}

func TestMarkDeadIfStaleRespectsTimeout(t *testing.T) {
	v := New("http://a")
	v.AddKnown("http://b", Ready)
	v.Touch("http://b")

	if v.MarkDeadIfStale("http://b", time.Hour) {
		t.Fatalf("recently touched peer should not be marked dead")
	}
	if !v.MarkDeadIfStale("http://b", -time.Second) {
		t.Fatalf("peer past timeout should be marked dead")
	}
	if v.MarkDeadIfStale("http://b", -time.Second) {
		t.Fatalf("already-dead peer should not report a new transition")
	}
}

func TestReadyPeersExcludesSelfAndNonReady(t *testing.T) {
	v := New("http://a")
	v.SetState(Ready)
	v.AddKnown("http://b", Joining)
	v.AddKnown("http://c", Ready)

	ready := v.ReadyPeers()
	if len(ready) != 1 || ready[0] != "http://c" {
		t.Fatalf("want [http://c], got %v", ready)
	}
}

func TestDeadSetMonotonic(t *testing.T) {
	v := New("http://a")
	v.AddKnown("http://b", Ready)
	v.MarkDeadIfStale("http://b", -time.Second)

	v.Merge(Snapshot{Nodes: []string{"http://b"}, States: map[string]State{"http://b": Ready}})

	snap := v.Snapshot()
	if !contains(snap.Dead, "http://b") {
		t.Fatalf("dead_nodes must be monotonic across merges")
	}
}

func contains(xs []string, x string) bool {
	for _, s := range xs {
		if s == x {
			return true
		}
	}
	return false
}
