package ring

import (
	"testing"

	"clusterkv/internal/membership"
)

func snapshotOf(ready ...string) membership.Snapshot {
	states := make(map[string]membership.State, len(ready))
	for _, n := range ready {
		states[n] = membership.Ready
	}
	return membership.Snapshot{Nodes: ready, States: states}
}

func TestBuildSkipsNonReadyAndDead(t *testing.T) {
	snap := membership.Snapshot{
		Nodes: []string{"a", "b", "c"},
		States: map[string]membership.State{
			"a": membership.Ready,
			"b": membership.Joining,
			"c": membership.Ready,
		},
		Dead: []string{"c"},
	}
	r := Build(snap, 8)
	if r.NodeCount() != 1 {
		t.Fatalf("want 1 ready node on ring, got %d", r.NodeCount())
	}
}

func TestOwnersDistinctAndBounded(t *testing.T) {
	snap := snapshotOf("a", "b", "c")
	r := Build(snap, 16)

	owners := r.Owners("some-key", 3)
	if len(owners) != 3 {
		t.Fatalf("want 3 owners, got %d: %v", len(owners), owners)
	}
	seen := map[string]bool{}
	for _, o := range owners {
		if seen[o] {
			t.Fatalf("duplicate owner %s", o)
		}
		seen[o] = true
	}
}

func TestOwnersCapsAtRingSize(t *testing.T) {
	snap := snapshotOf("a", "b")
	r := Build(snap, 16)

	owners := r.Owners("some-key", 5)
	if len(owners) != 2 {
		t.Fatalf("want 2 owners (ring smaller than rf), got %d", len(owners))
	}
}

func TestOwnersEmptyRing(t *testing.T) {
	r := Build(membership.Snapshot{}, 16)
	if owners := r.Owners("k", 3); owners != nil {
		t.Fatalf("want nil owners for empty ring, got %v", owners)
	}
}

func TestOwnersStableAcrossCalls(t *testing.T) {
	snap := snapshotOf("a", "b", "c", "d")
	r := Build(snap, 32)

	first := r.Owners("stable-key", 2)
	second := r.Owners("stable-key", 2)
	if len(first) != len(second) {
		t.Fatalf("owners should be deterministic for the same ring")
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("owners should be deterministic: %v vs %v", first, second)
		}
	}
}

func TestBuildDeterministicAcrossRuns(t *testing.T) {
	snap := snapshotOf("node-1", "node-2", "node-3")
	r1 := Build(snap, 16)
	r2 := Build(snap, 16)

	if len(r1.Hashes()) != len(r2.Hashes()) {
		t.Fatalf("ring size should be deterministic")
	}
	refs1, refs2 := r1.NodeRefs(), r2.NodeRefs()
	for i := range refs1 {
		if refs1[i] != refs2[i] {
			t.Fatalf("ring layout should be deterministic at index %d", i)
		}
	}
}
