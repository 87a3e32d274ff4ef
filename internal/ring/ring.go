// Package ring implements the consistent hash ring (spec.md §4.3): a pure
// function over a membership snapshot that maps keys to an ordered owner
// list, stable under membership change.
//
// Grounded on the teacher's internal/cluster/ring.go (sorted-uint32 ring +
// binary search over SHA-256) generalized to the 160-bit SHA-1 ring
// spec.md §3 specifies, and on original_source/load_balancer/
// load_balancer.py's build_hash_ring/get_owner_nodes for the exact vnode
// label scheme ("<addr>-vn<i>") and tie-break (insertion order).
package ring

import (
	"crypto/sha1"
	"math/big"
	"sort"
	"strconv"

	"clusterkv/internal/membership"
)

// point is one vnode's position on the ring.
type point struct {
	hash *big.Int
	addr string
	seq  int // insertion order, for deterministic tie-break on hash collision
}

// Ring is an immutable snapshot of ring positions built from a membership
// snapshot. Building it is O(N*V log(N*V)); Owners is O(log(N*V) + V*R).
type Ring struct {
	points []point
}

// Build constructs the ring from the ready, non-dead nodes in snap, with
// numVnodes virtual nodes per physical node (spec.md §3).
func Build(snap membership.Snapshot, numVnodes int) *Ring {
	dead := make(map[string]struct{}, len(snap.Dead))
	for _, d := range snap.Dead {
		dead[d] = struct{}{}
	}

	var ready []string
	for _, addr := range snap.Nodes {
		if _, isDead := dead[addr]; isDead {
			continue
		}
		if snap.States[addr] != membership.Ready {
			continue
		}
		ready = append(ready, addr)
	}
	sort.Strings(ready) // deterministic insertion order for tie-breaks

	var points []point
	seq := 0
	for _, addr := range ready {
		for i := 0; i < numVnodes; i++ {
			label := vnodeLabel(addr, i)
			points = append(points, point{hash: hash160(label), addr: addr, seq: seq})
			seq++
		}
	}
	sort.Slice(points, func(i, j int) bool {
		c := points[i].hash.Cmp(points[j].hash)
		if c != 0 {
			return c < 0
		}
		return points[i].seq < points[j].seq
	})
	return &Ring{points: points}
}

func vnodeLabel(addr string, i int) string {
	return addr + "-vn" + strconv.Itoa(i)
}

func hash160(s string) *big.Int {
	sum := sha1.Sum([]byte(s))
	return new(big.Int).SetBytes(sum[:])
}

// NodeCount returns the number of distinct physical nodes on the ring.
func (r *Ring) NodeCount() int {
	seen := make(map[string]struct{})
	for _, p := range r.points {
		seen[p.addr] = struct{}{}
	}
	return len(seen)
}

// Hashes returns every vnode hash on the ring, for the debug /ring
// endpoint (spec.md §6).
func (r *Ring) Hashes() []*big.Int {
	out := make([]*big.Int, len(r.points))
	for i, p := range r.points {
		out[i] = p.hash
	}
	return out
}

// NodeRefs returns the physical node owning each vnode position, parallel
// to Hashes().
func (r *Ring) NodeRefs() []string {
	out := make([]string, len(r.points))
	for i, p := range r.points {
		out[i] = p.addr
	}
	return out
}

// Owners returns the first rf distinct addresses encountered walking the
// ring clockwise from bisect(ring, hash(key)). If the ring has fewer
// distinct addresses than rf, all of them are returned.
func (r *Ring) Owners(key string, rf int) []string {
	if len(r.points) == 0 {
		return nil
	}

	target := hash160(key)
	idx := sort.Search(len(r.points), func(i int) bool {
		return r.points[i].hash.Cmp(target) >= 0
	})
	if idx == len(r.points) {
		idx = 0
	}

	seen := make(map[string]struct{})
	var owners []string
	for i := 0; i < len(r.points) && len(owners) < rf; i++ {
		p := r.points[(idx+i)%len(r.points)]
		if _, dup := seen[p.addr]; dup {
			continue
		}
		seen[p.addr] = struct{}{}
		owners = append(owners, p.addr)
	}
	return owners
}
