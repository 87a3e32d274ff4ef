// Package kvrecord defines the wire and storage shape of a single record in
// the cluster: a key, its value, the wall-clock timestamp of the write that
// produced it, and the idempotency token of the request that produced it.
package kvrecord

// Record is the unit stored by a node and exchanged between nodes and the
// gateway. ts is assigned once, by the gateway that first accepts the
// client's write (see DESIGN.md, Open Question 1); nodes never mint their
// own ts.
type Record struct {
	Key       string  `json:"key"`
	Value     string  `json:"value"`
	Ts        float64 `json:"ts"`
	RequestID string  `json:"request_id"`
}

// Newer reports whether r should replace prev under the put_if_newer rule
// in spec.md §4.1: equal request_id is idempotent replay (not "newer" but
// applied all the same), strictly smaller ts is superseded, and ties on ts
// break lexicographically on request_id (last-arriving-with-greater-id
// wins).
func (r Record) Newer(prev Record, hasPrev bool) bool {
	if !hasPrev {
		return true
	}
	if r.RequestID == prev.RequestID {
		return true
	}
	if r.Ts != prev.Ts {
		return r.Ts > prev.Ts
	}
	return r.RequestID >= prev.RequestID
}
