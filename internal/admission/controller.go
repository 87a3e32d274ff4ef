// Package admission implements the bounded in-flight admission controller
// described in spec.md §4.6: a fixed-cap counter per tier (gateway or
// node), tested and incremented atomically before dispatching any request
// body, decremented on every exit path.
//
// Grounded on original_source/node/app.py's with_overload_protection and
// load_balancer.py's with_gateway_load_shedding decorators, translated
// into a reusable Go type per spec.md §9's guidance to encapsulate
// process-wide mutable state as a small typed module rather than a
// package-level global.
package admission

import "sync/atomic"

// Tier names the two admission points in spec.md §4.6, used only to shape
// the error body ("gateway overloaded" vs "node overloaded").
type Tier string

const (
	Gateway Tier = "gateway"
	Node    Tier = "node"
)

// Controller is a process-wide admission gate with a fixed capacity.
type Controller struct {
	tier     Tier
	cap      int64
	inFlight int64
}

// New creates a Controller for tier with the given capacity.
func New(tier Tier, cap int) *Controller {
	return &Controller{tier: tier, cap: int64(cap)}
}

// TryAcquire atomically tests-and-increments the in-flight counter. If the
// cap would be exceeded, it leaves the counter unchanged and returns false.
func (c *Controller) TryAcquire() bool {
	for {
		cur := atomic.LoadInt64(&c.inFlight)
		if cur >= c.cap {
			return false
		}
		if atomic.CompareAndSwapInt64(&c.inFlight, cur, cur+1) {
			return true
		}
	}
}

// Release decrements the in-flight counter. Must be called exactly once
// per successful TryAcquire, on every exit path.
func (c *Controller) Release() {
	atomic.AddInt64(&c.inFlight, -1)
}

// InFlight returns the current in-flight count, for /status reporting.
func (c *Controller) InFlight() int {
	return int(atomic.LoadInt64(&c.inFlight))
}

// Cap returns the configured capacity.
func (c *Controller) Cap() int {
	return int(c.cap)
}

// ErrorMessage returns the tier-specific overload message body required by
// spec.md §4.6 ("gateway overloaded" vs "node overloaded").
func (c *Controller) ErrorMessage() string {
	return string(c.tier) + " overloaded"
}
