// Package gatewaysvc implements the gateway coordinator of spec.md §4.4:
// a stateless-except-for-membership-snapshot HTTP front end that resolves
// owners from the hash ring, fans out SET/GET to replica nodes under a
// quorum, and gates every request on admission control and ring
// stability.
//
// Grounded on original_source/load_balancer/load_balancer.py (poll_nodes,
// build_hash_ring/get_owner_nodes, gateway_set/gateway_get,
// is_ring_stable, retry_with_backoff) and the teacher's
// internal/cluster/replicator.go for the Go shape of a fan-out
// coordinator (concurrent per-owner RPCs collected over a channel).
package gatewaysvc

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/xid"
	"go.uber.org/zap"

	"clusterkv/internal/admission"
	"clusterkv/internal/kvrecord"
	"clusterkv/internal/membership"
	"clusterkv/internal/noderpc"
	"clusterkv/internal/retry"
	"clusterkv/internal/ring"
	"clusterkv/internal/wshub"
)

// perRPCTimeout bounds each individual fan-out call to a replica
// (spec.md §4.4's default 1s).
const perRPCTimeout = 1 * time.Second

// retryPolicy implements spec.md §4.4 step 5: up to 3 attempts, 50ms
// base backoff, ±50ms jitter, 503 retryable.
var retryPolicy = retry.Policy{
	Attempts: 3,
	Base:     50 * time.Millisecond,
	Jitter:   50 * time.Millisecond,
}

// Gateway is the coordinator described above.
type Gateway struct {
	self      string
	view      *membership.View
	rpc       *noderpc.Client
	admission *admission.Controller

	numVnodes  int
	replFactor int
	pollAddr   string // a known node address the gateway polls for membership

	stablePeriod time.Duration
	pollInterval time.Duration

	hub *wshub.Hub
	log *zap.Logger

	mu         sync.Mutex
	lastDead   map[string]struct{}         // for diffing node_dead transitions into hub events
	lastStates map[string]membership.State // for diffing node_ready/node_joining transitions
}

// New creates a Gateway. pollAddr is the initial seed node whose /nodes
// endpoint is polled; once the view contains other known nodes, any of
// them may be polled (spec.md §2: "the gateway polls any one node's
// /nodes endpoint periodically").
func New(self, pollAddr string, numVnodes, replFactor int, pollInterval, stablePeriod time.Duration, admissionCap int, hub *wshub.Hub, log *zap.Logger) *Gateway {
	return &Gateway{
		self:         self,
		view:         membership.New(self),
		rpc:          noderpc.New(perRPCTimeout),
		admission:    admission.New(admission.Gateway, admissionCap),
		numVnodes:    numVnodes,
		replFactor:   replFactor,
		pollAddr:     pollAddr,
		stablePeriod: stablePeriod,
		pollInterval: pollInterval,
		hub:          hub,
		log:          log,
		lastDead:     make(map[string]struct{}),
		lastStates:   make(map[string]membership.State),
	}
}

// Run starts the periodic ring/membership poll (spec.md §4.3). Blocks
// until ctx is canceled.
func (g *Gateway) Run(ctx context.Context) {
	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()
	g.pollOnce(ctx) // prime the view immediately rather than waiting a full interval
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.pollOnce(ctx)
		}
	}
}

// pollOnce fetches /nodes from whichever node address we currently trust
// and replaces our membership view with it wholesale (the gateway has no
// view of its own to merge into, per original_source's poll_nodes).
func (g *Gateway) pollOnce(ctx context.Context) {
	target := g.pollTarget()
	if target == "" {
		return
	}
	snap, err := g.fetchNodes(ctx, target)
	if err != nil {
		g.log.Debug("ring poll failed", zap.String("target", target), zap.Error(err))
		return
	}
	g.view.ReplaceFrom(snap)
	g.emitTransitions(snap)
}

// pollTarget returns the seed address until the view has discovered
// other known peers, after which it polls a random known node so the
// gateway is not permanently dependent on the seed.
func (g *Gateway) pollTarget() string {
	peers := g.view.Peers()
	if len(peers) == 0 {
		return g.pollAddr
	}
	return peers[rand.Intn(len(peers))]
}

func (g *Gateway) fetchNodes(ctx context.Context, addr string) (membership.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr+"/nodes", nil)
	if err != nil {
		return membership.Snapshot{}, err
	}
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return membership.Snapshot{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return membership.Snapshot{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var snap membership.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return membership.Snapshot{}, err
	}
	return snap, nil
}

// emitTransitions diffs snap against the last-seen dead set and per-node
// states, broadcasting node_dead, node_ready, and node_joining events for
// whatever changed since the previous poll (SPEC_FULL.md's cluster event
// stream supplement).
func (g *Gateway) emitTransitions(snap membership.Snapshot) {
	if g.hub == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, addr := range snap.Dead {
		if _, already := g.lastDead[addr]; already {
			continue
		}
		g.lastDead[addr] = struct{}{}
		delete(g.lastStates, addr)
		g.hub.Broadcast(wshub.Event{Type: "node_dead", Addr: addr})
	}

	for addr, state := range snap.States {
		if _, dead := g.lastDead[addr]; dead {
			continue
		}
		if g.lastStates[addr] == state {
			continue
		}
		g.lastStates[addr] = state
		switch state {
		case membership.Ready:
			g.hub.Broadcast(wshub.Event{Type: "node_ready", Addr: addr})
		case membership.Joining:
			g.hub.Broadcast(wshub.Event{Type: "node_joining", Addr: addr})
		}
	}
}

// stable implements the ring-stability gate of spec.md §4.3.
func (g *Gateway) stable() bool {
	if time.Since(g.view.LastRefresh()) > g.stablePeriod {
		return false
	}
	return g.view.ReadyCount() > 0
}

// owners resolves the current owner list for key.
func (g *Gateway) owners(key string) []string {
	snap := g.view.Snapshot()
	r := ring.Build(snap, g.numVnodes)
	return r.Owners(key, g.replFactor)
}

// quorum returns W (== R) for an owner set of size n: floor(n/2)+1,
// minimum 1 (spec.md §4.4).
func quorum(n int) int {
	if n <= 0 {
		return 1
	}
	w := n/2 + 1
	if w < 1 {
		w = 1
	}
	return w
}

// Register mounts the gateway public API (spec.md §6) onto r.
func (g *Gateway) Register(r *gin.Engine) {
	r.Use(g.admit)
	r.POST("/set", g.handleSet)
	r.GET("/get", g.handleGet)
	r.GET("/status", g.handleStatus)
	r.GET("/ring", g.handleRing)
	if g.hub != nil {
		r.GET("/cluster/events", gin.WrapF(g.hub.ServeHTTP))
	}
}

func (g *Gateway) admit(c *gin.Context) {
	if !g.admission.TryAcquire() {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": g.admission.ErrorMessage()})
		return
	}
	defer g.admission.Release()
	c.Next()
}

type setBody struct {
	Key       string   `json:"key" binding:"required"`
	Value     string   `json:"value"`
	RequestID string   `json:"request_id"`
	Ts        *float64 `json:"ts"`
}

// handleSet implements POST /set (spec.md §4.4's SET protocol).
func (g *Gateway) handleSet(c *gin.Context) {
	if !g.stable() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Cluster is not stable, try again soon."})
		return
	}

	var body setBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ts := float64(time.Now().UnixNano()) / 1e9
	if body.Ts != nil {
		ts = *body.Ts
	}
	reqID := body.RequestID
	if reqID == "" {
		clientID := c.GetHeader("X-Client-ID")
		reqID = fmt.Sprintf("%s-%s", firstNonEmpty(clientID, body.Key), xid.New().String())
	}

	owners := g.owners(body.Key)
	if len(owners) == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "No ready nodes found"})
		return
	}
	w := quorum(len(owners))

	rec := kvrecord.Record{Key: body.Key, Value: body.Value, Ts: ts, RequestID: reqID}
	successes, errs := g.fanOutSet(c.Request.Context(), owners, rec)
	if successes >= w {
		c.JSON(http.StatusOK, gin.H{"result": "ok", "successes": successes})
		return
	}
	g.log.Warn("write quorum not reached", zap.String("key", body.Key), zap.Int("successes", successes), zap.Int("w", w))
	c.JSON(http.StatusServiceUnavailable, gin.H{"result": "write_failed", "successes": successes, "errors": errs})
}

// fanOutSet issues POST /internal/set against every owner concurrently,
// each wrapped in the shared retry policy, and counts HTTP-200 successes.
func (g *Gateway) fanOutSet(ctx context.Context, owners []string, rec kvrecord.Record) (int, []string) {
	type outcome struct {
		ok  bool
		err string
	}
	results := make(chan outcome, len(owners))
	var wg sync.WaitGroup
	for _, owner := range owners {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			ok, err := retry.Do(ctx, retryPolicy, func(attempt int) (bool, error) {
				_, rpcErr := g.rpc.SetLocal(ctx, addr, rec)
				return rpcErr == nil, rpcErr
			})
			if ok {
				results <- outcome{ok: true}
				return
			}
			msg := addr + ": write failed or overload"
			if err != nil {
				msg = addr + ": " + err.Error()
			}
			results <- outcome{ok: false, err: msg}
		}(owner)
	}
	wg.Wait()
	close(results)

	successes := 0
	var errs []string
	for r := range results {
		if r.ok {
			successes++
		} else {
			errs = append(errs, r.err)
		}
	}
	return successes, errs
}

// handleGet implements GET /get (spec.md §4.4's GET protocol). It is
// deliberately AP: if at least one owner answers, that record (the one
// with the greatest ts) is returned even if full read quorum R was not
// reached, per DESIGN.md's Open Question decision.
func (g *Gateway) handleGet(c *gin.Context) {
	if !g.stable() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Cluster is not stable, try again soon."})
		return
	}
	key := c.Query("key")
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing key"})
		return
	}

	owners := g.owners(key)
	if len(owners) == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "No ready nodes found"})
		return
	}
	r := quorum(len(owners))

	results := g.fanOutGet(c.Request.Context(), owners, key)
	if len(results) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"result": "not_found"})
		return
	}
	if len(results) < r {
		g.log.Warn("read quorum not reached, returning best available value", zap.String("key", key), zap.Int("results", len(results)), zap.Int("r", r))
	}

	best := results[0]
	for _, rec := range results[1:] {
		if rec.Ts > best.Ts {
			best = rec
		}
	}
	c.JSON(http.StatusOK, gin.H{"key": best.Key, "value": best.Value, "ts": best.Ts})
}

// fanOutGet issues GET /internal/get against every owner concurrently,
// each under the shared retry policy, and collects every record found.
func (g *Gateway) fanOutGet(ctx context.Context, owners []string, key string) []kvrecord.Record {
	type outcome struct {
		rec   kvrecord.Record
		found bool
	}
	out := make(chan outcome, len(owners))
	var wg sync.WaitGroup
	for _, owner := range owners {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			var rec kvrecord.Record
			var found bool
			_, _ = retry.Do(ctx, retryPolicy, func(attempt int) (bool, error) {
				r, f, err := g.rpc.GetLocal(ctx, addr, key)
				if err != nil {
					return false, err
				}
				rec, found = r, f
				return true, nil
			})
			out <- outcome{rec: rec, found: found}
		}(owner)
	}
	wg.Wait()
	close(out)

	var records []kvrecord.Record
	for o := range out {
		if o.found {
			records = append(records, o.rec)
		}
	}
	return records
}

// handleStatus implements GET /status.
func (g *Gateway) handleStatus(c *gin.Context) {
	snap := g.view.Snapshot()
	ready := g.view.ReadyPeers()
	c.JSON(http.StatusOK, gin.H{
		"known_nodes":            snap.Nodes,
		"node_states":            snap.States,
		"dead_nodes":             snap.Dead,
		"ready_nodes":            ready,
		"num_ready":              len(ready),
		"ring_stable":            g.stable(),
		"gateway_inflight":       g.admission.InFlight(),
		"gateway_inflight_limit": g.admission.Cap(),
	})
}

// handleRing implements GET /ring.
func (g *Gateway) handleRing(c *gin.Context) {
	snap := g.view.Snapshot()
	r := ring.Build(snap, g.numVnodes)
	if r.NodeCount() == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "No ready nodes in the ring"})
		return
	}
	hashes := r.Hashes()
	ringStrs := make([]string, len(hashes))
	for i, h := range hashes {
		ringStrs[i] = h.String()
	}
	c.JSON(http.StatusOK, gin.H{
		"ring":               ringStrs,
		"node_refs":          r.NodeRefs(),
		"num_vnodes":         g.numVnodes,
		"replication_factor": g.replFactor,
	})
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
