package membership

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	broadcastPeriod   = 2 * time.Second
	healthCheckPeriod = 5 * time.Second
	minFanout         = 1
	maxFanout         = 3
)

// Gossiper drives the three cooperative background activities of spec.md
// §4.2 on top of a View: bootstrap (once), gossip broadcast (every 2s),
// and health-check (every 5s). Gossip ingest (the /gossip HTTP handler) is
// exposed as a method so the node's HTTP layer can call straight into it.
//
// Grounded on original_source/node/app.py's gossip_thread/join_cluster,
// extended with the dead-set health checker spec.md §4.2 adds.
type Gossiper struct {
	view        *View
	client      *http.Client
	deadTimeout time.Duration
	log         *zap.Logger
}

// NewGossiper creates a Gossiper for view. deadTimeout is the
// DEAD_TIMEOUT config value (default 30s).
func NewGossiper(view *View, deadTimeout time.Duration, log *zap.Logger) *Gossiper {
	return &Gossiper{
		view:        view,
		client:      &http.Client{Timeout: 2 * time.Second},
		deadTimeout: deadTimeout,
		log:         log,
	}
}

// Bootstrap fetches seedAddr's /nodes once and merges it into our view,
// then inserts the seed itself as known. A no-op if seedAddr is empty or
// equal to self.
func (g *Gossiper) Bootstrap(ctx context.Context, seedAddr string) {
	if seedAddr == "" || seedAddr == g.view.Self() {
		return
	}
	snap, err := g.fetchNodes(ctx, seedAddr)
	if err != nil {
		g.log.Warn("bootstrap from seed failed", zap.String("seed", seedAddr), zap.Error(err))
		return
	}
	added := g.view.Merge(snap)
	g.view.AddKnown(seedAddr, Joining)
	g.log.Info("bootstrapped from seed", zap.String("seed", seedAddr), zap.Int("new_nodes", added))
}

func (g *Gossiper) fetchNodes(ctx context.Context, addr string) (Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr+"/nodes", nil)
	if err != nil {
		return Snapshot{}, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return Snapshot{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Snapshot{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var snap Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Run starts the broadcast and health-check loops. Blocks until ctx is
// canceled.
func (g *Gossiper) Run(ctx context.Context) {
	go g.broadcastLoop(ctx)
	go g.healthCheckLoop(ctx)
	<-ctx.Done()
}

func (g *Gossiper) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(broadcastPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.broadcastOnce(ctx)
		}
	}
}

// broadcastOnce selects a random fanout-sized subset of peers and gossips
// our full view to each, applying their returned view symmetrically.
func (g *Gossiper) broadcastOnce(ctx context.Context) {
	peers := g.view.Peers()
	if len(peers) == 0 {
		return
	}
	fanout := clamp(minFanout, maxFanout, int(math.Sqrt(float64(len(peers)))))
	targets := sampleN(peers, fanout)

	payload := g.view.Snapshot()
	for _, peer := range targets {
		reply, err := g.sendGossip(ctx, peer, payload)
		if err != nil {
			g.log.Debug("gossip send failed", zap.String("peer", peer), zap.Error(err))
			continue
		}
		added := g.view.Merge(reply)
		if added > 0 {
			g.log.Info("discovered nodes via gossip", zap.String("peer", peer), zap.Int("new_nodes", added))
		}
	}
}

func (g *Gossiper) sendGossip(ctx context.Context, peer string, payload Snapshot) (Snapshot, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Snapshot{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, peer+"/gossip", bytes.NewReader(body))
	if err != nil {
		return Snapshot{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return Snapshot{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Snapshot{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var reply Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return Snapshot{}, err
	}
	return reply, nil
}

// Ingest handles an incoming gossip POST: merges the sender's view and
// returns our merged view so the sender can apply it symmetrically.
func (g *Gossiper) Ingest(incoming Snapshot) Snapshot {
	added := g.view.Merge(incoming)
	if added > 0 {
		g.log.Info("gossip ingest added nodes", zap.Int("new_nodes", added))
	}
	return g.view.Snapshot()
}

func (g *Gossiper) healthCheckLoop(ctx context.Context) {
	ticker := time.NewTicker(healthCheckPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.healthCheckOnce(ctx)
		}
	}
}

func (g *Gossiper) healthCheckOnce(ctx context.Context) {
	for _, peer := range g.view.Peers() {
		if g.probe(ctx, peer) {
			g.view.Touch(peer)
			continue
		}
		if g.view.MarkDeadIfStale(peer, g.deadTimeout) {
			g.log.Info("peer marked dead", zap.String("peer", peer))
		}
	}
}

func (g *Gossiper) probe(ctx context.Context, peer string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, peer+"/status", nil)
	if err != nil {
		return false
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func clamp(lo, hi, v int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// sampleN returns up to n distinct elements of peers, in random order.
func sampleN(peers []string, n int) []string {
	if n >= len(peers) {
		shuffled := append([]string(nil), peers...)
		rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		return shuffled
	}
	idx := rand.Perm(len(peers))[:n]
	out := make([]string, n)
	for i, j := range idx {
		out[i] = peers[j]
	}
	return out
}
