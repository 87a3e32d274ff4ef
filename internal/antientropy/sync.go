// Package antientropy implements the reconciliation engine of spec.md
// §4.7: a one-shot initial sync that a joining node runs before it
// declares itself ready, and a background sync loop that keeps ready
// owners converged afterward.
//
// Grounded on original_source/node/app.py's initial_sync and the
// background reconciliation it performs inline in the gossip loop,
// translated here into two explicit, independently schedulable
// goroutine-driven loops per the teacher's habit of splitting each
// background activity into its own method (see the teacher's periodic
// snapshot goroutine in cmd/server/main.go).
package antientropy

import (
	"context"
	"time"

	"go.uber.org/zap"

	"clusterkv/internal/membership"
	"clusterkv/internal/noderpc"
	"clusterkv/internal/ring"
	"clusterkv/internal/store"
)

const backgroundSyncPeriod = 10 * time.Second

// rpcTimeout bounds each individual all_keys/get_many/get call made during
// reconciliation; spec.md §5 requires every outbound RPC to carry an
// explicit timeout.
const rpcTimeout = 5 * time.Second

// Syncer drives anti-entropy for one node: self's address, its view of
// the cluster (for owners()), its local store, and the vnode/replication
// parameters needed to recompute ownership.
type Syncer struct {
	self       string
	view       *membership.View
	store      store.Store
	rpc        *noderpc.Client
	numVnodes  int
	replFactor int
	log        *zap.Logger
}

// New creates a Syncer.
func New(self string, view *membership.View, st store.Store, numVnodes, replFactor int, log *zap.Logger) *Syncer {
	return &Syncer{
		self:       self,
		view:       view,
		store:      st,
		rpc:        noderpc.New(rpcTimeout),
		numVnodes:  numVnodes,
		replFactor: replFactor,
		log:        log,
	}
}

// owns reports whether self is among owners(key) under the current ring
// built from the live view.
func (s *Syncer) owns(key string) bool {
	snap := s.view.Snapshot()
	r := ring.Build(snap, s.numVnodes)
	for _, addr := range r.Owners(key, s.replFactor) {
		if addr == s.self {
			return true
		}
	}
	return false
}

// InitialSync runs once, before self transitions joining -> ready
// (spec.md §4.7, steps 1-7). It pulls every key self now owns that it
// does not yet hold, from whichever ready peer claims it, then marks
// self ready regardless of whether every peer answered (best-effort, per
// the AP design stance).
func (s *Syncer) InitialSync(ctx context.Context) {
	peers := s.view.ReadyPeers()
	if len(peers) == 0 {
		s.log.Info("initial sync: no ready peers, becoming ready immediately")
		s.view.SetState(membership.Ready)
		return
	}

	localKeys, err := s.store.AllKeys()
	if err != nil {
		s.log.Warn("initial sync: failed to list local keys", zap.Error(err))
		localKeys = nil
	}
	local := make(map[string]struct{}, len(localKeys))
	for _, k := range localKeys {
		local[k] = struct{}{}
	}

	peerKeys := make(map[string][]string, len(peers))
	needed := make(map[string]struct{})
	for _, peer := range peers {
		keys, err := s.rpc.AllKeys(ctx, peer)
		if err != nil {
			s.log.Warn("initial sync: all_keys failed", zap.String("peer", peer), zap.Error(err))
			continue
		}
		peerKeys[peer] = keys
		for _, k := range keys {
			if s.owns(k) {
				needed[k] = struct{}{}
			}
		}
	}

	missing := make(map[string]struct{}, len(needed))
	for k := range needed {
		if _, have := local[k]; !have {
			missing[k] = struct{}{}
		}
	}

	for _, peer := range peers {
		if len(missing) == 0 {
			break
		}
		candidates := intersectKeys(missing, peerKeys[peer])
		if len(candidates) == 0 {
			continue
		}
		records, err := s.rpc.GetMany(ctx, peer, candidates)
		if err != nil {
			s.log.Warn("initial sync: get_many failed", zap.String("peer", peer), zap.Error(err))
			continue
		}
		for key, rec := range records {
			if _, err := s.store.PutIfNewer(key, rec.Value, rec.Ts, rec.RequestID); err != nil {
				s.log.Warn("initial sync: apply failed", zap.String("key", key), zap.Error(err))
				continue
			}
			delete(missing, key)
		}
	}

	if len(missing) > 0 {
		s.log.Warn("initial sync: peers exhausted with keys still missing", zap.Int("missing", len(missing)))
	}
	s.view.SetState(membership.Ready)
	s.log.Info("initial sync complete, node is ready")
}

func intersectKeys(missing map[string]struct{}, peerHas []string) []string {
	var out []string
	for _, k := range peerHas {
		if _, want := missing[k]; want {
			out = append(out, k)
		}
	}
	return out
}

// Run starts the background sync loop (spec.md §4.7). Blocks until ctx is
// canceled; callers should invoke InitialSync before Run, or run it in a
// separate goroutine before starting the server.
func (s *Syncer) Run(ctx context.Context) {
	ticker := time.NewTicker(backgroundSyncPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.backgroundSyncOnce(ctx)
		}
	}
}

// backgroundSyncOnce is the per-tick reconciliation pass: for each ready
// peer, compare remote key timestamps against local and pull anything
// newer or absent. Best-effort; a failed peer is logged and retried next
// tick.
func (s *Syncer) backgroundSyncOnce(ctx context.Context) {
	for _, peer := range s.view.ReadyPeers() {
		keys, err := s.rpc.AllKeys(ctx, peer)
		if err != nil {
			s.log.Debug("background sync: all_keys failed", zap.String("peer", peer), zap.Error(err))
			continue
		}
		for _, key := range keys {
			if !s.owns(key) {
				continue
			}
			if err := s.reconcileKey(ctx, peer, key); err != nil {
				s.log.Debug("background sync: reconcile failed", zap.String("peer", peer), zap.String("key", key), zap.Error(err))
			}
		}
	}
}

func (s *Syncer) reconcileKey(ctx context.Context, peer, key string) error {
	local, found, err := s.store.Get(key)
	if err != nil {
		return err
	}

	remote, remoteFound, err := s.rpc.GetLocal(ctx, peer, key)
	if err != nil {
		return err
	}
	if !remoteFound {
		return nil
	}
	if found && remote.Ts <= local.Ts {
		return nil
	}

	_, err = s.store.PutIfNewer(key, remote.Value, remote.Ts, remote.RequestID)
	return err
}
