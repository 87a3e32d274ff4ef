// Package node wires the node-local pieces (store, membership view,
// gossiper, admission controller) into the internal HTTP surface of
// spec.md §4.5: put_if_newer, get, get_many, all_keys, plus the gossip
// ingest and membership/status endpoints §4.2/§4.6 attach to the same
// process.
//
// Grounded on the teacher's internal/api/handlers.go (one Handler struct
// wrapping store/replicator/membership, Register(r) mounting every
// route) with the route set replaced to match spec.md's internal
// surface instead of the teacher's public /kv/:key surface.
package node

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"clusterkv/internal/admission"
	"clusterkv/internal/kvrecord"
	"clusterkv/internal/membership"
	"clusterkv/internal/store"
)

// Handler serves a node's internal and membership HTTP surface.
type Handler struct {
	store     store.Store
	view      *membership.View
	gossiper  *membership.Gossiper
	admission *admission.Controller
	log       *zap.Logger
}

// NewHandler creates a node Handler.
func NewHandler(st store.Store, view *membership.View, gossiper *membership.Gossiper, adm *admission.Controller, log *zap.Logger) *Handler {
	return &Handler{store: st, view: view, gossiper: gossiper, admission: adm, log: log}
}

// Register mounts every route this node serves onto r.
func (h *Handler) Register(r *gin.Engine) {
	r.Use(h.admit)

	r.POST("/internal/set", h.internalSet)
	r.GET("/internal/get", h.internalGet)
	r.POST("/internal/get_many", h.internalGetMany)
	r.GET("/internal/all_keys", h.internalAllKeys)
	r.GET("/nodes", h.nodes)
	r.POST("/gossip", h.gossip)
	r.GET("/status", h.status)
}

// admit is the node-tier admission gate of spec.md §4.6: every request
// through this Handler is test-and-incremented against MAX_IN_FLIGHT,
// decremented on every exit path via defer.
func (h *Handler) admit(c *gin.Context) {
	if !h.admission.TryAcquire() {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": h.admission.ErrorMessage()})
		return
	}
	defer h.admission.Release()
	c.Next()
}

type setRequest struct {
	Key       string  `json:"key" binding:"required"`
	Value     string  `json:"value"`
	Ts        float64 `json:"ts"`
	RequestID string  `json:"request_id"`
}

// internalSet implements POST /internal/set -> put_if_newer (spec.md
// §4.5): 200 for both outcomes, with the result tag distinguishing a
// genuine replication from an ignored stale write; 400 for a malformed
// body, 503 when the local store fails (or, via admit, when shed).
func (h *Handler) internalSet(c *gin.Context) {
	var req setRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.store.PutIfNewer(req.Key, req.Value, req.Ts, req.RequestID)
	if err != nil {
		h.log.Warn("local store write failed", zap.String("key", req.Key), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result.String()})
}

// internalGet implements GET /internal/get -> get (spec.md §4.5).
func (h *Handler) internalGet(c *gin.Context) {
	key := c.Query("key")
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing key"})
		return
	}
	rec, found, err := h.store.Get(key)
	if err != nil {
		h.log.Warn("local store read failed", zap.String("key", key), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage error"})
		return
	}
	if !found {
		c.JSON(http.StatusOK, gin.H{"key": key, "value": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "value": rec})
}

type getManyRequest struct {
	Keys []string `json:"keys"`
}

// internalGetMany implements POST /internal/get_many -> get_many
// (spec.md §4.5): returns only the keys this node actually holds.
func (h *Handler) internalGetMany(c *gin.Context) {
	var req getManyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	records, err := h.store.GetMany(req.Keys)
	if err != nil {
		h.log.Warn("local store get_many failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage error"})
		return
	}
	if records == nil {
		records = map[string]kvrecord.Record{}
	}
	c.JSON(http.StatusOK, records)
}

// internalAllKeys implements GET /internal/all_keys (spec.md §4.5).
func (h *Handler) internalAllKeys(c *gin.Context) {
	keys, err := h.store.AllKeys()
	if err != nil {
		h.log.Warn("local store all_keys failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage error"})
		return
	}
	if keys == nil {
		keys = []string{}
	}
	c.JSON(http.StatusOK, keys)
}

// nodes implements GET /nodes: returns this node's membership view, used
// both by peers bootstrapping off this node and by the gateway's ring
// poll (spec.md §4.2/§4.3).
func (h *Handler) nodes(c *gin.Context) {
	c.JSON(http.StatusOK, h.view.Snapshot())
}

// gossip implements POST /gossip: ingest the sender's view, reply with
// ours (spec.md §4.2).
func (h *Handler) gossip(c *gin.Context) {
	var incoming membership.Snapshot
	if err := c.ShouldBindJSON(&incoming); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.gossiper.Ingest(incoming))
}

// status implements GET /status: liveness plus admission counters
// (spec.md §4.5/§4.6).
func (h *Handler) status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"self":      h.view.Self(),
		"state":     h.view.SelfState(),
		"in_flight": h.admission.InFlight(),
		"cap":       h.admission.Cap(),
	})
}
