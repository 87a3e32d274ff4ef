// Package noderpc is the HTTP client for the node internal API of spec.md
// §4.5: put_if_newer, get, get_many, and all_keys across the wire. It is
// shared by the gateway coordinator (fan-out SET/GET) and the
// anti-entropy engine (reconciliation pulls), matching spec.md §9's
// guidance that gateway-to-node and node-to-node RPC share one
// implementation rather than duplicating request/response plumbing.
//
// Grounded on the teacher's internal/cluster/replicator.go (sendSet/
// sendGet-style per-peer HTTP calls) and original_source/node/app.py's
// /internal/set, /internal/get, /internal/get_many, /internal/all_keys
// routes, whose JSON field names are preserved verbatim here.
package noderpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"clusterkv/internal/kvrecord"
)

// Client issues internal-API calls against peer node addresses.
type Client struct {
	http *http.Client
}

// New creates a Client with the given per-RPC timeout (spec.md §4.4's
// default 1s applies to set/get fan-out; callers may share one Client
// across calls with different deadlines via context).
func New(timeout time.Duration) *Client {
	return &Client{http: &http.Client{Timeout: timeout}}
}

// setRequest/setResponse mirror /internal/set's JSON contract.
type setRequest struct {
	Key       string  `json:"key"`
	Value     string  `json:"value"`
	Ts        float64 `json:"ts"`
	RequestID string  `json:"request_id"`
}

type setResponse struct {
	Result string `json:"result"`
}

// SetLocal issues POST /internal/set against peer and returns the result
// tag ("replicated" or "old_write_ignored"). A non-2xx response is
// returned as an error so callers can drive retry/quorum counting.
func (c *Client) SetLocal(ctx context.Context, peer string, rec kvrecord.Record) (string, error) {
	body, err := json.Marshal(setRequest{Key: rec.Key, Value: rec.Value, Ts: rec.Ts, RequestID: rec.RequestID})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, peer+"/internal/set", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("internal set on %s: status %d", peer, resp.StatusCode)
	}
	var out setResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Result, nil
}

// getResponse mirrors /internal/get's JSON contract: value is present
// only when the key was found.
type getResponse struct {
	Key   string           `json:"key"`
	Value *kvrecord.Record `json:"value"`
}

// GetLocal issues GET /internal/get?key=… against peer.
func (c *Client) GetLocal(ctx context.Context, peer, key string) (kvrecord.Record, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, peer+"/internal/get?key="+url.QueryEscape(key), nil)
	if err != nil {
		return kvrecord.Record{}, false, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return kvrecord.Record{}, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return kvrecord.Record{}, false, fmt.Errorf("internal get on %s: status %d", peer, resp.StatusCode)
	}
	var out getResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return kvrecord.Record{}, false, err
	}
	if out.Value == nil {
		return kvrecord.Record{}, false, nil
	}
	return *out.Value, true, nil
}

// GetMany issues POST /internal/get_many against peer for the given keys
// and returns the subset peer holds.
func (c *Client) GetMany(ctx context.Context, peer string, keys []string) (map[string]kvrecord.Record, error) {
	body, err := json.Marshal(struct {
		Keys []string `json:"keys"`
	}{Keys: keys})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, peer+"/internal/get_many", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("internal get_many on %s: status %d", peer, resp.StatusCode)
	}
	var out map[string]kvrecord.Record
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// AllKeys issues GET /internal/all_keys against peer.
func (c *Client) AllKeys(ctx context.Context, peer string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, peer+"/internal/all_keys", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("internal all_keys on %s: status %d", peer, resp.StatusCode)
	}
	var out []string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
