// Package client is the Go SDK for talking to a clusterkv gateway: Set
// and Get, wrapped in the bounded-retry contract spec.md §4.6 requires of
// external clients, plus GetRaw for the read-only cluster introspection
// endpoints (/status, /ring), which makes a single attempt with no retry.
//
// Grounded on the teacher's internal/client/client.go+raw.go (Client
// wraps one baseURL + *http.Client, typed Put/Get plus a GetRaw escape
// hatch, checkStatus/APIError for non-2xx handling) with the KV surface
// replaced (gateway /set and /get instead of the teacher's /kv/:key) and
// retries layered on top via internal/retry per spec.md §4.6's
// client-side retry contract.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rs/xid"

	"clusterkv/internal/retry"
)

// Client talks to one gateway address.
type Client struct {
	baseURL     string
	clientID    string
	httpClient  *http.Client
	retryPolicy retry.Policy
}

// New creates a Client against baseURL (e.g. "http://localhost:9000").
// clientID is sent as X-Client-ID on every request and seeds generated
// request_ids; if empty, a random uuid is used.
func New(baseURL string, clientID string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	if clientID == "" {
		clientID = uuid.NewString()
	}
	return &Client{
		baseURL:    baseURL,
		clientID:   clientID,
		httpClient: &http.Client{Timeout: timeout},
		retryPolicy: retry.Policy{
			Attempts: 3,
			Base:     50 * time.Millisecond,
			Jitter:   50 * time.Millisecond,
			IsRetryable: func(err error, ok bool) bool {
				return err != nil || !ok
			},
		},
	}
}

// SetResult mirrors the gateway's /set success body.
type SetResult struct {
	Result    string `json:"result"`
	Successes int    `json:"successes"`
}

// GetResult mirrors the gateway's /get success body.
type GetResult struct {
	Key   string  `json:"key"`
	Value string  `json:"value"`
	Ts    float64 `json:"ts"`
}

// Set writes key=value through the gateway. requestID, if empty, is
// generated once as "<clientID>-<xid>" so retries of this same call
// reuse one request_id (required for idempotence by spec.md §4.6).
func (c *Client) Set(ctx context.Context, key, value, requestID string) (*SetResult, error) {
	if requestID == "" {
		requestID = fmt.Sprintf("%s-%s", c.clientID, xid.New().String())
	}

	var result SetResult
	ok, err := retry.Do(ctx, c.retryPolicy, func(attempt int) (bool, error) {
		body, _ := json.Marshal(map[string]string{"key": key, "value": value, "request_id": requestID})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/set", bytes.NewReader(body))
		if err != nil {
			return false, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Client-ID", c.clientID)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return false, err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusServiceUnavailable {
			return false, nil
		}
		if err := checkStatus(resp); err != nil {
			return false, err
		}
		return true, json.NewDecoder(resp.Body).Decode(&result)
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &APIError{Status: http.StatusServiceUnavailable, Message: "gateway did not reach write quorum after retries"}
	}
	return &result, nil
}

// Get reads key through the gateway, retrying 503s (overload/unstable
// ring) and treating 404 as terminal per spec.md §4.6.
func (c *Client) Get(ctx context.Context, key string) (*GetResult, error) {
	var result GetResult
	var notFound bool

	ok, err := retry.Do(ctx, c.retryPolicy, func(attempt int) (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/get?key="+url.QueryEscape(key), nil)
		if err != nil {
			return false, err
		}
		req.Header.Set("X-Client-ID", c.clientID)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return false, err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			notFound = true
			return true, nil // terminal, not retryable
		}
		if resp.StatusCode == http.StatusServiceUnavailable {
			return false, nil
		}
		if err := checkStatus(resp); err != nil {
			return false, err
		}
		return true, json.NewDecoder(resp.Body).Decode(&result)
	})
	if err != nil {
		return nil, err
	}
	if notFound {
		return nil, ErrNotFound
	}
	if !ok {
		return nil, &APIError{Status: http.StatusServiceUnavailable, Message: "gateway unavailable after retries"}
	}
	return &result, nil
}

// GetRaw performs a raw GET against path (e.g. "/status", "/ring") and
// returns the response body as a string, for endpoints whose shape the
// CLI just wants to pretty-print rather than bind to a struct.
func (c *Client) GetRaw(ctx context.Context, path string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return "", err
	}
	body, err := io.ReadAll(resp.Body)
	return string(body), err
}

// ErrNotFound is returned when the gateway reports a key as not_found.
var ErrNotFound = fmt.Errorf("key not found")

// APIError carries the HTTP status and message from a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	var apiErr struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.Error
	if msg == "" {
		msg = string(body)
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
