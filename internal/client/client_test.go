package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSetSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Client-ID") == "" {
			t.Fatalf("want X-Client-ID header set")
		}
		json.NewEncoder(w).Encode(SetResult{Result: "ok", Successes: 2})
	}))
	defer srv.Close()

	c := New(srv.URL, "test-client", time.Second)
	res, err := c.Set(context.TODO(), "k1", "v1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Successes != 2 {
		t.Fatalf("want successes=2, got %d", res.Successes)
	}
}

func TestGetNotFoundReturnsErrNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"result": "not_found"})
	}))
	defer srv.Close()

	c := New(srv.URL, "test-client", time.Second)
	_, err := c.Get(context.TODO(), "missing")
	if err != ErrNotFound {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestSetRetriesOn503ThenSucceeds(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"error": "gateway overloaded"})
			return
		}
		json.NewEncoder(w).Encode(SetResult{Result: "ok", Successes: 3})
	}))
	defer srv.Close()

	c := New(srv.URL, "test-client", time.Second)
	res, err := c.Set(context.TODO(), "k1", "v1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts < 2 {
		t.Fatalf("want at least 2 attempts, got %d", attempts)
	}
	if res.Successes != 3 {
		t.Fatalf("want successes=3, got %d", res.Successes)
	}
}

func TestGetRawReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ready_nodes":["http://n1"]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "test-client", time.Second)
	body, err := c.GetRaw(context.TODO(), "/status")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body == "" {
		t.Fatalf("want non-empty body")
	}
}
