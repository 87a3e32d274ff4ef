package store

import (
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *LevelStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "kv.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutIfNewerFirstWriteApplies(t *testing.T) {
	s := newTestStore(t)

	res, err := s.PutIfNewer("k1", "hello", 10, "req-1")
	if err != nil {
		t.Fatalf("PutIfNewer: %v", err)
	}
	if res != Applied {
		t.Fatalf("want Applied, got %v", res)
	}

	rec, ok, err := s.Get("k1")
	if err != nil || !ok {
		t.Fatalf("Get: %v, ok=%v", err, ok)
	}
	if rec.Value != "hello" || rec.Ts != 10 || rec.RequestID != "req-1" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestPutIfNewerOlderTsSuperseded(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.PutIfNewer("k1", "world", 20, "req-2"); err != nil {
		t.Fatalf("PutIfNewer: %v", err)
	}

	res, err := s.PutIfNewer("k1", "stale", 10, "req-3")
	if err != nil {
		t.Fatalf("PutIfNewer: %v", err)
	}
	if res != Superseded {
		t.Fatalf("want Superseded, got %v", res)
	}

	rec, _, _ := s.Get("k1")
	if rec.Value != "world" {
		t.Fatalf("record should be unchanged, got %+v", rec)
	}
}

func TestPutIfNewerIdempotentReplay(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.PutIfNewer("k1", "hello", 10, "req-1"); err != nil {
		t.Fatalf("PutIfNewer: %v", err)
	}

	// Same request_id replayed, even with a different value/ts, applies
	// idempotently rather than being treated as a stale write.
	res, err := s.PutIfNewer("k1", "hello-retry", 1, "req-1")
	if err != nil {
		t.Fatalf("PutIfNewer: %v", err)
	}
	if res != Applied {
		t.Fatalf("want Applied for idempotent replay, got %v", res)
	}
}

func TestPutIfNewerTieBreakOnRequestID(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.PutIfNewer("k1", "a", 5, "req-aaa"); err != nil {
		t.Fatalf("PutIfNewer: %v", err)
	}
	res, err := s.PutIfNewer("k1", "b", 5, "req-bbb")
	if err != nil {
		t.Fatalf("PutIfNewer: %v", err)
	}
	if res != Applied {
		t.Fatalf("lexicographically greater request_id should win ties, got %v", res)
	}

	rec, _, _ := s.Get("k1")
	if rec.Value != "b" {
		t.Fatalf("want tie-break winner b, got %+v", rec)
	}
}

func TestGetManyOnlyExisting(t *testing.T) {
	s := newTestStore(t)
	s.PutIfNewer("k1", "v1", 1, "r1")
	s.PutIfNewer("k2", "v2", 1, "r2")

	got, err := s.GetMany([]string{"k1", "k2", "missing"})
	if err != nil {
		t.Fatalf("GetMany: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 records, got %d", len(got))
	}
	if _, ok := got["missing"]; ok {
		t.Fatalf("missing key should not be present")
	}
}

func TestAllKeys(t *testing.T) {
	s := newTestStore(t)
	s.PutIfNewer("a", "1", 1, "r1")
	s.PutIfNewer("b", "2", 1, "r2")

	keys, err := s.AllKeys()
	if err != nil {
		t.Fatalf("AllKeys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("want 2 keys, got %d: %v", len(keys), keys)
	}
}

func TestGetMissingKey(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.Get("nope")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatalf("expected not found")
	}
}
