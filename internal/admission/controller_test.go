package admission

import "testing"

func TestTryAcquireRespectsCap(t *testing.T) {
	c := New(Node, 2)
	if !c.TryAcquire() {
		t.Fatalf("first acquire should succeed")
	}
	if !c.TryAcquire() {
		t.Fatalf("second acquire should succeed")
	}
	if c.TryAcquire() {
		t.Fatalf("third acquire should be rejected at cap")
	}
}

func TestReleaseFreesCapacity(t *testing.T) {
	c := New(Gateway, 1)
	if !c.TryAcquire() {
		t.Fatalf("acquire should succeed")
	}
	if c.TryAcquire() {
		t.Fatalf("should be at cap")
	}
	c.Release()
	if !c.TryAcquire() {
		t.Fatalf("acquire should succeed after release")
	}
}

func TestErrorMessageDistinguishesTier(t *testing.T) {
	if New(Gateway, 1).ErrorMessage() != "gateway overloaded" {
		t.Fatalf("wrong gateway message")
	}
	if New(Node, 1).ErrorMessage() != "node overloaded" {
		t.Fatalf("wrong node message")
	}
}

func TestInFlightReflectsAcquireRelease(t *testing.T) {
	c := New(Node, 5)
	c.TryAcquire()
	c.TryAcquire()
	if c.InFlight() != 2 {
		t.Fatalf("want in_flight=2, got %d", c.InFlight())
	}
	c.Release()
	if c.InFlight() != 1 {
		t.Fatalf("want in_flight=1, got %d", c.InFlight())
	}
}
