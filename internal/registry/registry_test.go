package registry

import "testing"

type fakeHandle struct{ id string }

func (f fakeHandle) ID() string { return f.id }

func TestAddBindsBothDirections(t *testing.T) {
	r := New()
	r.Add("u_alice", fakeHandle{"h1"})

	h, ok := r.HandleOf("u_alice")
	if !ok || h.ID() != "h1" {
		t.Fatalf("HandleOf(u_alice) = %v, %v, want h1, true", h, ok)
	}
	u, ok := r.UserOf("h1")
	if !ok || u != "u_alice" {
		t.Fatalf("UserOf(h1) = %v, %v, want u_alice, true", u, ok)
	}
}

func TestAddEvictsPriorBinding(t *testing.T) {
	r := New()
	r.Add("u_alice", fakeHandle{"h1"})
	evicted, hadPrior := r.Add("u_alice", fakeHandle{"h2"})

	if !hadPrior || evicted.ID() != "h1" {
		t.Fatalf("expected h1 evicted, got %v, %v", evicted, hadPrior)
	}
	if h, _ := r.HandleOf("u_alice"); h.ID() != "h2" {
		t.Fatalf("HandleOf(u_alice) = %v, want h2", h)
	}
	if _, ok := r.UserOf("h1"); ok {
		t.Fatal("UserOf(h1) should be absent after eviction")
	}
	if u, ok := r.UserOf("h2"); !ok || u != "u_alice" {
		t.Fatalf("UserOf(h2) = %v, %v, want u_alice, true", u, ok)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	r := New()
	r.Remove("u_nobody") // must not panic or error

	r.Add("u_alice", fakeHandle{"h1"})
	r.Remove("u_alice")
	r.Remove("u_alice") // second removal is a no-op

	if r.Has("u_alice") {
		t.Fatal("u_alice should be absent after removal")
	}
	if _, ok := r.UserOf("h1"); ok {
		t.Fatal("h1 should be absent after removal")
	}
}

func TestCountAndClear(t *testing.T) {
	r := New()
	r.Add("u_alice", fakeHandle{"h1"})
	r.Add("u_bob", fakeHandle{"h2"})

	if n := r.Count(); n != 2 {
		t.Fatalf("Count() = %d, want 2", n)
	}

	r.Clear()
	if n := r.Count(); n != 0 {
		t.Fatalf("Count() after Clear() = %d, want 0", n)
	}
	if r.Has("u_alice") {
		t.Fatal("u_alice should be absent after Clear()")
	}
}

func TestHandleOfUserOfAbsentKeys(t *testing.T) {
	r := New()
	if _, ok := r.HandleOf("nobody"); ok {
		t.Fatal("HandleOf should report absent for unknown user")
	}
	if _, ok := r.UserOf("nobody"); ok {
		t.Fatal("UserOf should report absent for unknown handle")
	}
}
