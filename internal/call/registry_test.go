package call

import (
	"errors"
	"testing"
)

func TestRegistry_InsertDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Insert(NewSession("c1", "bridge")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := r.Insert(NewSession("c1", "sipai")); !errors.Is(err, ErrDuplicateCall) {
		t.Fatalf("expected ErrDuplicateCall, got %v", err)
	}
	if r.Len() != 1 {
		t.Fatalf("expected 1 session, got %d", r.Len())
	}
}

func TestRegistry_GetRemove(t *testing.T) {
	r := NewRegistry()
	_ = r.Insert(NewSession("c1", "bridge"))

	if _, ok := r.Get("c1"); !ok {
		t.Fatalf("expected hit")
	}
	r.Remove("c1")
	if _, ok := r.Get("c1"); ok {
		t.Fatalf("expected miss after remove")
	}
	// Removing twice is a no-op.
	r.Remove("c1")
}

func TestRegistry_Each(t *testing.T) {
	r := NewRegistry()
	_ = r.Insert(NewSession("c1", "bridge"))
	_ = r.Insert(NewSession("c2", "bridge"))

	seen := map[string]bool{}
	r.Each(func(s *Session) { seen[s.CallID] = true })
	if !seen["c1"] || !seen["c2"] {
		t.Fatalf("Each missed sessions: %v", seen)
	}
}
