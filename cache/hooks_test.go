package cache

import "testing"

func TestFingerprintHooks_PushFrontThenBackIsInsertionOrder(t *testing.T) {
	t.Parallel()
	h := newFingerprintHooks()
	h.PushFront(1)
	h.PushFront(2)
	h.PushFront(3)

	if got, ok := h.Back(); !ok || got != 1 {
		t.Fatalf("Back() = %v, %v; want 1, true", got, ok)
	}
	if h.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", h.Len())
	}
}

func TestFingerprintHooks_MoveToFrontChangesEvictionOrder(t *testing.T) {
	t.Parallel()
	h := newFingerprintHooks()
	h.PushFront(1)
	h.PushFront(2)
	h.MoveToFront(1)

	if got, ok := h.Back(); !ok || got != 2 {
		t.Fatalf("Back() after MoveToFront(1) = %v, %v; want 2, true", got, ok)
	}
}

func TestFingerprintHooks_RemoveDropsElement(t *testing.T) {
	t.Parallel()
	h := newFingerprintHooks()
	h.PushFront(1)
	h.PushFront(2)
	h.Remove(1)

	if h.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", h.Len())
	}
	if got, ok := h.Back(); !ok || got != 2 {
		t.Fatalf("Back() = %v, %v; want 2, true", got, ok)
	}
}

func TestFingerprintHooks_BackOnEmptyIsFalse(t *testing.T) {
	t.Parallel()
	h := newFingerprintHooks()
	if _, ok := h.Back(); ok {
		t.Fatal("Back() on empty hooks should return ok=false")
	}
}
