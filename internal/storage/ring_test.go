package storage

import (
	"testing"
)

func TestRingEvictsOldestFirst(t *testing.T) {
	r := NewRing[int](5)

	for i := 0; i < 10; i++ {
		evicted, ok := r.Push(i)
		if i < 5 && ok {
			t.Fatalf("Push(%d) evicted %d before ring was full", i, evicted)
		}
		if i >= 5 && (!ok || evicted != i-5) {
			t.Fatalf("Push(%d) evicted (%d, %v), want (%d, true)", i, evicted, ok, i-5)
		}
	}

	got := r.Items()
	want := []int{5, 6, 7, 8, 9}
	if len(got) != len(want) {
		t.Fatalf("Items() len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Items()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestRingPartial(t *testing.T) {
	r := NewRing[string](4)
	if _, ok := r.Last(); ok {
		t.Fatal("Last() on empty ring should report false")
	}

	r.Push("a")
	r.Push("b")

	if r.Len() != 2 || r.Cap() != 4 {
		t.Fatalf("Len/Cap = %d/%d, want 2/4", r.Len(), r.Cap())
	}
	if last, _ := r.Last(); last != "b" {
		t.Errorf("Last() = %q, want b", last)
	}
	items := r.Items()
	if len(items) != 2 || items[0] != "a" || items[1] != "b" {
		t.Errorf("Items() = %v, want [a b]", items)
	}
}

func TestRingItemsIsCopy(t *testing.T) {
	r := NewRing[int](2)
	r.Push(1)
	items := r.Items()
	items[0] = 42
	if got := r.Items()[0]; got != 1 {
		t.Errorf("ring mutated through Items() copy: got %d", got)
	}
}

func TestNewRingPanicsOnZeroCapacity(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("NewRing(0) should panic")
		}
	}()
	NewRing[int](0)
}
