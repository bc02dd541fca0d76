package containers

import (
	"errors"
	"testing"
)

func TestRingQueueFIFO(t *testing.T) {
	rq := NewRingQueue[int](3)
	for i := 1; i <= 3; i++ {
		if err := rq.Enqueue(i); err != nil {
			t.Fatalf("Enqueue(%d): %v", i, err)
		}
	}
	if err := rq.Enqueue(4); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Enqueue on full queue = %v, want ErrQueueFull", err)
	}
	if v, _ := rq.Peek(); v != 1 {
		t.Fatalf("Peek() = %d, want 1", v)
	}
	for want := 1; want <= 3; want++ {
		got, err := rq.Dequeue()
		if err != nil || got != want {
			t.Fatalf("Dequeue() = %d, %v; want %d", got, err, want)
		}
	}
	if _, err := rq.Dequeue(); !errors.Is(err, ErrQueueEmpty) {
		t.Fatalf("Dequeue on empty queue = %v, want ErrQueueEmpty", err)
	}
}

func TestRingQueueWrapAndGrow(t *testing.T) {
	rq := NewGrowableRingQueue[string](2)
	_ = rq.Enqueue("a")
	_ = rq.Enqueue("b")
	if v, _ := rq.Dequeue(); v != "a" {
		t.Fatalf("Dequeue() = %q, want a", v)
	}
	// Wrapped write, then growth past capacity.
	for _, s := range []string{"c", "d", "e"} {
		if err := rq.Enqueue(s); err != nil {
			t.Fatalf("Enqueue(%q): %v", s, err)
		}
	}
	if rq.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", rq.Len())
	}
	for _, want := range []string{"b", "c", "d", "e"} {
		if got, _ := rq.Dequeue(); got != want {
			t.Fatalf("Dequeue() = %q, want %q", got, want)
		}
	}
}
