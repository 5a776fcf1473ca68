package activity

import "testing"

func TestRingPushAndAll(t *testing.T) {
	r := NewRing[int](3)
	if got := r.All(); got != nil {
		t.Errorf("empty ring All() = %v, want nil", got)
	}

	r.Push(1)
	r.Push(2)
	if got := r.All(); len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("All() = %v, want [1 2]", got)
	}
}

func TestRingEviction(t *testing.T) {
	r := NewRing[int](3)
	for i := 1; i <= 5; i++ {
		r.Push(i)
	}

	got := r.All()
	want := []int{3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("All() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("All()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
	if r.Len() != 3 {
		t.Errorf("Len() = %d, want 3", r.Len())
	}
}

func TestRingLast(t *testing.T) {
	r := NewRing[int](5)
	for i := 1; i <= 7; i++ {
		r.Push(i)
	}

	got := r.Last(2)
	if len(got) != 2 || got[0] != 6 || got[1] != 7 {
		t.Errorf("Last(2) = %v, want [6 7]", got)
	}
	if got := r.Last(100); len(got) != 5 {
		t.Errorf("Last(100) returned %d entries, want 5", len(got))
	}
	if got := r.Last(0); got != nil {
		t.Errorf("Last(0) = %v, want nil", got)
	}
}

func TestRingClear(t *testing.T) {
	r := NewRing[int](2)
	r.Push(1)
	r.Push(2)
	r.Push(3)
	r.Clear()

	if r.Len() != 0 {
		t.Errorf("Len() after Clear = %d, want 0", r.Len())
	}
	r.Push(9)
	if got := r.All(); len(got) != 1 || got[0] != 9 {
		t.Errorf("All() after Clear+Push = %v, want [9]", got)
	}
}

func TestRingMinimumCapacity(t *testing.T) {
	r := NewRing[int](0)
	r.Push(1)
	r.Push(2)
	if got := r.All(); len(got) != 1 || got[0] != 2 {
		t.Errorf("All() = %v, want [2]", got)
	}
}
