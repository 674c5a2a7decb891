package ring

import "testing"

func TestRingFillAndDrain(t *testing.T) {
	r := New[int](3)
	prod, cons := r.Split()

	if !r.Empty() || r.Full() {
		t.Fatal("Expected new ring to be empty")
	}
	if r.Cap() != 3 {
		t.Errorf("Expected capacity 3, got %d", r.Cap())
	}

	for i := 1; i <= 3; i++ {
		slot := prod.Slot()
		if slot == nil {
			t.Fatalf("Expected free slot for item %d", i)
		}
		*slot = i
		if !prod.Commit() {
			t.Fatalf("Expected commit %d to succeed", i)
		}
	}

	if !r.Full() {
		t.Error("Expected ring to be full")
	}
	if prod.Slot() != nil || prod.Commit() {
		t.Error("Expected no slot and no commit when full")
	}
	if r.Len() != 3 || r.Free() != 0 {
		t.Errorf("Expected len 3 free 0, got len %d free %d", r.Len(), r.Free())
	}
	if got := *prod.Newest(); got != 3 {
		t.Errorf("Expected newest 3, got %d", got)
	}

	for i := 1; i <= 3; i++ {
		item := cons.Peek()
		if item == nil || *item != i {
			t.Fatalf("Expected item %d, got %v", i, item)
		}
		if !cons.Release() {
			t.Fatalf("Expected release %d to succeed", i)
		}
	}

	if !cons.Empty() || cons.Peek() != nil || cons.Release() {
		t.Error("Expected ring to be empty after draining")
	}
	if prod.Newest() != nil {
		t.Error("Expected no newest item when empty")
	}
}

func TestRingWrapAround(t *testing.T) {
	r := New[int](2)
	prod, cons := r.Split()

	next := 0
	want := 0
	for round := 0; round < 10; round++ {
		for !prod.Full() {
			*prod.Slot() = next
			prod.Commit()
			next++
		}
		if got := *r.At(1); got != want+1 {
			t.Errorf("Round %d: expected At(1) = %d, got %d", round, want+1, got)
		}
		if r.At(2) != nil || r.At(-1) != nil {
			t.Errorf("Round %d: expected out of range At to return nil", round)
		}
		if got := *cons.Peek(); got != want {
			t.Errorf("Round %d: expected %d, got %d", round, want, got)
		}
		cons.Release()
		want++
	}
}

func TestRingReset(t *testing.T) {
	r := New[int](4)
	prod, _ := r.Split()
	*prod.Slot() = 7
	prod.Commit()

	r.Reset()
	if !r.Empty() || r.Len() != 0 {
		t.Errorf("Expected empty ring after reset, got len %d", r.Len())
	}
	if got := *prod.Slot(); got != 0 {
		t.Errorf("Expected reset to zero slots, got %d", got)
	}
}

func TestRingSplitTwicePanics(t *testing.T) {
	r := New[int](1)
	r.Split()
	defer func() {
		if recover() == nil {
			t.Error("Expected second Split to panic")
		}
	}()
	r.Split()
}
