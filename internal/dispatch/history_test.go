package dispatch

import (
	"fmt"
	"testing"
)

func TestHistory_AddAndRecent(t *testing.T) {
	t.Parallel()

	h := NewHistory(10)
	for i := 0; i < 3; i++ {
		h.Add(&Record{ID: fmt.Sprintf("rec-%d", i), Outcome: OutcomeProcessed})
	}

	got := h.Recent(0)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	// newest first
	if got[0].ID != "rec-2" || got[2].ID != "rec-0" {
		t.Errorf("order = [%s %s %s]", got[0].ID, got[1].ID, got[2].ID)
	}
}

func TestHistory_RecentLimit(t *testing.T) {
	t.Parallel()

	h := NewHistory(10)
	for i := 0; i < 5; i++ {
		h.Add(&Record{ID: fmt.Sprintf("rec-%d", i)})
	}

	got := h.Recent(2)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "rec-4" || got[1].ID != "rec-3" {
		t.Errorf("order = [%s %s]", got[0].ID, got[1].ID)
	}
}

func TestHistory_EvictsOldest(t *testing.T) {
	t.Parallel()

	h := NewHistory(2)
	h.Add(&Record{ID: "a"})
	h.Add(&Record{ID: "b"})
	h.Add(&Record{ID: "c"})

	if _, ok := h.Get("a"); ok {
		t.Error("oldest record should have been evicted")
	}
	if _, ok := h.Get("c"); !ok {
		t.Error("newest record should be present")
	}
	if got := h.Recent(0); len(got) != 2 {
		t.Errorf("len = %d, want 2", len(got))
	}
}

func TestHistory_ZeroCapacity(t *testing.T) {
	t.Parallel()

	h := NewHistory(0)
	h.Add(&Record{ID: "a"})
	h.Add(&Record{ID: "b"})

	if _, ok := h.Get("b"); !ok {
		t.Error("newest record should be present")
	}
	if got := h.Recent(0); len(got) != 1 {
		t.Errorf("len = %d, want 1 (capacity raised to 1)", len(got))
	}
}

func TestHistory_GetReturnsCopy(t *testing.T) {
	t.Parallel()

	h := NewHistory(2)
	h.Add(&Record{ID: "a", Detail: "original"})

	got, ok := h.Get("a")
	if !ok {
		t.Fatal("record not found")
	}
	got.Detail = "mutated"

	again, _ := h.Get("a")
	if again.Detail != "original" {
		t.Error("Get should return a copy, not the stored record")
	}
}

func TestHistory_AddStoresCopy(t *testing.T) {
	t.Parallel()

	h := NewHistory(2)
	rec := &Record{ID: "a", Detail: "original"}
	h.Add(rec)
	rec.Detail = "mutated"

	got, _ := h.Get("a")
	if got.Detail != "original" {
		t.Error("Add should store a copy, not the caller's record")
	}
}
