package cardsearch

import (
	"reflect"
	"testing"
)

func TestRRFFuse_Deterministic(t *testing.T) {
	cards := rankedList{ids: []string{"a", "b", "c"}, weight: 1}
	chunks := rankedList{ids: []string{"c", "d"}, weight: 0.5}

	ids1, scores1 := rrfFuse(60, cards, chunks)
	ids2, scores2 := rrfFuse(60, cards, chunks)

	if !reflect.DeepEqual(ids1, ids2) {
		t.Fatalf("fusion not deterministic: %v vs %v", ids1, ids2)
	}
	if !reflect.DeepEqual(scores1, scores2) {
		t.Fatalf("scores not deterministic: %v vs %v", scores1, scores2)
	}
	// c appears in both lists so it must outrank everything else:
	// 1/63 + 0.5/61 beats a's 1/61.
	if ids1[0] != "c" {
		t.Errorf("order = %v, want c first", ids1)
	}
	// d only has the down-weighted chunk contribution and lands last.
	if ids1[len(ids1)-1] != "d" {
		t.Errorf("order = %v, want d last", ids1)
	}
}

func TestRRFFuse_TieBreaksOnID(t *testing.T) {
	// Two ids with identical single-list ranks across two equal-weight
	// lists score the same; order must still be stable (id ascending).
	l1 := rankedList{ids: []string{"b"}, weight: 1}
	l2 := rankedList{ids: []string{"a"}, weight: 1}
	ids, _ := rrfFuse(60, l1, l2)
	if !reflect.DeepEqual(ids, []string{"a", "b"}) {
		t.Errorf("tie order = %v, want [a b]", ids)
	}
}

func TestStablePage_SwapsEvictedHits(t *testing.T) {
	scores := map[string]float64{"x": 0.9, "y": 0.8, "a": 0.2, "b": 0.1}
	page := []string{"x", "y"}

	// a and b ranked inside the card list's own window but fusion evicted
	// them; both must be swapped in, displacing the lowest scores first.
	got := stablePage(page, []string{"a", "b"}, scores)
	gotSet := map[string]bool{}
	for _, id := range got {
		gotSet[id] = true
	}
	if !gotSet["a"] || !gotSet["b"] {
		t.Errorf("page = %v, want a and b present", got)
	}
}

func TestStablePage_NoOpWhenPresent(t *testing.T) {
	scores := map[string]float64{"a": 0.9, "b": 0.8}
	got := stablePage([]string{"a", "b"}, []string{"a", "b"}, scores)
	if !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("page = %v", got)
	}
}

func TestStablePage_ProtectedNeverDisplaced(t *testing.T) {
	// With more protected ids than page slots, swaps stop once every
	// remaining entry is itself protected.
	scores := map[string]float64{"x": 0.9, "a": 0.3, "b": 0.2, "c": 0.1}
	got := stablePage([]string{"x", "a"}, []string{"a", "b", "c"}, scores)
	if len(got) != 2 {
		t.Fatalf("page size changed: %v", got)
	}
	gotSet := map[string]bool{got[0]: true, got[1]: true}
	if !gotSet["a"] {
		t.Errorf("page = %v, a was displaced", got)
	}
}
