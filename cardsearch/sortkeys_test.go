package cardsearch

import (
	"sort"
	"testing"

	"github.com/hazyhaar/carchive/meili"
)

func TestParseSortKeys(t *testing.T) {
	keys := parseSortKeys([]string{"starCount:desc", "name:asc", "rating"})
	if len(keys) != 3 {
		t.Fatalf("keys = %+v", keys)
	}
	if !keys[0].desc || keys[0].field != "starCount" {
		t.Errorf("first key = %+v", keys[0])
	}
	if keys[1].desc || keys[2].desc {
		t.Errorf("asc keys parsed as desc: %+v", keys)
	}
}

func sortHits(hits []meili.Hit, sorts []string) []string {
	keys := parseSortKeys(sorts)
	sort.SliceStable(hits, func(i, j int) bool {
		return compareHits(hits[i], hits[j], keys) < 0
	})
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.ID()
	}
	return out
}

func TestCompareHits_Numeric(t *testing.T) {
	hits := []meili.Hit{
		{"id": "low", "starCount": float64(2)},
		{"id": "high", "starCount": float64(9)},
		{"id": "mid", "starCount": float64(5)},
	}
	got := sortHits(hits, []string{"starCount:desc"})
	want := []string{"high", "mid", "low"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestCompareHits_NullsLast(t *testing.T) {
	hits := []meili.Hit{
		{"id": "missing"},
		{"id": "present", "rating": float64(4)},
	}
	// Nulls sort last regardless of direction.
	for _, dir := range []string{"rating:asc", "rating:desc"} {
		got := sortHits(hits, []string{dir})
		if got[len(got)-1] != "missing" {
			t.Errorf("%s: order = %v, want missing last", dir, got)
		}
	}
}

func TestCompareHits_DateStrings(t *testing.T) {
	hits := []meili.Hit{
		{"id": "newer", "publishedAt": "2026-08-01T00:00:00Z"},
		{"id": "older", "publishedAt": "2024-01-15T00:00:00Z"},
	}
	got := sortHits(hits, []string{"publishedAt:desc"})
	if got[0] != "newer" {
		t.Errorf("order = %v, want newer first", got)
	}
}

func TestCompareHits_StringCaseInsensitive(t *testing.T) {
	hits := []meili.Hit{
		{"id": "b", "name": "Banana"},
		{"id": "a", "name": "apple"},
	}
	got := sortHits(hits, []string{"name:asc"})
	if got[0] != "a" {
		t.Errorf("order = %v, want apple first despite case", got)
	}
}

func TestCompareHits_TieFallsThrough(t *testing.T) {
	hits := []meili.Hit{
		{"id": "second", "starCount": float64(5), "name": "zebra"},
		{"id": "first", "starCount": float64(5), "name": "aardvark"},
	}
	got := sortHits(hits, []string{"starCount:desc", "name:asc"})
	if got[0] != "first" {
		t.Errorf("order = %v, want name tiebreak", got)
	}
}

func TestCompareHits_Bool(t *testing.T) {
	hits := []meili.Hit{
		{"id": "no", "favorited": false},
		{"id": "yes", "favorited": true},
	}
	got := sortHits(hits, []string{"favorited:desc"})
	if got[0] != "yes" {
		t.Errorf("order = %v, want true first on desc", got)
	}
}
