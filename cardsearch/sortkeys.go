package cardsearch

import (
	"strings"
	"time"

	"github.com/hazyhaar/carchive/meili"
)

// sortKey is one parsed "field:direction" sort clause.
type sortKey struct {
	field string
	desc  bool
}

func parseSortKeys(sorts []string) []sortKey {
	keys := make([]sortKey, 0, len(sorts))
	for _, s := range sorts {
		field, dir, found := strings.Cut(s, ":")
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		keys = append(keys, sortKey{
			field: field,
			desc:  found && strings.EqualFold(strings.TrimSpace(dir), "desc"),
		})
	}
	return keys
}

// compareHits orders two hits by the sort keys. Missing/null values sort
// last regardless of direction; ties fall through to the next key.
//
// This comparator is a documented heuristic, not a replica of the
// backend's native ordering: value kinds are sniffed per comparison
// (number, bool, date-parseable string, lower-cased string).
func compareHits(a, b meili.Hit, keys []sortKey) int {
	for _, k := range keys {
		av, aok := a[k.field]
		bv, bok := b[k.field]
		if !aok || av == nil {
			if !bok || bv == nil {
				continue
			}
			return 1 // a null, b present: a last
		}
		if !bok || bv == nil {
			return -1
		}
		c := compareValues(av, bv)
		if c == 0 {
			continue
		}
		if k.desc {
			return -c
		}
		return c
	}
	return 0
}

func compareValues(a, b any) int {
	if an, aok := asNumber(a); aok {
		if bn, bok := asNumber(b); bok {
			switch {
			case an < bn:
				return -1
			case an > bn:
				return 1
			default:
				return 0
			}
		}
	}
	if ab, aok := a.(bool); aok {
		if bb, bok := b.(bool); bok {
			switch {
			case ab == bb:
				return 0
			case bb: // false < true
				return -1
			default:
				return 1
			}
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		if at, err := time.Parse(time.RFC3339, as); err == nil {
			if bt, err := time.Parse(time.RFC3339, bs); err == nil {
				switch {
				case at.Before(bt):
					return -1
				case at.After(bt):
					return 1
				default:
					return 0
				}
			}
		}
		return strings.Compare(strings.ToLower(as), strings.ToLower(bs))
	}
	// Mixed incomparable kinds: treat as equal so the next key decides.
	return 0
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
