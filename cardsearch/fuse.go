package cardsearch

import "sort"

// rankedList is one input to rank fusion: ids in rank order plus the
// list's weight.
type rankedList struct {
	ids    []string
	weight float64
}

// rrfFuse merges ranked lists with reciprocal rank fusion: each list
// contributes weight/(k+rank) per id, rank 1-based. Returns ids by
// descending fused score plus the score map. Pure function: identical
// inputs always produce identical order and scores (score ties break on
// id so the order never depends on map iteration).
func rrfFuse(k int, lists ...rankedList) ([]string, map[string]float64) {
	scores := make(map[string]float64)
	for _, list := range lists {
		for rank, id := range list.ids {
			scores[id] += list.weight / float64(k+rank+1)
		}
	}

	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if scores[ids[i]] != scores[ids[j]] {
			return scores[ids[i]] > scores[ids[j]]
		}
		return ids[i] < ids[j]
	})
	return ids, scores
}

// stablePage enforces the stable-pagination guarantee: every id the card
// list itself ranked inside the requested window must appear on the
// returned page, displacing the lowest-scored non-protected entries if
// fusion evicted it.
func stablePage(page, protected []string, scores map[string]float64) []string {
	if len(page) == 0 {
		return page
	}
	inPage := make(map[string]bool, len(page))
	for _, id := range page {
		inPage[id] = true
	}
	shield := make(map[string]bool, len(protected))
	for _, id := range protected {
		shield[id] = true
	}

	for _, id := range protected {
		if inPage[id] {
			continue
		}
		low := -1
		for i, pid := range page {
			if shield[pid] {
				continue
			}
			if low == -1 || scores[pid] < scores[page[low]] {
				low = i
			}
		}
		if low == -1 {
			break // page is all protected entries already
		}
		delete(inPage, page[low])
		page[low] = id
		inPage[id] = true
	}
	return page
}
