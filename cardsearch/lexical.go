package cardsearch

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/hazyhaar/carchive/filterexpr"
	"github.com/hazyhaar/carchive/meili"
)

// ErrSearchDisabled means no search backend is configured.
var ErrSearchDisabled = errors.New("cardsearch: search backend not configured")

// SearchLexical runs text search against the card index. A query whose
// boolean structure expands to several OR phrases becomes a federated
// multi-search; when the backend rejects sort inside federation it falls
// back to manual per-phrase search-and-merge.
func (s *Service) SearchLexical(ctx context.Context, p Params) (*Result, error) {
	if s.meili == nil {
		return nil, ErrSearchDisabled
	}
	p.normalize()
	filter := filterexpr.NormalizeFilter(p.Filter)
	phrases := filterexpr.Disjuncts(p.Text)

	if len(phrases) <= 1 {
		query := ""
		if len(phrases) == 1 {
			query = phrases[0]
		}
		resp, err := s.meili.Search(ctx, s.cardIndex(), &meili.SearchRequest{
			Query:  query,
			Filter: filter,
			Sort:   p.Sort,
			Limit:  p.Limit,
			Offset: p.offset(),
		})
		if err != nil {
			return nil, fmt.Errorf("cardsearch: lexical: %w", err)
		}
		return &Result{
			IDs:           hitIDs(resp.Hits),
			Total:         resp.Total(),
			AppliedFilter: filter,
		}, nil
	}

	queries := make([]meili.FederatedQuery, len(phrases))
	for i, phrase := range phrases {
		queries[i] = meili.FederatedQuery{
			IndexUID: s.cardIndex(),
			SearchRequest: meili.SearchRequest{
				Query:  phrase,
				Filter: filter,
				Sort:   p.Sort,
			},
		}
	}
	resp, err := s.meili.MultiSearch(ctx, &meili.MultiSearchRequest{
		Federation: &meili.Federation{Limit: p.Limit, Offset: p.offset()},
		Queries:    queries,
	})
	if err != nil {
		if meili.IsFederationSortError(err) {
			s.log.Warn("federation rejected sort, using manual multi-OR merge",
				"phrases", len(phrases))
			return s.manualOrSearch(ctx, phrases, filter, p)
		}
		return nil, fmt.Errorf("cardsearch: federated lexical: %w", err)
	}
	return &Result{
		IDs:           hitIDs(resp.Hits),
		Total:         resp.Total(),
		AppliedFilter: filter,
	}, nil
}

// manualOrSearch runs each phrase independently with a widened limit,
// merges hits by id (first occurrence wins), re-sorts the merged set
// in-process, and paginates. Total is the merged de-duplicated count.
func (s *Service) manualOrSearch(ctx context.Context, phrases []string, filter string, p Params) (*Result, error) {
	perPhrase := p.offset() + p.Limit + 100
	if perPhrase > s.cfg.ManualFetchCap {
		perPhrase = s.cfg.ManualFetchCap
	}

	var merged []meili.Hit
	seen := make(map[string]bool)
	for _, phrase := range phrases {
		resp, err := s.meili.Search(ctx, s.cardIndex(), &meili.SearchRequest{
			Query:  phrase,
			Filter: filter,
			Limit:  perPhrase,
		})
		if err != nil {
			return nil, fmt.Errorf("cardsearch: manual multi-OR phrase %q: %w", phrase, err)
		}
		for _, h := range resp.Hits {
			id := h.ID()
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			merged = append(merged, h)
		}
	}

	keys := parseSortKeys(p.Sort)
	if len(keys) > 0 {
		sort.SliceStable(merged, func(i, j int) bool {
			return compareHits(merged[i], merged[j], keys) < 0
		})
	}

	total := int64(len(merged))
	start := p.offset()
	if start > len(merged) {
		start = len(merged)
	}
	end := start + p.Limit
	if end > len(merged) {
		end = len(merged)
	}
	return &Result{
		IDs:           hitIDs(merged[start:end]),
		Total:         total,
		AppliedFilter: filter,
	}, nil
}

func (s *Service) cardIndex() string {
	return s.index.Config().CardIndex
}

func (s *Service) chunkIndex() string {
	return s.index.Config().ChunkIndex
}

func hitIDs(hits []meili.Hit) []string {
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		if id := h.ID(); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
