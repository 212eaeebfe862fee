package cardsearch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/carchive/cardindex"
	"github.com/hazyhaar/carchive/filterexpr"
	"github.com/hazyhaar/carchive/meili"
)

// ErrNoEmbedder means hybrid search was requested without an embedding
// backend configured.
var ErrNoEmbedder = errors.New("cardsearch: embedding backend not configured")

// SearchHybrid blends lexical and semantic retrieval: a hybrid search on
// the card index plus a pure-semantic search on the chunk index, fused
// with reciprocal rank fusion. Fails fast when the embedding backend or
// the vector index is not ready.
func (s *Service) SearchHybrid(ctx context.Context, p Params) (*Result, error) {
	if s.meili == nil {
		return nil, ErrSearchDisabled
	}
	if s.emb == nil {
		return nil, ErrNoEmbedder
	}
	p.normalize()
	text := strings.TrimSpace(p.Text)
	if text == "" {
		return nil, fmt.Errorf("cardsearch: hybrid search requires query text")
	}

	vec, err := s.emb.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("cardsearch: embed query: %w", err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("cardsearch: embedding backend returned an empty vector")
	}

	if err := s.index.EnsureIndexes(ctx, len(vec)); err != nil {
		return nil, err
	}
	if !s.index.VectorReady() {
		return nil, cardindex.ErrVectorNotReady
	}

	ratio := p.SemanticRatio
	if ratio <= 0 {
		ratio = s.cfg.SemanticRatio
	}
	if ratio > 1 {
		ratio = 1
	}

	offset := p.offset()
	fetch := int(math.Ceil(float64(offset+p.Limit) * s.cfg.CardsMultiplier))
	if fetch < p.Limit {
		fetch = p.Limit
	}
	if fetch > s.cfg.CardsFetchCap {
		fetch = s.cfg.CardsFetchCap
	}

	filter := filterexpr.NormalizeFilter(p.Filter)
	chunkFilter, usedFallback := filterexpr.AdaptForChunks(filter)
	if usedFallback {
		s.log.Warn("chunk filter compiled via best-effort fallback",
			"filter", filter, "chunk_filter", chunkFilter)
	}

	embedderName := s.index.Config().EmbedderName
	chunkEnabled := s.index.ChunkReady()

	var cardResp, chunkResp *meili.SearchResponse
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		cardResp, err = s.meili.Search(gctx, s.cardIndex(), &meili.SearchRequest{
			Query:            text,
			Filter:           filter,
			Sort:             p.Sort,
			Limit:            fetch,
			Vector:           vec,
			Hybrid:           &meili.HybridOptions{Embedder: embedderName, SemanticRatio: ratio},
			ShowRankingScore: true,
		})
		if err != nil {
			return fmt.Errorf("cardsearch: hybrid card search: %w", err)
		}
		return nil
	})
	if chunkEnabled {
		g.Go(func() error {
			var err error
			chunkResp, err = s.meili.Search(gctx, s.chunkIndex(), &meili.SearchRequest{
				Filter:           chunkFilter,
				Limit:            s.cfg.ChunkLimit,
				Vector:           vec,
				Hybrid:           &meili.HybridOptions{Embedder: embedderName, SemanticRatio: 1},
				Distinct:         "card_id",
				ShowRankingScore: true,
			})
			if err != nil {
				return fmt.Errorf("cardsearch: semantic chunk search: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	cardIDs := hitIDs(cardResp.Hits)

	// Distinct card_id is set backend-side, but de-duplicate anyway so a
	// misconfigured index cannot double-count a card in fusion.
	var chunkCardIDs []string
	matches := make(map[string]ChunkMatch)
	for _, h := range respHits(chunkResp) {
		cardID := h.Str("card_id")
		if cardID == "" {
			continue
		}
		if _, dup := matches[cardID]; dup {
			continue
		}
		chunkCardIDs = append(chunkCardIDs, cardID)
		matches[cardID] = ChunkMatch{
			Section:    h.Str("section"),
			Text:       h.Str("text"),
			StartToken: int(h.Num("start_token")),
			EndToken:   int(h.Num("end_token")),
			Score:      h.RankingScore(),
		}
	}

	fused, scores := rrfFuse(s.cfg.RRFK,
		rankedList{ids: cardIDs, weight: 1},
		rankedList{ids: chunkCardIDs, weight: s.cfg.ChunkWeight},
	)

	page := slicePage(fused, offset, p.Limit)
	page = stablePage(page, slicePage(cardIDs, offset, p.Limit), scores)

	pageMatches := make(map[string]ChunkMatch)
	pageScores := make(map[string]float64, len(page))
	for _, id := range page {
		pageScores[id] = scores[id]
		if m, ok := matches[id]; ok {
			pageMatches[id] = m
		}
	}
	if len(pageMatches) == 0 {
		pageMatches = nil
	}

	meta := &Meta{
		SemanticRatio: ratio,
		CardsFetched:  len(cardResp.Hits),
		ChunksFetched: len(respHits(chunkResp)),
	}
	if usedFallback {
		meta.Fallback = "chunk-filter-fallback"
	}
	return &Result{
		IDs:           page,
		Total:         cardResp.Total(),
		AppliedFilter: filter,
		ChunkMatches:  pageMatches,
		Scores:        pageScores,
		Meta:          meta,
	}, nil
}

func respHits(resp *meili.SearchResponse) []meili.Hit {
	if resp == nil {
		return nil
	}
	return resp.Hits
}

func slicePage(ids []string, offset, limit int) []string {
	if offset >= len(ids) {
		return nil
	}
	end := offset + limit
	if end > len(ids) {
		end = len(ids)
	}
	out := make([]string, end-offset)
	copy(out, ids[offset:end])
	return out
}
