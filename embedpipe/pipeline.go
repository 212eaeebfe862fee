package embedpipe

import (
	"context"
	"fmt"
	"time"

	"github.com/hazyhaar/carchive/cardindex"
	"github.com/hazyhaar/carchive/cardstore"
	"github.com/hazyhaar/carchive/chunk"
)

// RunAll processes every card, paged by id ascending. startAfter resumes
// a previous run: pass the last id it reported.
func (p *Pipeline) RunAll(ctx context.Context, startAfter string) (Stats, error) {
	var stats Stats
	afterID := startAfter
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		cards, err := p.store.ListCardsAfter(ctx, afterID, p.cfg.PageSize)
		if err != nil {
			return stats, fmt.Errorf("embedpipe: page after %q: %w", afterID, err)
		}
		if len(cards) == 0 {
			break
		}
		for _, c := range cards {
			changed, chunkWrites, err := p.processCard(ctx, c)
			if err != nil {
				return stats, fmt.Errorf("embedpipe: card %s: %w", c.ID, err)
			}
			stats.Processed++
			stats.Chunks += chunkWrites
			if changed {
				stats.Updated++
			} else {
				stats.Skipped++
			}
			stats.LastID = c.ID
		}
		afterID = cards[len(cards)-1].ID
		p.log.Info("embedding pipeline progress",
			"processed", stats.Processed, "updated", stats.Updated,
			"skipped", stats.Skipped, "last_id", stats.LastID)
	}
	return stats, nil
}

// RunCard processes a single card. A card that no longer exists is
// removed from both indexes along with its bookkeeping rows.
func (p *Pipeline) RunCard(ctx context.Context, cardID string) error {
	c, err := p.store.GetCard(ctx, cardID)
	if err != nil {
		return err
	}
	if c == nil {
		return p.index.DeleteDocumentsByIDs(ctx, []string{cardID})
	}
	_, _, err = p.processCard(ctx, c)
	return err
}

// chunkItem is one chunk pending diff/embedding.
type chunkItem struct {
	section string
	ck      chunk.Chunk
	hash    string
	id      string
}

// processCard is the per-card sync pass. It returns changed=false only
// when nothing was embedded, written, or deleted — the idempotence
// guarantee the content-hash cache exists for.
func (p *Pipeline) processCard(ctx context.Context, c *cardstore.Card) (changed bool, chunkWrites int, err error) {
	secs := p.gatherSections(c)
	embName := p.index.Config().EmbedderName

	meta, err := p.store.ListMeta(ctx, c.ID, embName)
	if err != nil {
		return false, 0, err
	}
	mappings, err := p.store.ListChunkMappings(ctx, c.ID)
	if err != nil {
		return false, 0, err
	}
	mapped := make(map[string]cardstore.ChunkMapping, len(mappings))
	for _, m := range mappings {
		mapped[m.ChunkID] = m
	}

	// Card-level diff: any section whose hash moved, a missing meta row,
	// or a section that vanished forces a full card re-embed (the card
	// document's vector set is rebuilt as a whole).
	var cardLevel []section
	currentSections := make(map[string]bool)
	cardChanged := p.cfg.Force
	for _, s := range secs {
		if s.AlwaysChunk {
			continue
		}
		cardLevel = append(cardLevel, s)
		currentSections[s.Name] = true
		m, ok := meta[cardstore.MetaKey{Section: s.Name, ChunkIndex: -1}]
		if !ok || m.TextSHA256 != hashText(s.Text) {
			cardChanged = true
		}
	}
	var removedSections []cardstore.MetaKey
	for key := range meta {
		if key.ChunkIndex == -1 && !currentSections[key.Section] {
			removedSections = append(removedSections, key)
			cardChanged = true
		}
	}

	// Chunk diff: compute the new chunk set, then compare ids against the
	// stored mapping and hashes against the stored meta.
	var items []chunkItem
	newIDs := make(map[string]bool)
	for _, s := range secs {
		if !s.AlwaysChunk && chunk.EstimateTokens(s.Text) <= p.cfg.ChunkThresholdTokens {
			continue
		}
		for _, ck := range chunk.Split(s.Text, p.chunkOptions()) {
			item := chunkItem{
				section: s.Name,
				ck:      ck,
				hash:    hashText(ck.Text),
				id:      cardindex.ChunkID(c.ID, s.Name, ck.Index),
			}
			items = append(items, item)
			newIDs[item.id] = true
		}
	}

	var stale []string
	for _, m := range mappings {
		if !newIDs[m.ChunkID] {
			stale = append(stale, m.ChunkID)
		}
	}

	var toEmbed []chunkItem
	for _, item := range items {
		m, ok := meta[cardstore.MetaKey{Section: item.section, ChunkIndex: item.ck.Index}]
		_, hasMapping := mapped[item.id]
		if p.cfg.Force || !ok || !hasMapping || m.TextSHA256 != item.hash {
			toEmbed = append(toEmbed, item)
		}
	}

	if !cardChanged && len(toEmbed) == 0 && len(stale) == 0 {
		return false, 0, nil
	}

	if err := p.index.EnsureIndexes(ctx, p.emb.Dimension()); err != nil {
		return false, 0, err
	}
	cfg := p.index.Config()
	now := time.Now().UnixMilli()

	if cardChanged {
		texts := make([]string, len(cardLevel))
		for i, s := range cardLevel {
			texts[i] = s.Text
		}
		var vecs [][]float32
		if len(texts) > 0 {
			vecs, err = p.emb.EmbedBatch(ctx, texts)
			if err != nil {
				return false, 0, fmt.Errorf("embed card sections: %w", err)
			}
		}
		doc := cardindex.BuildCardDocument(c, time.Now())
		if len(vecs) > 0 {
			doc.Vectors = map[string][][]float32{embName: vecs}
		}
		if _, err := p.meili.AddDocuments(ctx, cfg.CardIndex, []cardindex.CardDocument{doc}, "id"); err != nil {
			return false, 0, fmt.Errorf("upsert card document: %w", err)
		}
		for i, s := range cardLevel {
			dims := 0
			if i < len(vecs) {
				dims = len(vecs[i])
			}
			err := p.store.PutMeta(ctx, cardstore.EmbeddingMeta{
				CardID: c.ID, EmbedderName: embName,
				Section: s.Name, ChunkIndex: -1,
				TextSHA256: hashText(s.Text),
				ModelName:  p.emb.Model(), Dims: dims, UpdatedAt: now,
			})
			if err != nil {
				return false, 0, err
			}
		}
		for _, key := range removedSections {
			if err := p.store.DeleteMeta(ctx, c.ID, embName, key); err != nil {
				return false, 0, err
			}
		}
	}

	if len(toEmbed) > 0 {
		texts := make([]string, len(toEmbed))
		for i, item := range toEmbed {
			texts[i] = item.ck.Text
		}
		vecs, err := p.emb.EmbedBatch(ctx, texts)
		if err != nil {
			return false, 0, fmt.Errorf("embed chunks: %w", err)
		}
		docs := make([]cardindex.ChunkDocument, len(toEmbed))
		for i, item := range toEmbed {
			doc := cardindex.BuildChunkDocument(c, item.section, item.ck)
			doc.Vectors = map[string][]float32{embName: vecs[i]}
			docs[i] = doc
		}
		if _, err := p.meili.AddDocuments(ctx, cfg.ChunkIndex, docs, "id"); err != nil {
			return false, 0, fmt.Errorf("upsert chunk documents: %w", err)
		}
		for i, item := range toEmbed {
			err := p.store.PutChunkMapping(ctx, cardstore.ChunkMapping{
				ChunkID: item.id, CardID: c.ID, Section: item.section,
				ChunkIndex: item.ck.Index,
				StartToken: item.ck.StartToken, EndToken: item.ck.EndToken,
			})
			if err != nil {
				return false, 0, err
			}
			err = p.store.PutMeta(ctx, cardstore.EmbeddingMeta{
				CardID: c.ID, EmbedderName: embName,
				Section: item.section, ChunkIndex: item.ck.Index,
				TextSHA256: item.hash,
				ModelName:  p.emb.Model(), Dims: len(vecs[i]), UpdatedAt: now,
			})
			if err != nil {
				return false, 0, err
			}
		}
	}

	if len(stale) > 0 {
		if _, err := p.meili.DeleteDocuments(ctx, cfg.ChunkIndex, stale); err != nil {
			return false, 0, fmt.Errorf("delete stale chunks: %w", err)
		}
		if err := p.store.DeleteChunkMappings(ctx, stale); err != nil {
			return false, 0, err
		}
		for _, id := range stale {
			m, ok := mapped[id]
			if !ok {
				continue
			}
			key := cardstore.MetaKey{Section: m.Section, ChunkIndex: m.ChunkIndex}
			if err := p.store.DeleteMeta(ctx, c.ID, embName, key); err != nil {
				return false, 0, err
			}
		}
	}

	p.log.Debug("card synced", "card", c.ID,
		"card_reembed", cardChanged, "chunks_written", len(toEmbed),
		"chunks_deleted", len(stale))
	return true, len(toEmbed), nil
}
