package cardstore

import (
	"context"
	"fmt"
)

// EmbeddingMeta is the content-hash cache row for one embedded text: a
// whole section (ChunkIndex = -1) or one chunk of it. A section is only
// re-embedded when its stored hash no longer matches the source text.
type EmbeddingMeta struct {
	CardID       string
	EmbedderName string
	Section      string
	ChunkIndex   int
	TextSHA256   string
	ModelName    string
	Dims         int
	UpdatedAt    int64
}

// MetaKey identifies one meta row within a card/embedder scope.
type MetaKey struct {
	Section    string
	ChunkIndex int
}

// ListMeta returns all meta rows for one card under one embedder, keyed
// by section and chunk index.
func (s *Store) ListMeta(ctx context.Context, cardID, embedderName string) (map[MetaKey]EmbeddingMeta, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT card_id, embedder_name, section, chunk_index,
		       text_sha256, model_name, dims, updated_at
		FROM card_embedding_meta
		WHERE card_id = ? AND embedder_name = ?`, cardID, embedderName)
	if err != nil {
		return nil, fmt.Errorf("list embedding meta for %s: %w", cardID, err)
	}
	defer rows.Close()

	out := make(map[MetaKey]EmbeddingMeta)
	for rows.Next() {
		var m EmbeddingMeta
		if err := rows.Scan(&m.CardID, &m.EmbedderName, &m.Section, &m.ChunkIndex,
			&m.TextSHA256, &m.ModelName, &m.Dims, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan embedding meta: %w", err)
		}
		out[MetaKey{Section: m.Section, ChunkIndex: m.ChunkIndex}] = m
	}
	return out, rows.Err()
}

// PutMeta inserts or replaces one meta row.
func (s *Store) PutMeta(ctx context.Context, m EmbeddingMeta) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO card_embedding_meta
			(card_id, embedder_name, section, chunk_index,
			 text_sha256, model_name, dims, updated_at)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT (card_id, embedder_name, section, chunk_index) DO UPDATE SET
			text_sha256=excluded.text_sha256, model_name=excluded.model_name,
			dims=excluded.dims, updated_at=excluded.updated_at`,
		m.CardID, m.EmbedderName, m.Section, m.ChunkIndex,
		m.TextSHA256, m.ModelName, m.Dims, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put embedding meta %s/%s[%d]: %w",
			m.CardID, m.Section, m.ChunkIndex, err)
	}
	return nil
}

// DeleteMeta removes one meta row.
func (s *Store) DeleteMeta(ctx context.Context, cardID, embedderName string, key MetaKey) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM card_embedding_meta
		WHERE card_id = ? AND embedder_name = ? AND section = ? AND chunk_index = ?`,
		cardID, embedderName, key.Section, key.ChunkIndex)
	if err != nil {
		return fmt.Errorf("delete embedding meta %s/%s[%d]: %w",
			cardID, key.Section, key.ChunkIndex, err)
	}
	return nil
}

// DeleteMetaForCard removes all meta rows of a card (card deletion).
func (s *Store) DeleteMetaForCard(ctx context.Context, cardID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM card_embedding_meta WHERE card_id = ?`, cardID)
	if err != nil {
		return fmt.Errorf("delete embedding meta for %s: %w", cardID, err)
	}
	return nil
}
