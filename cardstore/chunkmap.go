package cardstore

import (
	"context"
	"fmt"
	"strings"
)

// ChunkMapping records one live chunk document. The set of mappings for
// a card is diffed against freshly computed chunk ids on every ETL pass;
// ids present here but not in the new set are stale and get deleted from
// both the chunk index and this table.
type ChunkMapping struct {
	ChunkID    string
	CardID     string
	Section    string
	ChunkIndex int
	StartToken int
	EndToken   int
}

// ListChunkMappings returns all chunk mappings of a card.
func (s *Store) ListChunkMappings(ctx context.Context, cardID string) ([]ChunkMapping, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_id, card_id, section, chunk_index, start_token, end_token
		FROM card_chunk_map WHERE card_id = ?
		ORDER BY section, chunk_index`, cardID)
	if err != nil {
		return nil, fmt.Errorf("list chunk mappings for %s: %w", cardID, err)
	}
	defer rows.Close()

	var out []ChunkMapping
	for rows.Next() {
		var m ChunkMapping
		if err := rows.Scan(&m.ChunkID, &m.CardID, &m.Section,
			&m.ChunkIndex, &m.StartToken, &m.EndToken); err != nil {
			return nil, fmt.Errorf("scan chunk mapping: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// PutChunkMapping inserts or replaces one mapping.
func (s *Store) PutChunkMapping(ctx context.Context, m ChunkMapping) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO card_chunk_map
			(chunk_id, card_id, section, chunk_index, start_token, end_token)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT (chunk_id) DO UPDATE SET
			card_id=excluded.card_id, section=excluded.section,
			chunk_index=excluded.chunk_index,
			start_token=excluded.start_token, end_token=excluded.end_token`,
		m.ChunkID, m.CardID, m.Section, m.ChunkIndex, m.StartToken, m.EndToken)
	if err != nil {
		return fmt.Errorf("put chunk mapping %s: %w", m.ChunkID, err)
	}
	return nil
}

// DeleteChunkMappings removes mappings by chunk id.
func (s *Store) DeleteChunkMappings(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(chunkIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(chunkIDs))
	for i, id := range chunkIDs {
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM card_chunk_map WHERE chunk_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("delete %d chunk mappings: %w", len(chunkIDs), err)
	}
	return nil
}

// ListChunkIDsForCard returns just the chunk ids of a card, for deletes.
func (s *Store) ListChunkIDsForCard(ctx context.Context, cardID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chunk_id FROM card_chunk_map WHERE card_id = ?`, cardID)
	if err != nil {
		return nil, fmt.Errorf("list chunk ids for %s: %w", cardID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
