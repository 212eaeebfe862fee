// Package cardstore is the archive's relational layer for the search
// core: the cards table it reads, and the three bookkeeping tables the
// indexing pipeline owns — embedding metadata (the content-hash cache),
// the chunk mapping used for diffing, and the search index queue.
//
// Timestamps are stored as milliseconds since epoch throughout.
package cardstore

import (
	"database/sql"
	"fmt"
)

// Schema is the DDL for every table the search core touches. CRUD for
// the cards table itself lives with the controllers; the columns here
// are the ones the indexing pipeline consumes.
const Schema = `
CREATE TABLE IF NOT EXISTS cards (
    id               TEXT PRIMARY KEY,
    name             TEXT NOT NULL DEFAULT '',
    tagline          TEXT NOT NULL DEFAULT '',
    description      TEXT NOT NULL DEFAULT '',
    personality      TEXT NOT NULL DEFAULT '',
    scenario         TEXT NOT NULL DEFAULT '',
    first_mes        TEXT NOT NULL DEFAULT '',
    mes_example      TEXT NOT NULL DEFAULT '',
    system_prompt    TEXT NOT NULL DEFAULT '',
    alt_greetings    TEXT NOT NULL DEFAULT '[]',  -- JSON array of strings
    author           TEXT NOT NULL DEFAULT '',
    source           TEXT NOT NULL DEFAULT '',
    source_id        TEXT NOT NULL DEFAULT '',
    source_path      TEXT NOT NULL DEFAULT '',
    full_path        TEXT NOT NULL DEFAULT '',
    language         TEXT NOT NULL DEFAULT '',
    tags             TEXT NOT NULL DEFAULT '[]',  -- JSON array of strings
    card_json        TEXT NOT NULL DEFAULT '',    -- parsed embedded card spec, when available
    meta_path        TEXT NOT NULL DEFAULT '',    -- sidecar metadata file, when available
    has_lorebook     INTEGER NOT NULL DEFAULT 0,
    has_gallery      INTEGER NOT NULL DEFAULT 0,
    has_embedded_images INTEGER NOT NULL DEFAULT 0,
    favorited        INTEGER NOT NULL DEFAULT 0,
    visibility       TEXT NOT NULL DEFAULT 'public',
    rating           REAL NOT NULL DEFAULT 0,
    rating_count     INTEGER NOT NULL DEFAULT 0,
    star_count       INTEGER NOT NULL DEFAULT 0,
    favorite_count   INTEGER NOT NULL DEFAULT 0,
    chat_count       INTEGER NOT NULL DEFAULT 0,
    message_count    INTEGER NOT NULL DEFAULT 0,
    token_description INTEGER NOT NULL DEFAULT 0,
    token_personality INTEGER NOT NULL DEFAULT 0,
    token_scenario   INTEGER NOT NULL DEFAULT 0,
    token_first_mes  INTEGER NOT NULL DEFAULT 0,
    token_mes_example INTEGER NOT NULL DEFAULT 0,
    token_total      INTEGER NOT NULL DEFAULT 0,
    created_at       INTEGER NOT NULL DEFAULT 0,
    updated_at       INTEGER NOT NULL DEFAULT 0,
    last_activity_at INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS card_embedding_meta (
    card_id       TEXT NOT NULL,
    embedder_name TEXT NOT NULL,
    section       TEXT NOT NULL,
    chunk_index   INTEGER NOT NULL DEFAULT -1,  -- -1 = whole-section entry
    text_sha256   TEXT NOT NULL,
    model_name    TEXT NOT NULL DEFAULT '',
    dims          INTEGER NOT NULL DEFAULT 0,
    updated_at    INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (card_id, embedder_name, section, chunk_index)
);
CREATE INDEX IF NOT EXISTS idx_embedding_meta_card ON card_embedding_meta (card_id);

CREATE TABLE IF NOT EXISTS card_chunk_map (
    chunk_id    TEXT PRIMARY KEY,
    card_id     TEXT NOT NULL,
    section     TEXT NOT NULL,
    chunk_index INTEGER NOT NULL,
    start_token INTEGER NOT NULL DEFAULT 0,
    end_token   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_chunk_map_card ON card_chunk_map (card_id);

CREATE TABLE IF NOT EXISTS search_index_queue (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    card_id    TEXT NOT NULL,
    action     TEXT NOT NULL CHECK (action IN ('upsert', 'delete')),
    created_at INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_search_queue_card ON search_index_queue (card_id);
`

// Store wraps the archive database.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store over an already-opened database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for callers that share the database.
func (s *Store) DB() *sql.DB { return s.db }

// ApplySchema creates all search-core tables.
func ApplySchema(db *sql.DB) error {
	if _, err := db.Exec(Schema); err != nil {
		return fmt.Errorf("cardstore: apply schema: %w", err)
	}
	return nil
}
