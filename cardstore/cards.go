package cardstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hazyhaar/carchive/dbopen"
)

// Card is one archived card row, as consumed by the indexing pipeline.
type Card struct {
	ID           string
	Name         string
	Tagline      string
	Description  string
	Personality  string
	Scenario     string
	FirstMes     string
	MesExample   string
	SystemPrompt string
	AltGreetings []string
	Author       string
	Source       string
	SourceID     string
	SourcePath   string
	FullPath     string
	Language     string
	Tags         []string
	CardJSON     string // parsed embedded card spec, highest-precedence section source
	MetaPath     string // sidecar metadata file path, second precedence

	HasLorebook       bool
	HasGallery        bool
	HasEmbeddedImages bool
	Favorited         bool
	Visibility        string

	Rating        float64
	RatingCount   int64
	StarCount     int64
	FavoriteCount int64
	ChatCount     int64
	MessageCount  int64

	TokenDescription int64
	TokenPersonality int64
	TokenScenario    int64
	TokenFirstMes    int64
	TokenMesExample  int64
	TokenTotal       int64

	CreatedAt      int64 // ms since epoch
	UpdatedAt      int64
	LastActivityAt int64
}

const cardColumns = `id, name, tagline, description, personality, scenario,
	first_mes, mes_example, system_prompt, alt_greetings, author, source,
	source_id, source_path, full_path, language, tags, card_json, meta_path,
	has_lorebook, has_gallery, has_embedded_images, favorited, visibility,
	rating, rating_count, star_count, favorite_count, chat_count, message_count,
	token_description, token_personality, token_scenario, token_first_mes,
	token_mes_example, token_total, created_at, updated_at, last_activity_at`

func scanCard(row interface{ Scan(...any) error }) (*Card, error) {
	var c Card
	var altGreetings, tags string
	err := row.Scan(&c.ID, &c.Name, &c.Tagline, &c.Description, &c.Personality,
		&c.Scenario, &c.FirstMes, &c.MesExample, &c.SystemPrompt, &altGreetings,
		&c.Author, &c.Source, &c.SourceID, &c.SourcePath, &c.FullPath,
		&c.Language, &tags, &c.CardJSON, &c.MetaPath,
		&c.HasLorebook, &c.HasGallery, &c.HasEmbeddedImages, &c.Favorited,
		&c.Visibility, &c.Rating, &c.RatingCount, &c.StarCount,
		&c.FavoriteCount, &c.ChatCount, &c.MessageCount,
		&c.TokenDescription, &c.TokenPersonality, &c.TokenScenario,
		&c.TokenFirstMes, &c.TokenMesExample, &c.TokenTotal,
		&c.CreatedAt, &c.UpdatedAt, &c.LastActivityAt)
	if err != nil {
		return nil, err
	}
	// Malformed JSON degrades to an empty list rather than failing the row.
	json.Unmarshal([]byte(altGreetings), &c.AltGreetings)
	json.Unmarshal([]byte(tags), &c.Tags)
	return &c, nil
}

// GetCard returns a card by id, or nil when it does not exist.
func (s *Store) GetCard(ctx context.Context, id string) (*Card, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+cardColumns+` FROM cards WHERE id = ?`, id)
	c, err := scanCard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get card %s: %w", id, err)
	}
	return c, nil
}

// ListCardsAfter pages cards by primary key ascending; afterID "" starts
// from the beginning. Bulk ETL runs resume by passing the last id seen.
func (s *Store) ListCardsAfter(ctx context.Context, afterID string, limit int) ([]*Card, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+cardColumns+` FROM cards WHERE id > ? ORDER BY id ASC LIMIT ?`,
		afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list cards after %q: %w", afterID, err)
	}
	defer rows.Close()

	var cards []*Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

// DeleteCard removes a card row. Index cleanup is the caller's job:
// enqueue a delete action so the drain removes the documents.
func (s *Store) DeleteCard(ctx context.Context, id string) error {
	err := dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM cards WHERE id = ?`, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete card %s: %w", id, err)
	}
	return nil
}

// UpsertCard writes a full card row. The write path proper lives with
// the controllers; this exists for fixtures and backfill tooling. The
// write runs under dbopen.RunTx so a concurrent drain holding the
// database does not surface SQLITE_BUSY to the caller.
func (s *Store) UpsertCard(ctx context.Context, c *Card) error {
	altGreetings, err := json.Marshal(c.AltGreetings)
	if err != nil {
		return fmt.Errorf("marshal alt greetings: %w", err)
	}
	tags, err := json.Marshal(c.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	err = dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
		INSERT INTO cards (`+cardColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (id) DO UPDATE SET
			name=excluded.name, tagline=excluded.tagline,
			description=excluded.description, personality=excluded.personality,
			scenario=excluded.scenario, first_mes=excluded.first_mes,
			mes_example=excluded.mes_example, system_prompt=excluded.system_prompt,
			alt_greetings=excluded.alt_greetings, author=excluded.author,
			source=excluded.source, source_id=excluded.source_id,
			source_path=excluded.source_path, full_path=excluded.full_path,
			language=excluded.language, tags=excluded.tags,
			card_json=excluded.card_json, meta_path=excluded.meta_path,
			has_lorebook=excluded.has_lorebook, has_gallery=excluded.has_gallery,
			has_embedded_images=excluded.has_embedded_images,
			favorited=excluded.favorited, visibility=excluded.visibility,
			rating=excluded.rating, rating_count=excluded.rating_count,
			star_count=excluded.star_count, favorite_count=excluded.favorite_count,
			chat_count=excluded.chat_count, message_count=excluded.message_count,
			token_description=excluded.token_description,
			token_personality=excluded.token_personality,
			token_scenario=excluded.token_scenario,
			token_first_mes=excluded.token_first_mes,
			token_mes_example=excluded.token_mes_example,
			token_total=excluded.token_total,
			created_at=excluded.created_at, updated_at=excluded.updated_at,
			last_activity_at=excluded.last_activity_at`,
			c.ID, c.Name, c.Tagline, c.Description, c.Personality, c.Scenario,
			c.FirstMes, c.MesExample, c.SystemPrompt, string(altGreetings),
			c.Author, c.Source, c.SourceID, c.SourcePath, c.FullPath,
			c.Language, string(tags), c.CardJSON, c.MetaPath,
			c.HasLorebook, c.HasGallery, c.HasEmbeddedImages, c.Favorited,
			c.Visibility, c.Rating, c.RatingCount, c.StarCount, c.FavoriteCount,
			c.ChatCount, c.MessageCount, c.TokenDescription, c.TokenPersonality,
			c.TokenScenario, c.TokenFirstMes, c.TokenMesExample, c.TokenTotal,
			c.CreatedAt, c.UpdatedAt, c.LastActivityAt)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert card %s: %w", c.ID, err)
	}
	return nil
}
