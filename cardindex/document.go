package cardindex

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/hazyhaar/carchive/cardstore"
	"github.com/hazyhaar/carchive/chunk"
)

// CardDocument is the flat per-card search document. Field names match
// the filterable-attribute allow-list exactly, so a filter compiled by
// filterexpr addresses these fields without further mapping.
type CardDocument struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Tagline     string `json:"tagline"`
	Description string `json:"description"`
	Author      string `json:"author"`
	Creator     string `json:"creator"`

	Personality  string   `json:"personality,omitempty"`
	Scenario     string   `json:"scenario,omitempty"`
	FirstMes     string   `json:"firstMes,omitempty"`
	MesExample   string   `json:"mesExample,omitempty"`
	SystemPrompt string   `json:"systemPrompt,omitempty"`
	AltGreetings []string `json:"altGreetings,omitempty"`

	Source     string `json:"source"`
	SourceID   string `json:"sourceId"`
	SourcePath string `json:"sourcePath"`
	FullPath   string `json:"fullPath"`
	Language   string `json:"language"`

	// Tags and topics carry the same lower-cased set; both names are
	// filterable for compatibility with older saved filters.
	Tags   []string `json:"tags"`
	Topics []string `json:"topics"`

	Visibility        string `json:"visibility"`
	Favorited         bool   `json:"favorited"`
	HasLorebook       bool   `json:"hasLorebook"`
	HasGallery        bool   `json:"hasGallery"`
	HasEmbeddedImages bool   `json:"hasEmbeddedImages"`

	Rating        float64 `json:"rating"`
	RatingCount   int64   `json:"ratingCount"`
	StarCount     int64   `json:"starCount"`
	FavoriteCount int64   `json:"favoriteCount"`
	ChatCount     int64   `json:"chatCount"`
	MessageCount  int64   `json:"messageCount"`

	TokenTotal       int64 `json:"tokenTotal"`
	TokenDescription int64 `json:"tokenDescription"`
	TokenPersonality int64 `json:"tokenPersonality"`
	TokenScenario    int64 `json:"tokenScenario"`
	TokenFirstMes    int64 `json:"tokenFirstMes"`
	TokenMesExample  int64 `json:"tokenMesExample"`

	ScoreComposite     float64 `json:"scoreComposite"`
	ScoreVelocity      float64 `json:"scoreVelocity"`
	EngagementScore    float64 `json:"engagementScore"`
	EngagementVelocity float64 `json:"engagementVelocity"`

	CreatedAt      int64 `json:"createdAt"`
	UpdatedAt      int64 `json:"updatedAt"`
	LastActivityAt int64 `json:"lastActivityAt"`

	// Vectors carries one embedding per card-level section under the
	// registered embedder name (multi-vector document).
	Vectors map[string][][]float32 `json:"_vectors,omitempty"`
}

// ChunkDocument is one embedded slice of a long card section.
type ChunkDocument struct {
	ID         string            `json:"id"`
	CardID     string            `json:"card_id"`
	Section    string            `json:"section"`
	ChunkIndex int               `json:"chunk_index"`
	Text       string            `json:"text"`
	StartToken int               `json:"start_token"`
	EndToken   int               `json:"end_token"`
	Tags       []string          `json:"tags"`
	Data       map[string]string `json:"data,omitempty"`

	Vectors map[string][]float32 `json:"_vectors,omitempty"`
}

// ChunkID builds the deterministic chunk document id.
func ChunkID(cardID, section string, index int) string {
	return fmt.Sprintf("%s-%s-%d", cardID, section, index)
}

// BuildCardDocument derives a full search document from a card row.
// Scores are pure functions of the row and now; a changed card always
// produces a fully rebuilt document, nothing is patched in place.
func BuildCardDocument(c *cardstore.Card, now time.Time) CardDocument {
	tags := lowerAll(c.Tags)
	composite := scoreComposite(c.StarCount, c.FavoriteCount)
	ageDays := daysSince(c.CreatedAt, now)
	activityDays := daysSince(activityStamp(c), now)
	engagement := engagementScore(c, activityDays)

	return CardDocument{
		ID:          c.ID,
		Name:        c.Name,
		Tagline:     c.Tagline,
		Description: c.Description,
		Author:      c.Author,
		Creator:     c.Author,

		Personality:  c.Personality,
		Scenario:     c.Scenario,
		FirstMes:     c.FirstMes,
		MesExample:   c.MesExample,
		SystemPrompt: c.SystemPrompt,
		AltGreetings: c.AltGreetings,

		Source:     c.Source,
		SourceID:   c.SourceID,
		SourcePath: c.SourcePath,
		FullPath:   c.FullPath,
		Language:   c.Language,

		Tags:   tags,
		Topics: tags,

		Visibility:        c.Visibility,
		Favorited:         c.Favorited,
		HasLorebook:       c.HasLorebook,
		HasGallery:        c.HasGallery,
		HasEmbeddedImages: c.HasEmbeddedImages,

		Rating:        c.Rating,
		RatingCount:   c.RatingCount,
		StarCount:     c.StarCount,
		FavoriteCount: c.FavoriteCount,
		ChatCount:     c.ChatCount,
		MessageCount:  c.MessageCount,

		TokenTotal:       c.TokenTotal,
		TokenDescription: c.TokenDescription,
		TokenPersonality: c.TokenPersonality,
		TokenScenario:    c.TokenScenario,
		TokenFirstMes:    c.TokenFirstMes,
		TokenMesExample:  c.TokenMesExample,

		ScoreComposite:     composite,
		ScoreVelocity:      composite / float64(max64(1, ageDays)),
		EngagementScore:    engagement,
		EngagementVelocity: engagement / float64(max64(1, activityDays)),

		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
		LastActivityAt: c.LastActivityAt,
	}
}

// BuildChunkDocument derives a chunk document from a card row and one
// chunk of a section.
func BuildChunkDocument(c *cardstore.Card, section string, ck chunk.Chunk) ChunkDocument {
	data := map[string]string{}
	if c.Language != "" {
		data["language"] = c.Language
	}
	if c.Author != "" {
		data["creator"] = c.Author
	}
	if len(data) == 0 {
		data = nil
	}
	return ChunkDocument{
		ID:         ChunkID(c.ID, section, ck.Index),
		CardID:     c.ID,
		Section:    section,
		ChunkIndex: ck.Index,
		Text:       ck.Text,
		StartToken: ck.StartToken,
		EndToken:   ck.EndToken,
		Tags:       lowerAll(c.Tags),
		Data:       data,
	}
}

func scoreComposite(stars, favorites int64) float64 {
	return float64(stars) + 2*float64(favorites)
}

func engagementScore(c *cardstore.Card, activityAgeDays int64) float64 {
	ratingContribution := math.Max(0, c.Rating-3) * float64(c.RatingCount) * 0.2
	return 1.5*float64(c.ChatCount) +
		0.1*float64(c.MessageCount) +
		2*float64(c.FavoriteCount) +
		0.5*float64(c.StarCount) +
		ratingContribution +
		freshnessBonus(activityAgeDays)
}

func freshnessBonus(activityAgeDays int64) float64 {
	switch {
	case activityAgeDays <= 3:
		return 25
	case activityAgeDays <= 7:
		return 15
	case activityAgeDays <= 14:
		return 8
	default:
		return 0
	}
}

// activityStamp picks the best activity signal the row carries.
func activityStamp(c *cardstore.Card) int64 {
	if c.LastActivityAt > 0 {
		return c.LastActivityAt
	}
	if c.UpdatedAt > 0 {
		return c.UpdatedAt
	}
	return c.CreatedAt
}

func daysSince(msEpoch int64, now time.Time) int64 {
	if msEpoch <= 0 {
		return 0
	}
	d := now.Sub(time.UnixMilli(msEpoch))
	if d < 0 {
		return 0
	}
	return int64(d.Hours() / 24)
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
