// Package cardsearch executes catalog queries: lexical search with
// OR-federation fallback, hybrid vector+lexical search with reciprocal
// rank fusion, and the structured-parameter filter builder the
// controllers use.
package cardsearch

import (
	"log/slog"

	"github.com/hazyhaar/carchive/cardindex"
	"github.com/hazyhaar/carchive/embedder"
	"github.com/hazyhaar/carchive/meili"
)

// Config holds the ranking and fetch knobs.
type Config struct {
	// RRFK is the rank-fusion smoothing constant.
	RRFK int `json:"rrf_k" yaml:"rrf_k"`

	// ChunkWeight scales the chunk list's RRF contribution. Kept below 1:
	// chunk evidence corroborates, the card ranking stays primary.
	ChunkWeight float64 `json:"chunk_weight" yaml:"chunk_weight"`

	// CardsMultiplier widens the hybrid card fetch beyond the requested
	// page so fusion has candidates to work with.
	CardsMultiplier float64 `json:"cards_multiplier" yaml:"cards_multiplier"`

	// CardsFetchCap bounds the widened fetch.
	CardsFetchCap int `json:"cards_fetch_cap" yaml:"cards_fetch_cap"`

	// ChunkLimit is how many chunk hits (distinct per card) to fetch.
	ChunkLimit int `json:"chunk_limit" yaml:"chunk_limit"`

	// SemanticRatio is the default lexical/semantic blend for hybrid
	// searches that do not specify one.
	SemanticRatio float64 `json:"semantic_ratio" yaml:"semantic_ratio"`

	// ManualFetchCap bounds the per-phrase fetch of the manual multi-OR
	// fallback.
	ManualFetchCap int `json:"manual_fetch_cap" yaml:"manual_fetch_cap"`

	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.RRFK <= 0 {
		c.RRFK = 60
	}
	if c.ChunkWeight <= 0 {
		c.ChunkWeight = 0.5
	}
	if c.CardsMultiplier <= 0 {
		c.CardsMultiplier = 3
	}
	if c.CardsFetchCap <= 0 {
		c.CardsFetchCap = 1000
	}
	if c.ChunkLimit <= 0 {
		c.ChunkLimit = 50
	}
	if c.SemanticRatio <= 0 {
		c.SemanticRatio = 0.5
	}
	if c.ManualFetchCap <= 0 {
		c.ManualFetchCap = 1000
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Service executes searches. Stateless apart from its collaborators:
// every call is pure given its backend responses.
type Service struct {
	meili *meili.Client
	emb   embedder.Embedder
	index *cardindex.Service
	cfg   Config
	log   *slog.Logger
}

// New wires a search service. emb may be nil when no embedding backend
// is configured; hybrid search then fails fast.
func New(meiliClient *meili.Client, emb embedder.Embedder, index *cardindex.Service, cfg Config) *Service {
	cfg.defaults()
	return &Service{
		meili: meiliClient,
		emb:   emb,
		index: index,
		cfg:   cfg,
		log:   cfg.Logger.With("component", "cardsearch"),
	}
}

// Params is one search request.
type Params struct {
	Text   string
	Filter string
	Page   int // 1-based
	Limit  int
	Sort   []string // backend syntax, e.g. "starCount:desc"

	// SemanticRatio overrides the configured default for hybrid search.
	// Zero means "use the default".
	SemanticRatio float64
}

func (p *Params) normalize() {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit <= 0 {
		p.Limit = 20
	}
}

func (p *Params) offset() int {
	return (p.Page - 1) * p.Limit
}

// ChunkMatch is the best chunk highlight for one surfacing card.
type ChunkMatch struct {
	Section    string  `json:"section"`
	Text       string  `json:"text"`
	StartToken int     `json:"start_token"`
	EndToken   int     `json:"end_token"`
	Score      float64 `json:"score"`
}

// Meta records how a hybrid search was executed, including degradations
// the caller should surface to the end user.
type Meta struct {
	SemanticRatio float64 `json:"semantic_ratio"`
	CardsFetched  int     `json:"cards_fetched"`
	ChunksFetched int     `json:"chunks_fetched"`
	Fallback      string  `json:"fallback,omitempty"`
}

// Result is one page of card IDs with ranking evidence.
type Result struct {
	IDs           []string              `json:"ids"`
	Total         int64                 `json:"total"`
	AppliedFilter string                `json:"applied_filter,omitempty"`
	ChunkMatches  map[string]ChunkMatch `json:"chunk_matches,omitempty"`
	Scores        map[string]float64    `json:"scores,omitempty"`
	Meta          *Meta                 `json:"meta,omitempty"`
}
