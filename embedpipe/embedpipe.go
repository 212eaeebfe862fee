// Package embedpipe is the incremental embedding ETL: it derives
// per-section and per-chunk text from card rows, detects changes via
// content hashes, embeds only what changed, and keeps the card and chunk
// search indexes plus the relational bookkeeping tables in sync.
//
// Re-running the pipeline with no source changes is a no-op: zero
// embedding calls, zero document writes.
package embedpipe

import (
	"log/slog"
	"os"

	"github.com/hazyhaar/carchive/cardindex"
	"github.com/hazyhaar/carchive/cardstore"
	"github.com/hazyhaar/carchive/chunk"
	"github.com/hazyhaar/carchive/embedder"
	"github.com/hazyhaar/carchive/meili"
)

// Config controls chunking and pacing.
type Config struct {
	// ChunkThresholdTokens: sections whose approximate token count
	// exceeds this are split into chunks. Default: 400.
	ChunkThresholdTokens int `json:"chunk_threshold_tokens" yaml:"chunk_threshold_tokens"`

	// WindowChars / OverlapChars configure the character windows.
	WindowChars  int `json:"window_chars" yaml:"window_chars"`
	OverlapChars int `json:"overlap_chars" yaml:"overlap_chars"`

	// PageSize is how many cards one RunAll page loads. Default: 100.
	PageSize int `json:"page_size" yaml:"page_size"`

	// Force re-embeds everything regardless of stored hashes.
	Force bool `json:"force" yaml:"force"`

	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.ChunkThresholdTokens <= 0 {
		c.ChunkThresholdTokens = 400
	}
	if c.WindowChars <= 0 {
		c.WindowChars = 2000
	}
	if c.OverlapChars <= 0 {
		c.OverlapChars = 200
	}
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Pipeline runs the embedding ETL against one store/backend pair.
type Pipeline struct {
	store *cardstore.Store
	emb   embedder.Embedder
	meili *meili.Client
	index *cardindex.Service
	cfg   Config
	log   *slog.Logger

	// readFile loads sidecar metadata; swapped in tests.
	readFile func(string) ([]byte, error)
}

// New wires a pipeline. The embedder is typically a Fanout when a
// secondary instance is configured for backfills.
func New(store *cardstore.Store, emb embedder.Embedder, meiliClient *meili.Client, index *cardindex.Service, cfg Config) *Pipeline {
	cfg.defaults()
	return &Pipeline{
		store:    store,
		emb:      emb,
		meili:    meiliClient,
		index:    index,
		cfg:      cfg,
		log:      cfg.Logger.With("component", "embedpipe"),
		readFile: os.ReadFile,
	}
}

func (p *Pipeline) chunkOptions() chunk.Options {
	return chunk.Options{
		WindowChars:  p.cfg.WindowChars,
		OverlapChars: p.cfg.OverlapChars,
	}
}

// Stats summarizes one pipeline run.
type Stats struct {
	Processed int // cards examined
	Updated   int // cards with at least one backend write
	Skipped   int // cards with no changes
	Chunks    int // chunk documents written
	LastID    string
}
