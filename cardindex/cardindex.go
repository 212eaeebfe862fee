// Package cardindex keeps the search backend's card and chunk indexes
// consistent with the relational store: provisioning (settings and
// embedder registration), full rebuilds, and the incremental drain of
// the durable search_index_queue.
package cardindex

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/carchive/cardstore"
	"github.com/hazyhaar/carchive/meili"
)

// Config controls index naming and maintenance pacing.
type Config struct {
	CardIndex    string        `json:"card_index" yaml:"card_index"`
	ChunkIndex   string        `json:"chunk_index" yaml:"chunk_index"`
	EmbedderName string        `json:"embedder_name" yaml:"embedder_name"`
	EmbedderDims int           `json:"embedder_dims" yaml:"embedder_dims"`
	RebuildBatch int           `json:"rebuild_batch" yaml:"rebuild_batch"`
	DrainBatch   int           `json:"drain_batch" yaml:"drain_batch"`
	MaxDrainRuns int           `json:"max_drain_runs" yaml:"max_drain_runs"`
	TaskTimeout  time.Duration `json:"task_timeout" yaml:"task_timeout"`

	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.CardIndex == "" {
		c.CardIndex = "cards"
	}
	if c.ChunkIndex == "" {
		c.ChunkIndex = "card_chunks"
	}
	if c.EmbedderName == "" {
		c.EmbedderName = "cards-default"
	}
	if c.RebuildBatch <= 0 {
		c.RebuildBatch = 500
	}
	if c.DrainBatch <= 0 {
		c.DrainBatch = 200
	}
	if c.MaxDrainRuns <= 0 {
		c.MaxDrainRuns = 5
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 2 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Service owns index maintenance state. Readiness flags and the
// single-flight guards live here rather than in package globals so that
// tests can run several configurations side by side.
type Service struct {
	meili *meili.Client
	store *cardstore.Store
	cfg   Config
	log   *slog.Logger

	mu           sync.Mutex
	provisioned  bool
	provisioning chan struct{} // non-nil while EnsureIndexes is in flight
	vectorReady  bool
	chunkReady   bool

	draining   bool
	pendingRun bool
}

// New wires a maintenance service. meiliClient may be nil when search
// indexing is disabled; every operation then reports ErrIndexDisabled.
func New(meiliClient *meili.Client, store *cardstore.Store, cfg Config) *Service {
	cfg.defaults()
	return &Service{
		meili: meiliClient,
		store: store,
		cfg:   cfg,
		log:   cfg.Logger.With("component", "cardindex"),
	}
}

// Enabled reports whether a search backend is configured at all.
func (s *Service) Enabled() bool {
	return s != nil && s.meili != nil
}

// VectorReady reports whether the card index holds vector documents.
// False until EnsureIndexes has run and found the index non-empty.
func (s *Service) VectorReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vectorReady
}

// ChunkReady reports whether chunk highlighting is available.
func (s *Service) ChunkReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunkReady
}

// Config returns the effective configuration after defaults.
func (s *Service) Config() Config { return s.cfg }
