// carchive_indexer runs the embedding backfill: it walks the card
// table, embeds changed sections and chunks, and syncs the search
// indexes. Re-running it after a completed pass is a no-op.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hazyhaar/carchive/cardindex"
	"github.com/hazyhaar/carchive/cardstore"
	"github.com/hazyhaar/carchive/dbopen"
	"github.com/hazyhaar/carchive/embedder"
	"github.com/hazyhaar/carchive/embedpipe"
	"github.com/hazyhaar/carchive/meili"
	"gopkg.in/yaml.v3"
	_ "modernc.org/sqlite"
)

// Config is the full indexer configuration, loaded from YAML.
type Config struct {
	DBPath string `yaml:"db_path"`

	Meili struct {
		Host       string `yaml:"host"`
		APIKey     string `yaml:"api_key"`
		CardIndex  string `yaml:"card_index"`
		ChunkIndex string `yaml:"chunk_index"`
	} `yaml:"meili"`

	// Embedder configures the fan-out pool; with no secondaries the
	// primary handles everything.
	Embedder embedder.FanoutConfig `yaml:"embedder"`

	Pipeline embedpipe.Config `yaml:"pipeline"`

	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns sane defaults.
func DefaultConfig() *Config {
	return &Config{
		DBPath:   "db/cards.db",
		LogLevel: "info",
	}
}

// LoadConfig reads and parses a YAML config file, merged over defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks that required fields are present.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if c.Meili.Host == "" {
		return fmt.Errorf("meili.host is required")
	}
	if c.Embedder.Primary.Endpoint == "" {
		return fmt.Errorf("embedder.primary.endpoint is required")
	}
	return nil
}

func main() {
	cfgPath := flag.String("config", "carchive_indexer.yaml", "path to YAML config")
	cardID := flag.String("card", "", "process a single card instead of the full table")
	startAfter := flag.String("start-after", "", "resume a full run after this card id")
	force := flag.Bool("force", false, "re-embed everything regardless of stored hashes")
	flag.Parse()

	cfg, err := LoadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	var lvl slog.Level
	switch cfg.LogLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := dbopen.Open(cfg.DBPath, dbopen.WithMkdirAll())
	if err != nil {
		slog.Error("cards db", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := cardstore.ApplySchema(db); err != nil {
		slog.Error("cards schema", "error", err)
		os.Exit(1)
	}
	store := cardstore.NewStore(db)

	meiliClient, err := meili.New(meili.Config{
		Host:   cfg.Meili.Host,
		APIKey: cfg.Meili.APIKey,
		Logger: logger,
	})
	if err != nil {
		slog.Error("search backend", "error", err)
		os.Exit(1)
	}

	cfg.Embedder.Logger = logger
	emb := embedder.NewFanout(ctx, cfg.Embedder)

	index := cardindex.New(meiliClient, store, cardindex.Config{
		CardIndex:    cfg.Meili.CardIndex,
		ChunkIndex:   cfg.Meili.ChunkIndex,
		EmbedderDims: emb.Dimension(),
		Logger:       logger,
	})

	cfg.Pipeline.Force = cfg.Pipeline.Force || *force
	cfg.Pipeline.Logger = logger
	pipe := embedpipe.New(store, emb, meiliClient, index, cfg.Pipeline)

	if *cardID != "" {
		if err := pipe.RunCard(ctx, *cardID); err != nil {
			slog.Error("card run failed", "card", *cardID, "error", err)
			os.Exit(1)
		}
		slog.Info("card synced", "card", *cardID)
		return
	}

	stats, err := pipe.RunAll(ctx, *startAfter)
	if err != nil {
		slog.Error("backfill failed", "error", err, "last_id", stats.LastID,
			"processed", stats.Processed)
		// The reported last id resumes a partial run.
		if stats.LastID != "" {
			fmt.Fprintf(os.Stderr, "resume with: -start-after %s\n", stats.LastID)
		}
		os.Exit(1)
	}
	slog.Info("backfill complete",
		"processed", stats.Processed, "updated", stats.Updated,
		"skipped", stats.Skipped, "chunks", stats.Chunks)
}
