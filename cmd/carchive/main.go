// Entry point for the card archive search service: chi router over the
// lexical/hybrid search API, index maintenance endpoints, a queue
// watcher that drains index updates, and an optional MCP transport.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hazyhaar/carchive/cardindex"
	"github.com/hazyhaar/carchive/cardsearch"
	"github.com/hazyhaar/carchive/cardstore"
	"github.com/hazyhaar/carchive/dbopen"
	"github.com/hazyhaar/carchive/embedder"
	"github.com/hazyhaar/carchive/meili"
	"github.com/hazyhaar/carchive/shield"
	"github.com/hazyhaar/carchive/watch"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"
)

func main() {
	port := env("PORT", "8086")
	dbPath := env("CARDS_DB", "db/cards.db")
	meiliHost := env("MEILI_HOST", "")
	meiliKey := env("MEILI_API_KEY", "")
	embedEndpoint := env("EMBED_ENDPOINT", "")
	embedModel := env("EMBED_MODEL", "")
	mcpTransport := env("MCP_TRANSPORT", "")
	logLevel := env("LOG_LEVEL", "info")

	// Logging. Stdio MCP owns stdout, so logs move to stderr there.
	var lvl slog.Level
	switch logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logOut := os.Stdout
	if mcpTransport == "stdio" {
		logOut = os.Stderr
	}
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Cards DB.
	db, err := dbopen.Open(dbPath, dbopen.WithMkdirAll())
	if err != nil {
		slog.Error("cards db", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := cardstore.ApplySchema(db); err != nil {
		slog.Error("cards schema", "error", err)
		os.Exit(1)
	}
	if err := shield.Init(db); err != nil {
		slog.Error("shield schema", "error", err)
		os.Exit(1)
	}
	store := cardstore.NewStore(db)

	// Search backend — optional. With no MEILI_HOST the service still
	// serves card CRUD; search endpoints return 503.
	var meiliClient *meili.Client
	if meiliHost != "" {
		meiliClient, err = meili.New(meili.Config{
			Host:   meiliHost,
			APIKey: meiliKey,
			Logger: logger,
		})
		if err != nil {
			slog.Error("search backend", "error", err)
			os.Exit(1)
		}
	}

	// Embedder — optional. With no EMBED_ENDPOINT the service stays nil
	// here so hybrid search fails fast instead of querying with a
	// zero-vector from the noop embedder.
	var emb embedder.Embedder
	if embedEndpoint != "" {
		emb = embedder.New(embedder.Config{
			Endpoint:  embedEndpoint,
			Model:     embedModel,
			Dimension: envInt("EMBED_DIMENSION", 768),
			Logger:    logger,
		})
	}

	index := cardindex.New(meiliClient, store, cardindex.Config{
		CardIndex:    env("MEILI_CARD_INDEX", "cards"),
		ChunkIndex:   env("MEILI_CHUNK_INDEX", "card_chunks"),
		EmbedderDims: envInt("EMBED_DIMENSION", 768),
		Logger:       logger,
	})
	search := cardsearch.New(meiliClient, emb, index, cardsearch.Config{Logger: logger})

	// Queue watcher: new queue rows trigger a drain. ErrAlreadyDraining
	// means the running drain picked the work up, which counts as done.
	if index.Enabled() {
		w := watch.New(db, watch.Options{
			Interval: envDuration("REFRESH_INTERVAL", 5*time.Second),
			Debounce: 500 * time.Millisecond,
			Detector: watch.MaxColumnDetector("search_index_queue", "id"),
			Logger:   logger,
		})
		go w.Run(ctx, func() error {
			err := index.RunRefresh(ctx, "queue-watch")
			if errors.Is(err, cardindex.ErrAlreadyDraining) {
				return nil
			}
			return err
		})
	}

	// Optional MCP over stdio.
	if mcpTransport == "stdio" {
		mcpSrv := mcp.NewServer(&mcp.Implementation{
			Name:    "carchive",
			Version: "1.0.0",
		}, nil)
		search.RegisterMCP(mcpSrv)
		go func() {
			if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				slog.Error("mcp stdio", "error", err)
			}
		}()
	}

	// Router.
	rl := shield.NewRateLimiter(db, "/health")
	rl.StartReloader(ctx.Done())

	r := chi.NewRouter()
	for _, mw := range shield.DefaultAPIStack(rl) {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	r.Get("/api/search", func(w http.ResponseWriter, r *http.Request) {
		params := cardsearch.Params{
			Text:   r.URL.Query().Get("q"),
			Filter: r.URL.Query().Get("filter"),
			Page:   queryInt(r, "page", 1),
			Limit:  queryInt(r, "limit", 20),
		}
		if sort := r.URL.Query().Get("sort"); sort != "" {
			params.Sort = strings.Split(sort, ",")
		}
		res, err := search.SearchLexical(r.Context(), params)
		if err != nil {
			writeSearchError(w, err)
			return
		}
		writeJSON(w, 200, res)
	})

	r.Post("/api/search", func(w http.ResponseWriter, r *http.Request) {
		params, ok := decodeParams(w, r)
		if !ok {
			return
		}
		res, err := search.SearchLexical(r.Context(), params)
		if err != nil {
			writeSearchError(w, err)
			return
		}
		writeJSON(w, 200, res)
	})

	r.Post("/api/vector-search", func(w http.ResponseWriter, r *http.Request) {
		params, ok := decodeParams(w, r)
		if !ok {
			return
		}
		res, err := search.SearchHybrid(r.Context(), params)
		if err != nil {
			writeSearchError(w, err)
			return
		}
		writeJSON(w, 200, res)
	})

	r.Route("/api/cards", func(r chi.Router) {
		r.Get("/{cardID}", func(w http.ResponseWriter, r *http.Request) {
			card, err := store.GetCard(r.Context(), chi.URLParam(r, "cardID"))
			if err != nil {
				writeError(w, 500, err)
				return
			}
			if card == nil {
				writeJSON(w, 404, map[string]string{"error": "card not found"})
				return
			}
			writeJSON(w, 200, card)
		})

		r.Put("/{cardID}", func(w http.ResponseWriter, r *http.Request) {
			var card cardstore.Card
			if err := json.NewDecoder(r.Body).Decode(&card); err != nil {
				writeError(w, 400, err)
				return
			}
			card.ID = chi.URLParam(r, "cardID")
			now := time.Now().UnixMilli()
			if card.CreatedAt == 0 {
				card.CreatedAt = now
			}
			card.UpdatedAt = now
			if err := store.UpsertCard(r.Context(), &card); err != nil {
				writeError(w, 500, err)
				return
			}
			if index.Enabled() {
				if err := store.Enqueue(r.Context(), card.ID, cardstore.ActionUpsert); err != nil {
					writeError(w, 500, err)
					return
				}
				index.TriggerRefresh("card-upsert")
			}
			writeJSON(w, 200, map[string]string{"id": card.ID, "status": "ok"})
		})

		r.Delete("/{cardID}", func(w http.ResponseWriter, r *http.Request) {
			cardID := chi.URLParam(r, "cardID")
			if err := store.DeleteCard(r.Context(), cardID); err != nil {
				writeError(w, 500, err)
				return
			}
			if index.Enabled() {
				if err := store.Enqueue(r.Context(), cardID, cardstore.ActionDelete); err != nil {
					writeError(w, 500, err)
					return
				}
				index.TriggerRefresh("card-delete")
			}
			writeJSON(w, 200, map[string]string{"id": cardID, "status": "deleted"})
		})
	})

	r.Route("/api/index", func(r chi.Router) {
		r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
			depth, err := store.QueueDepth(r.Context())
			if err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, map[string]any{
				"enabled":     index.Enabled(),
				"queue_depth": depth,
				"vector":      index.VectorReady(),
				"chunks":      index.ChunkReady(),
			})
		})

		r.Post("/refresh", func(w http.ResponseWriter, r *http.Request) {
			err := index.ProcessQueue(r.Context())
			switch {
			case errors.Is(err, cardindex.ErrAlreadyDraining):
				writeJSON(w, 202, map[string]string{"status": "drain already running"})
			case errors.Is(err, cardindex.ErrIndexDisabled):
				writeJSON(w, 503, map[string]string{"error": err.Error()})
			case err != nil:
				writeError(w, 500, err)
			default:
				writeJSON(w, 200, map[string]string{"status": "drained"})
			}
		})

		r.Post("/rebuild", func(w http.ResponseWriter, r *http.Request) {
			if !index.Enabled() {
				writeJSON(w, 503, map[string]string{"error": "search backend not configured"})
				return
			}
			// Rebuilds walk the whole card table; run detached from the
			// request.
			go func() {
				rctx, rcancel := context.WithTimeout(context.Background(), time.Hour)
				defer rcancel()
				if err := index.EnsureIndexes(rctx, 0); err != nil {
					slog.Error("rebuild: provision", "error", err)
					return
				}
				err := index.Rebuild(rctx)
				switch {
				case errors.Is(err, cardindex.ErrAlreadyDraining):
					slog.Warn("rebuild skipped: drain in flight, retry later")
				case err != nil:
					slog.Error("rebuild failed", "error", err)
				}
			}()
			writeJSON(w, 202, map[string]string{"status": "rebuild started"})
		})
	})

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutCancel()
		srv.Shutdown(shutCtx)
	}()

	slog.Info("carchive listening", "port", port, "search", index.Enabled())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server", "error", err)
		os.Exit(1)
	}
}

func decodeParams(w http.ResponseWriter, r *http.Request) (cardsearch.Params, bool) {
	var req struct {
		Query         string   `json:"query"`
		Filter        string   `json:"filter"`
		Page          int      `json:"page"`
		Limit         int      `json:"limit"`
		Sort          []string `json:"sort"`
		SemanticRatio float64  `json:"semantic_ratio"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, err)
		return cardsearch.Params{}, false
	}
	return cardsearch.Params{
		Text:          req.Query,
		Filter:        req.Filter,
		Page:          req.Page,
		Limit:         req.Limit,
		Sort:          req.Sort,
		SemanticRatio: req.SemanticRatio,
	}, true
}

func writeSearchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, cardsearch.ErrSearchDisabled),
		errors.Is(err, cardsearch.ErrNoEmbedder),
		errors.Is(err, cardindex.ErrIndexDisabled):
		writeJSON(w, 503, map[string]string{"error": err.Error()})
	case errors.Is(err, cardindex.ErrVectorNotReady):
		writeJSON(w, 409, map[string]string{"error": err.Error()})
	default:
		writeError(w, 500, err)
	}
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func envDuration(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
