package embedpipe

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/hazyhaar/carchive/cardindex"
	"github.com/hazyhaar/carchive/cardstore"
	"github.com/hazyhaar/carchive/dbopen"
	"github.com/hazyhaar/carchive/meili"
	_ "modernc.org/sqlite"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// countingEmbedder records every batch so tests can assert the
// idempotence property: no source change, no embedding calls.
type countingEmbedder struct {
	mu      sync.Mutex
	dim     int
	batches [][]string
}

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *countingEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.batches = append(e.batches, texts)
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, e.dim)
	}
	return out, nil
}

func (e *countingEmbedder) Dimension() int { return e.dim }
func (e *countingEmbedder) Model() string  { return "test-model" }

func (e *countingEmbedder) calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.batches)
}

// fakeBackend records document writes; everything else succeeds
// immediately.
type fakeBackend struct {
	mu      sync.Mutex
	added   map[string][]map[string]any
	deleted map[string][]string
	srv     *httptest.Server
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{
		added:   map[string][]map[string]any{},
		deleted: map[string][]string{},
	}
	b.srv = httptest.NewServer(http.HandlerFunc(b.handle))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) handle(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	path := r.URL.Path
	task := func() {
		json.NewEncoder(w).Encode(map[string]any{"taskUid": 1})
	}
	switch {
	case strings.HasPrefix(path, "/tasks/"):
		json.NewEncoder(w).Encode(map[string]any{"uid": 1, "status": "succeeded"})
	case strings.HasSuffix(path, "/stats"):
		json.NewEncoder(w).Encode(map[string]any{"numberOfDocuments": 1})
	case strings.HasSuffix(path, "/settings") && r.Method == http.MethodGet:
		w.Write([]byte(`{}`))
	case strings.HasSuffix(path, "/settings"):
		task()
	case strings.HasSuffix(path, "/documents/delete-batch"):
		uid := strings.TrimSuffix(strings.TrimPrefix(path, "/indexes/"), "/documents/delete-batch")
		var ids []string
		json.NewDecoder(r.Body).Decode(&ids)
		b.deleted[uid] = append(b.deleted[uid], ids...)
		task()
	case strings.HasSuffix(path, "/documents") && r.Method == http.MethodPost:
		uid := strings.TrimSuffix(strings.TrimPrefix(path, "/indexes/"), "/documents")
		var docs []map[string]any
		json.NewDecoder(r.Body).Decode(&docs)
		b.added[uid] = append(b.added[uid], docs...)
		task()
	case strings.HasPrefix(path, "/indexes/") && r.Method == http.MethodGet:
		uid := strings.TrimPrefix(path, "/indexes/")
		json.NewEncoder(w).Encode(map[string]any{"uid": uid, "primaryKey": "id"})
	default:
		task()
	}
}

func (b *fakeBackend) addedCount(index string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.added[index])
}

func newTestPipeline(t *testing.T, b *fakeBackend, emb *countingEmbedder) (*Pipeline, *cardstore.Store) {
	t.Helper()
	client, err := meili.New(meili.Config{Host: b.srv.URL})
	if err != nil {
		t.Fatalf("meili client: %v", err)
	}
	db := dbopen.OpenMemory(t)
	if err := cardstore.ApplySchema(db); err != nil {
		t.Fatalf("schema: %v", err)
	}
	store := cardstore.NewStore(db)
	idx := cardindex.New(client, store, cardindex.Config{})
	p := New(store, emb, client, idx, Config{ChunkThresholdTokens: 50, WindowChars: 400, OverlapChars: 40})
	return p, store
}

func TestRunCard_EmbedsSectionsAndWritesMeta(t *testing.T) {
	b := newFakeBackend(t)
	emb := &countingEmbedder{dim: 4}
	p, store := newTestPipeline(t, b, emb)
	ctx := context.Background()

	store.UpsertCard(ctx, &cardstore.Card{
		ID:          "c1",
		Name:        "Aria",
		Description: "An elven bard wandering the northern woods.",
		Personality: "Cheerful, sly.",
	})

	if err := p.RunCard(ctx, "c1"); err != nil {
		t.Fatalf("run: %v", err)
	}

	if emb.calls() != 1 {
		t.Errorf("embed batches = %d, want 1 (card sections in one call)", emb.calls())
	}
	if got := b.addedCount("cards"); got != 1 {
		t.Errorf("card documents added = %d, want 1", got)
	}
	// Both sections are short: no chunk documents.
	if got := b.addedCount("card_chunks"); got != 0 {
		t.Errorf("chunk documents added = %d, want 0", got)
	}

	meta, err := store.ListMeta(ctx, "c1", "cards-default")
	if err != nil {
		t.Fatalf("meta: %v", err)
	}
	if len(meta) != 2 {
		t.Fatalf("meta rows = %d, want 2 card-level entries", len(meta))
	}
	m := meta[cardstore.MetaKey{Section: "description", ChunkIndex: -1}]
	if m.TextSHA256 == "" || m.ModelName != "test-model" || m.Dims != 4 {
		t.Errorf("description meta = %+v", m)
	}
}

func TestRunCard_SecondRunIsNoop(t *testing.T) {
	b := newFakeBackend(t)
	emb := &countingEmbedder{dim: 4}
	p, store := newTestPipeline(t, b, emb)
	ctx := context.Background()

	store.UpsertCard(ctx, &cardstore.Card{
		ID:          "c1",
		Description: strings.Repeat("long descriptive text about an elf. ", 30),
	})

	if err := p.RunCard(ctx, "c1"); err != nil {
		t.Fatalf("first run: %v", err)
	}
	callsAfterFirst := emb.calls()
	addsAfterFirst := b.addedCount("cards") + b.addedCount("card_chunks")

	// Unchanged source: the second run must make zero embedding calls and
	// zero document writes.
	if err := p.RunCard(ctx, "c1"); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if emb.calls() != callsAfterFirst {
		t.Errorf("second run embedded: %d calls, had %d", emb.calls(), callsAfterFirst)
	}
	if got := b.addedCount("cards") + b.addedCount("card_chunks"); got != addsAfterFirst {
		t.Errorf("second run wrote documents: %d, had %d", got, addsAfterFirst)
	}
}

func TestRunCard_NewAltGreetingAddsOneChunkOnly(t *testing.T) {
	b := newFakeBackend(t)
	emb := &countingEmbedder{dim: 4}
	p, store := newTestPipeline(t, b, emb)
	ctx := context.Background()

	card := &cardstore.Card{
		ID:          "c1",
		Description: "A short description.",
	}
	store.UpsertCard(ctx, card)
	if err := p.RunCard(ctx, "c1"); err != nil {
		t.Fatalf("first run: %v", err)
	}
	cardDocsAfterFirst := b.addedCount("cards")

	// Description hash unchanged, one new alternate greeting: exactly one
	// new chunk document, no card-level re-embed.
	card.AltGreetings = []string{"Well met, traveler! Sit by the fire and rest a while."}
	store.UpsertCard(ctx, card)
	if err := p.RunCard(ctx, "c1"); err != nil {
		t.Fatalf("second run: %v", err)
	}

	if got := b.addedCount("card_chunks"); got != 1 {
		t.Errorf("chunk documents = %d, want exactly 1", got)
	}
	if got := b.addedCount("cards"); got != cardDocsAfterFirst {
		t.Errorf("card documents = %d, want unchanged %d (no card re-embed)", got, cardDocsAfterFirst)
	}

	ids, err := store.ListChunkIDsForCard(ctx, "c1")
	if err != nil {
		t.Fatalf("chunk ids: %v", err)
	}
	if len(ids) != 1 || ids[0] != "c1-alt_greeting_0-0" {
		t.Errorf("chunk ids = %v", ids)
	}
}

func TestRunCard_StaleChunksDeleted(t *testing.T) {
	b := newFakeBackend(t)
	emb := &countingEmbedder{dim: 4}
	p, store := newTestPipeline(t, b, emb)
	ctx := context.Background()

	card := &cardstore.Card{
		ID:          "c1",
		Description: strings.Repeat("a very long elaborate scene description. ", 60),
	}
	store.UpsertCard(ctx, card)
	if err := p.RunCard(ctx, "c1"); err != nil {
		t.Fatalf("first run: %v", err)
	}
	before, _ := store.ListChunkIDsForCard(ctx, "c1")
	if len(before) < 2 {
		t.Fatalf("expected multiple chunks, got %v", before)
	}

	// Shrinking the description below the threshold orphans every chunk.
	card.Description = "Now short."
	store.UpsertCard(ctx, card)
	if err := p.RunCard(ctx, "c1"); err != nil {
		t.Fatalf("second run: %v", err)
	}

	after, _ := store.ListChunkIDsForCard(ctx, "c1")
	if len(after) != 0 {
		t.Errorf("chunk mappings remain: %v", after)
	}
	b.mu.Lock()
	deleted := b.deleted["card_chunks"]
	b.mu.Unlock()
	if len(deleted) != len(before) {
		t.Errorf("deleted %d chunk docs, want %d", len(deleted), len(before))
	}
	meta, _ := store.ListMeta(ctx, "c1", "cards-default")
	for key := range meta {
		if key.ChunkIndex != -1 {
			t.Errorf("stale chunk meta survives: %+v", key)
		}
	}
}

func TestRunAll_PagesAndResumes(t *testing.T) {
	b := newFakeBackend(t)
	emb := &countingEmbedder{dim: 4}
	p, store := newTestPipeline(t, b, emb)
	p.cfg.PageSize = 2
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		store.UpsertCard(ctx, &cardstore.Card{ID: id, Description: "about " + id})
	}

	stats, err := p.RunAll(ctx, "")
	if err != nil {
		t.Fatalf("run all: %v", err)
	}
	if stats.Processed != 3 || stats.Updated != 3 || stats.LastID != "c" {
		t.Errorf("stats = %+v", stats)
	}

	// Resuming after the last id touches nothing.
	stats, err = p.RunAll(ctx, "c")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if stats.Processed != 0 {
		t.Errorf("resume processed %d cards", stats.Processed)
	}
}

func TestRunCard_MissingCardDeletesDocuments(t *testing.T) {
	b := newFakeBackend(t)
	emb := &countingEmbedder{dim: 4}
	p, store := newTestPipeline(t, b, emb)
	ctx := context.Background()

	store.PutChunkMapping(ctx, cardstore.ChunkMapping{
		ChunkID: "gone-description-0", CardID: "gone", Section: "description",
	})

	if err := p.RunCard(ctx, "gone"); err != nil {
		t.Fatalf("run: %v", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.deleted["cards"]) != 1 || b.deleted["cards"][0] != "gone" {
		t.Errorf("card deletes = %v", b.deleted["cards"])
	}
	if len(b.deleted["card_chunks"]) != 1 {
		t.Errorf("chunk deletes = %v", b.deleted["card_chunks"])
	}
}
