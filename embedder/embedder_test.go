package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// embedServer fakes an OpenAI-format /v1/embeddings endpoint returning
// vectors whose first component encodes the input index.
func embedServer(t *testing.T, dim int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
			return
		case "/v1/embeddings":
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}

		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}

		type datum struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		resp := struct {
			Data  []datum `json:"data"`
			Model string  `json:"model"`
		}{Model: req.Model}
		// Return out of input order to exercise index reassembly.
		for i := len(req.Input) - 1; i >= 0; i-- {
			vec := make([]float32, dim)
			vec[0] = float32(i)
			resp.Data = append(resp.Data, datum{Embedding: vec, Index: i})
		}
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEmbedBatch_OrderAndDimension(t *testing.T) {
	srv := embedServer(t, 8)
	emb := New(Config{Endpoint: srv.URL, Model: "test-model"})

	vecs, err := emb.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("got %d vectors", len(vecs))
	}
	for i, v := range vecs {
		if len(v) != 8 {
			t.Errorf("vec[%d]: dimension %d, want 8", i, len(v))
		}
		if v[0] != float32(i) {
			t.Errorf("vec[%d]: marker %v, want %d (input order lost)", i, v[0], i)
		}
	}
	if emb.Dimension() != 8 {
		t.Errorf("dimension: got %d, want 8 (auto-detect)", emb.Dimension())
	}
}

func TestEmbedBatch_SplitsLargeBatches(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req struct {
			Input []string `json:"input"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Input) > 2 {
			t.Errorf("batch size %d exceeds limit 2", len(req.Input))
		}
		type datum struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		var data []datum
		for i := range req.Input {
			data = append(data, datum{Embedding: []float32{1}, Index: i})
		}
		json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
	defer srv.Close()

	emb := New(Config{Endpoint: srv.URL, BatchSize: 2})
	vecs, err := emb.EmbedBatch(context.Background(), []string{"a", "b", "c", "d", "e"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vecs) != 5 {
		t.Errorf("got %d vectors, want 5", len(vecs))
	}
	if calls != 3 {
		t.Errorf("got %d HTTP calls, want 3", calls)
	}
}

func TestNew_EmptyEndpointIsNoop(t *testing.T) {
	emb := New(Config{Dimension: 4, Model: "noop"})
	vec, err := emb.Embed(context.Background(), "anything")
	if err != nil {
		t.Fatalf("noop embed: %v", err)
	}
	if len(vec) != 4 {
		t.Errorf("dimension: got %d, want 4", len(vec))
	}
}

func TestFanout_UnhealthySecondarySkipped(t *testing.T) {
	srv := embedServer(t, 4)
	f := NewFanout(context.Background(), FanoutConfig{
		Primary: Config{Endpoint: srv.URL, Model: "m"},
		Secondaries: []Config{
			{Endpoint: "http://127.0.0.1:1"}, // nothing listens here
		},
	})
	if len(f.instances) != 1 {
		t.Errorf("instances: got %d, want 1 (secondary must be dropped)", len(f.instances))
	}

	vecs, err := f.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vecs) != 2 {
		t.Errorf("got %d vectors", len(vecs))
	}
}

func TestFanout_DistributesSlices(t *testing.T) {
	primary := embedServer(t, 4)
	secondary := embedServer(t, 4)

	f := NewFanout(context.Background(), FanoutConfig{
		Primary:     Config{Endpoint: primary.URL, Model: "m", BatchSize: 2},
		Secondaries: []Config{{Endpoint: secondary.URL}},
		SliceSize:   2,
	})
	if len(f.instances) != 2 {
		t.Fatalf("instances: got %d, want 2", len(f.instances))
	}

	texts := []string{"a", "b", "c", "d", "e", "f"}
	vecs, err := f.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("got %d vectors, want %d", len(vecs), len(texts))
	}
	for i, v := range vecs {
		if v == nil {
			t.Errorf("vec[%d] missing", i)
		}
	}
}

func TestFanout_SecondaryFailureFallsBackToPrimary(t *testing.T) {
	primary := embedServer(t, 4)
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK) // healthy at startup, fails later
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()

	f := NewFanout(context.Background(), FanoutConfig{
		Primary:     Config{Endpoint: primary.URL, Model: "m", BatchSize: 2},
		Secondaries: []Config{{Endpoint: failing.URL}},
		SliceSize:   2,
	})
	if len(f.instances) != 2 {
		t.Fatalf("instances: got %d, want 2", len(f.instances))
	}

	// Slices routed to the failing secondary must be retried on the
	// primary; the batch as a whole succeeds.
	vecs, err := f.EmbedBatch(context.Background(), []string{"a", "b", "c", "d"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	for i, v := range vecs {
		if v == nil {
			t.Errorf("vec[%d] missing after fallback", i)
		}
	}
}
