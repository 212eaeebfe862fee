package cardindex

import (
	"context"
	"errors"
	"fmt"

	"github.com/hazyhaar/carchive/filterexpr"
	"github.com/hazyhaar/carchive/meili"
)

var (
	// ErrIndexDisabled means no search backend is configured.
	ErrIndexDisabled = errors.New("cardindex: search backend not configured")

	// ErrVectorNotReady means the card index holds no documents yet.
	// Hybrid search cannot run until the embedding backfill has populated
	// the index.
	ErrVectorNotReady = errors.New("cardindex: card vector index is empty, run the embedding backfill")
)

// EnsureIndexes provisions both indexes: creates them if absent,
// registers the embedder, merges filterable attributes, and probes
// document counts for the readiness flags. Single-flight: a call
// arriving while provisioning is in progress waits for that run instead
// of racing a second index creation against the same UID.
//
// observedDims is the embedding length actually seen from the embedding
// backend; when it differs from the configured dimensions the observed
// value wins with a warning. Zero means "use the configured value".
func (s *Service) EnsureIndexes(ctx context.Context, observedDims int) error {
	if !s.Enabled() {
		return ErrIndexDisabled
	}
	for {
		s.mu.Lock()
		if s.provisioned {
			s.mu.Unlock()
			return nil
		}
		if ch := s.provisioning; ch != nil {
			s.mu.Unlock()
			select {
			case <-ch:
			case <-ctx.Done():
				return ctx.Err()
			}
			// Re-check: the in-flight run may have failed, in which case
			// this caller retries the provisioning itself.
			continue
		}
		ch := make(chan struct{})
		s.provisioning = ch
		s.mu.Unlock()

		err := s.provision(ctx, observedDims)

		s.mu.Lock()
		s.provisioning = nil
		if err == nil {
			s.provisioned = true
		}
		s.mu.Unlock()
		close(ch)
		return err
	}
}

func (s *Service) provision(ctx context.Context, observedDims int) error {
	dims := s.cfg.EmbedderDims
	if observedDims > 0 && observedDims != dims {
		if dims > 0 {
			s.log.Warn("embedding dimension differs from configuration, using observed value",
				"configured", dims, "observed", observedDims)
		}
		dims = observedDims
	}
	if dims <= 0 {
		return fmt.Errorf("cardindex: embedder dimensions unknown, configure embedder_dims or pass an observed embedding")
	}

	if err := s.ensureIndex(ctx, s.cfg.CardIndex); err != nil {
		return err
	}
	if err := s.ensureIndex(ctx, s.cfg.ChunkIndex); err != nil {
		return err
	}

	if err := s.provisionSettings(ctx, s.cfg.CardIndex, filterexpr.CardFilterableAttributes(), "", dims); err != nil {
		return err
	}
	if err := s.provisionSettings(ctx, s.cfg.ChunkIndex, filterexpr.ChunkFilterableAttributes(), "card_id", dims); err != nil {
		return err
	}

	cardStats, err := s.meili.IndexStats(ctx, s.cfg.CardIndex)
	if err != nil {
		return fmt.Errorf("cardindex: card index stats: %w", err)
	}
	chunkStats, err := s.meili.IndexStats(ctx, s.cfg.ChunkIndex)
	if err != nil {
		return fmt.Errorf("cardindex: chunk index stats: %w", err)
	}

	s.mu.Lock()
	s.vectorReady = cardStats.NumberOfDocuments > 0
	s.chunkReady = chunkStats.NumberOfDocuments > 0
	s.mu.Unlock()

	if cardStats.NumberOfDocuments == 0 {
		s.log.Warn("card index is empty, hybrid search unavailable until the backfill runs")
	}
	if chunkStats.NumberOfDocuments == 0 {
		s.log.Warn("chunk index is empty, chunk highlighting disabled")
	}
	return nil
}

func (s *Service) ensureIndex(ctx context.Context, uid string) error {
	_, err := s.meili.GetIndex(ctx, uid)
	if err == nil {
		return nil
	}
	if !meili.IsNotFound(err) {
		return fmt.Errorf("cardindex: get index %s: %w", uid, err)
	}
	task, err := s.meili.CreateIndex(ctx, uid, "id")
	if err != nil {
		return fmt.Errorf("cardindex: create index %s: %w", uid, err)
	}
	if _, err := s.meili.WaitForTask(ctx, task.TaskUID, s.cfg.TaskTimeout); err != nil {
		return fmt.Errorf("cardindex: create index %s: %w", uid, err)
	}
	s.log.Info("created search index", "index", uid)
	return nil
}

// provisionSettings merges filterable attributes (never removes any the
// operator added by hand), registers the embedder, and sets the distinct
// attribute when one is required.
func (s *Service) provisionSettings(ctx context.Context, uid string, filterable []string, distinct string, dims int) error {
	current, err := s.meili.GetSettings(ctx, uid)
	if err != nil {
		return fmt.Errorf("cardindex: get settings %s: %w", uid, err)
	}

	if existing, ok := current.Embedders[s.cfg.EmbedderName]; ok && existing.Dimensions != dims {
		// Resizing a live embedder would silently invalidate every stored
		// vector; the operator has to migrate explicitly.
		return fmt.Errorf("cardindex: embedder %q on %s registered with %d dimensions, refusing to resize to %d",
			s.cfg.EmbedderName, uid, existing.Dimensions, dims)
	}

	patch := &meili.Settings{
		FilterableAttributes: mergeAttributes(current.FilterableAttributes, filterable),
		Embedders: map[string]meili.EmbedderSettings{
			s.cfg.EmbedderName: {Source: "userProvided", Dimensions: dims},
		},
	}
	if distinct != "" {
		patch.DistinctAttribute = &distinct
	}
	task, err := s.meili.UpdateSettings(ctx, uid, patch)
	if err != nil {
		return fmt.Errorf("cardindex: update settings %s: %w", uid, err)
	}
	if _, err := s.meili.WaitForTask(ctx, task.TaskUID, s.cfg.TaskTimeout); err != nil {
		return fmt.Errorf("cardindex: update settings %s: %w", uid, err)
	}
	return nil
}

// mergeAttributes unions wanted into existing, keeping existing order.
func mergeAttributes(existing, wanted []string) []string {
	seen := make(map[string]bool, len(existing))
	out := make([]string, 0, len(existing)+len(wanted))
	for _, a := range existing {
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	for _, a := range wanted {
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	return out
}
