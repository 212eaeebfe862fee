package cardindex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/carchive/cardstore"
)

// ErrAlreadyDraining is returned when a drain is requested while another
// one is running. The in-flight drain picks up the queued request once
// it finishes, so the caller's work is not lost.
var ErrAlreadyDraining = errors.New("cardindex: drain already in progress")

// IndexDocuments upserts card documents into the card index.
func (s *Service) IndexDocuments(ctx context.Context, docs []CardDocument) error {
	if !s.Enabled() {
		return ErrIndexDisabled
	}
	if len(docs) == 0 {
		return nil
	}
	if _, err := s.meili.AddDocuments(ctx, s.cfg.CardIndex, docs, "id"); err != nil {
		return fmt.Errorf("cardindex: add %d documents: %w", len(docs), err)
	}
	return nil
}

// DeleteDocumentsByIDs removes cards from the card index along with
// their chunk documents, chunk mappings, and embedding metadata.
func (s *Service) DeleteDocumentsByIDs(ctx context.Context, ids []string) error {
	if !s.Enabled() {
		return ErrIndexDisabled
	}
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.meili.DeleteDocuments(ctx, s.cfg.CardIndex, ids); err != nil {
		return fmt.Errorf("cardindex: delete %d cards: %w", len(ids), err)
	}

	var chunkIDs []string
	for _, id := range ids {
		cids, err := s.store.ListChunkIDsForCard(ctx, id)
		if err != nil {
			return err
		}
		chunkIDs = append(chunkIDs, cids...)
	}
	if len(chunkIDs) > 0 {
		if _, err := s.meili.DeleteDocuments(ctx, s.cfg.ChunkIndex, chunkIDs); err != nil {
			return fmt.Errorf("cardindex: delete %d chunks: %w", len(chunkIDs), err)
		}
		if err := s.store.DeleteChunkMappings(ctx, chunkIDs); err != nil {
			return err
		}
	}
	for _, id := range ids {
		if err := s.store.DeleteMetaForCard(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// RunRefresh drains the queue, awaited. Single-flight: a second caller
// gets ErrAlreadyDraining and the in-flight drain runs once more after
// finishing, so an update enqueued mid-drain is never permanently
// dropped.
func (s *Service) RunRefresh(ctx context.Context, reason string) error {
	if !s.Enabled() {
		return ErrIndexDisabled
	}
	s.mu.Lock()
	if s.draining {
		s.pendingRun = true
		s.mu.Unlock()
		return ErrAlreadyDraining
	}
	s.draining = true
	s.mu.Unlock()

	for {
		err := s.DrainQueue(ctx, reason)

		s.mu.Lock()
		rerun := s.pendingRun && err == nil
		s.pendingRun = false
		if !rerun {
			s.draining = false
			s.mu.Unlock()
			return err
		}
		s.mu.Unlock()
		reason = "queued-rerun"
	}
}

// TriggerRefresh is the fire-and-forget variant of RunRefresh, used by
// the write path after enqueueing a job.
func (s *Service) TriggerRefresh(reason string) {
	if !s.Enabled() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		err := s.RunRefresh(ctx, reason)
		if err != nil && !errors.Is(err, ErrAlreadyDraining) {
			s.log.Error("background index refresh failed", "reason", reason, "error", err)
		}
	}()
}

// ProcessQueue drains the queue once, awaited.
func (s *Service) ProcessQueue(ctx context.Context) error {
	return s.RunRefresh(ctx, "process-queue")
}

// DrainQueue consumes search_index_queue in capped batches, re-invoking
// itself a bounded number of times while a backlog remains. Consumed
// rows are only deleted after the backend calls succeed, so a failed
// batch is retried whole on the next drain.
func (s *Service) DrainQueue(ctx context.Context, reason string) error {
	if !s.Enabled() {
		return ErrIndexDisabled
	}
	for run := 0; run < s.cfg.MaxDrainRuns; run++ {
		n, err := s.drainBatch(ctx)
		if err != nil {
			return err
		}
		if n < s.cfg.DrainBatch {
			if n > 0 {
				s.log.Info("index queue drained", "reason", reason, "runs", run+1)
			}
			return nil
		}
	}
	depth, err := s.store.QueueDepth(ctx)
	if err != nil {
		depth = -1
	}
	s.log.Warn("drain stopped with backlog remaining",
		"reason", reason, "runs", s.cfg.MaxDrainRuns, "remaining", depth)
	return nil
}

// drainBatch processes one queue batch and returns how many jobs it
// consumed.
func (s *Service) drainBatch(ctx context.Context) (int, error) {
	jobs, err := s.store.NextQueueBatch(ctx, s.cfg.DrainBatch)
	if err != nil {
		return 0, err
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	// Collapse duplicate actions per card: the last action in queue
	// order wins, so upsert-then-delete deletes and delete-then-upsert
	// re-indexes.
	final := make(map[string]string, len(jobs))
	order := make([]string, 0, len(jobs))
	for _, j := range jobs {
		if _, seen := final[j.CardID]; !seen {
			order = append(order, j.CardID)
		}
		final[j.CardID] = j.Action
	}

	now := time.Now()
	var deletes []string
	var docs []CardDocument
	for _, cardID := range order {
		if final[cardID] == cardstore.ActionDelete {
			deletes = append(deletes, cardID)
			continue
		}
		card, err := s.store.GetCard(ctx, cardID)
		if err != nil {
			return 0, err
		}
		if card == nil {
			// Row vanished between enqueue and drain.
			deletes = append(deletes, cardID)
			continue
		}
		docs = append(docs, BuildCardDocument(card, now))
	}

	if err := s.DeleteDocumentsByIDs(ctx, deletes); err != nil {
		return 0, err
	}
	if err := s.IndexDocuments(ctx, docs); err != nil {
		return 0, err
	}

	ids := make([]int64, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	if err := s.store.DeleteQueueJobs(ctx, ids); err != nil {
		return 0, err
	}
	s.log.Debug("drained index queue batch",
		"jobs", len(jobs), "upserts", len(docs), "deletes", len(deletes))
	return len(jobs), nil
}
