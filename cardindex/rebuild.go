package cardindex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/carchive/filterexpr"
	"github.com/hazyhaar/carchive/meili"
)

// Attribute lists for the card index's default settings. Searchable
// order matters: earlier attributes weigh more in lexical ranking.
var (
	cardSearchableAttributes = []string{
		"name", "tagline", "description", "personality", "scenario",
		"firstMes", "mesExample", "altGreetings", "author", "tags", "topics",
	}
	cardSortableAttributes = []string{
		"name", "rating", "ratingCount", "starCount", "favoriteCount",
		"chatCount", "messageCount", "tokenTotal", "scoreComposite",
		"scoreVelocity", "engagementScore", "engagementVelocity",
		"createdAt", "updatedAt", "lastActivityAt",
	}
)

// Rebuild wipes the card index and re-adds every card from the store in
// fixed batches, waiting for each batch's backend task before issuing
// the next. A task-wait timeout is logged and skipped, not fatal: the
// backend almost certainly still applies the batch eventually.
//
// Rebuild holds the same single-flight slot as RunRefresh: it refuses
// to start while a drain is in flight, and updates enqueued during the
// rebuild are drained before the slot is released.
func (s *Service) Rebuild(ctx context.Context) error {
	if !s.Enabled() {
		return ErrIndexDisabled
	}
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return ErrAlreadyDraining
	}
	s.draining = true
	s.mu.Unlock()

	err := s.rebuild(ctx)

	for {
		s.mu.Lock()
		rerun := s.pendingRun && err == nil
		s.pendingRun = false
		if !rerun {
			s.draining = false
			s.mu.Unlock()
			return err
		}
		s.mu.Unlock()
		if derr := s.DrainQueue(ctx, "post-rebuild"); derr != nil {
			s.log.Error("post-rebuild drain failed", "error", derr)
		}
	}
}

func (s *Service) rebuild(ctx context.Context) error {
	typoEnabled := true
	settings := &meili.Settings{
		SearchableAttributes: cardSearchableAttributes,
		FilterableAttributes: filterexpr.CardFilterableAttributes(),
		SortableAttributes:   cardSortableAttributes,
		TypoTolerance:        &meili.TypoTolerance{Enabled: &typoEnabled},
	}
	task, err := s.meili.UpdateSettings(ctx, s.cfg.CardIndex, settings)
	if err != nil {
		return fmt.Errorf("cardindex: rebuild settings: %w", err)
	}
	if _, err := s.meili.WaitForTask(ctx, task.TaskUID, s.cfg.TaskTimeout); err != nil {
		return fmt.Errorf("cardindex: rebuild settings: %w", err)
	}

	task, err = s.meili.DeleteAllDocuments(ctx, s.cfg.CardIndex)
	if err != nil {
		return fmt.Errorf("cardindex: rebuild clear: %w", err)
	}
	if _, err := s.meili.WaitForTask(ctx, task.TaskUID, s.cfg.TaskTimeout); err != nil {
		return fmt.Errorf("cardindex: rebuild clear: %w", err)
	}

	now := time.Now()
	total := 0
	afterID := ""
	for {
		cards, err := s.store.ListCardsAfter(ctx, afterID, s.cfg.RebuildBatch)
		if err != nil {
			return fmt.Errorf("cardindex: rebuild page after %q: %w", afterID, err)
		}
		if len(cards) == 0 {
			break
		}
		docs := make([]CardDocument, len(cards))
		for i, c := range cards {
			docs[i] = BuildCardDocument(c, now)
		}
		task, err := s.meili.AddDocuments(ctx, s.cfg.CardIndex, docs, "id")
		if err != nil {
			return fmt.Errorf("cardindex: rebuild add batch: %w", err)
		}
		if _, err := s.meili.WaitForTask(ctx, task.TaskUID, s.cfg.TaskTimeout); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				s.log.Warn("rebuild batch task wait timed out, continuing",
					"task", task.TaskUID, "indexed_so_far", total)
			} else {
				return fmt.Errorf("cardindex: rebuild batch task: %w", err)
			}
		}
		total += len(cards)
		afterID = cards[len(cards)-1].ID
	}

	s.log.Info("card index rebuilt", "documents", total)
	return nil
}
