// Package watch turns queue inserts into drain runs. The archive's
// write path only appends rows to search_index_queue; this watcher
// polls the queue's high-water mark, lets insert bursts settle, and
// then invokes the drain so the search indexes catch up without the
// writers signalling anything beyond their inserts.
//
// Typical usage:
//
//	w := watch.New(db, watch.Options{
//		Interval: 5 * time.Second,
//		Debounce: 500 * time.Millisecond,
//		Detector: watch.MaxColumnDetector("search_index_queue", "id"),
//	})
//	go w.Run(ctx, func() error { return index.ProcessQueue(ctx) })
package watch

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Detector reads a monotonic watermark from the database. Two calls
// that return different values mean rows arrived since the last look.
// int64 maps naturally to MAX(id) on the queue table or to
// PRAGMA data_version.
type Detector func(ctx context.Context, db *sql.DB) (int64, error)

// Options tunes the watcher.
type Options struct {
	// Interval is the polling frequency. Default: 1s.
	Interval time.Duration
	// Debounce is the quiet period after new rows are detected before
	// the drain fires; further rows reset the window so an insert burst
	// collapses into one drain. 0 fires immediately. Default: 0.
	Debounce time.Duration
	// Detector overrides the default PragmaDataVersion detector.
	Detector Detector
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.Detector == nil {
		o.Detector = PragmaDataVersion
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Watcher polls a SQLite database for new queue rows and invokes a
// drain callback when they appear. Safe for concurrent use.
type Watcher struct {
	db   *sql.DB
	opts Options

	// mark is the last watermark a successful drain covered.
	mark atomic.Int64

	// markMu + markCond broadcast when the mark advances, enabling
	// WaitForMark.
	markMu   sync.Mutex
	markCond *sync.Cond

	polls   atomic.Int64
	bursts  atomic.Int64
	errs    atomic.Int64
	drains  atomic.Int64
	drainNs atomic.Int64
}

// Stats are point-in-time counters.
type Stats struct {
	Polls        int64         `json:"polls"`
	Bursts       int64         `json:"bursts"`
	Errors       int64         `json:"errors"`
	Drains       int64         `json:"drains"`
	AvgDrainTime time.Duration `json:"avg_drain_time"`
}

// New creates a Watcher. Call Run to start the loop.
func New(db *sql.DB, opts Options) *Watcher {
	opts.defaults()
	w := &Watcher{db: db, opts: opts}
	w.markCond = sync.NewCond(&w.markMu)
	return w
}

// Stats returns the current counters.
func (w *Watcher) Stats() Stats {
	s := Stats{
		Polls:  w.polls.Load(),
		Bursts: w.bursts.Load(),
		Errors: w.errs.Load(),
		Drains: w.drains.Load(),
	}
	if s.Drains > 0 {
		s.AvgDrainTime = time.Duration(w.drainNs.Load() / s.Drains)
	}
	return s
}

// Mark returns the last watermark a successful drain covered.
func (w *Watcher) Mark() int64 { return w.mark.Load() }

// Run blocks until ctx is cancelled, polling at opts.Interval. When the
// detector reports a watermark past the last drained one and the
// debounce window passes without further rows, drain is called.
//
// The watermark seen at startup seeds the mark without draining:
// pre-existing backlog is the restart path's job, not the watcher's.
//
// If drain returns an error the mark is NOT advanced, so the same rows
// trigger another drain on the next poll cycle.
func (w *Watcher) Run(ctx context.Context, drain func() error) {
	log := w.opts.Logger

	seed, err := w.opts.Detector(ctx, w.db)
	if err != nil {
		log.Warn("queue watch: seed watermark failed", "error", err)
	} else {
		w.setMark(seed)
	}

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	var debounceTimer *time.Timer
	var debounceCh <-chan time.Time
	pending := int64(-1)

	log.Info("queue watch: started",
		"interval", w.opts.Interval, "debounce", w.opts.Debounce)

	for {
		select {
		case <-ctx.Done():
			log.Info("queue watch: stopped")
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case <-ticker.C:
			w.polls.Add(1)
			cur, err := w.opts.Detector(ctx, w.db)
			if err != nil {
				w.errs.Add(1)
				log.Warn("queue watch: watermark check failed", "error", err)
				continue
			}
			if cur != w.mark.Load() && cur != pending {
				w.bursts.Add(1)
				pending = cur

				if w.opts.Debounce <= 0 {
					w.runDrain(log, drain, pending)
					pending = -1
				} else {
					// Reset the quiet window only when the watermark
					// actually moved, not on every poll.
					if debounceTimer != nil {
						debounceTimer.Stop()
					}
					debounceTimer = time.NewTimer(w.opts.Debounce)
					debounceCh = debounceTimer.C
					log.Debug("queue watch: rows arrived, debouncing", "watermark", cur)
				}
			}

		case <-debounceCh:
			debounceCh = nil
			if pending >= 0 {
				w.runDrain(log, drain, pending)
				pending = -1
			}
		}
	}
}

// WaitForMark blocks until a successful drain has covered watermark
// target or ctx expires. Tests and operators use it to know the queue
// has caught up to a write they made.
func (w *Watcher) WaitForMark(ctx context.Context, target int64) error {
	if w.mark.Load() >= target {
		return nil
	}

	done := ctx.Done()
	w.markMu.Lock()
	defer w.markMu.Unlock()

	for w.mark.Load() < target {
		// Interruptible wait: a helper goroutine breaks the cond wait
		// when the context is cancelled.
		ch := make(chan struct{})
		go func() {
			select {
			case <-done:
				w.markCond.Broadcast()
			case <-ch:
			}
		}()

		w.markCond.Wait()
		close(ch)

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

func (w *Watcher) runDrain(log *slog.Logger, drain func() error, mark int64) {
	log.Info("queue watch: draining", "from", w.mark.Load(), "to", mark)
	start := time.Now()
	if err := drain(); err != nil {
		w.errs.Add(1)
		log.Error("queue watch: drain failed", "error", err, "watermark", mark)
		return
	}
	elapsed := time.Since(start)
	w.drains.Add(1)
	w.drainNs.Add(int64(elapsed))
	w.setMark(mark)
	log.Info("queue watch: drain complete", "watermark", mark, "duration", elapsed)
}

func (w *Watcher) setMark(v int64) {
	w.mark.Store(v)
	w.markCond.Broadcast()
}

// PragmaDataVersion uses PRAGMA data_version, which increments whenever
// another connection writes the database file. The catch-all detector:
// any write anywhere triggers a drain.
func PragmaDataVersion(ctx context.Context, db *sql.DB) (int64, error) {
	var v int64
	err := db.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v)
	return v, err
}

// MaxColumnDetector polls MAX(column) on a table. The archive points it
// at search_index_queue's id, so the watermark is the newest queue row.
// Acked rows are deleted, which drops the watermark and costs at most
// one drain of an already-empty queue. Identifiers are quoted.
func MaxColumnDetector(table, column string) Detector {
	query := "SELECT COALESCE(MAX(" + quoteIdent(column) + "), 0) FROM " + quoteIdent(table)
	return func(ctx context.Context, db *sql.DB) (int64, error) {
		var v int64
		err := db.QueryRowContext(ctx, query).Scan(&v)
		return v, err
	}
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
