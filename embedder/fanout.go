package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// FanoutConfig configures a multi-instance embedder.
type FanoutConfig struct {
	// Primary is the instance single-query embeds always use, and the
	// fallback when a secondary fails its slice.
	Primary Config `json:"primary" yaml:"primary"`

	// Secondaries are additional instances used for batch fan-out. Each
	// is health-checked once at construction; unreachable instances are
	// dropped for the lifetime of the Fanout.
	Secondaries []Config `json:"secondaries" yaml:"secondaries"`

	// SliceSize is the number of texts handed to one instance per slice.
	// Default: the primary's batch size.
	SliceSize int `json:"slice_size" yaml:"slice_size"`

	// HealthTimeout bounds the startup liveness probe. Default: 2s.
	HealthTimeout time.Duration `json:"health_timeout" yaml:"health_timeout"`

	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *FanoutConfig) defaults() {
	c.Primary.defaults()
	if c.SliceSize <= 0 {
		c.SliceSize = c.Primary.BatchSize
	}
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = 2 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Fanout distributes batch embeds across several embedding instances.
// It implements Embedder.
type Fanout struct {
	primary   Embedder
	instances []Embedder // primary + healthy secondaries, round-robin order
	sliceSize int
	logger    *slog.Logger
}

// NewFanout builds a Fanout. Secondaries that fail the liveness probe
// are skipped with a warning; with no healthy secondary the Fanout
// degrades to the primary alone.
func NewFanout(ctx context.Context, cfg FanoutConfig) *Fanout {
	cfg.defaults()

	primary := New(cfg.Primary)
	f := &Fanout{
		primary:   primary,
		instances: []Embedder{primary},
		sliceSize: cfg.SliceSize,
		logger:    cfg.Logger,
	}

	for _, sec := range cfg.Secondaries {
		if sec.Endpoint == "" {
			continue
		}
		if err := probeHealth(ctx, sec.Endpoint, cfg.HealthTimeout); err != nil {
			cfg.Logger.Warn("secondary embedding instance unreachable, skipping",
				"endpoint", sec.Endpoint, "error", err)
			continue
		}
		if sec.Model == "" {
			sec.Model = cfg.Primary.Model
		}
		f.instances = append(f.instances, New(sec))
	}

	if len(f.instances) > 1 {
		cfg.Logger.Info("embedding fan-out enabled", "instances", len(f.instances))
	}
	return f
}

func probeHealth(ctx context.Context, endpoint string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := strings.TrimRight(endpoint, "/") + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health probe: HTTP %d", resp.StatusCode)
	}
	return nil
}

func (f *Fanout) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.primary.Embed(ctx, text)
}

// EmbedBatch splits texts into slices and runs them concurrently across
// the healthy instances. A secondary failing its slice retries that
// slice on the primary only — one flaky secondary never fails the batch.
func (f *Fanout) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(f.instances) == 1 || len(texts) <= f.sliceSize {
		return f.primary.EmbedBatch(ctx, texts)
	}

	result := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)

	slice := 0
	for start := 0; start < len(texts); start += f.sliceSize {
		end := min(start+f.sliceSize, len(texts))
		inst := f.instances[slice%len(f.instances)]
		isPrimary := slice%len(f.instances) == 0
		slice++

		g.Go(func() error {
			vecs, err := inst.EmbedBatch(gctx, texts[start:end])
			if err != nil && !isPrimary {
				f.logger.Warn("secondary embed slice failed, retrying on primary",
					"slice", fmt.Sprintf("[%d:%d]", start, end), "error", err)
				vecs, err = f.primary.EmbedBatch(gctx, texts[start:end])
			}
			if err != nil {
				return fmt.Errorf("embed slice [%d:%d]: %w", start, end, err)
			}
			copy(result[start:end], vecs)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

func (f *Fanout) Dimension() int { return f.primary.Dimension() }
func (f *Fanout) Model() string  { return f.primary.Model() }
