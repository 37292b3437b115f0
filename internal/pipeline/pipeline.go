package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/couchcryptid/community-scoring-service/internal/domain"
	"github.com/couchcryptid/community-scoring-service/internal/observability"
	"golang.org/x/sync/errgroup"
)

// BatchExtractor reads up to batchSize raw refresh requests from the source.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawEvent, error)
}

// Transformer converts a raw refresh request into a serialized score event.
type Transformer interface {
	Transform(ctx context.Context, raw domain.RawEvent) (domain.OutputEvent, error)
}

// BatchLoader writes multiple score events to the destination.
type BatchLoader interface {
	LoadBatch(ctx context.Context, events []domain.OutputEvent) error
}

// Config sizes batches and the number of requests transformed at once.
type Config struct {
	BatchSize int
	Workers   int
}

// Pipeline consumes refresh requests in batches, refreshes each community,
// and publishes the resulting score events.
type Pipeline struct {
	extractor   BatchExtractor
	transformer Transformer
	loader      BatchLoader
	logger      *slog.Logger
	metrics     *observability.Metrics
	cfg         Config
	retry       *backoff.ExponentialBackOff
	ready       atomic.Bool
}

// New creates a Pipeline. Zero config values default to a batch of 50 and
// four workers.
func New(e BatchExtractor, t Transformer, l BatchLoader, logger *slog.Logger, metrics *observability.Metrics, cfg Config) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = 200 * time.Millisecond
	retry.MaxInterval = 5 * time.Second
	retry.MaxElapsedTime = 0

	return &Pipeline{
		extractor:   e,
		transformer: t,
		loader:      l,
		logger:      logger,
		metrics:     metrics,
		cfg:         cfg,
		retry:       retry,
	}
}

// CheckReadiness returns nil once a batch has been published.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not published any score events yet")
	}
	return nil
}

// Run executes the batch loop until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "batch_size", p.cfg.BatchSize, "workers", p.cfg.Workers)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	p.retry.Reset()
	for {
		if ctx.Err() != nil {
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		}
		if err := p.processBatch(ctx); err != nil && ctx.Err() == nil {
			p.wait(ctx)
		}
	}
}

// processBatch runs one extract-transform-load cycle. A returned error means
// the caller should back off before the next cycle. Offsets are committed
// only after the batch is loaded.
func (p *Pipeline) processBatch(ctx context.Context) error {
	start := time.Now()

	batch, err := p.extractor.ExtractBatch(ctx, p.cfg.BatchSize)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Error("extract batch failed", "error", err)
		}
		return err
	}
	if len(batch) == 0 {
		return nil
	}
	p.metrics.MessagesConsumed.Add(float64(len(batch)))
	p.metrics.BatchSize.Observe(float64(len(batch)))

	out := p.transformAll(ctx, batch)
	if ctx.Err() != nil {
		// Uncommitted requests are redelivered after restart.
		return ctx.Err()
	}

	if len(out) > 0 {
		if err := p.load(ctx, out); err != nil {
			return err
		}
		p.metrics.MessagesProduced.Add(float64(len(out)))
		p.metrics.BatchProcessingDuration.Observe(time.Since(start).Seconds())
		p.ready.Store(true)
	}

	for _, raw := range batch {
		p.commitOffset(ctx, raw)
	}
	p.retry.Reset()
	return nil
}

// transformAll refreshes the batch with bounded concurrency. Failed requests
// are logged and dropped; successes keep their input order.
func (p *Pipeline) transformAll(ctx context.Context, batch []domain.RawEvent) []domain.OutputEvent {
	results := make([]*domain.OutputEvent, len(batch))

	var g errgroup.Group
	g.SetLimit(p.cfg.Workers)
	for i, raw := range batch {
		g.Go(func() error {
			ev, err := p.transformer.Transform(ctx, raw)
			if err != nil {
				p.logger.Warn("refresh request failed, skipping",
					"error", err,
					"key", string(raw.Key),
					"topic", raw.Topic,
					"partition", raw.Partition,
					"offset", raw.Offset,
				)
				p.metrics.TransformErrors.Inc()
				return nil
			}
			results[i] = &ev
			return nil
		})
	}
	_ = g.Wait() // workers never return errors

	out := make([]domain.OutputEvent, 0, len(batch))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

// load retries the batch with backoff until it is written or ctx is cancelled.
func (p *Pipeline) load(ctx context.Context, out []domain.OutputEvent) error {
	for {
		err := p.loader.LoadBatch(ctx, out)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.logger.Error("load batch failed, retrying", "error", err, "batch_size", len(out))
		p.wait(ctx)
	}
}

// wait sleeps for the next backoff interval or until ctx is cancelled.
func (p *Pipeline) wait(ctx context.Context) {
	d := p.retry.NextBackOff()
	if d == backoff.Stop || d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// commitOffset commits the message offset if a commit function is available.
func (p *Pipeline) commitOffset(ctx context.Context, raw domain.RawEvent) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}
