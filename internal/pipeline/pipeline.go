// Package pipeline moves fire detections from the feed into the fire store.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/hazard-alert-service/internal/domain"
	"github.com/couchcryptid/hazard-alert-service/internal/observability"
	"github.com/jonboulle/clockwork"
)

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// BatchExtractor reads up to batchSize raw feed messages.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawEvent, error)
}

// Transformer turns one feed message into a detection.
type Transformer interface {
	Transform(ctx context.Context, raw domain.RawEvent) (domain.FireDetection, error)
}

// DetectionLoader stores a batch of detections.
type DetectionLoader interface {
	LoadBatch(ctx context.Context, detections []domain.FireDetection) error
}

// Pipeline runs the extract-transform-load loop of the fire feed.
type Pipeline struct {
	extractor   BatchExtractor
	transformer Transformer
	loader      DetectionLoader
	clock       clockwork.Clock
	logger      *slog.Logger
	metrics     *observability.Metrics
	running     atomic.Bool
	batchSize   int
}

// New creates a Pipeline.
func New(e BatchExtractor, t Transformer, l DetectionLoader, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics, batchSize int) *Pipeline {
	return &Pipeline{
		extractor:   e,
		transformer: t,
		loader:      l,
		clock:       clock,
		logger:      logger,
		metrics:     metrics,
		batchSize:   batchSize,
	}
}

// CheckReadiness reports an error until the loop is running. A quiet feed is
// normal for fire data, so readiness does not wait for the first message.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.running.Load() {
		return errors.New("fire feed pipeline is not running")
	}
	return nil
}

// Run executes the loop until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("fire feed pipeline started", "batch_size", p.batchSize)
	p.running.Store(true)
	p.metrics.PipelineRunning.Set(1)
	defer func() {
		p.running.Store(false)
		p.metrics.PipelineRunning.Set(0)
	}()

	backoff := initialBackoff
	for ctx.Err() == nil {
		if !p.processBatch(ctx, &backoff) {
			break
		}
	}
	p.logger.Info("fire feed pipeline stopping", "reason", context.Cause(ctx))
	return nil
}

// processBatch runs one cycle. It returns false when the loop should stop.
func (p *Pipeline) processBatch(ctx context.Context, backoff *time.Duration) bool {
	start := p.clock.Now()

	rawBatch, err := p.extractor.ExtractBatch(ctx, p.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("extract batch failed", "error", err)
		return p.backoffOrStop(ctx, backoff)
	}
	if len(rawBatch) == 0 {
		return ctx.Err() == nil
	}

	p.metrics.MessagesConsumed.Add(float64(len(rawBatch)))
	p.metrics.BatchSize.Observe(float64(len(rawBatch)))
	*backoff = initialBackoff

	loaded, ok := p.transformAndLoad(ctx, rawBatch, backoff)
	if !ok {
		return false
	}
	if loaded > 0 {
		p.metrics.BatchProcessingDuration.Observe(p.clock.Since(start).Seconds())
	}
	return true
}

// transformAndLoad skips malformed messages, loads the rest, and commits
// offsets only after a successful load. Skipped messages are committed right
// away so they are not redelivered.
func (p *Pipeline) transformAndLoad(ctx context.Context, rawBatch []domain.RawEvent, backoff *time.Duration) (int, bool) {
	detections := make([]domain.FireDetection, 0, len(rawBatch))
	accepted := make([]domain.RawEvent, 0, len(rawBatch))

	for _, raw := range rawBatch {
		d, err := p.transformer.Transform(ctx, raw)
		if err != nil {
			p.logger.Warn("malformed feed entry, skipping",
				"error", err,
				"topic", raw.Topic,
				"kafka_partition", raw.Partition,
				"offset", raw.Offset,
			)
			p.metrics.TransformErrors.Inc()
			p.commit(ctx, raw)
			continue
		}
		detections = append(detections, d)
		accepted = append(accepted, raw)
	}
	if len(detections) == 0 {
		return 0, true
	}

	if err := p.loader.LoadBatch(ctx, detections); err != nil {
		p.logger.Error("load batch failed", "error", err, "batch_size", len(detections))
		return 0, p.backoffOrStop(ctx, backoff)
	}
	for _, raw := range accepted {
		p.commit(ctx, raw)
	}
	return len(detections), true
}

func (p *Pipeline) backoffOrStop(ctx context.Context, backoff *time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case <-ctx.Done():
		return false
	case <-p.clock.After(*backoff):
	}
	*backoff = min(*backoff*2, maxBackoff)
	return true
}

func (p *Pipeline) commit(ctx context.Context, raw domain.RawEvent) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "kafka_partition", raw.Partition, "offset", raw.Offset)
	}
}
