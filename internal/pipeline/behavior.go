package pipeline

import (
	"context"
	"time"

	"github.com/naia-systems/naia-stack/internal/cache"
	"github.com/naia-systems/naia-stack/internal/config"
	"github.com/naia-systems/naia-stack/internal/logging"
	"github.com/naia-systems/naia-stack/internal/messaging"
	"github.com/naia-systems/naia-stack/internal/models"
	"github.com/naia-systems/naia-stack/internal/repository"
	"github.com/naia-systems/naia-stack/internal/stats"
	"github.com/naia-systems/naia-stack/internal/tsdb"
)

// BehaviorStage computes a statistical fingerprint per enabled point over a
// sliding look-back window and writes it to the cache and the metadata store.
type BehaviorStage struct {
	cfg       config.BehaviorConfig
	points    repository.PointStore
	behaviors repository.BehaviorStore
	samples   tsdb.SampleStore
	cache     *cache.BehaviorCache
	pub       messaging.Publisher
	log       *logging.Logger
	now       clock
}

// NewBehaviorStage wires the behavioral aggregator.
func NewBehaviorStage(
	cfg config.BehaviorConfig,
	points repository.PointStore,
	behaviors repository.BehaviorStore,
	samples tsdb.SampleStore,
	behaviorCache *cache.BehaviorCache,
	pub messaging.Publisher,
	log *logging.Logger,
) *BehaviorStage {
	return &BehaviorStage{
		cfg:       cfg,
		points:    points,
		behaviors: behaviors,
		samples:   samples,
		cache:     behaviorCache,
		pub:       pub,
		log:       log,
		now:       utcNow,
	}
}

// Name implements Stage.
func (s *BehaviorStage) Name() string { return StageBehavior }

// BehaviorBatchEvent is the payload of analysis.behavior.updated.
type BehaviorBatchEvent struct {
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Processed   int       `json:"processed"`
	Skipped     int       `json:"skipped"`
	Errors      int       `json:"errors"`
}

// Run fingerprints every enabled point with enough samples in the window.
// One point's failure is logged and skipped; a cold-start sample store (no
// table yet) reads as zero points and the run still succeeds.
func (s *BehaviorStage) Run(ctx context.Context) (models.RunSummary, error) {
	startedAt := s.now()
	windowEnd := startedAt
	windowStart := windowEnd.Add(-s.cfg.Lookback)

	points, err := s.points.ListEnabledPoints(ctx)
	if err != nil {
		return summarize(StageBehavior, startedAt, s.now(), 0, 0, 1), err
	}

	var processed, skipped, errCount int
	for start := 0; start < len(points); start += s.cfg.BatchSize {
		end := start + s.cfg.BatchSize
		if end > len(points) {
			end = len(points)
		}
		for _, point := range points[start:end] {
			// Shutdown is cooperative between points, never mid-query.
			if ctx.Err() != nil {
				return summarize(StageBehavior, startedAt, s.now(), processed, skipped, errCount), ctx.Err()
			}

			switch ok, err := s.fingerprint(ctx, point, windowStart, windowEnd); {
			case err != nil:
				errCount++
				s.log.WarnContext(ctx, "fingerprint failed",
					"point_id", point.ID, "error", err)
			case ok:
				processed++
			default:
				skipped++
			}
		}
	}

	if err := s.pub.Publish(ctx, messaging.SubjectBehaviorUpdated, BehaviorBatchEvent{
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		Processed:   processed,
		Skipped:     skipped,
		Errors:      errCount,
	}); err != nil {
		errCount++
		s.log.WarnContext(ctx, "failed to publish behavior event", "error", err)
	}

	return summarize(StageBehavior, startedAt, s.now(), processed, skipped, errCount), nil
}

// fingerprint computes and persists one point's behavior. It returns
// (false, nil) when the point has too little data, which is not an error.
// Sparse points are gated on the count alone, so their samples are never
// fetched.
func (s *BehaviorStage) fingerprint(ctx context.Context, point *models.Point, windowStart, windowEnd time.Time) (bool, error) {
	count, err := s.samples.SampleCount(ctx, point.SequenceID, windowStart, windowEnd)
	if err != nil {
		return false, err
	}
	if count < int64(s.cfg.MinSamples) {
		return false, nil
	}

	samples, err := s.samples.Samples(ctx, point.SequenceID, windowStart, windowEnd, s.cfg.MaxSamples)
	if err != nil {
		return false, err
	}
	if len(samples) < s.cfg.MinSamples {
		return false, nil
	}

	values := make([]float64, len(samples))
	timestamps := make([]time.Time, len(samples))
	for i, sample := range samples {
		values[i] = sample.Value
		timestamps[i] = sample.TS
	}

	minV, maxV := stats.MinMax(values)
	behavior := &models.PointBehavior{
		PointID:      point.ID,
		SequenceID:   point.SequenceID,
		SampleCount:  len(samples),
		WindowStart:  windowStart,
		WindowEnd:    windowEnd,
		Mean:         stats.Mean(values),
		StdDev:       stats.StdDev(values),
		Min:          minV,
		Max:          maxV,
		UpdateRateHz: stats.UpdateRateHz(timestamps, s.cfg.RateSample),
		ComputedAt:   s.now(),
	}

	// Cache first for the correlation stage, then the durable store. A crash
	// between the two self-heals on the next run.
	if err := s.cache.Put(ctx, behavior); err != nil {
		s.log.WarnContext(ctx, "behavior cache write failed",
			"point_id", point.ID, "error", err)
	}
	if err := s.behaviors.UpsertBehavior(ctx, behavior); err != nil {
		return false, err
	}
	return true, nil
}
