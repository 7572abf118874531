package pipeline

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/naia-systems/naia-stack/internal/cache"
	"github.com/naia-systems/naia-stack/internal/config"
	"github.com/naia-systems/naia-stack/internal/logging"
	"github.com/naia-systems/naia-stack/internal/messaging"
	"github.com/naia-systems/naia-stack/internal/models"
	"github.com/naia-systems/naia-stack/internal/repository"
	"github.com/naia-systems/naia-stack/internal/stats"
	"github.com/naia-systems/naia-stack/internal/tsdb"
)

// maxPairSamples caps how many raw samples are pulled per point when
// computing one pair's correlation.
const maxPairSamples = 1024

// CorrelationStage computes pairwise Pearson correlation between fingerprinted
// points with overlapping observation windows and persists the resulting
// sparse graph for the cluster detector.
type CorrelationStage struct {
	cfg          config.CorrelationConfig
	behaviors    repository.BehaviorStore
	correlations repository.CorrelationStore
	samples      tsdb.SampleStore
	cache        *cache.BehaviorCache
	pub          messaging.Publisher
	log          *logging.Logger
	now          clock

	// dataSourceID optionally restricts the pass to one data source.
	dataSourceID string
}

// NewCorrelationStage wires the correlation processor. dataSourceID may be
// empty to correlate across all sources.
func NewCorrelationStage(
	cfg config.CorrelationConfig,
	behaviors repository.BehaviorStore,
	correlations repository.CorrelationStore,
	samples tsdb.SampleStore,
	behaviorCache *cache.BehaviorCache,
	pub messaging.Publisher,
	log *logging.Logger,
	dataSourceID string,
) *CorrelationStage {
	return &CorrelationStage{
		cfg:          cfg,
		behaviors:    behaviors,
		correlations: correlations,
		samples:      samples,
		cache:        behaviorCache,
		pub:          pub,
		log:          log,
		now:          utcNow,
		dataSourceID: dataSourceID,
	}
}

// Name implements Stage.
func (s *CorrelationStage) Name() string { return StageCorrelation }

// Run computes the pairwise correlation pass and persists the new graph plus
// an immutable summary.
func (s *CorrelationStage) Run(ctx context.Context) (models.RunSummary, error) {
	startedAt := s.now()

	behaviors, err := s.behaviors.ListBehaviors(ctx, s.dataSourceID)
	if err != nil {
		return summarize(StageCorrelation, startedAt, s.now(), 0, 0, 1), err
	}
	behaviors = s.refreshFromCache(ctx, behaviors)

	if len(behaviors) > s.cfg.MaxPoints {
		behaviors = behaviors[:s.cfg.MaxPoints]
	}

	batchID := uuid.NewString()
	var (
		edges        []models.CorrelationEdge
		pointIDs     []string
		processed    int
		skipped      int
		errCount     int
		sumAbsR      float64
		evaluated    int
		windowStart  time.Time
		windowEnd    time.Time
	)
	for _, b := range behaviors {
		pointIDs = append(pointIDs, b.PointID)
		if windowStart.IsZero() || b.WindowStart.Before(windowStart) {
			windowStart = b.WindowStart
		}
		if b.WindowEnd.After(windowEnd) {
			windowEnd = b.WindowEnd
		}
	}

	for i := 0; i < len(behaviors); i++ {
		for j := i + 1; j < len(behaviors); j++ {
			if ctx.Err() != nil {
				return summarize(StageCorrelation, startedAt, s.now(), processed, skipped, errCount), ctx.Err()
			}

			a, b := behaviors[i], behaviors[j]
			overlapStart, overlapEnd, ok := windowOverlap(a, b)
			if !ok {
				skipped++
				continue
			}

			r, err := s.correlatePair(ctx, a, b, overlapStart, overlapEnd)
			if err != nil {
				errCount++
				s.log.WarnContext(ctx, "pair correlation failed",
					"point_a", a.PointID, "point_b", b.PointID, "error", err)
				continue
			}

			processed++
			evaluated++
			sumAbsR += math.Abs(r)

			if math.Abs(r) >= s.cfg.SignificanceThreshold {
				pa, pb := a.PointID, b.PointID
				if pb < pa {
					pa, pb = pb, pa
				}
				edges = append(edges, models.CorrelationEdge{
					PointA:      pa,
					PointB:      pb,
					Coefficient: r,
					BatchID:     batchID,
				})
			}
		}
	}

	if err := s.correlations.ReplaceCorrelationGraph(ctx, batchID, edges); err != nil {
		return summarize(StageCorrelation, startedAt, s.now(), processed, skipped, errCount+1), err
	}

	summary := &models.CorrelationSummary{
		BatchID:          batchID,
		PointIDs:         pointIDs,
		SignificantPairs: len(edges),
		AvgCorrelation:   avgOrZero(sumAbsR, evaluated),
		WindowStart:      windowStart,
		WindowEnd:        windowEnd,
		CreatedAt:        s.now(),
	}
	if err := s.correlations.InsertCorrelationSummary(ctx, summary); err != nil {
		errCount++
		s.log.WarnContext(ctx, "failed to persist correlation summary", "error", err)
	}

	if err := s.pub.Publish(ctx, messaging.SubjectCorrelationsUpdated, summary); err != nil {
		errCount++
		s.log.WarnContext(ctx, "failed to publish correlation event", "error", err)
	}

	return summarize(StageCorrelation, startedAt, s.now(), processed, skipped, errCount), nil
}

// refreshFromCache swaps in fresher cached fingerprints where available. The
// cache is best-effort: a miss or error keeps the store's copy.
func (s *CorrelationStage) refreshFromCache(ctx context.Context, behaviors []*models.PointBehavior) []*models.PointBehavior {
	for i, b := range behaviors {
		cached, err := s.cache.Get(ctx, b.PointID)
		if err != nil {
			s.log.DebugContext(ctx, "behavior cache read failed", "point_id", b.PointID, "error", err)
			continue
		}
		if cached != nil && cached.ComputedAt.After(b.ComputedAt) {
			behaviors[i] = cached
		}
	}
	return behaviors
}

// correlatePair fetches both points' samples over the overlap window, aligns
// them onto a shared grid and returns Pearson r. Zero-variance series
// produce r=0 (non-significant) rather than an error.
func (s *CorrelationStage) correlatePair(ctx context.Context, a, b *models.PointBehavior, start, end time.Time) (float64, error) {
	samplesA, err := s.samples.Samples(ctx, a.SequenceID, start, end, maxPairSamples)
	if err != nil {
		return 0, err
	}
	samplesB, err := s.samples.Samples(ctx, b.SequenceID, start, end, maxPairSamples)
	if err != nil {
		return 0, err
	}

	aTimes, aValues := splitSamples(samplesA)
	bTimes, bValues := splitSamples(samplesB)

	alignedA, alignedB := stats.AlignSeries(aTimes, aValues, bTimes, bValues, start, end, s.cfg.ResampleInterval)
	return stats.Pearson(alignedA, alignedB), nil
}

func windowOverlap(a, b *models.PointBehavior) (time.Time, time.Time, bool) {
	start := a.WindowStart
	if b.WindowStart.After(start) {
		start = b.WindowStart
	}
	end := a.WindowEnd
	if b.WindowEnd.Before(end) {
		end = b.WindowEnd
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

func splitSamples(samples []tsdb.Sample) ([]time.Time, []float64) {
	times := make([]time.Time, len(samples))
	values := make([]float64, len(samples))
	for i, s := range samples {
		times[i] = s.TS
		values[i] = s.Value
	}
	return times, values
}

func avgOrZero(sum float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
