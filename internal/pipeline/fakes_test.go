package pipeline

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/naia-systems/naia-stack/internal/cache"
	"github.com/naia-systems/naia-stack/internal/logging"
	"github.com/naia-systems/naia-stack/internal/models"
	"github.com/naia-systems/naia-stack/internal/repository"
	"github.com/naia-systems/naia-stack/internal/tsdb"
)

func testLogger() *logging.Logger {
	return logging.New(slog.LevelError, "text")
}

func disabledCache() *cache.BehaviorCache {
	return cache.NewBehaviorCache(nil, false, 0)
}

// fakeRepo is an in-memory Repository for stage tests. It mirrors the
// Postgres implementation's guard semantics where stages depend on them.
type fakeRepo struct {
	points      []*models.Point
	behaviors   map[string]*models.PointBehavior
	edges       []models.CorrelationEdge
	summaries   []*models.CorrelationSummary
	clusters    []*models.Cluster
	patterns    map[string]*models.Pattern
	suggestions map[string]*models.Suggestion // keyed by clusterID+"|"+patternID
	feedback    []*models.FeedbackRecord

	failUpsertSuggestion error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		behaviors:   map[string]*models.PointBehavior{},
		patterns:    map[string]*models.Pattern{},
		suggestions: map[string]*models.Suggestion{},
	}
}

func (f *fakeRepo) ListEnabledPoints(ctx context.Context) ([]*models.Point, error) {
	out := []*models.Point{}
	for _, p := range f.points {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeRepo) UpsertBehavior(ctx context.Context, b *models.PointBehavior) error {
	copied := *b
	f.behaviors[b.PointID] = &copied
	return nil
}

func (f *fakeRepo) ListBehaviors(ctx context.Context, dataSourceID string) ([]*models.PointBehavior, error) {
	ids := make([]string, 0, len(f.behaviors))
	for id := range f.behaviors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*models.PointBehavior, 0, len(ids))
	for _, id := range ids {
		out = append(out, f.behaviors[id])
	}
	return out, nil
}

func (f *fakeRepo) GetBehavior(ctx context.Context, pointID string) (*models.PointBehavior, error) {
	return f.behaviors[pointID], nil
}

func (f *fakeRepo) ReplaceCorrelationGraph(ctx context.Context, batchID string, edges []models.CorrelationEdge) error {
	replaced := make([]models.CorrelationEdge, len(edges))
	for i, e := range edges {
		e.BatchID = batchID
		replaced[i] = e
	}
	f.edges = replaced
	return nil
}

func (f *fakeRepo) ListCorrelationEdges(ctx context.Context) ([]models.CorrelationEdge, error) {
	return f.edges, nil
}

func (f *fakeRepo) InsertCorrelationSummary(ctx context.Context, s *models.CorrelationSummary) error {
	f.summaries = append(f.summaries, s)
	return nil
}

func (f *fakeRepo) CreateCluster(ctx context.Context, c *models.Cluster) error {
	copied := *c
	f.clusters = append(f.clusters, &copied)
	return nil
}

func (f *fakeRepo) GetCluster(ctx context.Context, id string) (*models.Cluster, error) {
	for _, c := range f.clusters {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) ListClustersSince(ctx context.Context, since time.Time) ([]*models.Cluster, error) {
	out := []*models.Cluster{}
	for _, c := range f.clusters {
		if !c.CreatedAt.Before(since) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeRepo) CreatePattern(ctx context.Context, p *models.Pattern) error {
	copied := *p
	f.patterns[p.ID] = &copied
	return nil
}

func (f *fakeRepo) GetPattern(ctx context.Context, id string) (*models.Pattern, error) {
	p, ok := f.patterns[id]
	if !ok {
		return nil, repository.ErrPatternNotFound
	}
	copied := *p
	return &copied, nil
}

func (f *fakeRepo) ListPatterns(ctx context.Context) ([]*models.Pattern, error) {
	ids := make([]string, 0, len(f.patterns))
	for id := range f.patterns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*models.Pattern, 0, len(ids))
	for _, id := range ids {
		out = append(out, f.patterns[id])
	}
	return out, nil
}

func (f *fakeRepo) UpdatePatternLearning(ctx context.Context, id string, confidence float64, exampleCount int) error {
	p, ok := f.patterns[id]
	if !ok {
		return repository.ErrPatternNotFound
	}
	p.Confidence = confidence
	p.ExampleCount = exampleCount
	return nil
}

func (f *fakeRepo) AddRoleNameRule(ctx context.Context, patternID, roleName, rule string) error {
	p, ok := f.patterns[patternID]
	if !ok {
		return repository.ErrPatternNotFound
	}
	for i := range p.Roles {
		if p.Roles[i].Name != roleName {
			continue
		}
		for _, existing := range p.Roles[i].NameRules {
			if existing == rule {
				return nil
			}
		}
		p.Roles[i].NameRules = append(p.Roles[i].NameRules, rule)
	}
	return nil
}

func (f *fakeRepo) TouchPatternMatched(ctx context.Context, id string, matchedAt time.Time) error {
	if p, ok := f.patterns[id]; ok {
		t := matchedAt
		p.LastMatchedAt = &t
	}
	return nil
}

func (f *fakeRepo) DecayInactivePatterns(ctx context.Context, cutoff time.Time, factor float64) (int64, error) {
	var n int64
	for _, p := range f.patterns {
		last := p.CreatedAt
		if p.LastMatchedAt != nil {
			last = *p.LastMatchedAt
		}
		if last.Before(cutoff) {
			p.Confidence *= factor
			n++
		}
	}
	return n, nil
}

func suggestionKey(clusterID, patternID string) string {
	return clusterID + "|" + patternID
}

func (f *fakeRepo) UpsertSuggestion(ctx context.Context, s *models.Suggestion) (*models.Suggestion, error) {
	if f.failUpsertSuggestion != nil {
		return nil, f.failUpsertSuggestion
	}
	key := suggestionKey(s.ClusterID, s.PatternID)
	if existing, ok := f.suggestions[key]; ok {
		if models.TerminalStatus(existing.Status) {
			return nil, nil
		}
		existing.Confidence = s.Confidence
		existing.NamingScore = s.NamingScore
		existing.CorrelationScore = s.CorrelationScore
		existing.RangeScore = s.RangeScore
		existing.RateScore = s.RateScore
		existing.Reason = s.Reason
		stored := *existing
		return &stored, nil
	}
	copied := *s
	f.suggestions[key] = &copied
	stored := copied
	return &stored, nil
}

func (f *fakeRepo) GetSuggestion(ctx context.Context, clusterID, patternID string) (*models.Suggestion, error) {
	s, ok := f.suggestions[suggestionKey(clusterID, patternID)]
	if !ok {
		return nil, repository.ErrSuggestionNotFound
	}
	return s, nil
}

func (f *fakeRepo) ReviewSuggestion(ctx context.Context, suggestionID, status, reviewedBy string, rejectionReason *string, reviewedAt time.Time) error {
	for _, s := range f.suggestions {
		if s.ID != suggestionID {
			continue
		}
		if models.TerminalStatus(s.Status) {
			return repository.ErrSuggestionNotFound
		}
		s.Status = status
		s.ReviewedBy = &reviewedBy
		s.RejectionReason = rejectionReason
		t := reviewedAt
		s.ReviewedAt = &t
		return nil
	}
	return repository.ErrSuggestionNotFound
}

func (f *fakeRepo) ExpirePendingSuggestions(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	for _, s := range f.suggestions {
		if s.Status == models.StatusPending && s.CreatedAt.Before(cutoff) {
			s.Status = models.StatusExpired
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) InsertFeedback(ctx context.Context, rec *models.FeedbackRecord) error {
	copied := *rec
	f.feedback = append(f.feedback, &copied)
	return nil
}

func (f *fakeRepo) ListUnprocessedFeedback(ctx context.Context, limit int) ([]*models.FeedbackRecord, error) {
	out := []*models.FeedbackRecord{}
	for _, rec := range f.feedback {
		if rec.Processed {
			continue
		}
		out = append(out, rec)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeRepo) MarkFeedbackProcessed(ctx context.Context, id string) error {
	for _, rec := range f.feedback {
		if rec.ID == id {
			rec.Processed = true
			return nil
		}
	}
	return nil
}

func (f *fakeRepo) Close() error { return nil }

// fakeSamples serves raw samples from memory, keyed by sequence id. fetches
// counts Samples calls so tests can assert a point was gated before fetching.
type fakeSamples struct {
	series  map[int64][]tsdb.Sample
	fetches int
}

func newFakeSamples() *fakeSamples {
	return &fakeSamples{series: map[int64][]tsdb.Sample{}}
}

func (f *fakeSamples) Samples(ctx context.Context, sequenceID int64, start, end time.Time, limit int) ([]tsdb.Sample, error) {
	f.fetches++
	window := []tsdb.Sample{}
	for _, s := range f.series[sequenceID] {
		if !s.TS.Before(start) && !s.TS.After(end) {
			window = append(window, s)
		}
	}
	if limit > 0 && len(window) > limit {
		window = window[len(window)-limit:]
	}
	return window, nil
}

func (f *fakeSamples) SampleCount(ctx context.Context, sequenceID int64, start, end time.Time) (int64, error) {
	var n int64
	for _, s := range f.series[sequenceID] {
		if !s.TS.Before(start) && !s.TS.After(end) {
			n++
		}
	}
	return n, nil
}

// capturePub records every published event.
type capturePub struct {
	subjects []string
	payloads []any
}

func (p *capturePub) Publish(ctx context.Context, subject string, payload any) error {
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, payload)
	return nil
}

func (p *capturePub) Close() error { return nil }

func (p *capturePub) count(subject string) int {
	var n int
	for _, s := range p.subjects {
		if s == subject {
			n++
		}
	}
	return n
}
