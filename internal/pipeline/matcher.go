package pipeline

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/naia-systems/naia-stack/internal/cache"
	"github.com/naia-systems/naia-stack/internal/config"
	"github.com/naia-systems/naia-stack/internal/logging"
	"github.com/naia-systems/naia-stack/internal/messaging"
	"github.com/naia-systems/naia-stack/internal/models"
	"github.com/naia-systems/naia-stack/internal/repository"
)

// neutralScore is used when a factor has no evidence either way, e.g. a
// pattern whose roles define no value ranges.
const neutralScore = 0.5

// cohesionBase tunes the expected cohesion curve: larger patterns are
// expected to be less tightly correlated overall.
const cohesionBase = 0.15

// MatchStage scores recent clusters against the pattern library and turns
// every sufficiently confident pairing into a review suggestion.
type MatchStage struct {
	cfg         config.MatchConfig
	clusters    repository.ClusterStore
	patterns    repository.PatternStore
	behaviors   repository.BehaviorStore
	suggestions repository.SuggestionStore
	cache       *cache.BehaviorCache
	pub         messaging.Publisher
	log         *logging.Logger
	now         clock
}

// NewMatchStage wires the pattern matcher.
func NewMatchStage(
	cfg config.MatchConfig,
	clusters repository.ClusterStore,
	patterns repository.PatternStore,
	behaviors repository.BehaviorStore,
	suggestions repository.SuggestionStore,
	behaviorCache *cache.BehaviorCache,
	pub messaging.Publisher,
	log *logging.Logger,
) *MatchStage {
	return &MatchStage{
		cfg:         cfg,
		clusters:    clusters,
		patterns:    patterns,
		behaviors:   behaviors,
		suggestions: suggestions,
		cache:       behaviorCache,
		pub:         pub,
		log:         log,
		now:         utcNow,
	}
}

// Name implements Stage.
func (s *MatchStage) Name() string { return StageMatch }

// matchScores holds the four factor scores of one cluster/pattern pairing.
// All values are within [0, 1].
type matchScores struct {
	Naming      float64
	Correlation float64
	Range       float64
	Rate        float64
}

// Overall combines the factors with the configured weights.
func (m matchScores) Overall(w config.MatchWeights) float64 {
	return models.ClampScore(
		w.Naming*m.Naming +
			w.Correlation*m.Correlation +
			w.Range*m.Range +
			w.Rate*m.Rate)
}

// Run evaluates every cluster created inside the re-evaluation window against
// every pattern. Pairings at or above the publish threshold are upserted as
// suggestions and the stored row is published; a pair already in a terminal
// status is skipped without an event or a pattern touch.
func (s *MatchStage) Run(ctx context.Context) (models.RunSummary, error) {
	startedAt := s.now()

	clusters, err := s.clusters.ListClustersSince(ctx, startedAt.Add(-s.cfg.ReevaluateWindow))
	if err != nil {
		return summarize(StageMatch, startedAt, s.now(), 0, 0, 1), err
	}
	patterns, err := s.patterns.ListPatterns(ctx)
	if err != nil {
		return summarize(StageMatch, startedAt, s.now(), 0, 0, 1), err
	}

	var processed, skipped, errCount int
	for _, cluster := range clusters {
		if ctx.Err() != nil {
			return summarize(StageMatch, startedAt, s.now(), processed, skipped, errCount), ctx.Err()
		}

		members := s.loadMembers(ctx, cluster)

		for _, pattern := range patterns {
			scores := scorePattern(cluster, pattern, members)
			overall := scores.Overall(s.cfg.Weights)
			if overall < s.cfg.PublishThreshold {
				skipped++
				continue
			}

			suggestion := &models.Suggestion{
				ID:               uuid.NewString(),
				ClusterID:        cluster.ID,
				PatternID:        pattern.ID,
				Confidence:       overall,
				NamingScore:      scores.Naming,
				CorrelationScore: scores.Correlation,
				RangeScore:       scores.Range,
				RateScore:        scores.Rate,
				Reason:           matchReason(scores),
				Status:           models.StatusPending,
				CreatedAt:        s.now(),
			}
			stored, err := s.suggestions.UpsertSuggestion(ctx, suggestion)
			if err != nil {
				errCount++
				s.log.WarnContext(ctx, "failed to upsert suggestion",
					"cluster_id", cluster.ID, "pattern_id", pattern.ID, "error", err)
				continue
			}
			if stored == nil {
				// Pair already reviewed; nothing changed, nothing to announce.
				skipped++
				continue
			}
			processed++

			if err := s.patterns.TouchPatternMatched(ctx, pattern.ID, s.now()); err != nil {
				errCount++
				s.log.WarnContext(ctx, "failed to touch pattern",
					"pattern_id", pattern.ID, "error", err)
			}
			if err := s.pub.Publish(ctx, messaging.SubjectSuggestionCreated, stored); err != nil {
				errCount++
				s.log.WarnContext(ctx, "failed to publish suggestion event",
					"suggestion_id", stored.ID, "error", err)
			}
		}
	}

	return summarize(StageMatch, startedAt, s.now(), processed, skipped, errCount), nil
}

// clusterMember pairs a member's name with its current fingerprint. Behavior
// may be nil when the point has never been fingerprinted.
type clusterMember struct {
	Name     string
	Behavior *models.PointBehavior
}

// loadMembers resolves each cluster member's fingerprint, cache first.
// Lookup failures degrade to a memberless score, never to a stage error.
func (s *MatchStage) loadMembers(ctx context.Context, cluster *models.Cluster) []clusterMember {
	members := make([]clusterMember, len(cluster.PointIDs))
	for i, pointID := range cluster.PointIDs {
		if i < len(cluster.PointNames) {
			members[i].Name = cluster.PointNames[i]
		}

		behavior, err := s.cache.Get(ctx, pointID)
		if err == nil && behavior != nil {
			members[i].Behavior = behavior
			continue
		}
		behavior, err = s.behaviors.GetBehavior(ctx, pointID)
		if err != nil {
			s.log.DebugContext(ctx, "behavior lookup failed",
				"point_id", pointID, "error", err)
			continue
		}
		members[i].Behavior = behavior
	}
	return members
}

// scorePattern computes the four factor scores of one cluster against one
// pattern.
func scorePattern(cluster *models.Cluster, pattern *models.Pattern, members []clusterMember) matchScores {
	return matchScores{
		Naming:      namingScore(pattern.Roles, members),
		Correlation: correlationScore(cluster.Cohesion, len(pattern.Roles)),
		Range:       rangeScore(pattern.Roles, members),
		Rate:        rateScore(pattern.Roles, members),
	}
}

// namingScore is the weighted fraction of roles whose naming rules match at
// least one member name. Required roles count double. A pattern without
// roles carries no naming evidence and scores neutral.
func namingScore(roles []models.PatternRole, members []clusterMember) float64 {
	if len(roles) == 0 {
		return neutralScore
	}

	var matched, total float64
	for _, role := range roles {
		weight := 1.0
		if role.Required {
			weight = 2.0
		}
		total += weight
		if roleMatchesAnyMember(role, members) {
			matched += weight
		}
	}
	return models.ClampScore(matched / total)
}

// roleMatchesAnyMember reports whether any member name contains any of the
// role's naming rules, case-insensitively.
func roleMatchesAnyMember(role models.PatternRole, members []clusterMember) bool {
	for _, member := range members {
		if roleMatchesName(role, member.Name) {
			return true
		}
	}
	return false
}

func roleMatchesName(role models.PatternRole, name string) bool {
	lower := strings.ToLower(name)
	for _, rule := range role.NameRules {
		if rule != "" && strings.Contains(lower, strings.ToLower(rule)) {
			return true
		}
	}
	return false
}

// correlationScore compares observed cluster cohesion against the cohesion
// expected for a pattern of the given size. Larger patterns expect looser
// overall cohesion.
func correlationScore(observedCohesion float64, roleCount int) float64 {
	if roleCount == 0 {
		return neutralScore
	}
	expected := 1.0 / (1.0 + cohesionBase*float64(roleCount-1))
	return models.ClampScore(1 - math.Abs(observedCohesion-expected))
}

// rangeScore averages, over the roles that define value bounds and match a
// fingerprinted member, how much of the member's observed value span falls
// inside the role's bounds. Patterns with no range evidence score neutral.
func rangeScore(roles []models.PatternRole, members []clusterMember) float64 {
	var sum float64
	var counted int
	for _, role := range roles {
		if role.MinValue == nil && role.MaxValue == nil {
			continue
		}
		member := bestMember(role, members)
		if member == nil {
			continue
		}
		sum += rangeContainment(role, member.Behavior)
		counted++
	}
	if counted == 0 {
		return neutralScore
	}
	return models.ClampScore(sum / float64(counted))
}

// rangeContainment returns the fraction of the observed [min, max] span that
// lies inside the role's bounds. A constant signal scores 1 when inside the
// bounds and 0 when outside.
func rangeContainment(role models.PatternRole, b *models.PointBehavior) float64 {
	lo := math.Inf(-1)
	if role.MinValue != nil {
		lo = *role.MinValue
	}
	hi := math.Inf(1)
	if role.MaxValue != nil {
		hi = *role.MaxValue
	}

	span := b.Max - b.Min
	if span <= 0 {
		if b.Min >= lo && b.Min <= hi {
			return 1
		}
		return 0
	}

	overlapLo := math.Max(b.Min, lo)
	overlapHi := math.Min(b.Max, hi)
	if overlapHi <= overlapLo {
		return 0
	}
	return (overlapHi - overlapLo) / span
}

// rateScore averages, over roles with a typical update rate and a matching
// fingerprinted member, how close the observed rate is to the typical one on
// a log scale. An exact match scores 1; each factor of e off costs 1/e.
func rateScore(roles []models.PatternRole, members []clusterMember) float64 {
	var sum float64
	var counted int
	for _, role := range roles {
		if role.TypicalRateHz == nil || *role.TypicalRateHz <= 0 {
			continue
		}
		member := bestMember(role, members)
		if member == nil || member.Behavior.UpdateRateHz <= 0 {
			continue
		}
		sum += math.Exp(-math.Abs(math.Log(member.Behavior.UpdateRateHz / *role.TypicalRateHz)))
		counted++
	}
	if counted == 0 {
		return neutralScore
	}
	return models.ClampScore(sum / float64(counted))
}

// bestMember returns the first fingerprinted member whose name matches the
// role's rules, or nil.
func bestMember(role models.PatternRole, members []clusterMember) *clusterMember {
	for i := range members {
		if members[i].Behavior == nil {
			continue
		}
		if roleMatchesName(role, members[i].Name) {
			return &members[i]
		}
	}
	return nil
}

// matchReason renders the two strongest factors into a reviewer-facing note.
func matchReason(scores matchScores) string {
	factors := []struct {
		name  string
		score float64
	}{
		{"naming", scores.Naming},
		{"correlation", scores.Correlation},
		{"range", scores.Range},
		{"rate", scores.Rate},
	}
	sort.SliceStable(factors, func(i, j int) bool { return factors[i].score > factors[j].score })
	return fmt.Sprintf("strongest factors: %s=%.2f, %s=%.2f",
		factors[0].name, factors[0].score, factors[1].name, factors[1].score)
}
