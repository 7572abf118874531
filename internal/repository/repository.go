// Package repository persists analysis records in the relational metadata
// store. The interfaces are narrow by design: each pipeline stage depends
// only on the operations it actually performs.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/naia-systems/naia-stack/internal/models"
)

// Sentinel errors returned by repository implementations.
var (
	ErrPatternNotFound    = errors.New("pattern not found")
	ErrSuggestionNotFound = errors.New("suggestion not found")
)

// PointStore reads the authoritative list of telemetry points.
type PointStore interface {
	// ListEnabledPoints returns enabled points that carry a sequence id.
	ListEnabledPoints(ctx context.Context) ([]*models.Point, error)
}

// BehaviorStore persists point fingerprints, upserted by point id.
type BehaviorStore interface {
	UpsertBehavior(ctx context.Context, b *models.PointBehavior) error
	// ListBehaviors returns the current fingerprints, optionally restricted
	// to points of one data source (empty string means all).
	ListBehaviors(ctx context.Context, dataSourceID string) ([]*models.PointBehavior, error)
	GetBehavior(ctx context.Context, pointID string) (*models.PointBehavior, error)
}

// CorrelationStore persists the correlation pass output. The sparse graph is
// replaced wholesale on each pass; summaries are append-only.
type CorrelationStore interface {
	ReplaceCorrelationGraph(ctx context.Context, batchID string, edges []models.CorrelationEdge) error
	ListCorrelationEdges(ctx context.Context) ([]models.CorrelationEdge, error)
	InsertCorrelationSummary(ctx context.Context, s *models.CorrelationSummary) error
}

// ClusterStore persists immutable cluster detections.
type ClusterStore interface {
	CreateCluster(ctx context.Context, c *models.Cluster) error
	GetCluster(ctx context.Context, id string) (*models.Cluster, error)
	// ListClustersSince returns clusters created at or after the given time,
	// newest first.
	ListClustersSince(ctx context.Context, since time.Time) ([]*models.Cluster, error)
}

// PatternStore reads and mutates the pattern library. Confidence and example
// count are written only by the learner and maintenance stages.
type PatternStore interface {
	CreatePattern(ctx context.Context, p *models.Pattern) error
	GetPattern(ctx context.Context, id string) (*models.Pattern, error)
	ListPatterns(ctx context.Context) ([]*models.Pattern, error)
	UpdatePatternLearning(ctx context.Context, id string, confidence float64, exampleCount int) error
	AddRoleNameRule(ctx context.Context, patternID, roleName, rule string) error
	TouchPatternMatched(ctx context.Context, id string, matchedAt time.Time) error
	// DecayInactivePatterns multiplies the confidence of patterns last
	// matched before cutoff (or never matched and created before cutoff) by
	// factor, returning the number of patterns decayed.
	DecayInactivePatterns(ctx context.Context, cutoff time.Time, factor float64) (int64, error)
}

// SuggestionStore persists cluster-to-pattern suggestions, uniquely keyed by
// (cluster id, pattern id).
type SuggestionStore interface {
	// UpsertSuggestion inserts the suggestion or, when the (cluster, pattern)
	// pair already exists in a non-terminal status, updates its scores and
	// reason. It returns the stored row, which keeps the existing id, status
	// and creation time on update, or nil when a row in a terminal status was
	// left untouched.
	UpsertSuggestion(ctx context.Context, s *models.Suggestion) (*models.Suggestion, error)
	GetSuggestion(ctx context.Context, clusterID, patternID string) (*models.Suggestion, error)
	// ReviewSuggestion applies a human review outcome to a suggestion that is
	// not yet in a terminal status.
	ReviewSuggestion(ctx context.Context, suggestionID, status, reviewedBy string, rejectionReason *string, reviewedAt time.Time) error
	// ExpirePendingSuggestions transitions suggestions still pending since
	// before cutoff to expired, returning how many rows changed.
	ExpirePendingSuggestions(ctx context.Context, cutoff time.Time) (int64, error)
}

// FeedbackStore persists reviewer feedback for exactly-once consumption by
// the learner.
type FeedbackStore interface {
	InsertFeedback(ctx context.Context, f *models.FeedbackRecord) error
	ListUnprocessedFeedback(ctx context.Context, limit int) ([]*models.FeedbackRecord, error)
	MarkFeedbackProcessed(ctx context.Context, id string) error
}

// Repository aggregates every store the pipeline needs. The Postgres
// implementation satisfies all of them with one connection pool.
type Repository interface {
	PointStore
	BehaviorStore
	CorrelationStore
	ClusterStore
	PatternStore
	SuggestionStore
	FeedbackStore
	Close() error
}
