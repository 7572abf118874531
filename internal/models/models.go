// Package models defines the record types the analysis pipeline reads and
// writes: point fingerprints, correlation results, clusters, patterns,
// suggestions and review feedback.
package models

import "time"

// Cluster source types, tagged by the pathway that triggered detection.
const (
	SourceContinuous = "continuous" // scheduled continuous analysis
	SourceImport     = "import"     // bulk historical import
	SourceDiscovery  = "discovery"  // device discovery scan
	SourceManual     = "manual"     // operator-created
)

// Suggestion review statuses. Transitions are forward-only: pending moves to
// exactly one of the other states and terminal states are never revisited by
// automated code.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
	StatusDeferred = "deferred"
	StatusExpired  = "expired"
)

// Feedback actions a reviewer can take on a suggestion.
const (
	ActionApprove = "approve"
	ActionReject  = "reject"
	ActionDefer   = "defer"
)

// Point is the read-only metadata record for one telemetry point, owned by
// the external configuration API.
type Point struct {
	ID           string `json:"id"`
	SequenceID   int64  `json:"sequence_id"`
	Name         string `json:"name"`
	DataSourceID string `json:"data_source_id"`
	Enabled      bool   `json:"enabled"`
}

// PointBehavior is the statistical fingerprint of one point over one analysis
// window. One active fingerprint per point; a new run replaces the prior one.
type PointBehavior struct {
	PointID      string    `json:"point_id"`
	SequenceID   int64     `json:"sequence_id"`
	SampleCount  int       `json:"sample_count"`
	WindowStart  time.Time `json:"window_start"`
	WindowEnd    time.Time `json:"window_end"`
	Mean         float64   `json:"mean"`
	StdDev       float64   `json:"stddev"`
	Min          float64   `json:"min"`
	Max          float64   `json:"max"`
	UpdateRateHz float64   `json:"update_rate_hz"`
	ComputedAt   time.Time `json:"computed_at"`
}

// CorrelationSummary captures the outcome of one correlation pass.
// Immutable once written; the next pass supersedes it.
type CorrelationSummary struct {
	BatchID          string    `json:"batch_id"`
	PointIDs         []string  `json:"point_ids"`
	SignificantPairs int       `json:"significant_pairs"`
	AvgCorrelation   float64   `json:"avg_correlation"`
	WindowStart      time.Time `json:"window_start"`
	WindowEnd        time.Time `json:"window_end"`
	CreatedAt        time.Time `json:"created_at"`
}

// CorrelationEdge is one weighted edge in the sparse correlation graph.
// The pair is unordered; PointA sorts before PointB.
type CorrelationEdge struct {
	PointA      string  `json:"point_a"`
	PointB      string  `json:"point_b"`
	Coefficient float64 `json:"coefficient"`
	BatchID     string  `json:"batch_id"`
}

// Cluster is a set of points believed to belong to one physical asset.
// Immutable after creation: re-detection of an overlapping group creates a
// new cluster so the history of detections is preserved.
type Cluster struct {
	ID             string    `json:"id"`
	Source         string    `json:"source"` // continuous, import, discovery, manual
	PointIDs       []string  `json:"point_ids"`
	PointNames     []string  `json:"point_names"`
	AvgCorrelation float64   `json:"avg_correlation"`
	Cohesion       float64   `json:"cohesion"`
	NamePrefix     string    `json:"name_prefix,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Pattern is a named, reusable equipment template. Confidence and
// ExampleCount are mutated only by the learner and maintenance stages.
type Pattern struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Category      string        `json:"category"`
	Description   string        `json:"description,omitempty"`
	Confidence    float64       `json:"confidence"`
	ExampleCount  int           `json:"example_count"`
	SystemSeeded  bool          `json:"system_seeded"`
	CreatedAt     time.Time     `json:"created_at"`
	LastMatchedAt *time.Time    `json:"last_matched_at,omitempty"`
	Roles         []PatternRole `json:"roles"`
}

// PatternRole describes one expected member of a pattern.
type PatternRole struct {
	Name          string   `json:"name"`
	Description   string   `json:"description,omitempty"`
	NameRules     []string `json:"name_rules"`
	MinValue      *float64 `json:"min_value,omitempty"`
	MaxValue      *float64 `json:"max_value,omitempty"`
	Units         string   `json:"units,omitempty"`
	TypicalRateHz *float64 `json:"typical_rate_hz,omitempty"`
	Required      bool     `json:"required"`
}

// Suggestion is a candidate binding of one cluster to one pattern, uniquely
// keyed by (ClusterID, PatternID). Re-matching the same pair updates the
// existing row with the latest scores.
type Suggestion struct {
	ID               string     `json:"id"`
	ClusterID        string     `json:"cluster_id"`
	PatternID        string     `json:"pattern_id"`
	Confidence       float64    `json:"confidence"`
	NamingScore      float64    `json:"naming_score"`
	CorrelationScore float64    `json:"correlation_score"`
	RangeScore       float64    `json:"range_score"`
	RateScore        float64    `json:"rate_score"`
	Reason           string     `json:"reason"`
	Status           string     `json:"status"`
	CreatedAt        time.Time  `json:"created_at"`
	ReviewedAt       *time.Time `json:"reviewed_at,omitempty"`
	ReviewedBy       *string    `json:"reviewed_by,omitempty"`
	RejectionReason  *string    `json:"rejection_reason,omitempty"`
}

// FeedbackRecord is a human action on a suggestion, consumed exactly once by
// the pattern learner.
type FeedbackRecord struct {
	ID                 string    `json:"id"`
	SuggestionID       string    `json:"suggestion_id"`
	PatternID          string    `json:"pattern_id"`
	ClusterID          string    `json:"cluster_id"`
	Action             string    `json:"action"` // approve, reject, defer
	ConfidenceAtAction float64   `json:"confidence_at_action"`
	Reason             string    `json:"reason,omitempty"`
	ReviewedBy         string    `json:"reviewed_by"`
	CreatedAt          time.Time `json:"created_at"`
	Processed          bool      `json:"processed"`
}

// RunSummary is the per-run observability record every stage returns.
type RunSummary struct {
	Stage     string        `json:"stage"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Processed int           `json:"processed"`
	Skipped   int           `json:"skipped"`
	Errors    int           `json:"errors"`
}

// TerminalStatus reports whether a suggestion status can never change again
// through automated code.
func TerminalStatus(status string) bool {
	switch status {
	case StatusApproved, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// ClampScore bounds a confidence or sub-score to [0, 1]. NaN clamps to 0.
func ClampScore(v float64) float64 {
	if !(v > 0) { // catches NaN as well as negatives
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
