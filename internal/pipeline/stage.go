// Package pipeline implements the analysis stages of the pattern flywheel:
// behavioral fingerprinting, correlation, cluster detection, pattern matching,
// confidence learning and maintenance. Stages share no in-memory state; each
// reads whatever the prior stage most recently persisted.
package pipeline

import (
	"context"
	"time"

	"github.com/naia-systems/naia-stack/internal/models"
)

// Stage names, used for scheduling, locking and metrics labels.
const (
	StageBehavior    = "behavior"
	StageCorrelation = "correlation"
	StageCluster     = "cluster"
	StageMatch       = "match"
	StageLearn       = "learn"
	StageMaintenance = "maintenance"
)

// Stage is one scheduled batch job. Run returns a summary of the work done;
// it returns an error only for failures that abort the whole run (fatal
// configuration, top-level store unavailability). Per-item failures are
// counted in the summary instead.
type Stage interface {
	Name() string
	Run(ctx context.Context) (models.RunSummary, error)
}

// clock lets tests pin the stage's notion of now. Stages always work in UTC.
type clock func() time.Time

func utcNow() time.Time {
	return time.Now().UTC()
}

// summarize stamps duration onto a run summary.
func summarize(stage string, startedAt time.Time, now time.Time, processed, skipped, errors int) models.RunSummary {
	return models.RunSummary{
		Stage:     stage,
		StartedAt: startedAt,
		Duration:  now.Sub(startedAt),
		Processed: processed,
		Skipped:   skipped,
		Errors:    errors,
	}
}
