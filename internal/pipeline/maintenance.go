package pipeline

import (
	"context"

	"github.com/naia-systems/naia-stack/internal/cache"
	"github.com/naia-systems/naia-stack/internal/config"
	"github.com/naia-systems/naia-stack/internal/logging"
	"github.com/naia-systems/naia-stack/internal/models"
	"github.com/naia-systems/naia-stack/internal/repository"
)

// MaintenanceStage runs the slow hygiene work: confidence decay for patterns
// that have not matched recently and expiry of suggestions nobody reviewed.
type MaintenanceStage struct {
	cfg         config.MaintenanceConfig
	patterns    repository.PatternStore
	suggestions repository.SuggestionStore
	cache       *cache.BehaviorCache
	log         *logging.Logger
	now         clock
}

// NewMaintenanceStage wires the maintenance job.
func NewMaintenanceStage(
	cfg config.MaintenanceConfig,
	patterns repository.PatternStore,
	suggestions repository.SuggestionStore,
	behaviorCache *cache.BehaviorCache,
	log *logging.Logger,
) *MaintenanceStage {
	return &MaintenanceStage{
		cfg:         cfg,
		patterns:    patterns,
		suggestions: suggestions,
		cache:       behaviorCache,
		log:         log,
		now:         utcNow,
	}
}

// Name implements Stage.
func (s *MaintenanceStage) Name() string { return StageMaintenance }

// Run decays stale pattern confidence and expires unreviewed suggestions.
// Processed counts the rows changed by both sweeps.
func (s *MaintenanceStage) Run(ctx context.Context) (models.RunSummary, error) {
	startedAt := s.now()

	var processed, errCount int

	decayed, err := s.patterns.DecayInactivePatterns(ctx,
		startedAt.Add(-s.cfg.InactivityWindow), s.cfg.DecayFactor)
	if err != nil {
		errCount++
		s.log.ErrorContext(ctx, "pattern decay failed", "error", err)
	} else {
		processed += int(decayed)
	}

	expired, err := s.suggestions.ExpirePendingSuggestions(ctx,
		startedAt.Add(-s.cfg.SuggestionTTL))
	if err != nil {
		errCount++
		s.log.ErrorContext(ctx, "suggestion expiry failed", "error", err)
	} else {
		processed += int(expired)
	}

	cachedBehaviors, err := s.cache.CountKeys(ctx)
	if err != nil {
		s.log.DebugContext(ctx, "behavior cache count failed", "error", err)
		cachedBehaviors = -1
	}

	s.log.InfoContext(ctx, "maintenance sweep complete",
		"patterns_decayed", decayed,
		"suggestions_expired", expired,
		"cached_behaviors", cachedBehaviors)

	return summarize(StageMaintenance, startedAt, s.now(), processed, 0, errCount), nil
}
