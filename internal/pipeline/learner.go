package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/naia-systems/naia-stack/internal/config"
	"github.com/naia-systems/naia-stack/internal/logging"
	"github.com/naia-systems/naia-stack/internal/messaging"
	"github.com/naia-systems/naia-stack/internal/models"
	"github.com/naia-systems/naia-stack/internal/repository"
)

// LearnStage consumes reviewer feedback and adjusts pattern confidence. Each
// record is applied at most once: it is marked processed only after the
// pattern update succeeded, so a crash mid-batch replays safely because the
// update itself is the only side effect.
type LearnStage struct {
	cfg      config.LearnConfig
	feedback repository.FeedbackStore
	patterns repository.PatternStore
	clusters repository.ClusterStore
	pub      messaging.Publisher
	log      *logging.Logger
	now      clock
}

// NewLearnStage wires the pattern learner.
func NewLearnStage(
	cfg config.LearnConfig,
	feedback repository.FeedbackStore,
	patterns repository.PatternStore,
	clusters repository.ClusterStore,
	pub messaging.Publisher,
	log *logging.Logger,
) *LearnStage {
	return &LearnStage{
		cfg:      cfg,
		feedback: feedback,
		patterns: patterns,
		clusters: clusters,
		pub:      pub,
		log:      log,
		now:      utcNow,
	}
}

// Name implements Stage.
func (s *LearnStage) Name() string { return StageLearn }

// PatternUpdatedEvent is the payload of analysis.pattern.updated.
type PatternUpdatedEvent struct {
	PatternID     string    `json:"pattern_id"`
	FeedbackID    string    `json:"feedback_id"`
	Action        string    `json:"action"`
	OldConfidence float64   `json:"old_confidence"`
	NewConfidence float64   `json:"new_confidence"`
	ExampleCount  int       `json:"example_count"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Run applies one batch of unprocessed feedback, oldest first.
func (s *LearnStage) Run(ctx context.Context) (models.RunSummary, error) {
	startedAt := s.now()

	records, err := s.feedback.ListUnprocessedFeedback(ctx, s.cfg.BatchSize)
	if err != nil {
		return summarize(StageLearn, startedAt, s.now(), 0, 0, 1), err
	}

	var processed, skipped, errCount int
	for _, record := range records {
		if ctx.Err() != nil {
			return summarize(StageLearn, startedAt, s.now(), processed, skipped, errCount), ctx.Err()
		}

		applied, err := s.apply(ctx, record)
		if err != nil {
			// Left unprocessed; the next run retries it.
			errCount++
			s.log.WarnContext(ctx, "failed to apply feedback",
				"feedback_id", record.ID, "action", record.Action, "error", err)
			continue
		}

		if err := s.feedback.MarkFeedbackProcessed(ctx, record.ID); err != nil {
			errCount++
			s.log.WarnContext(ctx, "failed to mark feedback processed",
				"feedback_id", record.ID, "error", err)
			continue
		}
		if applied {
			processed++
		} else {
			skipped++
		}
	}

	return summarize(StageLearn, startedAt, s.now(), processed, skipped, errCount), nil
}

// apply adjusts the target pattern for one feedback record. It returns
// (false, nil) when the record is consumable but changes nothing: a deferral,
// an unknown action or a pattern that no longer exists.
func (s *LearnStage) apply(ctx context.Context, record *models.FeedbackRecord) (bool, error) {
	pattern, err := s.patterns.GetPattern(ctx, record.PatternID)
	if err != nil {
		if errors.Is(err, repository.ErrPatternNotFound) {
			s.log.WarnContext(ctx, "feedback references missing pattern",
				"feedback_id", record.ID, "pattern_id", record.PatternID)
			return false, nil
		}
		return false, err
	}

	oldConfidence := pattern.Confidence
	newConfidence := oldConfidence
	exampleCount := pattern.ExampleCount

	switch record.Action {
	case models.ActionApprove:
		// Asymptotic approach to 1; repeated approvals never overshoot.
		newConfidence = oldConfidence + (1-oldConfidence)*s.cfg.LearningRate
		exampleCount++
	case models.ActionReject:
		// Proportional decay toward 0, never below it.
		newConfidence = oldConfidence - oldConfidence*s.cfg.LearningRate
	case models.ActionDefer:
		return false, nil
	default:
		s.log.WarnContext(ctx, "unknown feedback action",
			"feedback_id", record.ID, "action", record.Action)
		return false, nil
	}

	newConfidence = models.ClampScore(newConfidence)
	if err := s.patterns.UpdatePatternLearning(ctx, pattern.ID, newConfidence, exampleCount); err != nil {
		return false, err
	}

	if record.Action == models.ActionApprove && !pattern.SystemSeeded {
		s.enrichNameRules(ctx, pattern, record.ClusterID)
	}

	if err := s.pub.Publish(ctx, messaging.SubjectPatternUpdated, PatternUpdatedEvent{
		PatternID:     pattern.ID,
		FeedbackID:    record.ID,
		Action:        record.Action,
		OldConfidence: oldConfidence,
		NewConfidence: newConfidence,
		ExampleCount:  exampleCount,
		UpdatedAt:     s.now(),
	}); err != nil {
		s.log.WarnContext(ctx, "failed to publish pattern update event",
			"pattern_id", pattern.ID, "error", err)
	}
	return true, nil
}

// enrichNameRules folds the approved cluster's naming prefix into the
// pattern's role rules so future matches recognize similarly named assets.
// Only user-created patterns learn rules; seeded libraries stay as shipped.
func (s *LearnStage) enrichNameRules(ctx context.Context, pattern *models.Pattern, clusterID string) {
	cluster, err := s.clusters.GetCluster(ctx, clusterID)
	if err != nil {
		s.log.WarnContext(ctx, "failed to load approved cluster",
			"cluster_id", clusterID, "error", err)
		return
	}
	if cluster == nil || cluster.NamePrefix == "" {
		return
	}

	for _, role := range learnableRoles(pattern.Roles) {
		if err := s.patterns.AddRoleNameRule(ctx, pattern.ID, role.Name, cluster.NamePrefix); err != nil {
			s.log.WarnContext(ctx, "failed to add role name rule",
				"pattern_id", pattern.ID, "role", role.Name, "error", err)
		}
	}
}

// learnableRoles picks the roles that receive learned naming rules: the
// required ones, or every role when none is required.
func learnableRoles(roles []models.PatternRole) []models.PatternRole {
	required := make([]models.PatternRole, 0, len(roles))
	for _, role := range roles {
		if role.Required {
			required = append(required, role)
		}
	}
	if len(required) > 0 {
		return required
	}
	return roles
}
