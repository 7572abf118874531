// Package feedback bridges reviewer decisions arriving on the event bus into
// the metadata store, where the learner consumes them.
package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/naia-systems/naia-stack/internal/logging"
	"github.com/naia-systems/naia-stack/internal/messaging"
	"github.com/naia-systems/naia-stack/internal/models"
	"github.com/naia-systems/naia-stack/internal/repository"
)

// handleTimeout bounds the store writes for one inbound message.
const handleTimeout = 10 * time.Second

// Submission is the payload review frontends publish on
// analysis.pattern.feedback.
type Submission struct {
	SuggestionID string `json:"suggestion_id"`
	PatternID    string `json:"pattern_id"`
	ClusterID    string `json:"cluster_id"`
	Action       string `json:"action"` // approve, reject, defer
	Reason       string `json:"reason,omitempty"`
	ReviewedBy   string `json:"reviewed_by"`
}

// Bridge consumes feedback submissions and records them: the suggestion's
// status flips and a feedback row is queued for the learner. Subscribers
// share a queue group, so one deployment writes each submission once.
type Bridge struct {
	conn        *nats.Conn
	suggestions repository.SuggestionStore
	feedback    repository.FeedbackStore
	log         *logging.Logger
	now         func() time.Time

	sub *nats.Subscription
}

// NewBridge wires the feedback consumer. Start must be called to subscribe.
func NewBridge(
	conn *nats.Conn,
	suggestions repository.SuggestionStore,
	feedbackStore repository.FeedbackStore,
	log *logging.Logger,
) *Bridge {
	return &Bridge{
		conn:        conn,
		suggestions: suggestions,
		feedback:    feedbackStore,
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Start subscribes to the feedback subject in the shared queue group.
func (b *Bridge) Start() error {
	sub, err := b.conn.QueueSubscribe(messaging.SubjectPatternFeedback, messaging.QueueFeedbackWorkers, b.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to feedback subject: %w", err)
	}
	b.sub = sub
	return nil
}

// Stop drains the subscription so in-flight messages finish.
func (b *Bridge) Stop() error {
	if b.sub == nil {
		return nil
	}
	return b.sub.Drain()
}

func (b *Bridge) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	var submission Submission
	if err := json.Unmarshal(msg.Data, &submission); err != nil {
		b.log.WarnContext(ctx, "malformed feedback submission dropped", "error", err)
		return
	}

	if err := b.Apply(ctx, submission); err != nil {
		b.log.ErrorContext(ctx, "failed to apply feedback submission",
			"suggestion_id", submission.SuggestionID, "action", submission.Action, "error", err)
	}
}

// Apply validates one submission, flips the suggestion status and queues the
// feedback row for the learner. A suggestion already in a terminal status is
// logged and dropped; the review is void.
func (b *Bridge) Apply(ctx context.Context, submission Submission) error {
	status, ok := actionStatus(submission.Action)
	if !ok {
		return fmt.Errorf("unknown feedback action %q", submission.Action)
	}
	if submission.SuggestionID == "" || submission.PatternID == "" || submission.ClusterID == "" {
		return fmt.Errorf("feedback submission missing ids")
	}

	now := b.now()

	var rejectionReason *string
	if submission.Action == models.ActionReject && submission.Reason != "" {
		rejectionReason = &submission.Reason
	}

	// Snapshot the suggestion's confidence before the review flips the row.
	suggestion, err := b.suggestions.GetSuggestion(ctx, submission.ClusterID, submission.PatternID)
	if err != nil {
		if errors.Is(err, repository.ErrSuggestionNotFound) {
			b.log.WarnContext(ctx, "feedback for missing suggestion dropped",
				"suggestion_id", submission.SuggestionID)
			return nil
		}
		return fmt.Errorf("load suggestion: %w", err)
	}
	confidence := suggestion.Confidence

	err = b.suggestions.ReviewSuggestion(ctx, submission.SuggestionID, status,
		submission.ReviewedBy, rejectionReason, now)
	if err != nil {
		if errors.Is(err, repository.ErrSuggestionNotFound) {
			b.log.WarnContext(ctx, "feedback for missing or already reviewed suggestion dropped",
				"suggestion_id", submission.SuggestionID)
			return nil
		}
		return err
	}

	return b.feedback.InsertFeedback(ctx, &models.FeedbackRecord{
		ID:                 uuid.NewString(),
		SuggestionID:       submission.SuggestionID,
		PatternID:          submission.PatternID,
		ClusterID:          submission.ClusterID,
		Action:             submission.Action,
		ConfidenceAtAction: confidence,
		Reason:             submission.Reason,
		ReviewedBy:         submission.ReviewedBy,
		CreatedAt:          now,
		Processed:          false,
	})
}

func actionStatus(action string) (string, bool) {
	switch action {
	case models.ActionApprove:
		return models.StatusApproved, true
	case models.ActionReject:
		return models.StatusRejected, true
	case models.ActionDefer:
		return models.StatusDeferred, true
	}
	return "", false
}
