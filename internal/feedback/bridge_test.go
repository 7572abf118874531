package feedback

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naia-systems/naia-stack/internal/logging"
	"github.com/naia-systems/naia-stack/internal/models"
	"github.com/naia-systems/naia-stack/internal/repository"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeSuggestions struct {
	suggestion *models.Suggestion
	failGet    error
}

func (f *fakeSuggestions) UpsertSuggestion(ctx context.Context, s *models.Suggestion) (*models.Suggestion, error) {
	return s, nil
}

func (f *fakeSuggestions) GetSuggestion(ctx context.Context, clusterID, patternID string) (*models.Suggestion, error) {
	if f.failGet != nil {
		return nil, f.failGet
	}
	if f.suggestion == nil {
		return nil, repository.ErrSuggestionNotFound
	}
	return f.suggestion, nil
}

func (f *fakeSuggestions) ReviewSuggestion(ctx context.Context, suggestionID, status, reviewedBy string, rejectionReason *string, reviewedAt time.Time) error {
	if f.suggestion == nil || f.suggestion.ID != suggestionID || models.TerminalStatus(f.suggestion.Status) {
		return repository.ErrSuggestionNotFound
	}
	f.suggestion.Status = status
	f.suggestion.ReviewedBy = &reviewedBy
	f.suggestion.RejectionReason = rejectionReason
	t := reviewedAt
	f.suggestion.ReviewedAt = &t
	return nil
}

func (f *fakeSuggestions) ExpirePendingSuggestions(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type fakeFeedback struct {
	records []*models.FeedbackRecord
}

func (f *fakeFeedback) InsertFeedback(ctx context.Context, rec *models.FeedbackRecord) error {
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeFeedback) ListUnprocessedFeedback(ctx context.Context, limit int) ([]*models.FeedbackRecord, error) {
	return f.records, nil
}

func (f *fakeFeedback) MarkFeedbackProcessed(ctx context.Context, id string) error { return nil }

func testBridge(suggestions *fakeSuggestions, store *fakeFeedback) *Bridge {
	b := NewBridge(nil, suggestions, store, logging.New(slog.LevelError, "text"))
	b.now = func() time.Time { return testNow }
	return b
}

func pendingSuggestion() *models.Suggestion {
	return &models.Suggestion{
		ID:         "sug-1",
		ClusterID:  "cl-1",
		PatternID:  "pat-1",
		Confidence: 0.91,
		Status:     models.StatusPending,
	}
}

func TestApplyApproveFlipsStatusAndQueuesFeedback(t *testing.T) {
	suggestions := &fakeSuggestions{suggestion: pendingSuggestion()}
	store := &fakeFeedback{}
	b := testBridge(suggestions, store)

	err := b.Apply(context.Background(), Submission{
		SuggestionID: "sug-1",
		PatternID:    "pat-1",
		ClusterID:    "cl-1",
		Action:       models.ActionApprove,
		ReviewedBy:   "operator",
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusApproved, suggestions.suggestion.Status)
	require.NotNil(t, suggestions.suggestion.ReviewedBy)
	assert.Equal(t, "operator", *suggestions.suggestion.ReviewedBy)
	assert.Equal(t, testNow, *suggestions.suggestion.ReviewedAt)

	require.Len(t, store.records, 1)
	rec := store.records[0]
	assert.Equal(t, models.ActionApprove, rec.Action)
	// The record carries the suggestion's own confidence at time of action.
	assert.InDelta(t, 0.91, rec.ConfidenceAtAction, 1e-9)
	assert.False(t, rec.Processed)
	assert.NotEmpty(t, rec.ID)
}

func TestApplyRejectCarriesReason(t *testing.T) {
	suggestions := &fakeSuggestions{suggestion: pendingSuggestion()}
	store := &fakeFeedback{}
	b := testBridge(suggestions, store)

	err := b.Apply(context.Background(), Submission{
		SuggestionID: "sug-1",
		PatternID:    "pat-1",
		ClusterID:    "cl-1",
		Action:       models.ActionReject,
		Reason:       "wrong equipment class",
		ReviewedBy:   "operator",
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusRejected, suggestions.suggestion.Status)
	require.NotNil(t, suggestions.suggestion.RejectionReason)
	assert.Equal(t, "wrong equipment class", *suggestions.suggestion.RejectionReason)
	require.Len(t, store.records, 1)
	assert.Equal(t, "wrong equipment class", store.records[0].Reason)
	assert.InDelta(t, 0.91, store.records[0].ConfidenceAtAction, 1e-9)
}

func TestApplyDeferParksSuggestion(t *testing.T) {
	suggestions := &fakeSuggestions{suggestion: pendingSuggestion()}
	store := &fakeFeedback{}
	b := testBridge(suggestions, store)

	err := b.Apply(context.Background(), Submission{
		SuggestionID: "sug-1",
		PatternID:    "pat-1",
		ClusterID:    "cl-1",
		Action:       models.ActionDefer,
		ReviewedBy:   "operator",
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusDeferred, suggestions.suggestion.Status)
	assert.Nil(t, suggestions.suggestion.RejectionReason)
	require.Len(t, store.records, 1)
}

func TestApplyDropsAlreadyReviewedSuggestion(t *testing.T) {
	s := pendingSuggestion()
	s.Status = models.StatusApproved
	suggestions := &fakeSuggestions{suggestion: s}
	store := &fakeFeedback{}
	b := testBridge(suggestions, store)

	err := b.Apply(context.Background(), Submission{
		SuggestionID: "sug-1",
		PatternID:    "pat-1",
		ClusterID:    "cl-1",
		Action:       models.ActionReject,
		ReviewedBy:   "operator",
	})
	require.NoError(t, err)

	// Terminal status stands and no feedback is queued.
	assert.Equal(t, models.StatusApproved, suggestions.suggestion.Status)
	assert.Empty(t, store.records)
}

func TestApplySurfacesSuggestionLookupFailure(t *testing.T) {
	lookupErr := errors.New("connection reset")
	suggestions := &fakeSuggestions{suggestion: pendingSuggestion(), failGet: lookupErr}
	store := &fakeFeedback{}
	b := testBridge(suggestions, store)

	err := b.Apply(context.Background(), Submission{
		SuggestionID: "sug-1",
		PatternID:    "pat-1",
		ClusterID:    "cl-1",
		Action:       models.ActionApprove,
		ReviewedBy:   "operator",
	})
	require.ErrorIs(t, err, lookupErr)

	// Nothing is written when the confidence snapshot fails.
	assert.Equal(t, models.StatusPending, suggestions.suggestion.Status)
	assert.Empty(t, store.records)
}

func TestApplyRejectsMalformedSubmissions(t *testing.T) {
	b := testBridge(&fakeSuggestions{}, &fakeFeedback{})

	err := b.Apply(context.Background(), Submission{
		SuggestionID: "sug-1", PatternID: "pat-1", ClusterID: "cl-1",
		Action: "promote",
	})
	assert.Error(t, err)

	err = b.Apply(context.Background(), Submission{Action: models.ActionApprove})
	assert.Error(t, err)
}
