package pipeline

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naia-systems/naia-stack/internal/config"
	"github.com/naia-systems/naia-stack/internal/messaging"
	"github.com/naia-systems/naia-stack/internal/models"
)

func matchTestConfig() config.MatchConfig {
	return config.MatchConfig{
		PublishThreshold: 0.5,
		ReevaluateWindow: 24 * time.Hour,
		Weights: config.MatchWeights{
			Naming:      0.35,
			Correlation: 0.25,
			Range:       0.25,
			Rate:        0.15,
		},
	}
}

func floatPtr(v float64) *float64 { return &v }

func turbinePattern() *models.Pattern {
	return &models.Pattern{
		ID:         "pat-turbine",
		Name:       "Gas Turbine",
		Category:   "rotating",
		Confidence: 0.5,
		Roles: []models.PatternRole{
			{
				Name:          "power",
				NameRules:     []string{"power", "kw"},
				MinValue:      floatPtr(0),
				MaxValue:      floatPtr(500),
				TypicalRateHz: floatPtr(0.5),
				Required:      true,
			},
			{
				Name:      "rpm",
				NameRules: []string{"rpm", "speed"},
				MinValue:  floatPtr(0),
				MaxValue:  floatPtr(4000),
				Required:  true,
			},
			{
				Name:      "vibration",
				NameRules: []string{"vib"},
				Required:  false,
			},
		},
	}
}

func turbineCluster() *models.Cluster {
	return &models.Cluster{
		ID:         "cl-1",
		Source:     models.SourceContinuous,
		PointIDs:   []string{"p1", "p2"},
		PointNames: []string{"GHS1-TURB01-POWER", "GHS1-TURB01-RPM"},
		Cohesion:   0.8,
		NamePrefix: "GHS1-TURB01",
		CreatedAt:  testNow.Add(-time.Hour),
	}
}

func seedTurbineBehaviors(repo *fakeRepo) {
	repo.behaviors["p1"] = &models.PointBehavior{
		PointID: "p1", SequenceID: 1, Min: 10, Max: 450, UpdateRateHz: 0.5,
	}
	repo.behaviors["p2"] = &models.PointBehavior{
		PointID: "p2", SequenceID: 2, Min: 1000, Max: 3600,
	}
}

func TestMatchStageCreatesSuggestion(t *testing.T) {
	repo := newFakeRepo()
	repo.clusters = append(repo.clusters, turbineCluster())
	repo.patterns["pat-turbine"] = turbinePattern()
	seedTurbineBehaviors(repo)

	pub := &capturePub{}
	stage := NewMatchStage(matchTestConfig(), repo, repo, repo, repo, disabledCache(), pub, testLogger())
	stage.now = func() time.Time { return testNow }

	summary, err := stage.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)

	s, err := repo.GetSuggestion(context.Background(), "cl-1", "pat-turbine")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, s.Status)
	assert.GreaterOrEqual(t, s.Confidence, 0.5)
	assert.NotEmpty(t, s.Reason)

	// Both required roles match by name; the optional vibration role does not.
	// matched 2+2 of total weight 5.
	assert.InDelta(t, 0.8, s.NamingScore, 1e-9)
	for _, score := range []float64{s.NamingScore, s.CorrelationScore, s.RangeScore, s.RateScore, s.Confidence} {
		assert.GreaterOrEqual(t, score, 0.0)
		assert.LessOrEqual(t, score, 1.0)
	}

	assert.Equal(t, 1, pub.count(messaging.SubjectSuggestionCreated))
	require.NotNil(t, repo.patterns["pat-turbine"].LastMatchedAt)
}

func TestMatchStageBelowThresholdPublishesNothing(t *testing.T) {
	repo := newFakeRepo()
	cluster := turbineCluster()
	cluster.PointNames = []string{"BOILER-X-LEVEL", "BOILER-X-PRESSURE"}
	cluster.Cohesion = 0.1
	repo.clusters = append(repo.clusters, cluster)
	repo.patterns["pat-turbine"] = turbinePattern()

	pub := &capturePub{}
	stage := NewMatchStage(matchTestConfig(), repo, repo, repo, repo, disabledCache(), pub, testLogger())
	stage.now = func() time.Time { return testNow }

	summary, err := stage.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Processed)
	assert.Equal(t, 1, summary.Skipped)
	assert.Empty(t, repo.suggestions)
	assert.Empty(t, pub.subjects)
	assert.Nil(t, repo.patterns["pat-turbine"].LastMatchedAt)
}

func TestMatchStageIgnoresClustersOutsideWindow(t *testing.T) {
	repo := newFakeRepo()
	cluster := turbineCluster()
	cluster.CreatedAt = testNow.Add(-48 * time.Hour)
	repo.clusters = append(repo.clusters, cluster)
	repo.patterns["pat-turbine"] = turbinePattern()

	stage := NewMatchStage(matchTestConfig(), repo, repo, repo, repo, disabledCache(), &capturePub{}, testLogger())
	stage.now = func() time.Time { return testNow }

	summary, err := stage.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Processed)
	assert.Empty(t, repo.suggestions)
}

func TestMatchStageRematchPublishesStoredSuggestion(t *testing.T) {
	repo := newFakeRepo()
	repo.clusters = append(repo.clusters, turbineCluster())
	repo.patterns["pat-turbine"] = turbinePattern()
	seedTurbineBehaviors(repo)

	pub := &capturePub{}
	stage := NewMatchStage(matchTestConfig(), repo, repo, repo, repo, disabledCache(), pub, testLogger())
	stage.now = func() time.Time { return testNow }

	_, err := stage.Run(context.Background())
	require.NoError(t, err)
	first, err := repo.GetSuggestion(context.Background(), "cl-1", "pat-turbine")
	require.NoError(t, err)
	firstID := first.ID

	_, err = stage.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, repo.suggestions, 1)
	again, err := repo.GetSuggestion(context.Background(), "cl-1", "pat-turbine")
	require.NoError(t, err)
	assert.Equal(t, firstID, again.ID)

	// The second run's event must carry the stored row's id, not a fresh one.
	require.Len(t, pub.payloads, 2)
	event := pub.payloads[1].(*models.Suggestion)
	assert.Equal(t, firstID, event.ID)
}

func TestMatchStageLeavesReviewedSuggestionAlone(t *testing.T) {
	repo := newFakeRepo()
	repo.clusters = append(repo.clusters, turbineCluster())
	repo.patterns["pat-turbine"] = turbinePattern()
	seedTurbineBehaviors(repo)
	repo.suggestions[suggestionKey("cl-1", "pat-turbine")] = &models.Suggestion{
		ID:        "sug-reviewed",
		ClusterID: "cl-1",
		PatternID: "pat-turbine",
		Status:    models.StatusApproved,
	}

	pub := &capturePub{}
	stage := NewMatchStage(matchTestConfig(), repo, repo, repo, repo, disabledCache(), pub, testLogger())
	stage.now = func() time.Time { return testNow }

	summary, err := stage.Run(context.Background())
	require.NoError(t, err)

	s, err := repo.GetSuggestion(context.Background(), "cl-1", "pat-turbine")
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, s.Status)
	assert.Equal(t, "sug-reviewed", s.ID)

	// A terminal pair counts as skipped: no event, no pattern touch.
	assert.Equal(t, 0, summary.Processed)
	assert.Equal(t, 1, summary.Skipped)
	assert.Empty(t, pub.subjects)
	assert.Nil(t, repo.patterns["pat-turbine"].LastMatchedAt)
}

func TestNamingScore(t *testing.T) {
	members := []clusterMember{
		{Name: "GHS1-TURB01-POWER"},
		{Name: "GHS1-TURB01-RPM"},
	}

	t.Run("zero roles is neutral", func(t *testing.T) {
		assert.Equal(t, neutralScore, namingScore(nil, members))
	})

	t.Run("required roles weigh double", func(t *testing.T) {
		roles := []models.PatternRole{
			{Name: "power", NameRules: []string{"power"}, Required: true},
			{Name: "vib", NameRules: []string{"vib"}, Required: false},
		}
		// 2 of 3 total weight matched.
		assert.InDelta(t, 2.0/3.0, namingScore(roles, members), 1e-9)
	})

	t.Run("match is case insensitive", func(t *testing.T) {
		roles := []models.PatternRole{{Name: "power", NameRules: []string{"PoWeR"}}}
		assert.InDelta(t, 1.0, namingScore(roles, members), 1e-9)
	})

	t.Run("empty rules never match", func(t *testing.T) {
		roles := []models.PatternRole{{Name: "x", NameRules: []string{""}}}
		assert.Zero(t, namingScore(roles, members))
	})
}

func TestCorrelationScore(t *testing.T) {
	// Two-role pattern expects cohesion 1/(1+0.15) = 0.8696.
	expected := 1.0 / 1.15
	assert.InDelta(t, 1.0, correlationScore(expected, 2), 1e-9)
	assert.InDelta(t, 1.0-expected, correlationScore(0, 2), 1e-9)
	assert.Equal(t, neutralScore, correlationScore(0.8, 0))

	// Score always lands in [0, 1].
	for _, cohesion := range []float64{0, 0.3, 0.5, 1} {
		for roles := 1; roles <= 10; roles++ {
			score := correlationScore(cohesion, roles)
			assert.GreaterOrEqual(t, score, 0.0)
			assert.LessOrEqual(t, score, 1.0)
		}
	}
}

func TestRangeScore(t *testing.T) {
	role := models.PatternRole{
		Name:      "power",
		NameRules: []string{"power"},
		MinValue:  floatPtr(0),
		MaxValue:  floatPtr(100),
	}
	member := func(min, max float64) []clusterMember {
		return []clusterMember{{
			Name:     "TURB-POWER",
			Behavior: &models.PointBehavior{Min: min, Max: max},
		}}
	}

	assert.InDelta(t, 1.0, rangeScore([]models.PatternRole{role}, member(10, 90)), 1e-9)
	// Half the observed span sticks out above the bound.
	assert.InDelta(t, 0.5, rangeScore([]models.PatternRole{role}, member(50, 150)), 1e-9)
	assert.Zero(t, rangeScore([]models.PatternRole{role}, member(200, 300)))
	// Constant signal inside the bounds.
	assert.InDelta(t, 1.0, rangeScore([]models.PatternRole{role}, member(42, 42)), 1e-9)
	// No bounded role with a matching member reads neutral.
	assert.Equal(t, neutralScore, rangeScore([]models.PatternRole{role}, nil))
	assert.Equal(t, neutralScore, rangeScore(nil, member(10, 90)))
}

func TestRateScore(t *testing.T) {
	role := models.PatternRole{
		Name:          "power",
		NameRules:     []string{"power"},
		TypicalRateHz: floatPtr(1.0),
	}
	member := func(rate float64) []clusterMember {
		return []clusterMember{{
			Name:     "TURB-POWER",
			Behavior: &models.PointBehavior{UpdateRateHz: rate},
		}}
	}

	assert.InDelta(t, 1.0, rateScore([]models.PatternRole{role}, member(1.0)), 1e-9)
	// A factor of two off in either direction scores the same.
	assert.InDelta(t,
		rateScore([]models.PatternRole{role}, member(2.0)),
		rateScore([]models.PatternRole{role}, member(0.5)), 1e-9)
	assert.InDelta(t, 0.5, rateScore([]models.PatternRole{role}, member(2.0)), 1e-9)
	// Unknown observed rate reads neutral.
	assert.Equal(t, neutralScore, rateScore([]models.PatternRole{role}, member(0)))
}

func TestMatchScoresOverallStaysBounded(t *testing.T) {
	weights := matchTestConfig().Weights
	for _, s := range []matchScores{
		{},
		{Naming: 1, Correlation: 1, Range: 1, Rate: 1},
		{Naming: 0.5, Correlation: 0.5, Range: 0.5, Rate: 0.5},
		{Naming: math.NaN()},
	} {
		overall := s.Overall(weights)
		assert.GreaterOrEqual(t, overall, 0.0)
		assert.LessOrEqual(t, overall, 1.0)
	}
}
