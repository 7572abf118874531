package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naia-systems/naia-stack/internal/config"
	"github.com/naia-systems/naia-stack/internal/messaging"
	"github.com/naia-systems/naia-stack/internal/models"
	"github.com/naia-systems/naia-stack/internal/tsdb"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func behaviorTestConfig() config.BehaviorConfig {
	return config.BehaviorConfig{
		Lookback:   time.Hour,
		MinSamples: 5,
		MaxSamples: 1000,
		RateSample: 256,
		BatchSize:  2,
	}
}

func addSeries(samples *fakeSamples, sequenceID int64, start time.Time, interval time.Duration, values []float64) {
	for i, v := range values {
		samples.series[sequenceID] = append(samples.series[sequenceID], tsdb.Sample{
			TS:    start.Add(time.Duration(i) * interval),
			Value: v,
		})
	}
}

func TestBehaviorStageFingerprintsPoints(t *testing.T) {
	repo := newFakeRepo()
	repo.points = []*models.Point{
		{ID: "p1", SequenceID: 1, Name: "GHS1-TURB01_POWER", Enabled: true},
		{ID: "p2", SequenceID: 2, Name: "GHS1-TURB01_RPM", Enabled: true},
		{ID: "p3", SequenceID: 3, Name: "GHS1-TURB01_TEMP", Enabled: false},
	}

	samples := newFakeSamples()
	addSeries(samples, 1, testNow.Add(-30*time.Minute), 2*time.Second, []float64{10, 12, 14, 12, 10, 12, 14, 12})
	addSeries(samples, 2, testNow.Add(-30*time.Minute), 2*time.Second, []float64{100, 100, 100, 100, 100, 100})

	pub := &capturePub{}
	stage := NewBehaviorStage(behaviorTestConfig(), repo, repo, samples, disabledCache(), pub, testLogger())
	stage.now = func() time.Time { return testNow }

	summary, err := stage.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 0, summary.Skipped)
	assert.Equal(t, 0, summary.Errors)

	b1 := repo.behaviors["p1"]
	require.NotNil(t, b1)
	assert.Equal(t, 8, b1.SampleCount)
	assert.InDelta(t, 12.0, b1.Mean, 1e-9)
	assert.InDelta(t, 10.0, b1.Min, 1e-9)
	assert.InDelta(t, 14.0, b1.Max, 1e-9)
	assert.InDelta(t, 0.5, b1.UpdateRateHz, 1e-9)
	assert.Equal(t, testNow.Add(-time.Hour), b1.WindowStart)
	assert.Equal(t, testNow, b1.WindowEnd)

	// Constant signal still fingerprints, with zero spread.
	b2 := repo.behaviors["p2"]
	require.NotNil(t, b2)
	assert.Zero(t, b2.StdDev)

	// Disabled point never touched.
	assert.Nil(t, repo.behaviors["p3"])

	require.Equal(t, 1, pub.count(messaging.SubjectBehaviorUpdated))
	event := pub.payloads[0].(BehaviorBatchEvent)
	assert.Equal(t, 2, event.Processed)
}

func TestBehaviorStageSkipsSparsePoints(t *testing.T) {
	repo := newFakeRepo()
	repo.points = []*models.Point{
		{ID: "p1", SequenceID: 1, Name: "PUMP-A", Enabled: true},
	}

	samples := newFakeSamples()
	addSeries(samples, 1, testNow.Add(-30*time.Minute), time.Second, []float64{1, 2, 3})

	pub := &capturePub{}
	stage := NewBehaviorStage(behaviorTestConfig(), repo, repo, samples, disabledCache(), pub, testLogger())
	stage.now = func() time.Time { return testNow }

	summary, err := stage.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Processed)
	assert.Equal(t, 1, summary.Skipped)
	assert.Empty(t, repo.behaviors)
	// The count gate decides before any samples are fetched.
	assert.Zero(t, samples.fetches)
}

func TestBehaviorStageIgnoresSamplesOutsideWindow(t *testing.T) {
	repo := newFakeRepo()
	repo.points = []*models.Point{
		{ID: "p1", SequenceID: 1, Name: "PUMP-A", Enabled: true},
	}

	samples := newFakeSamples()
	// All samples predate the look-back window.
	addSeries(samples, 1, testNow.Add(-48*time.Hour), time.Second, []float64{1, 2, 3, 4, 5, 6, 7, 8})

	stage := NewBehaviorStage(behaviorTestConfig(), repo, repo, samples, disabledCache(), &capturePub{}, testLogger())
	stage.now = func() time.Time { return testNow }

	summary, err := stage.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Empty(t, repo.behaviors)
}

func TestBehaviorStageHonorsCancellation(t *testing.T) {
	repo := newFakeRepo()
	repo.points = []*models.Point{
		{ID: "p1", SequenceID: 1, Name: "PUMP-A", Enabled: true},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stage := NewBehaviorStage(behaviorTestConfig(), repo, repo, newFakeSamples(), disabledCache(), &capturePub{}, testLogger())
	stage.now = func() time.Time { return testNow }

	_, err := stage.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
