package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/variantly/variantly/internal/experiments/bucket"
	"github.com/variantly/variantly/pkg/models"
)

func sampleExperiment(id string) *models.Experiment {
	return &models.Experiment{
		ID:   id,
		Type: models.TypeContent,
		Name: "Sample",
		Variations: map[string]models.VariationConfig{
			"control":   {"layout": "classic"},
			"treatment": {"layout": "wide"},
		},
		Distribution: bucket.Distribution{
			{Variation: "control", Weight: 0.6},
			{Variation: "treatment", Weight: 0.4},
		},
		Control:   "control",
		Status:    models.StatusActive,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		Results: map[string]*models.VariationResults{
			"control":   models.NewVariationResults(),
			"treatment": models.NewVariationResults(),
		},
	}
}

// runStoreSuite exercises the Store contract against any backend.
func runStoreSuite(t *testing.T, s Store) {
	ctx := context.Background()

	// Missing records.
	_, err := s.GetExperiment(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetAssignment(ctx, "u1", "missing")
	require.ErrorIs(t, err, ErrNotFound)
	err = s.UpdateExperiment(ctx, sampleExperiment("missing"))
	require.ErrorIs(t, err, ErrNotFound)

	// Create and read back.
	exp := sampleExperiment("exp1")
	require.NoError(t, s.CreateExperiment(ctx, exp))

	got, err := s.GetExperiment(ctx, "exp1")
	require.NoError(t, err)
	assert.Equal(t, exp.ID, got.ID)
	assert.Equal(t, exp.Control, got.Control)
	assert.Len(t, got.Variations, 2)
	// Distribution order survives the round-trip.
	require.Len(t, got.Distribution, 2)
	assert.Equal(t, "control", got.Distribution[0].Variation)
	assert.Equal(t, "treatment", got.Distribution[1].Variation)

	// Duplicate create is refused.
	require.ErrorIs(t, s.CreateExperiment(ctx, sampleExperiment("exp1")), ErrExists)

	// Update counters.
	got.Results["control"].Views = 5
	got.Results["control"].Revenue = decimal.NewFromFloat(12.5)
	require.NoError(t, s.UpdateExperiment(ctx, got))
	got2, err := s.GetExperiment(ctx, "exp1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), got2.Results["control"].Views)
	assert.True(t, decimal.NewFromFloat(12.5).Equal(got2.Results["control"].Revenue))

	// Assignments.
	a := &models.Assignment{
		SubjectID:    "u1",
		ExperimentID: "exp1",
		Variation:    "treatment",
		Bucket:       0.73,
		AssignedAt:   time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, s.PutAssignment(ctx, a))
	gotA, err := s.GetAssignment(ctx, "u1", "exp1")
	require.NoError(t, err)
	assert.Equal(t, "treatment", gotA.Variation)
	assert.InDelta(t, 0.73, gotA.Bucket, 1e-9)

	// Listing.
	require.NoError(t, s.CreateExperiment(ctx, sampleExperiment("exp2")))
	exps, err := s.ListExperiments(ctx)
	require.NoError(t, err)
	assert.Len(t, exps, 2)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	runStoreSuite(t, s)
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer s.Close()
	runStoreSuite(t, s)
}

func TestMemoryStoreIsolation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	exp := sampleExperiment("iso")
	require.NoError(t, s.CreateExperiment(ctx, exp))

	// Mutating the caller's copy must not leak into stored state.
	exp.Results["control"].Views = 999
	got, err := s.GetExperiment(ctx, "iso")
	require.NoError(t, err)
	assert.Zero(t, got.Results["control"].Views)

	// Mutating a read result must not leak either.
	got.Status = models.StatusCompleted
	again, err := s.GetExperiment(ctx, "iso")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, again.Status)
}
