package experiments

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/variantly/variantly/internal/experiments/stats"
	"github.com/variantly/variantly/pkg/models"
)

func TestRecordEventIncrementsCounters(t *testing.T) {
	r := newTestRegistry(t, nil)
	ctx := context.Background()
	_, err := r.Register(ctx, twoVariationDef("counters"))
	require.NoError(t, err)

	variation, err := r.Assign(ctx, "u1", "counters")
	require.NoError(t, err)

	events := []models.EventType{
		models.EventImpression, models.EventImpression,
		models.EventView,
		models.EventClick,
		models.EventAction,
		models.EventConversion,
	}
	for _, et := range events {
		require.NoError(t, r.RecordEvent(ctx, "counters", "u1", et, nil))
	}

	exp, err := r.Get(ctx, "counters")
	require.NoError(t, err)
	res := exp.Results[variation]
	assert.Equal(t, int64(2), res.Impressions)
	assert.Equal(t, int64(1), res.Views)
	assert.Equal(t, int64(1), res.Clicks)
	assert.Equal(t, int64(1), res.Actions)
	assert.Equal(t, int64(1), res.Conversions)

	// The other variation stayed untouched.
	for name, other := range exp.Results {
		if name == variation {
			continue
		}
		assert.Zero(t, other.Impressions)
		assert.Zero(t, other.Conversions)
	}
}

func TestRecordEventAssignsIfAbsent(t *testing.T) {
	r := newTestRegistry(t, nil)
	ctx := context.Background()
	_, err := r.Register(ctx, twoVariationDef("implicit"))
	require.NoError(t, err)

	// Never pre-assigned; recording must still succeed and assign first.
	require.NoError(t, r.RecordEvent(ctx, "implicit", "fresh-subject", models.EventView, nil))

	variation, ok, err := r.GetAssignment(ctx, "fresh-subject", "implicit")
	require.NoError(t, err)
	require.True(t, ok)

	exp, _ := r.Get(ctx, "implicit")
	assert.Equal(t, int64(1), exp.Results[variation].Views)
}

func TestConversionRevenueConservation(t *testing.T) {
	r := newTestRegistry(t, nil)
	ctx := context.Background()
	_, err := r.Register(ctx, twoVariationDef("revenue"))
	require.NoError(t, err)

	variation, err := r.Assign(ctx, "buyer", "revenue")
	require.NoError(t, err)

	revenues := []float64{9.99, 0.01, 105.5, 3}
	expected := decimal.Zero
	for _, rev := range revenues {
		require.NoError(t, r.RecordEvent(ctx, "revenue", "buyer", models.EventConversion,
			map[string]interface{}{"revenue": rev}))
		expected = expected.Add(decimal.NewFromFloat(rev))
	}

	exp, _ := r.Get(ctx, "revenue")
	res := exp.Results[variation]
	assert.Equal(t, int64(len(revenues)), res.Conversions)
	assert.True(t, expected.Equal(res.Revenue), "revenue sum: got %s want %s", res.Revenue, expected)
}

func TestConversionRevenueCoercion(t *testing.T) {
	r := newTestRegistry(t, nil)
	ctx := context.Background()
	_, err := r.Register(ctx, twoVariationDef("coerce"))
	require.NoError(t, err)
	variation, err := r.Assign(ctx, "buyer", "coerce")
	require.NoError(t, err)

	// Non-numeric and absent revenue contribute zero, never an error.
	payloads := []map[string]interface{}{
		nil,
		{},
		{"revenue": "not a number"},
		{"revenue": true},
		{"revenue": []string{"x"}},
	}
	for _, p := range payloads {
		require.NoError(t, r.RecordEvent(ctx, "coerce", "buyer", models.EventConversion, p))
	}

	exp, _ := r.Get(ctx, "coerce")
	res := exp.Results[variation]
	assert.Equal(t, int64(len(payloads)), res.Conversions)
	assert.True(t, res.Revenue.IsZero())

	// Integer revenue counts.
	require.NoError(t, r.RecordEvent(ctx, "coerce", "buyer", models.EventConversion,
		map[string]interface{}{"revenue": 7}))
	exp, _ = r.Get(ctx, "coerce")
	assert.True(t, decimal.NewFromInt(7).Equal(exp.Results[variation].Revenue))
}

func TestRecordEventUnknownExperiment(t *testing.T) {
	sink := &capturingSink{}
	r := newTestRegistry(t, sink)
	ctx := context.Background()

	// Counter no-op, but not an error, and the emission still fires with
	// the soft-fail variation.
	require.NoError(t, r.RecordEvent(ctx, "ghost", "u1", models.EventClick, nil))

	all, err := r.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	events := sink.byName("experiment_click")
	require.Len(t, events, 1)
	assert.Equal(t, models.DefaultControlVariation, events[0].Variation)
}

func TestRecordEventRejectsUnknownType(t *testing.T) {
	r := newTestRegistry(t, nil)
	ctx := context.Background()
	_, err := r.Register(ctx, twoVariationDef("types"))
	require.NoError(t, err)

	assert.Error(t, r.RecordEvent(ctx, "types", "u1", models.EventType("purchase"), nil))
}

func TestRatesZeroDenominators(t *testing.T) {
	res := models.NewVariationResults()
	rates := res.Rates()
	assert.Zero(t, rates.ViewRate)
	assert.Zero(t, rates.ClickRate)
	assert.Zero(t, rates.ActionRate)
	assert.Zero(t, rates.ConversionRate)
	assert.Zero(t, rates.RevenuePerImpression)
}

func TestConcurrentRecordEventLosesNoUpdates(t *testing.T) {
	r := newTestRegistry(t, nil)
	ctx := context.Background()
	_, err := r.Register(ctx, twoVariationDef("atomic"))
	require.NoError(t, err)

	n := 500
	wg := sync.WaitGroup{}
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			subject := fmt.Sprintf("u%d", idx%50)
			if err := r.RecordEvent(ctx, "atomic", subject, models.EventImpression, nil); err != nil {
				t.Errorf("record failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	exp, _ := r.Get(ctx, "atomic")
	total := int64(0)
	for _, res := range exp.Results {
		total += res.Impressions
	}
	assert.Equal(t, int64(n), total)
}

func TestResultsUnknownExperiment(t *testing.T) {
	r := newTestRegistry(t, nil)
	results, err := r.Results(context.Background(), "ghost")
	assert.NoError(t, err)
	assert.Nil(t, results)
}

// Full scenario: a balanced 50/50 experiment where both groups click half
// of their views should show near-equal click rates and near-zero lift.
func TestBalancedExperimentScenario(t *testing.T) {
	r := newTestRegistry(t, nil)
	ctx := context.Background()
	_, err := r.Register(ctx, twoVariationDef("exp1"))
	require.NoError(t, err)

	groups := map[string][]string{}
	for i := 1; i <= 1000; i++ {
		subject := fmt.Sprintf("u%d", i)
		variation, err := r.Assign(ctx, subject, "exp1")
		require.NoError(t, err)
		groups[variation] = append(groups[variation], subject)
	}
	require.Len(t, groups, 2)

	for _, members := range groups {
		for i, subject := range members {
			require.NoError(t, r.RecordEvent(ctx, "exp1", subject, models.EventView, nil))
			if i%2 == 0 {
				require.NoError(t, r.RecordEvent(ctx, "exp1", subject, models.EventClick, nil))
			}
		}
	}

	results, err := r.Results(ctx, "exp1")
	require.NoError(t, err)
	require.NotNil(t, results)

	for name, snap := range results.Variations {
		assert.InDelta(t, 0.5, snap.Rates.ClickRate, 0.01, "variation %s", name)
	}
	lift := results.Lift["treatment_1"][stats.MetricClickRate]
	assert.InDelta(t, 0, lift, 1.5)
}
