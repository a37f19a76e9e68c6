package experiments

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/variantly/variantly/internal/analytics"
	"github.com/variantly/variantly/internal/experiments/stats"
	"github.com/variantly/variantly/internal/experiments/store"
	"github.com/variantly/variantly/pkg/metrics"
	"github.com/variantly/variantly/pkg/models"
)

// RecordEvent records an outcome event for a subject. The subject is
// assigned first if it never was; the matching counter for its variation
// is incremented by exactly one; conversion events additionally add the
// payload's revenue to the variation's revenue sum. The event is emitted
// externally after local state is updated.
//
// Recording against an unknown experiment id is a counter no-op, but the
// emission still fires with the soft-fail variation. Event recording is
// deliberately not gated on experiment status: trailing events against a
// completed experiment still count.
func (r *Registry) RecordEvent(ctx context.Context, experimentID, subjectID string, eventType models.EventType, payload map[string]interface{}) error {
	if !eventType.Valid() {
		return errors.New("unknown event type: " + string(eventType))
	}

	variation, err := r.Assign(ctx, subjectID, experimentID)
	if err != nil {
		return err
	}

	mu := r.experimentLock(experimentID)
	mu.Lock()
	exp, err := r.store.GetExperiment(ctx, experimentID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// Nothing to increment; the emission below still fires so the
		// downstream pipeline sees the event.
		exp = nil
	case err != nil:
		mu.Unlock()
		return err
	default:
		if res := exp.Results[variation]; res != nil {
			applyEvent(res, eventType, payload)
			if err := r.store.UpdateExperiment(ctx, exp); err != nil {
				mu.Unlock()
				return err
			}
			metrics.EventsRecorded.WithLabelValues(experimentID, string(eventType)).Inc()
		} else {
			r.logger.Warn("Assignment references unknown variation",
				zap.String("experiment_id", experimentID),
				zap.String("variation", variation))
		}
	}
	mu.Unlock()

	expType := ""
	if exp != nil {
		expType = string(exp.Type)
	}
	r.emit(ctx, analytics.Event{
		Name:           "experiment_" + string(eventType),
		ExperimentID:   experimentID,
		ExperimentType: expType,
		SubjectID:      subjectID,
		Variation:      variation,
		Properties:     payload,
		Timestamp:      time.Now().UTC(),
	})
	return nil
}

// Results computes the full results read model: per-variation counters and
// rates plus lift and significance against the control. Returns nil for an
// unknown experiment id.
func (r *Registry) Results(ctx context.Context, id string) (*stats.ExperimentResults, error) {
	exp, err := r.store.GetExperiment(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return stats.Compute(exp), nil
}

func applyEvent(res *models.VariationResults, eventType models.EventType, payload map[string]interface{}) {
	switch eventType {
	case models.EventImpression:
		res.Impressions++
	case models.EventView:
		res.Views++
	case models.EventClick:
		res.Clicks++
	case models.EventAction:
		res.Actions++
	case models.EventConversion:
		res.Conversions++
		res.Revenue = res.Revenue.Add(revenueFrom(payload))
	}
}

// revenueFrom coerces the payload's revenue to a decimal. Absent or
// non-numeric values contribute zero, never an error.
func revenueFrom(payload map[string]interface{}) decimal.Decimal {
	v, ok := payload["revenue"]
	if !ok {
		return decimal.Zero
	}
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return decimal.Zero
		}
		return decimal.NewFromFloat(n)
	case float32:
		return decimal.NewFromFloat32(n)
	case int:
		return decimal.NewFromInt(int64(n))
	case int64:
		return decimal.NewFromInt(n)
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		if err != nil {
			return decimal.Zero
		}
		return d
	case decimal.Decimal:
		return n
	default:
		return decimal.Zero
	}
}
