// Package stats derives per-variation results, relative lift and a
// simplified two-proportion significance verdict from an experiment's raw
// counters.
//
// The significance test is intentionally the discrete step function the
// dashboards were built against: a z-score mapped onto fixed confidence
// tiers, not a continuous p-value. Do not replace it with a more rigorous
// calculation; consumers expect exactly these tiers.
package stats

import (
	"math"

	"github.com/variantly/variantly/pkg/models"
)

// MinSampleSize is the per-group denominator below which no z-score is
// computed and the verdict reports an insufficient sample.
const MinSampleSize = 30

// InsufficientSampleMessage is the verdict message for under-sized groups.
const InsufficientSampleMessage = "Insufficient sample size"

// Metric names a derived rate that lift and significance are computed for.
type Metric string

const (
	MetricViewRate             Metric = "viewRate"
	MetricClickRate            Metric = "clickRate"
	MetricActionRate           Metric = "actionRate"
	MetricConversionRate       Metric = "conversionRate"
	MetricRevenuePerImpression Metric = "revenuePerImpression"
)

// LiftMetrics lists every metric lift is computed for.
var LiftMetrics = []Metric{
	MetricViewRate,
	MetricClickRate,
	MetricActionRate,
	MetricConversionRate,
	MetricRevenuePerImpression,
}

// ProportionMetrics lists the metrics the two-proportion test applies to.
// Revenue per impression is not a proportion, so it gets lift only.
var ProportionMetrics = []Metric{
	MetricViewRate,
	MetricClickRate,
	MetricActionRate,
	MetricConversionRate,
}

// Verdict is the significance result for one metric of one variation.
type Verdict struct {
	Significant     bool     `json:"significant"`
	PValue          *float64 `json:"pValue"`
	ConfidenceLevel *float64 `json:"confidenceLevel"`
	Message         string   `json:"message,omitempty"`
}

// VariationSnapshot pairs a variation's raw counters with its derived rates.
type VariationSnapshot struct {
	Counters models.VariationResults `json:"counters"`
	Rates    models.Rates            `json:"rates"`
}

// ExperimentResults is the full read model for one experiment: every
// variation's counters and rates, plus lift and significance of each
// non-control variation against the control.
type ExperimentResults struct {
	ExperimentID string                        `json:"experimentId"`
	Status       models.ExperimentStatus       `json:"status"`
	Control      string                        `json:"control"`
	Variations   map[string]VariationSnapshot  `json:"variations"`
	Lift         map[string]map[Metric]float64 `json:"lift"`
	Significance map[string]map[Metric]Verdict `json:"significance"`
}

// Compute builds the results read model from an experiment's counters.
func Compute(exp *models.Experiment) *ExperimentResults {
	res := &ExperimentResults{
		ExperimentID: exp.ID,
		Status:       exp.Status,
		Control:      exp.Control,
		Variations:   make(map[string]VariationSnapshot, len(exp.Results)),
		Lift:         make(map[string]map[Metric]float64),
		Significance: make(map[string]map[Metric]Verdict),
	}
	for name, counters := range exp.Results {
		res.Variations[name] = VariationSnapshot{
			Counters: *counters,
			Rates:    counters.Rates(),
		}
	}

	control, ok := exp.Results[exp.Control]
	if !ok {
		return res
	}
	controlRates := control.Rates()

	for name, counters := range exp.Results {
		if name == exp.Control {
			continue
		}
		rates := counters.Rates()

		lift := make(map[Metric]float64, len(LiftMetrics))
		for _, m := range LiftMetrics {
			lift[m] = Lift(metricValue(controlRates, m), metricValue(rates, m))
		}
		res.Lift[name] = lift

		sig := make(map[Metric]Verdict, len(ProportionMetrics))
		for _, m := range ProportionMetrics {
			sig[m] = TwoProportionVerdict(
				metricValue(controlRates, m), denominator(control, m),
				metricValue(rates, m), denominator(counters, m),
			)
		}
		res.Significance[name] = sig
	}
	return res
}

// Lift returns the relative lift of a treatment rate over the control
// rate, in percent. A zero control rate yields 0 rather than a division
// error; this is a documented approximation, not a rigorous treatment.
func Lift(controlRate, treatmentRate float64) float64 {
	if controlRate == 0 {
		return 0
	}
	return (treatmentRate - controlRate) / controlRate * 100
}

// TwoProportionVerdict runs the simplified two-proportion z-test. Both
// group denominators must reach MinSampleSize before any z-score is
// computed. The z-score maps onto discrete confidence tiers; only the 95%
// tier and above count as significant.
func TwoProportionVerdict(controlRate float64, controlN int64, treatmentRate float64, treatmentN int64) Verdict {
	if controlN < MinSampleSize || treatmentN < MinSampleSize {
		return Verdict{Message: InsufficientSampleMessage}
	}

	seControl := controlRate * (1 - controlRate) / float64(controlN)
	seTreatment := treatmentRate * (1 - treatmentRate) / float64(treatmentN)
	combined := math.Sqrt(seControl + seTreatment)

	// Degenerate proportions (all 0 or all 1 in both groups) produce a
	// zero standard error; treat as no detectable difference.
	z := 0.0
	if combined > 0 {
		z = math.Abs(treatmentRate-controlRate) / combined
	}

	switch {
	case z > 3.29:
		return Verdict{Significant: true, PValue: f64(0.001), ConfidenceLevel: f64(99.9)}
	case z > 2.58:
		return Verdict{Significant: true, PValue: f64(0.01), ConfidenceLevel: f64(99)}
	case z > 1.96:
		return Verdict{Significant: true, PValue: f64(0.05), ConfidenceLevel: f64(95)}
	case z > 1.65:
		return Verdict{Significant: false, PValue: f64(0.10), ConfidenceLevel: f64(90)}
	default:
		return Verdict{Significant: false, PValue: f64(0.50), ConfidenceLevel: f64(50)}
	}
}

func metricValue(r models.Rates, m Metric) float64 {
	switch m {
	case MetricViewRate:
		return r.ViewRate
	case MetricClickRate:
		return r.ClickRate
	case MetricActionRate:
		return r.ActionRate
	case MetricConversionRate:
		return r.ConversionRate
	case MetricRevenuePerImpression:
		return r.RevenuePerImpression
	}
	return 0
}

// denominator returns the sample size backing a proportion metric: the
// counter the rate divides by.
func denominator(r *models.VariationResults, m Metric) int64 {
	switch m {
	case MetricViewRate:
		return r.Impressions
	case MetricClickRate:
		return r.Views
	case MetricActionRate:
		return r.Clicks
	case MetricConversionRate:
		return r.Views
	}
	return 0
}

func f64(v float64) *float64 { return &v }
