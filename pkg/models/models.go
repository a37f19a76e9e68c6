package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/variantly/variantly/internal/experiments/bucket"
)

// ExperimentType categorizes an experiment. The tag is informational only
// and never changes engine behavior.
type ExperimentType string

const (
	TypeMatching     ExperimentType = "matching"
	TypePresentation ExperimentType = "presentation"
	TypeGeographic   ExperimentType = "geographic"
	TypeTiming       ExperimentType = "timing"
	TypeContent      ExperimentType = "content"
	TypePriority     ExperimentType = "priority"
	TypeFrequency    ExperimentType = "frequency"
)

// ExperimentStatus is the lifecycle state of an experiment.
type ExperimentStatus string

const (
	StatusActive    ExperimentStatus = "active"
	StatusCompleted ExperimentStatus = "completed"
)

// DefaultControlVariation is the variation name used as the soft-fail
// default when an experiment id is unknown, and as the preferred control
// when a definition does not name one explicitly.
const DefaultControlVariation = "control"

// EventType is an outcome event reported against an experiment.
type EventType string

const (
	EventImpression EventType = "impression"
	EventView       EventType = "view"
	EventClick      EventType = "click"
	EventAction     EventType = "action"
	EventConversion EventType = "conversion"
)

// Valid reports whether the event type is one of the recognized counters.
func (e EventType) Valid() bool {
	switch e {
	case EventImpression, EventView, EventClick, EventAction, EventConversion:
		return true
	}
	return false
}

// VariationConfig is the opaque configuration payload of a variation. The
// engine never inspects its contents beyond the key existence of the
// variation itself; downstream consumers interpret it per their own schema.
type VariationConfig map[string]interface{}

// Experiment is an experiment definition together with its accumulated
// per-variation counters. The results key set always equals the variations
// key set for the life of the experiment.
type Experiment struct {
	ID           string                       `json:"id" gorm:"primaryKey"`
	Type         ExperimentType               `json:"type" gorm:"index"`
	Name         string                       `json:"name"`
	Description  string                       `json:"description"`
	Variations   map[string]VariationConfig   `json:"variations" gorm:"serializer:json"`
	Distribution bucket.Distribution          `json:"distribution" gorm:"serializer:json"`
	Control      string                       `json:"control"`
	Status       ExperimentStatus             `json:"status" gorm:"index"`
	CreatedAt    time.Time                    `json:"createdAt"`
	EndedAt      *time.Time                   `json:"endedAt,omitempty"`
	Results      map[string]*VariationResults `json:"results" gorm:"serializer:json"`
}

// Clone returns a deep copy. The registry hands out clones so that callers
// can never mutate stored state behind its back.
func (e *Experiment) Clone() *Experiment {
	if e == nil {
		return nil
	}
	c := *e
	if e.EndedAt != nil {
		t := *e.EndedAt
		c.EndedAt = &t
	}
	c.Variations = make(map[string]VariationConfig, len(e.Variations))
	for k, v := range e.Variations {
		cfg := make(VariationConfig, len(v))
		for ck, cv := range v {
			cfg[ck] = cv
		}
		c.Variations[k] = cfg
	}
	c.Distribution = make(bucket.Distribution, len(e.Distribution))
	copy(c.Distribution, e.Distribution)
	c.Results = make(map[string]*VariationResults, len(e.Results))
	for k, r := range e.Results {
		rc := *r
		c.Results[k] = &rc
	}
	return &c
}

// VariationResults holds the monotonically non-decreasing counters for a
// single variation. Revenue is accumulated as a decimal so conversion sums
// are exact.
type VariationResults struct {
	Impressions int64           `json:"impressions"`
	Views       int64           `json:"views"`
	Clicks      int64           `json:"clicks"`
	Actions     int64           `json:"actions"`
	Conversions int64           `json:"conversions"`
	Revenue     decimal.Decimal `json:"revenue"`
}

// NewVariationResults returns zeroed counters.
func NewVariationResults() *VariationResults {
	return &VariationResults{Revenue: decimal.Zero}
}

// Rates are the per-variation rates derived from the raw counters. They
// are computed on read, never stored, and every division-by-zero case
// yields 0 rather than NaN.
type Rates struct {
	ViewRate             float64 `json:"viewRate"`
	ClickRate            float64 `json:"clickRate"`
	ActionRate           float64 `json:"actionRate"`
	ConversionRate       float64 `json:"conversionRate"`
	RevenuePerImpression float64 `json:"revenuePerImpression"`
}

// Rates derives the rates for the variation's current counters.
func (r *VariationResults) Rates() Rates {
	rpi := 0.0
	if r.Impressions > 0 {
		rpi = r.Revenue.Div(decimal.NewFromInt(r.Impressions)).InexactFloat64()
	}
	return Rates{
		ViewRate:             ratio(r.Views, r.Impressions),
		ClickRate:            ratio(r.Clicks, r.Views),
		ActionRate:           ratio(r.Actions, r.Clicks),
		ConversionRate:       ratio(r.Conversions, r.Views),
		RevenuePerImpression: rpi,
	}
}

func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// Assignment is the durable record of which variation a subject saw for an
// experiment. Once written for a (subject, experiment) pair the variation
// never changes, even if the experiment ends.
type Assignment struct {
	SubjectID    string    `json:"subjectId" gorm:"primaryKey"`
	ExperimentID string    `json:"experimentId" gorm:"primaryKey"`
	Variation    string    `json:"variation"`
	Bucket       float64   `json:"bucket"`
	AssignedAt   time.Time `json:"assignedAt"`
}
