package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// AssignmentsTotal counts durable variation assignments by experiment and variation
var AssignmentsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "variantly_assignments_total",
		Help: "Total number of durable variation assignments",
	},
	[]string{"experiment", "variation"},
)

// EventsRecorded counts recorded outcome events by experiment and event type
var EventsRecorded = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "variantly_events_recorded_total",
		Help: "Total number of outcome events recorded against experiment counters",
	},
	[]string{"experiment", "event_type"},
)

// SinkErrors counts analytics emissions that failed and were dropped
var SinkErrors = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "variantly_sink_errors_total",
		Help: "Total number of analytics events dropped due to sink failures",
	},
)

// ActiveExperiments tracks the number of experiments currently active
var ActiveExperiments = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "variantly_active_experiments",
		Help: "Number of experiments with status active",
	},
)

func init() {
	prometheus.MustRegister(AssignmentsTotal, EventsRecorded)
	prometheus.MustRegister(SinkErrors, ActiveExperiments)
}
