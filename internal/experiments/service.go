// Package experiments implements the experiment assignment and
// statistical-results engine: experiment registration, deterministic
// hash-based variation assignment, outcome counter aggregation and
// derived lift/significance results.
package experiments

import (
	"context"

	"github.com/variantly/variantly/internal/experiments/stats"
	"github.com/variantly/variantly/pkg/models"
)

// ExperimentService defines the engine operations for dependency injection.
//
// Absence is a value throughout: missing experiments come back as nil (or
// false), never as an error. The only hard failure surfaced to callers
// besides store I/O is duplicate registration.
type ExperimentService interface {
	// Register creates a new experiment from the definition. It fails with
	// ErrDuplicateExperiment when the id is already taken and never
	// overwrites existing data or counters.
	Register(ctx context.Context, def *Definition) (*models.Experiment, error)
	// Get returns the experiment, or nil with no error when the id is unknown.
	Get(ctx context.Context, id string) (*models.Experiment, error)
	// ListAll returns every experiment keyed by id.
	ListAll(ctx context.Context) (map[string]*models.Experiment, error)
	// ListByType returns active experiments of the given type keyed by id.
	ListByType(ctx context.Context, typ models.ExperimentType) (map[string]*models.Experiment, error)
	// End marks the experiment completed. Returns false when the id is
	// unknown. Ending twice refreshes EndedAt; status stays completed.
	End(ctx context.Context, id string) (bool, error)
	// Assign returns the subject's variation, assigning one first if
	// needed. Repeated calls always return the same variation. An unknown
	// experiment id soft-fails to the default control variation without
	// creating a durable assignment.
	Assign(ctx context.Context, subjectID, experimentID string) (string, error)
	// GetAssignment is a read-only lookup: it returns the stored variation
	// and true, or "" and false when the subject has no assignment yet. It
	// never triggers a new assignment.
	GetAssignment(ctx context.Context, subjectID, experimentID string) (string, bool, error)
	// RecordEvent resolves the subject's variation (assigning if absent),
	// increments the matching counter and emits the event. Unknown
	// experiment ids are a counter no-op, not an error.
	RecordEvent(ctx context.Context, experimentID, subjectID string, eventType models.EventType, payload map[string]interface{}) error
	// Results computes counters, rates, lift and significance for every
	// variation, or nil with no error when the id is unknown.
	Results(ctx context.Context, id string) (*stats.ExperimentResults, error)

	Close() error
}
