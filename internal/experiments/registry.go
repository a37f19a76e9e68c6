package experiments

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/variantly/variantly/internal/analytics"
	"github.com/variantly/variantly/internal/experiments/bucket"
	"github.com/variantly/variantly/internal/experiments/store"
	"github.com/variantly/variantly/pkg/metrics"
	"github.com/variantly/variantly/pkg/models"
)

// ErrDuplicateExperiment is returned by Register when the experiment id is
// already taken.
var ErrDuplicateExperiment = errors.New("experiment already registered")

// lockStripes is the number of striped mutexes for assignment and
// experiment mutation. Contention on any single experiment is low, so a
// modest stripe count is plenty.
const lockStripes = 64

// Definition is the caller-supplied input to Register. ID is optional; a
// UUID is generated when it is empty. Distribution is optional; an even
// split over the variation keys is defaulted when it is absent.
type Definition struct {
	ID           string
	Type         models.ExperimentType
	Name         string
	Description  string
	Variations   map[string]models.VariationConfig
	Distribution bucket.Distribution
	Control      string
}

// Registry is the sole owner and mutator of experiment and assignment
// state. Every other component reads through its methods or delegates
// writes back to it.
type Registry struct {
	logger *zap.Logger
	store  store.Store
	sink   analytics.Sink

	assignMu [lockStripes]sync.Mutex
	expMu    [lockStripes]sync.Mutex
}

// NewRegistry creates an experiment registry on top of the given store and
// analytics sink. A nil sink disables emission.
func NewRegistry(logger *zap.Logger, st store.Store, sink analytics.Sink) *Registry {
	if sink == nil {
		sink = analytics.NopSink{}
	}
	return &Registry{
		logger: logger,
		store:  st,
		sink:   sink,
	}
}

var _ ExperimentService = (*Registry)(nil)

// Register creates a new experiment, filling in defaults: generated id,
// even distribution, preferred control, zeroed counters, active status.
func (r *Registry) Register(ctx context.Context, def *Definition) (*models.Experiment, error) {
	if def == nil {
		return nil, fmt.Errorf("experiment definition is required")
	}
	if len(def.Variations) == 0 {
		return nil, fmt.Errorf("experiment needs at least one variation")
	}

	id := def.ID
	if id == "" {
		id = uuid.New().String()
	}

	keys := make([]string, 0, len(def.Variations))
	for name := range def.Variations {
		keys = append(keys, name)
	}

	dist := def.Distribution
	if len(dist) == 0 {
		dist = bucket.EvenSplit(keys)
	}
	if err := dist.Validate(keys); err != nil {
		return nil, fmt.Errorf("invalid distribution: %w", err)
	}

	control := def.Control
	if control == "" {
		if _, ok := def.Variations[models.DefaultControlVariation]; ok {
			control = models.DefaultControlVariation
		} else {
			control = dist[0].Variation
		}
	}
	if _, ok := def.Variations[control]; !ok {
		return nil, fmt.Errorf("control variation %q is not a variation of the experiment", control)
	}

	exp := &models.Experiment{
		ID:           id,
		Type:         def.Type,
		Name:         def.Name,
		Description:  def.Description,
		Variations:   def.Variations,
		Distribution: dist,
		Control:      control,
		Status:       models.StatusActive,
		CreatedAt:    time.Now().UTC(),
		Results:      make(map[string]*models.VariationResults, len(keys)),
	}
	for _, name := range keys {
		exp.Results[name] = models.NewVariationResults()
	}

	mu := r.experimentLock(id)
	mu.Lock()
	defer mu.Unlock()

	if err := r.store.CreateExperiment(ctx, exp); err != nil {
		if errors.Is(err, store.ErrExists) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateExperiment, id)
		}
		return nil, fmt.Errorf("failed to register experiment: %w", err)
	}

	metrics.ActiveExperiments.Inc()
	r.logger.Info("Experiment registered",
		zap.String("experiment_id", id),
		zap.String("type", string(exp.Type)),
		zap.Int("variations", len(keys)))
	return exp, nil
}

// Get returns the experiment, or nil when the id is unknown.
func (r *Registry) Get(ctx context.Context, id string) (*models.Experiment, error) {
	exp, err := r.store.GetExperiment(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return exp, nil
}

// ListAll returns every experiment keyed by id.
func (r *Registry) ListAll(ctx context.Context) (map[string]*models.Experiment, error) {
	exps, err := r.store.ListExperiments(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*models.Experiment, len(exps))
	for _, exp := range exps {
		out[exp.ID] = exp
	}
	return out, nil
}

// ListByType returns active experiments of the given type keyed by id.
func (r *Registry) ListByType(ctx context.Context, typ models.ExperimentType) (map[string]*models.Experiment, error) {
	exps, err := r.store.ListExperiments(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*models.Experiment)
	for _, exp := range exps {
		if exp.Type == typ && exp.Status == models.StatusActive {
			out[exp.ID] = exp
		}
	}
	return out, nil
}

// End marks the experiment completed and stamps EndedAt. Returns false for
// an unknown id. A repeated call stamps EndedAt again; the status is
// already terminal so this is harmless.
func (r *Registry) End(ctx context.Context, id string) (bool, error) {
	mu := r.experimentLock(id)
	mu.Lock()
	defer mu.Unlock()

	exp, err := r.store.GetExperiment(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	wasActive := exp.Status == models.StatusActive
	now := time.Now().UTC()
	exp.Status = models.StatusCompleted
	exp.EndedAt = &now
	if err := r.store.UpdateExperiment(ctx, exp); err != nil {
		return false, fmt.Errorf("failed to end experiment: %w", err)
	}

	if wasActive {
		metrics.ActiveExperiments.Dec()
	}
	r.logger.Info("Experiment ended", zap.String("experiment_id", id))
	return true, nil
}

// Assign returns the variation for (subjectID, experimentID), computing
// and persisting one on first call. Idempotency is the core correctness
// property here: a subject's experience must never flicker between
// variations across repeated calls, including concurrent first calls.
func (r *Registry) Assign(ctx context.Context, subjectID, experimentID string) (string, error) {
	// Fast path: most calls hit an existing assignment.
	if a, err := r.store.GetAssignment(ctx, subjectID, experimentID); err == nil {
		return a.Variation, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	mu := r.assignmentLock(subjectID, experimentID)
	mu.Lock()
	defer mu.Unlock()

	// Re-check under the lock: a concurrent caller may have won the race.
	a, err := r.store.GetAssignment(ctx, subjectID, experimentID)
	if err == nil {
		return a.Variation, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	exp, err := r.store.GetExperiment(ctx, experimentID)
	if errors.Is(err, store.ErrNotFound) {
		// Soft failure: a misconfigured or not-yet-propagated experiment id
		// must never break the calling UI. No durable record is written.
		r.logger.Debug("Assignment requested for unknown experiment",
			zap.String("experiment_id", experimentID),
			zap.String("subject_id", subjectID))
		return models.DefaultControlVariation, nil
	}
	if err != nil {
		return "", err
	}

	b := bucket.Value(subjectID, experimentID)
	variation, ok := exp.Distribution.Pick(b)
	if !ok {
		variation = exp.Control
	}

	assignment := &models.Assignment{
		SubjectID:    subjectID,
		ExperimentID: experimentID,
		Variation:    variation,
		Bucket:       b,
		AssignedAt:   time.Now().UTC(),
	}
	if err := r.store.PutAssignment(ctx, assignment); err != nil {
		return "", fmt.Errorf("failed to store assignment: %w", err)
	}

	metrics.AssignmentsTotal.WithLabelValues(experimentID, variation).Inc()
	r.emit(ctx, analytics.Event{
		Name:           "experiment_assignment",
		ExperimentID:   experimentID,
		ExperimentType: string(exp.Type),
		SubjectID:      subjectID,
		Variation:      variation,
		Timestamp:      assignment.AssignedAt,
	})
	return variation, nil
}

// GetAssignment is the read-only assignment lookup.
func (r *Registry) GetAssignment(ctx context.Context, subjectID, experimentID string) (string, bool, error) {
	a, err := r.store.GetAssignment(ctx, subjectID, experimentID)
	if errors.Is(err, store.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return a.Variation, true, nil
}

// Close releases the store and sink.
func (r *Registry) Close() error {
	if err := r.sink.Close(); err != nil {
		r.logger.Error("Failed to close analytics sink", zap.Error(err))
	}
	return r.store.Close()
}

// emit forwards an event to the analytics sink, best-effort. Sink failures
// are logged and counted, never propagated.
func (r *Registry) emit(ctx context.Context, ev analytics.Event) {
	if err := r.sink.Emit(ctx, ev); err != nil {
		metrics.SinkErrors.Inc()
		r.logger.Warn("Analytics emission failed",
			zap.String("event", ev.Name),
			zap.String("experiment_id", ev.ExperimentID),
			zap.Error(err))
	}
}

func (r *Registry) assignmentLock(subjectID, experimentID string) *sync.Mutex {
	return &r.assignMu[stripe(subjectID+"\x00"+experimentID)]
}

func (r *Registry) experimentLock(id string) *sync.Mutex {
	return &r.expMu[stripe(id)]
}

func stripe(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % lockStripes)
}
