// Package store provides persistence backends for experiment and
// assignment records. Stores are dumb persistence: all locking, defaulting
// and invariant enforcement lives in the registry, which is the sole
// writer of every record. A store instance is owned by exactly one
// registry per process.
package store

import (
	"context"
	"errors"

	"github.com/variantly/variantly/pkg/models"
)

var (
	// ErrNotFound is returned when an experiment or assignment does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrExists is returned when creating an experiment whose id is taken.
	ErrExists = errors.New("store: already exists")
)

// Store persists experiments and subject assignments.
type Store interface {
	// CreateExperiment inserts a new experiment. Returns ErrExists when the
	// id is already taken; the existing record is never overwritten.
	CreateExperiment(ctx context.Context, exp *models.Experiment) error
	// GetExperiment returns the experiment or ErrNotFound.
	GetExperiment(ctx context.Context, id string) (*models.Experiment, error)
	// ListExperiments returns all experiments.
	ListExperiments(ctx context.Context) ([]*models.Experiment, error)
	// UpdateExperiment overwrites an existing experiment. Returns
	// ErrNotFound when the id is unknown.
	UpdateExperiment(ctx context.Context, exp *models.Experiment) error

	// GetAssignment returns the stored assignment or ErrNotFound.
	GetAssignment(ctx context.Context, subjectID, experimentID string) (*models.Assignment, error)
	// PutAssignment stores a new assignment record.
	PutAssignment(ctx context.Context, a *models.Assignment) error

	// Close releases any backend resources.
	Close() error
}
