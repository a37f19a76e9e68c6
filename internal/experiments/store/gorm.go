package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/variantly/variantly/pkg/models"
)

// GormStore persists experiments and assignments in a SQL database through
// GORM. SQLite covers single-node deployments; Postgres covers shared ones.
type GormStore struct {
	db *gorm.DB
}

// NewSQLiteStore opens (or creates) a SQLite-backed store at the given path.
// Use ":memory:" for an ephemeral database.
func NewSQLiteStore(path string) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}
	return newGormStore(db)
}

// NewPostgresStore opens a Postgres-backed store with the given DSN.
func NewPostgresStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres store: %w", err)
	}
	return newGormStore(db)
}

func newGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&models.Experiment{}, &models.Assignment{}); err != nil {
		return nil, fmt.Errorf("failed to migrate store schema: %w", err)
	}
	return &GormStore{db: db}, nil
}

// CreateExperiment inserts a new experiment row.
func (s *GormStore) CreateExperiment(ctx context.Context, exp *models.Experiment) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Experiment{}).Where("id = ?", exp.ID).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check experiment existence: %w", err)
	}
	if count > 0 {
		return ErrExists
	}
	if err := s.db.WithContext(ctx).Create(exp).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrExists
		}
		return fmt.Errorf("failed to create experiment: %w", err)
	}
	return nil
}

// GetExperiment loads an experiment row.
func (s *GormStore) GetExperiment(ctx context.Context, id string) (*models.Experiment, error) {
	var exp models.Experiment
	err := s.db.WithContext(ctx).First(&exp, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load experiment: %w", err)
	}
	return &exp, nil
}

// ListExperiments loads all experiment rows.
func (s *GormStore) ListExperiments(ctx context.Context) ([]*models.Experiment, error) {
	var exps []*models.Experiment
	if err := s.db.WithContext(ctx).Find(&exps).Error; err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}
	return exps, nil
}

// UpdateExperiment overwrites an experiment row.
func (s *GormStore) UpdateExperiment(ctx context.Context, exp *models.Experiment) error {
	res := s.db.WithContext(ctx).Model(&models.Experiment{}).Where("id = ?", exp.ID).Select("*").Updates(exp)
	if res.Error != nil {
		return fmt.Errorf("failed to update experiment: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetAssignment loads an assignment row.
func (s *GormStore) GetAssignment(ctx context.Context, subjectID, experimentID string) (*models.Assignment, error) {
	var a models.Assignment
	err := s.db.WithContext(ctx).First(&a, "subject_id = ? AND experiment_id = ?", subjectID, experimentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load assignment: %w", err)
	}
	return &a, nil
}

// PutAssignment inserts an assignment row.
func (s *GormStore) PutAssignment(ctx context.Context, a *models.Assignment) error {
	if err := s.db.WithContext(ctx).Create(a).Error; err != nil {
		return fmt.Errorf("failed to store assignment: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
