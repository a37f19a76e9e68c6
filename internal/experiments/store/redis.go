package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/variantly/variantly/pkg/models"
)

const (
	redisExperimentsKey      = "variantly:experiments"
	redisAssignmentKeyPrefix = "variantly:assignment:"
)

// RedisStore keeps experiments in a hash and assignments as individual
// keys in Redis. Records are JSON-encoded; the ordered distribution
// survives round-trips because it serializes as an array.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(address, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// CreateExperiment inserts a new experiment, refusing to overwrite.
func (s *RedisStore) CreateExperiment(ctx context.Context, exp *models.Experiment) error {
	data, err := json.Marshal(exp)
	if err != nil {
		return fmt.Errorf("failed to encode experiment: %w", err)
	}
	ok, err := s.client.HSetNX(ctx, redisExperimentsKey, exp.ID, data).Result()
	if err != nil {
		return fmt.Errorf("failed to store experiment: %w", err)
	}
	if !ok {
		return ErrExists
	}
	return nil
}

// GetExperiment loads an experiment from the hash.
func (s *RedisStore) GetExperiment(ctx context.Context, id string) (*models.Experiment, error) {
	data, err := s.client.HGet(ctx, redisExperimentsKey, id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load experiment: %w", err)
	}
	var exp models.Experiment
	if err := json.Unmarshal(data, &exp); err != nil {
		return nil, fmt.Errorf("failed to decode experiment: %w", err)
	}
	return &exp, nil
}

// ListExperiments loads every experiment in the hash.
func (s *RedisStore) ListExperiments(ctx context.Context) ([]*models.Experiment, error) {
	entries, err := s.client.HGetAll(ctx, redisExperimentsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}
	out := make([]*models.Experiment, 0, len(entries))
	for id, data := range entries {
		var exp models.Experiment
		if err := json.Unmarshal([]byte(data), &exp); err != nil {
			return nil, fmt.Errorf("failed to decode experiment %s: %w", id, err)
		}
		out = append(out, &exp)
	}
	return out, nil
}

// UpdateExperiment overwrites an existing experiment.
func (s *RedisStore) UpdateExperiment(ctx context.Context, exp *models.Experiment) error {
	exists, err := s.client.HExists(ctx, redisExperimentsKey, exp.ID).Result()
	if err != nil {
		return fmt.Errorf("failed to check experiment existence: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	data, err := json.Marshal(exp)
	if err != nil {
		return fmt.Errorf("failed to encode experiment: %w", err)
	}
	if err := s.client.HSet(ctx, redisExperimentsKey, exp.ID, data).Err(); err != nil {
		return fmt.Errorf("failed to update experiment: %w", err)
	}
	return nil
}

// GetAssignment loads an assignment record.
func (s *RedisStore) GetAssignment(ctx context.Context, subjectID, experimentID string) (*models.Assignment, error) {
	data, err := s.client.Get(ctx, assignmentRedisKey(subjectID, experimentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load assignment: %w", err)
	}
	var a models.Assignment
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to decode assignment: %w", err)
	}
	return &a, nil
}

// PutAssignment stores an assignment record with no expiry. Assignments
// are never deleted; a subject keeps its variation for the life of the
// experiment data.
func (s *RedisStore) PutAssignment(ctx context.Context, a *models.Assignment) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode assignment: %w", err)
	}
	if err := s.client.Set(ctx, assignmentRedisKey(a.SubjectID, a.ExperimentID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store assignment: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func assignmentRedisKey(subjectID, experimentID string) string {
	return redisAssignmentKeyPrefix + experimentID + ":" + subjectID
}
