package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aiprojectops/youtube-shorts-generator/internal/config"
	"github.com/aiprojectops/youtube-shorts-generator/internal/logging"
	"github.com/aiprojectops/youtube-shorts-generator/pkg/models"
)

// historyLimit caps the archived jobs kept per user in Redis
const historyLimit = 1000

// RedisStore keeps one key per user plus an index set of user ids
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *logging.Logger
}

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewRedisStore creates a store on an existing client
func NewRedisStore(client *redis.Client, prefix string, logger *logging.Logger) *RedisStore {
	if prefix == "" {
		prefix = "shorts"
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &RedisStore{client: client, prefix: prefix, logger: logger}
}

func (s *RedisStore) queueKey(userID string) string {
	return fmt.Sprintf("%s:queue:%s", s.prefix, userID)
}

func (s *RedisStore) historyKey(userID string) string {
	return fmt.Sprintf("%s:history:%s", s.prefix, userID)
}

func (s *RedisStore) usersKey() string {
	return fmt.Sprintf("%s:users", s.prefix)
}

// Load reads every indexed user's snapshot
func (s *RedisStore) Load(ctx context.Context) (map[string][]models.Job, error) {
	users, err := s.client.SMembers(ctx, s.usersKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list queue users: %w", err)
	}

	queues := make(map[string][]models.Job)
	for _, userID := range users {
		data, err := s.client.Get(ctx, s.queueKey(userID)).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			s.logger.WithUserID(userID).ErrorWithErr("Failed to read queue snapshot", err)
			continue
		}
		snap, err := decodeSnapshot(data)
		if err != nil {
			s.logger.WithUserID(userID).ErrorWithErr("Failed to decode queue snapshot", err)
			continue
		}
		if jobs := activeJobs(snap.Jobs); len(jobs) > 0 {
			queues[userID] = jobs
		}
	}
	return queues, nil
}

// Save replaces the user's snapshot. An empty queue deletes the key.
func (s *RedisStore) Save(ctx context.Context, userID string, jobs []models.Job) error {
	if len(jobs) == 0 {
		_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, s.queueKey(userID))
			pipe.SRem(ctx, s.usersKey(), userID)
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to delete queue for user %s: %w", userID, err)
		}
		return nil
	}

	data, err := encodeSnapshot(userID, jobs)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.queueKey(userID), data, 0)
		pipe.SAdd(ctx, s.usersKey(), userID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save queue for user %s: %w", userID, err)
	}
	return nil
}

// Archive pushes terminal jobs onto a capped per-user history list
func (s *RedisStore) Archive(ctx context.Context, userID string, jobs []models.Job) error {
	if len(jobs) == 0 {
		return nil
	}

	values := make([]interface{}, 0, len(jobs))
	for _, job := range jobs {
		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
		}
		values = append(values, data)
	}

	key := s.historyKey(userID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, values...)
		pipe.LTrim(ctx, key, -historyLimit, -1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to archive jobs for user %s: %w", userID, err)
	}
	return nil
}

// History returns the archived jobs of a user, oldest first
func (s *RedisStore) History(ctx context.Context, userID string) ([]models.Job, error) {
	items, err := s.client.LRange(ctx, s.historyKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history for user %s: %w", userID, err)
	}

	jobs := make([]models.Job, 0, len(items))
	for _, item := range items {
		var job models.Job
		if err := json.Unmarshal([]byte(item), &job); err != nil {
			return nil, fmt.Errorf("failed to unmarshal archived job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
