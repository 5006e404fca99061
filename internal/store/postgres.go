package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/aiprojectops/youtube-shorts-generator/internal/logging"
	"github.com/aiprojectops/youtube-shorts-generator/pkg/models"
)

// Querier is the subset of pgxpool.Pool the Postgres store needs
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresStore keeps one row per user in queue_snapshots
type PostgresStore struct {
	db     Querier
	logger *logging.Logger
}

// NewPostgresStore creates a store on top of a pgx pool
func NewPostgresStore(db Querier, logger *logging.Logger) *PostgresStore {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &PostgresStore{db: db, logger: logger}
}

// Load reads every user's snapshot row
func (s *PostgresStore) Load(ctx context.Context) (map[string][]models.Job, error) {
	rows, err := s.db.Query(ctx, `SELECT user_id, jobs FROM queue_snapshots`)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue snapshots: %w", err)
	}
	defer rows.Close()

	queues := make(map[string][]models.Job)
	for rows.Next() {
		var (
			userID string
			data   []byte
		)
		if err := rows.Scan(&userID, &data); err != nil {
			s.logger.ErrorWithErr("Failed to scan queue snapshot", err)
			continue
		}

		var jobs []models.Job
		if err := json.Unmarshal(data, &jobs); err != nil {
			s.logger.WithUserID(userID).ErrorWithErr("Failed to decode queue snapshot", err)
			continue
		}
		if active := activeJobs(jobs); len(active) > 0 {
			queues[userID] = active
		}
	}
	if err := rows.Err(); err != nil {
		return queues, fmt.Errorf("failed to iterate queue snapshots: %w", err)
	}
	return queues, nil
}

// Save upserts the user's snapshot row. An empty queue deletes it.
func (s *PostgresStore) Save(ctx context.Context, userID string, jobs []models.Job) error {
	if len(jobs) == 0 {
		if _, err := s.db.Exec(ctx, `DELETE FROM queue_snapshots WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("failed to delete queue for user %s: %w", userID, err)
		}
		return nil
	}

	data, err := json.Marshal(jobs)
	if err != nil {
		return fmt.Errorf("failed to marshal queue for user %s: %w", userID, err)
	}

	query := `
		INSERT INTO queue_snapshots (user_id, schema_version, jobs, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET schema_version = EXCLUDED.schema_version,
		    jobs = EXCLUDED.jobs,
		    updated_at = NOW()
	`
	if _, err := s.db.Exec(ctx, query, userID, SchemaVersion, data); err != nil {
		return fmt.Errorf("failed to save queue for user %s: %w", userID, err)
	}
	return nil
}

// Archive inserts terminal jobs into job_history
func (s *PostgresStore) Archive(ctx context.Context, userID string, jobs []models.Job) error {
	query := `
		INSERT INTO job_history (job_id, user_id, status, payload)
		VALUES ($1, $2, $3, $4)
	`
	for _, job := range jobs {
		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
		}
		if _, err := s.db.Exec(ctx, query, job.ID, userID, string(job.Status), data); err != nil {
			return fmt.Errorf("failed to archive job %s: %w", job.ID, err)
		}
	}
	return nil
}
