package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiprojectops/youtube-shorts-generator/pkg/models"
)

type execCall struct {
	sql  string
	args []any
}

type fakeQuerier struct {
	execs    []execCall
	queryErr error
}

func (f *fakeQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, execCall{sql: sql, args: args})
	return pgconn.CommandTag{}, nil
}

func (f *fakeQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, f.queryErr
}

func TestPostgresStoreSaveUpserts(t *testing.T) {
	db := &fakeQuerier{}
	s := NewPostgresStore(db, nil)

	jobs := sampleJobs("u1")
	require.NoError(t, s.Save(context.Background(), "u1", jobs))
	require.Len(t, db.execs, 1)
	assert.Contains(t, db.execs[0].sql, "ON CONFLICT (user_id)")
	assert.Equal(t, "u1", db.execs[0].args[0])
	assert.Equal(t, SchemaVersion, db.execs[0].args[1])

	var saved []models.Job
	require.NoError(t, json.Unmarshal(db.execs[0].args[2].([]byte), &saved))
	assert.Equal(t, jobs, saved)
}

func TestPostgresStoreSaveEmptyDeletes(t *testing.T) {
	db := &fakeQuerier{}
	s := NewPostgresStore(db, nil)

	require.NoError(t, s.Save(context.Background(), "u1", nil))
	require.Len(t, db.execs, 1)
	assert.Contains(t, db.execs[0].sql, "DELETE FROM queue_snapshots")
}

func TestPostgresStoreArchive(t *testing.T) {
	db := &fakeQuerier{}
	s := NewPostgresStore(db, nil)

	require.NoError(t, s.Archive(context.Background(), "u1", sampleJobs("u1")))
	require.Len(t, db.execs, 3)
	assert.Equal(t, "job-3", db.execs[2].args[0])
	assert.Equal(t, "completed", db.execs[2].args[2])
}

func TestPostgresStoreLoadError(t *testing.T) {
	s := NewPostgresStore(&fakeQuerier{queryErr: errors.New("connection refused")}, nil)

	_, err := s.Load(context.Background())
	assert.Error(t, err)
}
