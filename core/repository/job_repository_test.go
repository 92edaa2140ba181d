package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"hattivatti/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func manifest(id string) []byte {
	return []byte(fmt.Sprintf(`{"pipeline_param": {"id": %q, "nxf_work": "/work"}}`, id))
}

func openTestDB(t *testing.T, path string) *DB {
	t.Helper()
	db, err := Open(context.Background(), path, config.DiscardLogger())
	require.NoError(t, err)
	return db
}

func newTestRepo(t *testing.T) (*JobRepository, *DB) {
	t.Helper()
	db := openTestDB(t, filepath.Join(t.TempDir(), "hattivatti.db"))
	t.Cleanup(func() { db.Close() })
	return NewJobRepository(db), db
}

func TestOpen_CreatesSchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "hattivatti.db")

	db := openTestDB(t, path)
	require.NoError(t, db.Finalize(ctx, true))
	require.NoError(t, db.Close())

	_, err := os.Stat(path)
	require.NoError(t, err)

	// Schema application is idempotent
	db = openTestDB(t, path)
	defer db.Close()
	jobs, err := NewJobRepository(db).ListJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestIngest(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)

	id, err := repo.Ingest(ctx, manifest("INT_0001"), true)
	require.NoError(t, err)
	assert.Positive(t, id)

	job, err := repo.GetJob(ctx, "INT_0001")
	require.NoError(t, err)
	require.NotNil(t, job.InterveneID)
	assert.Equal(t, "INT_0001", *job.InterveneID)
	assert.Equal(t, manifest("INT_0001"), job.Manifest)
	assert.True(t, job.Valid)
	assert.False(t, job.Staged)
	assert.False(t, job.Submitted)
	assert.Nil(t, job.SlurmID)
	assert.False(t, job.InsertedAt.IsZero())
}

func TestIngest_Duplicate(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)

	_, err := repo.Ingest(ctx, manifest("INT_0001"), true)
	require.NoError(t, err)

	_, err = repo.Ingest(ctx, manifest("INT_0001"), false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateJob))

	jobs, err := repo.ListJobs(ctx)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestIngest_UnparseableManifest(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)

	// Rows without an intervene ID never collide
	_, err := repo.Ingest(ctx, []byte(`not json`), false)
	require.NoError(t, err)
	_, err = repo.Ingest(ctx, []byte(`not json`), false)
	require.NoError(t, err)
	_, err = repo.Ingest(ctx, []byte(`{"other": 1}`), false)
	require.NoError(t, err)

	jobs, err := repo.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	for _, job := range jobs {
		assert.Nil(t, job.InterveneID)
		assert.False(t, job.Valid)
	}
}

func TestValidJobs(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)

	for _, tc := range []struct {
		id    string
		valid bool
	}{
		{"INT_0003", true},
		{"INT_0001", false},
		{"INT_0002", true},
		{"INT_0004", true},
	} {
		_, err := repo.Ingest(ctx, manifest(tc.id), tc.valid)
		require.NoError(t, err)
	}

	// INT_0002 is fully submitted, INT_0004 is staged but was never accepted
	require.NoError(t, repo.MarkStaged(ctx, "INT_0002"))
	require.NoError(t, repo.MarkSubmitted(ctx, "INT_0002"))
	require.NoError(t, repo.MarkStaged(ctx, "INT_0004"))

	jobs, err := repo.ValidJobs(ctx)
	require.NoError(t, err)

	var ids []string
	for _, job := range jobs {
		assert.True(t, job.Valid)
		assert.False(t, job.Submitted)
		ids = append(ids, *job.InterveneID)
	}
	assert.Equal(t, []string{"INT_0003", "INT_0004"}, ids, "insertion order, submitted and invalid excluded")
}

func TestStateTransitions(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)

	_, err := repo.Ingest(ctx, manifest("INT_0001"), true)
	require.NoError(t, err)

	require.NoError(t, repo.MarkStaged(ctx, "INT_0001"))
	require.NoError(t, repo.MarkStaged(ctx, "INT_0001"), "marking twice is a no-op")
	require.NoError(t, repo.MarkSubmitted(ctx, "INT_0001"))
	require.NoError(t, repo.MarkSubmitted(ctx, "INT_0001"))
	require.NoError(t, repo.SetSlurmID(ctx, "INT_0001", "12345"))
	require.NoError(t, repo.SetSlurmID(ctx, "INT_0001", "12345"))

	job, err := repo.GetJob(ctx, "INT_0001")
	require.NoError(t, err)
	assert.True(t, job.Staged)
	assert.True(t, job.Submitted)
	require.NotNil(t, job.SlurmID)
	assert.Equal(t, "12345", *job.SlurmID)
}

func TestStateTransitions_Unknown(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)

	assert.True(t, errors.Is(repo.MarkStaged(ctx, "INT_9999"), ErrJobNotFound))
	assert.True(t, errors.Is(repo.MarkSubmitted(ctx, "INT_9999"), ErrJobNotFound))
	assert.True(t, errors.Is(repo.SetSlurmID(ctx, "INT_9999", "1"), ErrJobNotFound))

	_, err := repo.GetJob(ctx, "INT_9999")
	assert.True(t, errors.Is(err, ErrJobNotFound))
}

func TestStateInvariants(t *testing.T) {
	ctx := context.Background()
	repo, db := newTestRepo(t)

	_, err := repo.Ingest(ctx, manifest("INT_INVALID"), false)
	require.NoError(t, err)
	_, err = repo.Ingest(ctx, manifest("INT_VALID"), true)
	require.NoError(t, err)

	assert.Error(t, repo.MarkStaged(ctx, "INT_INVALID"), "staged requires valid")
	assert.Error(t, repo.MarkSubmitted(ctx, "INT_VALID"), "submitted requires staged")
	assert.Error(t, repo.SetSlurmID(ctx, "INT_VALID", "1"), "slurm id requires submitted")

	require.NoError(t, repo.MarkStaged(ctx, "INT_VALID"))
	_, err = db.ExecContext(ctx, `UPDATE job SET staged = 0 WHERE intervene_id = 'INT_VALID'`)
	assert.Error(t, err, "state flags are monotone")
	_, err = db.ExecContext(ctx, `UPDATE job SET manifest = '{}' WHERE intervene_id = 'INT_VALID'`)
	assert.Error(t, err, "manifest is immutable")
}

func TestFinalize_DryRunDiscardsChanges(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "hattivatti.db")

	db := openTestDB(t, path)
	require.NoError(t, db.Finalize(ctx, false))
	require.NoError(t, db.Close())
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	db = openTestDB(t, path)
	repo := NewJobRepository(db)
	_, err = repo.Ingest(ctx, manifest("INT_0001"), true)
	require.NoError(t, err)
	require.NoError(t, repo.MarkStaged(ctx, "INT_0001"))
	require.NoError(t, db.Finalize(ctx, true))
	assert.True(t, errors.Is(db.Finalize(ctx, true), ErrFinalized))
	require.NoError(t, db.Close())

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after, "store file unchanged by a dry run")

	db = openTestDB(t, path)
	defer db.Close()
	jobs, err := NewJobRepository(db).ListJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestFinalize_ReleaseIsDurable(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "hattivatti.db")

	db := openTestDB(t, path)
	_, err := NewJobRepository(db).Ingest(ctx, manifest("INT_0001"), true)
	require.NoError(t, err)
	require.NoError(t, db.Finalize(ctx, false))
	require.NoError(t, db.Close())

	db = openTestDB(t, path)
	defer db.Close()
	job, err := NewJobRepository(db).GetJob(ctx, "INT_0001")
	require.NoError(t, err)
	assert.True(t, job.Valid)
}

func TestClose_WithoutFinalizeDiscardsChanges(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "hattivatti.db")

	db := openTestDB(t, path)
	_, err := NewJobRepository(db).Ingest(ctx, manifest("INT_0001"), true)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db = openTestDB(t, path)
	defer db.Close()
	jobs, err := NewJobRepository(db).ListJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestCheckpoint_SurvivesAbort(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "hattivatti.db")

	db := openTestDB(t, path)
	repo := NewJobRepository(db)
	_, err := repo.Ingest(ctx, manifest("INT_0001"), true)
	require.NoError(t, err)
	require.NoError(t, db.Checkpoint(ctx))

	_, err = repo.Ingest(ctx, manifest("INT_0002"), true)
	require.NoError(t, err)
	require.NoError(t, db.Close(), "closing without finalize aborts the run")

	db = openTestDB(t, path)
	defer db.Close()
	jobs, err := NewJobRepository(db).ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1, "only rows before the checkpoint are durable")
	assert.Equal(t, "INT_0001", *jobs[0].InterveneID)
}

func TestCheckpoint_DryRunStillDiscardsLaterChanges(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "hattivatti.db")

	db := openTestDB(t, path)
	repo := NewJobRepository(db)
	_, err := repo.Ingest(ctx, manifest("INT_0001"), true)
	require.NoError(t, err)
	require.NoError(t, db.Checkpoint(ctx))
	require.NoError(t, repo.MarkStaged(ctx, "INT_0001"))
	require.NoError(t, db.Finalize(ctx, true))
	assert.True(t, errors.Is(db.Checkpoint(ctx), ErrFinalized))
	require.NoError(t, db.Close())

	db = openTestDB(t, path)
	defer db.Close()
	job, err := NewJobRepository(db).GetJob(ctx, "INT_0001")
	require.NoError(t, err)
	assert.False(t, job.Staged)
}
