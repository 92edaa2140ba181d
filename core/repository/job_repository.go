package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"hattivatti/core/models"

	"github.com/mattn/go-sqlite3"
)

var (
	// ErrDuplicateJob is returned when a manifest with an already stored intervene ID is ingested
	ErrDuplicateJob = errors.New("job with this intervene ID already exists")

	// ErrJobNotFound is returned when an update targets an unknown intervene ID
	ErrJobNotFound = errors.New("job not found")
)

const jobColumns = `id, manifest, intervene_id, valid, staged, submitted, slurm_id, inserted_at`

// JobRepository handles database operations for jobs
type JobRepository struct {
	db *DB
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

// Ingest stores a message manifest with its validation verdict and returns the new row id.
// The intervene ID is projected from the manifest by the schema; duplicates fail here.
func (r *JobRepository) Ingest(ctx context.Context, manifest []byte, valid bool) (int64, error) {
	query := `INSERT INTO job (manifest, valid) VALUES (?, ?)`

	result, err := r.db.ExecContext(ctx, query, string(manifest), valid)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return 0, fmt.Errorf("%w: %v", ErrDuplicateJob, err)
		}
		return 0, fmt.Errorf("failed to insert job: %w", err)
	}

	return result.LastInsertId()
}

// ValidJobs returns valid jobs that were not accepted by the scheduler yet, in insertion order
func (r *JobRepository) ValidJobs(ctx context.Context) ([]models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM job WHERE valid = 1 AND submitted = 0 ORDER BY id`
	return r.queryJobs(ctx, query)
}

// ListJobs returns every stored job in insertion order
func (r *JobRepository) ListJobs(ctx context.Context) ([]models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM job ORDER BY id`
	return r.queryJobs(ctx, query)
}

// GetJob retrieves a job by intervene ID
func (r *JobRepository) GetJob(ctx context.Context, interveneID string) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM job WHERE intervene_id = ?`

	job, err := scanJob(r.db.QueryRowContext(ctx, query, interveneID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, interveneID)
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// MarkStaged records that the job bundle has been written
func (r *JobRepository) MarkStaged(ctx context.Context, interveneID string) error {
	return r.setState(ctx, interveneID, models.JobStateStaged)
}

// MarkSubmitted records that the scheduler accepted the job
func (r *JobRepository) MarkSubmitted(ctx context.Context, interveneID string) error {
	return r.setState(ctx, interveneID, models.JobStateSubmitted)
}

// SetSlurmID stores the scheduler job id
func (r *JobRepository) SetSlurmID(ctx context.Context, interveneID, slurmID string) error {
	query := `UPDATE job SET slurm_id = ? WHERE intervene_id = ?`

	result, err := r.db.ExecContext(ctx, query, slurmID, interveneID)
	if err != nil {
		return fmt.Errorf("failed to set slurm id for %s: %w", interveneID, err)
	}
	return requireRow(result, interveneID)
}

// setState sets one state column to true. Setting a column that is already true is a no-op.
func (r *JobRepository) setState(ctx context.Context, interveneID string, state models.JobState) error {
	var query string
	switch state {
	case models.JobStateStaged:
		query = `UPDATE job SET staged = 1 WHERE intervene_id = ?`
	case models.JobStateSubmitted:
		query = `UPDATE job SET submitted = 1 WHERE intervene_id = ?`
	default:
		return fmt.Errorf("unknown job state %q", state)
	}

	result, err := r.db.ExecContext(ctx, query, interveneID)
	if err != nil {
		return fmt.Errorf("failed to update %s with state %s: %w", interveneID, state, err)
	}
	return requireRow(result, interveneID)
}

func requireRow(result sql.Result, interveneID string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, interveneID)
	}
	return nil
}

func (r *JobRepository) queryJobs(ctx context.Context, query string, args ...interface{}) ([]models.Job, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read jobs: %w", err)
	}

	return jobs, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row scanner) (*models.Job, error) {
	var job models.Job
	var manifest string
	var interveneID sql.NullString
	var slurmID sql.NullString

	err := row.Scan(
		&job.RowID,
		&manifest,
		&interveneID,
		&job.Valid,
		&job.Staged,
		&job.Submitted,
		&slurmID,
		&job.InsertedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Manifest = []byte(manifest)
	if interveneID.Valid {
		job.InterveneID = &interveneID.String
	}
	if slurmID.Valid {
		job.SlurmID = &slurmID.String
	}

	return &job, nil
}
