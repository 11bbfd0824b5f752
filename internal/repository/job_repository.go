package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/buildgen/internal/models"
)

type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, project_id, user_id, kind, prompt, status, cost, refunded, COALESCE(error, ''), created_at, updated_at`

func scanJob(row interface{ Scan(...any) error }) (*models.GenerationJob, error) {
	var (
		j        models.GenerationJob
		refunded int
	)
	if err := row.Scan(&j.ID, &j.ProjectID, &j.UserID, &j.Kind, &j.Prompt, &j.Status, &j.Cost, &refunded, &j.Error, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.Refunded = refunded != 0
	return &j, nil
}

func (r *JobRepository) Create(ctx context.Context, job *models.GenerationJob) error {
	const query = `
INSERT INTO generation_jobs (id, project_id, user_id, kind, prompt, status, cost)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := querier(ctx, r.db).ExecContext(ctx, query, job.ID, job.ProjectID, job.UserID, job.Kind, job.Prompt, job.Status, job.Cost); err != nil {
		return fmt.Errorf("insert generation job: %w", err)
	}
	return nil
}

func (r *JobRepository) Get(ctx context.Context, id string) (*models.GenerationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM generation_jobs WHERE id = ?`
	j, err := scanJob(querier(ctx, r.db).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get generation job: %w", err)
	}
	return j, nil
}

// Claim moves a pending job to running. It reports false when another worker got there first
// or the job is no longer pending.
func (r *JobRepository) Claim(ctx context.Context, id string) (bool, error) {
	const query = `UPDATE generation_jobs SET status = ? WHERE id = ? AND status = ?`
	res, err := querier(ctx, r.db).ExecContext(ctx, query, models.JobStatusRunning, id, models.JobStatusPending)
	if err != nil {
		return false, fmt.Errorf("claim generation job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim rows affected: %w", err)
	}
	return affected > 0, nil
}

// Finish moves a running job to its terminal status. It reports false when the job was
// no longer running, for example because another instance already settled it.
func (r *JobRepository) Finish(ctx context.Context, id string, status models.JobStatus, refunded bool, errMsg string) (bool, error) {
	const query = `UPDATE generation_jobs SET status = ?, refunded = ?, error = NULLIF(?, '') WHERE id = ? AND status = ?`
	res, err := querier(ctx, r.db).ExecContext(ctx, query, status, boolToInt(refunded), errMsg, id, models.JobStatusRunning)
	if err != nil {
		return false, fmt.Errorf("finish generation job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("finish rows affected: %w", err)
	}
	return affected > 0, nil
}

// Release hands a claimed job back to the queue.
func (r *JobRepository) Release(ctx context.Context, id string) error {
	const query = `UPDATE generation_jobs SET status = ? WHERE id = ? AND status = ?`
	if _, err := querier(ctx, r.db).ExecContext(ctx, query, models.JobStatusPending, id, models.JobStatusRunning); err != nil {
		return fmt.Errorf("release generation job: %w", err)
	}
	return nil
}

func (r *JobRepository) ListByStatus(ctx context.Context, status models.JobStatus, limit int) ([]models.GenerationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM generation_jobs WHERE status = ? ORDER BY created_at ASC LIMIT ?`
	rows, err := querier(ctx, r.db).QueryContext(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list generation jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]models.GenerationJob, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan generation job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// HasActive reports whether the project has a pending or running job.
func (r *JobRepository) HasActive(ctx context.Context, projectID string) (bool, error) {
	const query = `SELECT COUNT(*) FROM generation_jobs WHERE project_id = ? AND status IN (?, ?)`
	var count int
	if err := querier(ctx, r.db).QueryRowContext(ctx, query, projectID, models.JobStatusPending, models.JobStatusRunning).Scan(&count); err != nil {
		return false, fmt.Errorf("count active jobs: %w", err)
	}
	return count > 0, nil
}
