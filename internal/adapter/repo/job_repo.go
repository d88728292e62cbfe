package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"toonify/internal/domain"
	"toonify/internal/infra"
	"toonify/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobRepository on the user_images table.
type JobRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewJobRepository creates a job repository backed by PostgreSQL.
func NewJobRepository(sql infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{sql: sql}
}

// Create inserts a job in not_toonified with the regular tier.
func (r *JobRepositoryPG) Create(ctx context.Context, ownerID, originalImageRef string) (*domain.ImageJob, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QInsertJob, uuid.NewString(), ownerID, originalImageRef)
	job, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

// Get fetches a job by id. Malformed ids are reported as not found.
func (r *JobRepositoryPG) Get(ctx context.Context, id string) (*domain.ImageJob, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}
	job, err := scanJob(r.sql.QueryRow(ctx, sqlinline.QSelectJob, id))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("select job: %w", err)
	}
	return job, nil
}

// UpdateStatus sets status and merges patch fields regardless of the current status.
func (r *JobRepositoryPG) UpdateStatus(ctx context.Context, id string, status domain.JobStatus, patch domain.JobPatch) error {
	if err := domain.ValidateCompletion(status, patch); err != nil {
		return err
	}
	if _, err := uuid.Parse(id); err != nil {
		return domain.ErrNotFound
	}
	args := append([]any{id, string(status)}, patchArgs(patch)...)
	tag, err := r.sql.Exec(ctx, sqlinline.QUpdateJobStatus, args...)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// TransitionStatus applies the update only while the job is in one of from.
func (r *JobRepositoryPG) TransitionStatus(ctx context.Context, id string, from []domain.JobStatus, to domain.JobStatus, patch domain.JobPatch) (*domain.ImageJob, error) {
	if err := domain.ValidateCompletion(to, patch); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}
	allowed := make([]string, 0, len(from))
	for _, s := range from {
		allowed = append(allowed, string(s))
	}
	args := append([]any{id, string(to)}, patchArgs(patch)...)
	args = append(args, allowed)
	job, err := scanJob(r.sql.QueryRow(ctx, sqlinline.QTransitionJobStatus, args...))
	if err == nil {
		return job, nil
	}
	if !infra.IsNoRows(err) {
		return nil, fmt.Errorf("transition job status: %w", err)
	}
	current, getErr := r.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("%w: job %s is %s", domain.ErrConflict, id, current.Status)
}

func (r *JobRepositoryPG) ListByStatus(ctx context.Context, status domain.JobStatus, limit int) ([]domain.ImageJob, error) {
	return r.list(ctx, sqlinline.QSelectJobsByStatus, string(status), limit)
}

func (r *JobRepositoryPG) ListByOwner(ctx context.Context, ownerID string) ([]domain.ImageJob, error) {
	return r.list(ctx, sqlinline.QSelectJobsByOwner, ownerID)
}

func (r *JobRepositoryPG) ListStale(ctx context.Context, status domain.JobStatus, updatedBefore time.Time, limit int) ([]domain.ImageJob, error) {
	return r.list(ctx, sqlinline.QSelectStaleJobs, string(status), updatedBefore, limit)
}

// Delete removes the row. Blob cleanup is the caller's job.
func (r *JobRepositoryPG) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return domain.ErrNotFound
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QDeleteJob, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *JobRepositoryPG) list(ctx context.Context, query string, args ...any) ([]domain.ImageJob, error) {
	rows, err := r.sql.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	var jobs []domain.ImageJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

func patchArgs(p domain.JobPatch) []any {
	var tier *string
	if p.QualityTier != nil {
		v := string(*p.QualityTier)
		tier = &v
	}
	return []any{tier, p.PaymentSessionRef, p.PaymentStatus, p.ToonifiedImageRef}
}

func scanJob(row pgx.Row) (*domain.ImageJob, error) {
	var (
		job           domain.ImageJob
		toonified     *string
		sessionRef    *string
		paymentStatus *string
		tier, status  string
	)
	if err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&job.OriginalImageRef,
		&toonified,
		&tier,
		&status,
		&sessionRef,
		&paymentStatus,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.QualityTier = domain.QualityTier(tier)
	job.Status = domain.JobStatus(status)
	job.ToonifiedImageRef = deref(toonified)
	job.PaymentSessionRef = deref(sessionRef)
	job.PaymentStatus = deref(paymentStatus)
	return &job, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
