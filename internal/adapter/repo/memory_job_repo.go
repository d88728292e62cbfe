package repo

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"toonify/internal/domain"
)

// MemoryJobRepository keeps jobs in process memory. It backs JOB_STORE=memory
// for local runs and doubles as the fake in service and handler tests.
type MemoryJobRepository struct {
	mu   sync.Mutex
	jobs map[string]domain.ImageJob
	now  func() time.Time
}

// NewMemoryJobRepository returns an empty repository.
func NewMemoryJobRepository() *MemoryJobRepository {
	return &MemoryJobRepository{jobs: make(map[string]domain.ImageJob), now: time.Now}
}

// SetClock replaces the timestamp source.
func (r *MemoryJobRepository) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

func (r *MemoryJobRepository) Create(ctx context.Context, ownerID, originalImageRef string) (*domain.ImageJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now().UTC()
	job := domain.ImageJob{
		ID:               uuid.NewString(),
		OwnerID:          ownerID,
		OriginalImageRef: originalImageRef,
		QualityTier:      domain.QualityRegular,
		Status:           domain.JobStatusNotToonified,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	r.jobs[job.ID] = job
	return &job, nil
}

func (r *MemoryJobRepository) Get(ctx context.Context, id string) (*domain.ImageJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &job, nil
}

func (r *MemoryJobRepository) UpdateStatus(ctx context.Context, id string, status domain.JobStatus, patch domain.JobPatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := domain.ValidateCompletion(status, patch); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	r.apply(&job, status, patch)
	return nil
}

func (r *MemoryJobRepository) TransitionStatus(ctx context.Context, id string, from []domain.JobStatus, to domain.JobStatus, patch domain.JobPatch) (*domain.ImageJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := domain.ValidateCompletion(to, patch); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if !slices.Contains(from, job.Status) {
		return nil, fmt.Errorf("%w: job %s is %s", domain.ErrConflict, id, job.Status)
	}
	r.apply(&job, to, patch)
	return &job, nil
}

func (r *MemoryJobRepository) ListByStatus(ctx context.Context, status domain.JobStatus, limit int) ([]domain.ImageJob, error) {
	return r.filter(ctx, func(j domain.ImageJob) bool { return j.Status == status }, byCreatedAsc, limit)
}

func (r *MemoryJobRepository) ListByOwner(ctx context.Context, ownerID string) ([]domain.ImageJob, error) {
	return r.filter(ctx, func(j domain.ImageJob) bool { return j.OwnerID == ownerID }, byCreatedDesc, 0)
}

func (r *MemoryJobRepository) ListStale(ctx context.Context, status domain.JobStatus, updatedBefore time.Time, limit int) ([]domain.ImageJob, error) {
	return r.filter(ctx, func(j domain.ImageJob) bool {
		return j.Status == status && j.UpdatedAt.Before(updatedBefore)
	}, byCreatedAsc, limit)
}

func (r *MemoryJobRepository) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.jobs, id)
	return nil
}

// apply must be called with mu held.
func (r *MemoryJobRepository) apply(job *domain.ImageJob, status domain.JobStatus, patch domain.JobPatch) {
	patch.Apply(job, status)
	job.UpdatedAt = r.now().UTC()
	r.jobs[job.ID] = *job
}

func (r *MemoryJobRepository) filter(ctx context.Context, keep func(domain.ImageJob) bool, less func(a, b domain.ImageJob) bool, limit int) ([]domain.ImageJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	var out []domain.ImageJob
	for _, j := range r.jobs {
		if keep(j) {
			out = append(out, j)
		}
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, k int) bool { return less(out[i], out[k]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func byCreatedAsc(a, b domain.ImageJob) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID < b.ID
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func byCreatedDesc(a, b domain.ImageJob) bool {
	return byCreatedAsc(b, a)
}

var _ domain.JobRepository = (*MemoryJobRepository)(nil)
