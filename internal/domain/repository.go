package domain

import (
	"context"
	"time"
)

// JobRepository persists image jobs.
//
// UpdateStatus writes unconditionally (last writer wins). TransitionStatus is
// the conditional form: it applies only while the current status is one of
// from and returns ErrConflict otherwise, which makes it usable as an atomic
// claim.
type JobRepository interface {
	Create(ctx context.Context, ownerID, originalImageRef string) (*ImageJob, error)
	Get(ctx context.Context, id string) (*ImageJob, error)
	UpdateStatus(ctx context.Context, id string, status JobStatus, patch JobPatch) error
	TransitionStatus(ctx context.Context, id string, from []JobStatus, to JobStatus, patch JobPatch) (*ImageJob, error)
	ListByStatus(ctx context.Context, status JobStatus, limit int) ([]ImageJob, error)
	ListByOwner(ctx context.Context, ownerID string) ([]ImageJob, error)
	ListStale(ctx context.Context, status JobStatus, updatedBefore time.Time, limit int) ([]ImageJob, error)
	Delete(ctx context.Context, id string) error
}
