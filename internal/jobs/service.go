package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"toonify/internal/domain"
	"toonify/internal/infra"
	"toonify/internal/notify"
	"toonify/internal/storage"
)

// Service owns every status mutation of an image job. Handlers, the
// processing pipeline and the worker all go through it so that transitions
// stay on the job graph and each one emits a status event.
type Service struct {
	repo   domain.JobRepository
	store  storage.BlobStore
	events notify.Publisher
	logger *infra.Logger
	now    func() time.Time
}

func NewService(repo domain.JobRepository, store storage.BlobStore, events notify.Publisher, logger *infra.Logger) *Service {
	if events == nil {
		events = notify.Nop{}
	}
	if logger == nil {
		discard := zerolog.New(io.Discard)
		logger = &discard
	}
	return &Service{repo: repo, store: store, events: events, logger: logger, now: time.Now}
}

// Upload stores the original image under the owner's prefix and creates the
// job record. The blob is removed again if the record cannot be created.
func (s *Service) Upload(ctx context.Context, ownerID string, data []byte) (*domain.ImageJob, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, domain.ErrUnauthorized
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty upload", domain.ErrInvalidInput)
	}
	contentType := storage.DetectContentType("", data)
	if !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("%w: unsupported content type %s", domain.ErrInvalidInput, contentType)
	}

	key, err := storage.OriginalKey(ownerID, contentType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	ref, err := s.store.Put(ctx, key, data, contentType)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStorageFailed, err)
	}

	job, err := s.repo.Create(ctx, ownerID, ref)
	if err != nil {
		if delErr := s.store.Delete(context.WithoutCancel(ctx), key); delErr != nil {
			s.logger.Warn().Err(delErr).Str("key", key).Msg("jobs: remove orphaned upload")
		}
		return nil, fmt.Errorf("create job: %w", err)
	}
	s.logger.Info().Str("job_id", job.ID).Str("owner_id", ownerID).Msg("jobs: image uploaded")
	s.publish(ctx, job, "")
	return job, nil
}

func (s *Service) List(ctx context.Context, ownerID string) ([]domain.ImageJob, error) {
	return s.repo.ListByOwner(ctx, ownerID)
}

func (s *Service) Get(ctx context.Context, id string) (*domain.ImageJob, error) {
	return s.repo.Get(ctx, id)
}

// GetOwned returns the job only if ownerID owns it. Jobs of other owners are
// reported as not found.
func (s *Service) GetOwned(ctx context.Context, ownerID, id string) (*domain.ImageJob, error) {
	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != ownerID {
		return nil, domain.ErrNotFound
	}
	return job, nil
}

// SetQuality changes the tier while the job has not been paid for.
func (s *Service) SetQuality(ctx context.Context, ownerID, id string, tier domain.QualityTier) (*domain.ImageJob, error) {
	if _, err := s.GetOwned(ctx, ownerID, id); err != nil {
		return nil, err
	}
	job, err := s.repo.TransitionStatus(ctx, id,
		[]domain.JobStatus{domain.JobStatusNotToonified}, domain.JobStatusNotToonified,
		domain.JobPatch{QualityTier: &tier})
	if err != nil {
		return nil, fmt.Errorf("set quality: %w", err)
	}
	return job, nil
}

// Retry re-queues a failed job.
func (s *Service) Retry(ctx context.Context, ownerID, id string) (*domain.ImageJob, error) {
	if _, err := s.GetOwned(ctx, ownerID, id); err != nil {
		return nil, err
	}
	job, err := s.repo.TransitionStatus(ctx, id,
		[]domain.JobStatus{domain.JobStatusError}, domain.JobStatusInQueue, domain.JobPatch{})
	if err != nil {
		return nil, fmt.Errorf("retry: %w", err)
	}
	s.logger.Info().Str("job_id", id).Msg("jobs: retry queued")
	s.publish(ctx, job, "")
	return job, nil
}

// Delete removes the job's blobs and then the record.
func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	job, err := s.GetOwned(ctx, ownerID, id)
	if err != nil {
		return err
	}
	var keys []string
	for _, ref := range []string{job.OriginalImageRef, job.ToonifiedImageRef} {
		if ref == "" {
			continue
		}
		if key, ok := s.store.KeyFromRef(ref); ok {
			keys = append(keys, key)
		}
	}
	// An output stored before a failed completion has no ref on the job.
	keys = append(keys, storage.ToonifiedKeys(job.ID)...)
	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		if seen[key] {
			continue
		}
		seen[key] = true
		if err := s.store.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
			return fmt.Errorf("%w: %w", domain.ErrStorageFailed, err)
		}
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	s.logger.Info().Str("job_id", id).Msg("jobs: deleted")
	return nil
}

// AttachCheckout records the payment session and the selected tier. Only
// unpaid jobs accept a checkout.
func (s *Service) AttachCheckout(ctx context.Context, id string, tier domain.QualityTier, sessionRef string) (*domain.ImageJob, error) {
	job, err := s.repo.TransitionStatus(ctx, id,
		[]domain.JobStatus{domain.JobStatusNotToonified}, domain.JobStatusNotToonified,
		domain.JobPatch{QualityTier: &tier, PaymentSessionRef: &sessionRef})
	if err != nil {
		return nil, fmt.Errorf("attach checkout: %w", err)
	}
	return job, nil
}

// MarkPaid queues a job after payment confirmation. Replayed confirmations
// are acknowledged without touching jobs that already moved on; applied
// reports whether this call changed the job.
func (s *Service) MarkPaid(ctx context.Context, id, sessionRef string) (job *domain.ImageJob, applied bool, err error) {
	paid := domain.PaymentStatusCompleted
	patch := domain.JobPatch{PaymentStatus: &paid}
	if sessionRef = strings.TrimSpace(sessionRef); sessionRef != "" {
		patch.PaymentSessionRef = &sessionRef
	}

	job, err = s.repo.TransitionStatus(ctx, id,
		[]domain.JobStatus{domain.JobStatusNotToonified}, domain.JobStatusInQueue, patch)
	if err == nil {
		s.logger.Info().Str("job_id", id).Msg("jobs: payment confirmed, queued")
		s.publish(ctx, job, "")
		return job, true, nil
	}
	if !errors.Is(err, domain.ErrConflict) {
		return nil, false, fmt.Errorf("mark paid: %w", err)
	}

	current, getErr := s.repo.Get(ctx, id)
	if getErr != nil {
		return nil, false, fmt.Errorf("mark paid: %w", getErr)
	}
	s.logger.Info().
		Str("job_id", id).
		Str("status", string(current.Status)).
		Msg("jobs: duplicate payment confirmation ignored")
	return current, false, nil
}

// Claim moves a queued job to processing. Only one caller can win the claim.
func (s *Service) Claim(ctx context.Context, id string) (*domain.ImageJob, error) {
	job, err := s.repo.TransitionStatus(ctx, id,
		[]domain.JobStatus{domain.JobStatusInQueue}, domain.JobStatusProcessing, domain.JobPatch{})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("%w: job is not queued", err)
		}
		return nil, err
	}
	s.publish(ctx, job, "")
	return job, nil
}

// Complete records the output reference of a processing job.
func (s *Service) Complete(ctx context.Context, id, toonifiedRef string) (*domain.ImageJob, error) {
	job, err := s.repo.TransitionStatus(ctx, id,
		[]domain.JobStatus{domain.JobStatusProcessing}, domain.JobStatusComplete,
		domain.JobPatch{ToonifiedImageRef: &toonifiedRef})
	if err != nil {
		return nil, fmt.Errorf("complete: %w", err)
	}
	s.logger.Info().Str("job_id", id).Str("toonified_ref", toonifiedRef).Msg("jobs: complete")
	s.publish(ctx, job, "")
	return job, nil
}

// Fail moves a processing job to error.
func (s *Service) Fail(ctx context.Context, id, reason string) error {
	job, err := s.repo.TransitionStatus(ctx, id,
		[]domain.JobStatus{domain.JobStatusProcessing}, domain.JobStatusError, domain.JobPatch{})
	if err != nil {
		return fmt.Errorf("fail: %w", err)
	}
	s.publish(ctx, job, reason)
	return nil
}

// NextQueued returns the oldest queued job, or nil when the queue is empty.
func (s *Service) NextQueued(ctx context.Context) (*domain.ImageJob, error) {
	queued, err := s.repo.ListByStatus(ctx, domain.JobStatusInQueue, 1)
	if err != nil {
		return nil, err
	}
	if len(queued) == 0 {
		return nil, nil
	}
	return &queued[0], nil
}

// ReapStale fails jobs that have been processing for longer than maxAge.
func (s *Service) ReapStale(ctx context.Context, maxAge time.Duration, limit int) (int, error) {
	stale, err := s.repo.ListStale(ctx, domain.JobStatusProcessing, s.now().Add(-maxAge), limit)
	if err != nil {
		return 0, fmt.Errorf("list stale jobs: %w", err)
	}
	reaped := 0
	for _, job := range stale {
		if err := s.Fail(ctx, job.ID, "processing timed out"); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				continue
			}
			return reaped, err
		}
		s.logger.Warn().Str("job_id", job.ID).Time("updated_at", job.UpdatedAt).Msg("jobs: stale processing job failed")
		reaped++
	}
	return reaped, nil
}

func (s *Service) publish(ctx context.Context, job *domain.ImageJob, errMsg string) {
	if err := s.events.Publish(ctx, notify.EventFor(job, errMsg)); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Str("status", string(job.Status)).Msg("jobs: publish status event")
	}
}
