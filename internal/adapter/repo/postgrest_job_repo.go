package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	postgrest "github.com/supabase-community/postgrest-go"

	"toonify/internal/domain"
)

const userImagesTable = "user_images"

// JobRepositoryPostgREST implements domain.JobRepository through the Supabase
// REST gateway, for deployments without direct database access.
type JobRepositoryPostgREST struct {
	client *postgrest.Client
	now    func() time.Time
}

// NewPostgRESTClient builds a service-role client for the project REST endpoint.
func NewPostgRESTClient(supabaseURL, serviceKey string) (*postgrest.Client, error) {
	client := postgrest.NewClient(supabaseURL+"/rest/v1", "", map[string]string{
		"apikey":        serviceKey,
		"Authorization": "Bearer " + serviceKey,
	})
	if client.ClientError != nil {
		return nil, fmt.Errorf("init postgrest client: %w", client.ClientError)
	}
	return client, nil
}

func NewJobRepositoryPostgREST(client *postgrest.Client) *JobRepositoryPostgREST {
	return &JobRepositoryPostgREST{client: client, now: time.Now}
}

type userImageRow struct {
	ID                  string    `json:"id"`
	UserID              string    `json:"user_id"`
	OriginalImagePath   string    `json:"original_image_path"`
	ToonifiedImagePath  *string   `json:"toonified_image_path"`
	QualityLevel        string    `json:"quality_level"`
	Status              string    `json:"status"`
	StripeSessionID     *string   `json:"stripe_session_id"`
	StripePaymentStatus *string   `json:"stripe_payment_status"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func (row userImageRow) toDomain() domain.ImageJob {
	return domain.ImageJob{
		ID:                row.ID,
		OwnerID:           row.UserID,
		OriginalImageRef:  row.OriginalImagePath,
		ToonifiedImageRef: deref(row.ToonifiedImagePath),
		QualityTier:       domain.QualityTier(row.QualityLevel),
		Status:            domain.JobStatus(row.Status),
		PaymentSessionRef: deref(row.StripeSessionID),
		PaymentStatus:     deref(row.StripePaymentStatus),
		CreatedAt:         row.CreatedAt,
		UpdatedAt:         row.UpdatedAt,
	}
}

func (r *JobRepositoryPostgREST) Create(ctx context.Context, ownerID, originalImageRef string) (*domain.ImageJob, error) {
	now := r.now().UTC()
	record := map[string]any{
		"id":                  uuid.NewString(),
		"user_id":             ownerID,
		"original_image_path": originalImageRef,
		"quality_level":       string(domain.QualityRegular),
		"status":              string(domain.JobStatusNotToonified),
		"created_at":          now,
		"updated_at":          now,
	}
	var rows []userImageRow
	if _, err := r.client.From(userImagesTable).Insert(record, false, "", "representation", "").ExecuteTo(&rows); err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("insert job: no row returned")
	}
	job := rows[0].toDomain()
	return &job, nil
}

func (r *JobRepositoryPostgREST) Get(ctx context.Context, id string) (*domain.ImageJob, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}
	var rows []userImageRow
	if _, err := r.client.From(userImagesTable).Select("*", "", false).Eq("id", id).ExecuteTo(&rows); err != nil {
		return nil, fmt.Errorf("select job: %w", err)
	}
	if len(rows) == 0 {
		return nil, domain.ErrNotFound
	}
	job := rows[0].toDomain()
	return &job, nil
}

func (r *JobRepositoryPostgREST) UpdateStatus(ctx context.Context, id string, status domain.JobStatus, patch domain.JobPatch) error {
	if err := domain.ValidateCompletion(status, patch); err != nil {
		return err
	}
	if _, err := uuid.Parse(id); err != nil {
		return domain.ErrNotFound
	}
	var rows []userImageRow
	if _, err := r.client.From(userImagesTable).
		Update(r.updateBody(status, patch), "representation", "").
		Eq("id", id).
		ExecuteTo(&rows); err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if len(rows) == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// TransitionStatus filters the PATCH on the current status so the gateway
// applies it atomically.
func (r *JobRepositoryPostgREST) TransitionStatus(ctx context.Context, id string, from []domain.JobStatus, to domain.JobStatus, patch domain.JobPatch) (*domain.ImageJob, error) {
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
	var rows []userImageRow
	if _, err := r.client.From(userImagesTable).
		Update(r.updateBody(to, patch), "representation", "").
		Eq("id", id).
		In("status", allowed).
		ExecuteTo(&rows); err != nil {
		return nil, fmt.Errorf("transition job status: %w", err)
	}
	if len(rows) > 0 {
		job := rows[0].toDomain()
		return &job, nil
	}
	current, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: job %s is %s", domain.ErrConflict, id, current.Status)
}

func (r *JobRepositoryPostgREST) ListByStatus(ctx context.Context, status domain.JobStatus, limit int) ([]domain.ImageJob, error) {
	var rows []userImageRow
	if _, err := r.client.From(userImagesTable).
		Select("*", "", false).
		Eq("status", string(status)).
		Order("created_at", &postgrest.OrderOpts{Ascending: true}).
		Limit(limit, "").
		ExecuteTo(&rows); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return toDomainJobs(rows), nil
}

func (r *JobRepositoryPostgREST) ListByOwner(ctx context.Context, ownerID string) ([]domain.ImageJob, error) {
	var rows []userImageRow
	if _, err := r.client.From(userImagesTable).
		Select("*", "", false).
		Eq("user_id", ownerID).
		Order("created_at", &postgrest.OrderOpts{Ascending: false}).
		ExecuteTo(&rows); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return toDomainJobs(rows), nil
}

func (r *JobRepositoryPostgREST) ListStale(ctx context.Context, status domain.JobStatus, updatedBefore time.Time, limit int) ([]domain.ImageJob, error) {
	var rows []userImageRow
	if _, err := r.client.From(userImagesTable).
		Select("*", "", false).
		Eq("status", string(status)).
		Lt("updated_at", updatedBefore.UTC().Format(time.RFC3339Nano)).
		Order("updated_at", &postgrest.OrderOpts{Ascending: true}).
		Limit(limit, "").
		ExecuteTo(&rows); err != nil {
		return nil, fmt.Errorf("list stale jobs: %w", err)
	}
	return toDomainJobs(rows), nil
}

func (r *JobRepositoryPostgREST) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return domain.ErrNotFound
	}
	var rows []userImageRow
	if _, err := r.client.From(userImagesTable).Delete("representation", "").Eq("id", id).ExecuteTo(&rows); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if len(rows) == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *JobRepositoryPostgREST) updateBody(status domain.JobStatus, patch domain.JobPatch) map[string]any {
	body := map[string]any{
		"status":     string(status),
		"updated_at": r.now().UTC(),
	}
	if patch.QualityTier != nil {
		body["quality_level"] = string(*patch.QualityTier)
	}
	if patch.PaymentSessionRef != nil {
		body["stripe_session_id"] = *patch.PaymentSessionRef
	}
	if patch.PaymentStatus != nil {
		body["stripe_payment_status"] = *patch.PaymentStatus
	}
	switch {
	case status != domain.JobStatusComplete:
		body["toonified_image_path"] = nil
	case patch.ToonifiedImageRef != nil:
		body["toonified_image_path"] = *patch.ToonifiedImageRef
	}
	return body
}

func toDomainJobs(rows []userImageRow) []domain.ImageJob {
	jobs := make([]domain.ImageJob, 0, len(rows))
	for _, row := range rows {
		jobs = append(jobs, row.toDomain())
	}
	return jobs
}

var _ domain.JobRepository = (*JobRepositoryPostgREST)(nil)
