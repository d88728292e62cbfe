package payments

import (
	"context"
	"errors"
	"testing"

	"toonify/internal/domain"
)

func TestConfirmReturnQueuesJob(t *testing.T) {
	svc, r := newJobs(t)
	ctx := context.Background()
	job, _ := r.Create(ctx, "user-1", "user-1/a.png")

	confirm := NewConfirmation(svc, nil, nil)
	got, err := confirm.ConfirmReturn(ctx, "cs_1", job.ID)
	if err != nil {
		t.Fatalf("ConfirmReturn: %v", err)
	}
	if got.Status != domain.JobStatusInQueue || got.PaymentStatus != domain.PaymentStatusCompleted || got.PaymentSessionRef != "cs_1" {
		t.Fatalf("unexpected job %+v", got)
	}

	again, err := confirm.ConfirmReturn(ctx, "cs_1", job.ID)
	if err != nil || again.Status != domain.JobStatusInQueue {
		t.Fatalf("replay = %+v %v", again, err)
	}

	if _, err := confirm.ConfirmReturn(ctx, "", job.ID); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("got %v want ErrInvalidInput", err)
	}
}

func TestConfirmReturnVerifiesSession(t *testing.T) {
	svc, r := newJobs(t)
	ctx := context.Background()
	job, _ := r.Create(ctx, "user-1", "user-1/a.png")
	provider := &fakeProvider{sessions: map[string]*Session{
		"cs_unpaid": {ID: "cs_unpaid", PaymentStatus: "unpaid", Metadata: map[string]string{"imageId": job.ID}},
		"cs_other":  {ID: "cs_other", PaymentStatus: "paid", Metadata: map[string]string{"imageId": "other"}},
		"cs_paid":   {ID: "cs_paid", PaymentStatus: "paid", Metadata: map[string]string{"imageId": job.ID}},
	}}
	confirm := NewConfirmation(svc, provider, nil)

	if _, err := confirm.ConfirmReturn(ctx, "cs_unpaid", job.ID); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("unpaid got %v want ErrConflict", err)
	}
	if _, err := confirm.ConfirmReturn(ctx, "cs_other", job.ID); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("mismatch got %v want ErrInvalidInput", err)
	}
	current, _ := r.Get(ctx, job.ID)
	if current.Status != domain.JobStatusNotToonified {
		t.Fatalf("job changed by rejected confirmation: %s", current.Status)
	}
	got, err := confirm.ConfirmReturn(ctx, "cs_paid", job.ID)
	if err != nil || got.Status != domain.JobStatusInQueue {
		t.Fatalf("paid = %+v %v", got, err)
	}
}

func TestHandleWebhook(t *testing.T) {
	svc, r := newJobs(t)
	ctx := context.Background()
	job, _ := r.Create(ctx, "user-1", "user-1/a.png")
	provider := &fakeProvider{webhook: &Session{ID: "cs_9", PaymentStatus: "paid", Metadata: map[string]string{"imageId": job.ID}}}
	confirm := NewConfirmation(svc, provider, nil)

	if _, err := confirm.HandleWebhook(ctx, []byte("{}"), "forged"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("got %v want ErrUnauthorized", err)
	}
	got, err := confirm.HandleWebhook(ctx, []byte("{}"), "valid")
	if err != nil || got == nil || got.Status != domain.JobStatusInQueue {
		t.Fatalf("HandleWebhook = %+v %v", got, err)
	}

	provider.webhook = nil
	if got, err := confirm.HandleWebhook(ctx, []byte("{}"), "valid"); err != nil || got != nil {
		t.Fatalf("ignored event = %+v %v", got, err)
	}
	if _, err := NewConfirmation(svc, nil, nil).HandleWebhook(ctx, nil, ""); !errors.Is(err, domain.ErrConfigMissing) {
		t.Fatalf("got %v want ErrConfigMissing", err)
	}
}
