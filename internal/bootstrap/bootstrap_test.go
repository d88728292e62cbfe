package bootstrap

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"toonify/internal/dispatcher"
	"toonify/internal/domain"
	"toonify/internal/infra"
	"toonify/internal/notify"
	"toonify/internal/payments"
	"toonify/internal/pipeline"
	"toonify/internal/storage"
)

func memoryConfig(t *testing.T) *infra.Config {
	t.Helper()
	return &infra.Config{
		AppEnv:                "test",
		PublicAppURL:          "https://app.example.com",
		JobStore:              infra.JobStoreMemory,
		StorageBackend:        infra.StorageFilesystem,
		StoragePath:           t.TempDir(),
		StorageBaseURL:        "http://localhost:8080/static",
		GenerationMaxAttempts: 3,
		DispatchMode:          infra.DispatchLocal,
	}
}

func paymentsStart(jobID string) payments.StartRequest {
	return payments.StartRequest{
		Caller: payments.Caller{UserID: "owner"},
		JobID:  jobID,
		Tier:   domain.QualityRegular,
	}
}

func TestNewMemoryContainer(t *testing.T) {
	ctx := context.Background()
	c, err := New(ctx, memoryConfig(t), zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer c.Close()

	if c.Pool != nil || c.Credentials != nil {
		t.Fatalf("no database expected without DATABASE_URL")
	}
	if _, ok := c.Events.(notify.Nop); !ok {
		t.Fatalf("events = %T, want notify.Nop", c.Events)
	}
	if _, ok := c.Store.(*storage.FileStore); !ok {
		t.Fatalf("store = %T, want *storage.FileStore", c.Store)
	}

	job, err := c.Jobs.Upload(ctx, "owner", []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if job.Status != domain.JobStatusNotToonified {
		t.Fatalf("status = %s", job.Status)
	}
}

func TestPaymentProviderUnconfigured(t *testing.T) {
	c, err := New(context.Background(), memoryConfig(t), zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer c.Close()

	provider := c.PaymentProvider(context.Background())
	if provider != nil {
		t.Fatalf("provider = %#v, want nil interface", provider)
	}
	job, err := c.Jobs.Upload(context.Background(), "owner", []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	checkout, _ := c.Payments(provider)
	_, err = checkout.Start(context.Background(), paymentsStart(job.ID))
	if !errors.Is(err, domain.ErrConfigMissing) {
		t.Fatalf("Start() err = %v, want ErrConfigMissing", err)
	}
}

func TestProcessorWithoutGeminiKeyFailsJob(t *testing.T) {
	ctx := context.Background()
	c, err := New(ctx, memoryConfig(t), zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer c.Close()

	job, err := c.Jobs.Upload(ctx, "owner", []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if _, _, err := c.Jobs.MarkPaid(ctx, job.ID, "cs_1"); err != nil {
		t.Fatalf("mark paid: %v", err)
	}

	invoker, err := c.Invoker(ctx)
	if err != nil {
		t.Fatalf("Invoker() error: %v", err)
	}
	if _, ok := invoker.(*pipeline.Processor); !ok {
		t.Fatalf("invoker = %T, want *pipeline.Processor", invoker)
	}
	if _, err := invoker.Process(ctx, job.ID); !errors.Is(err, domain.ErrConfigMissing) {
		t.Fatalf("Process() err = %v, want ErrConfigMissing", err)
	}
	got, _ := c.Repo.Get(ctx, job.ID)
	if got.Status != domain.JobStatusError {
		t.Fatalf("status = %s, want error", got.Status)
	}
}

func TestRemoteInvoker(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.DispatchMode = infra.DispatchRemote
	cfg.ProcessEndpoint = "http://worker.internal/v1/process"
	c, err := New(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer c.Close()

	invoker, err := c.Invoker(context.Background())
	if err != nil {
		t.Fatalf("Invoker() error: %v", err)
	}
	if _, ok := invoker.(*dispatcher.HTTPInvoker); !ok {
		t.Fatalf("invoker = %T, want *dispatcher.HTTPInvoker", invoker)
	}
}

func TestNewBlobStoreRejectsUnknownBackend(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.StorageBackend = "ftp"
	if _, err := NewBlobStore(context.Background(), cfg); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
	cfg.StorageBackend = infra.StorageSupabase
	if _, err := NewBlobStore(context.Background(), cfg); err == nil {
		t.Fatalf("expected error for supabase without credentials")
	}
}
