package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"toonify/internal/adapter/repo"
	"toonify/internal/domain"
	"toonify/internal/imagegen"
	"toonify/internal/jobs"
	"toonify/internal/storage"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01")

type stubGenerator struct {
	out   imagegen.Output
	err   error
	calls int
	hint  string
}

func (g *stubGenerator) Generate(ctx context.Context, source []byte, mimeType, styleHint string) (imagegen.Output, error) {
	g.calls++
	g.hint = styleHint
	return g.out, g.err
}

type failingStore struct {
	storage.BlobStore
}

func (failingStore) Put(context.Context, string, []byte, string) (string, error) {
	return "", errors.New("disk full")
}

type env struct {
	repo  *repo.MemoryJobRepository
	jobs  *jobs.Service
	store *storage.FileStore
}

func newEnv(t *testing.T) env {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir(), "http://localhost:8080/static")
	if err != nil {
		t.Fatal(err)
	}
	r := repo.NewMemoryJobRepository()
	return env{repo: r, jobs: jobs.NewService(r, store, nil, nil), store: store}
}

func (e env) queuedJob(t *testing.T, tier domain.QualityTier) *domain.ImageJob {
	t.Helper()
	ctx := context.Background()
	job, err := e.jobs.Upload(ctx, "user-1", pngBytes)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.jobs.AttachCheckout(ctx, job.ID, tier, "cs_1"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := e.jobs.MarkPaid(ctx, job.ID, "cs_1"); err != nil {
		t.Fatal(err)
	}
	return job
}

func (e env) processor(gen Generator, store storage.BlobStore) *Processor {
	return NewProcessor(e.jobs, storage.NewFetcher(e.store, nil), gen, store, Options{MaxSourceDimension: 1024})
}

func TestProcessCompletesJob(t *testing.T) {
	e := newEnv(t)
	job := e.queuedJob(t, domain.QualityPremium)
	gen := &stubGenerator{out: imagegen.Output{Data: []byte("toon"), MIMEType: "image/jpeg"}}

	res, err := e.processor(gen, e.store).Process(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	want := "http://localhost:8080/static/toonified/toonified-" + job.ID + ".jpeg"
	if res.ImageURL != want {
		t.Fatalf("ImageURL = %q want %q", res.ImageURL, want)
	}
	if gen.hint != imagegen.StyleInstruction(domain.QualityPremium) {
		t.Fatalf("unexpected style hint %q", gen.hint)
	}
	got, _ := e.repo.Get(context.Background(), job.ID)
	if got.Status != domain.JobStatusComplete || got.ToonifiedImageRef != want {
		t.Fatalf("job after processing %+v", got)
	}
	data, _, err := e.store.Get(context.Background(), "toonified/toonified-"+job.ID+".jpeg")
	if err != nil || string(data) != "toon" {
		t.Fatalf("output blob = %q %v", data, err)
	}
}

func TestReprocessingOverwritesOutput(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	job := e.queuedJob(t, domain.QualityRegular)

	failing := &stubGenerator{err: fmt.Errorf("%w: boom", domain.ErrGenerationFailed)}
	if _, err := e.processor(failing, e.store).Process(ctx, job.ID); err == nil {
		t.Fatal("expected first attempt to fail")
	}
	if _, err := e.jobs.Retry(ctx, "user-1", job.ID); err != nil {
		t.Fatal(err)
	}
	first := &stubGenerator{out: imagegen.Output{Data: []byte("v1"), MIMEType: "image/png"}}
	res1, err := e.processor(first, e.store).Process(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}

	// Force another round through error and retry.
	if _, err := e.jobs.Claim(ctx, job.ID); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("complete job must not be claimable: %v", err)
	}
	if _, err := e.repo.TransitionStatus(ctx, job.ID, []domain.JobStatus{domain.JobStatusComplete}, domain.JobStatusInQueue, domain.JobPatch{}); err != nil {
		t.Fatal(err)
	}
	second := &stubGenerator{out: imagegen.Output{Data: []byte("v2"), MIMEType: "image/png"}}
	res2, err := e.processor(second, e.store).Process(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res1.ImageURL != res2.ImageURL {
		t.Fatalf("output ref changed: %q vs %q", res1.ImageURL, res2.ImageURL)
	}
	data, _, _ := e.store.Get(ctx, "toonified/toonified-"+job.ID+".png")
	if string(data) != "v2" {
		t.Fatalf("output not overwritten: %q", data)
	}
}

func TestProcessFailuresLeaveJobInError(t *testing.T) {
	tests := []struct {
		name  string
		gen   *stubGenerator
		store func(e env) storage.BlobStore
		want  error
	}{
		{"generation failed", &stubGenerator{err: fmt.Errorf("%w: %w", domain.ErrGenerationFailed, domain.ErrNoImageInResponse)}, nil, domain.ErrGenerationFailed},
		{"config missing", &stubGenerator{err: fmt.Errorf("%w: GEMINI_API_KEY", domain.ErrConfigMissing)}, nil, domain.ErrConfigMissing},
		{"empty output", &stubGenerator{out: imagegen.Output{MIMEType: "image/png"}}, nil, domain.ErrNoImageInResponse},
		{"storage failed", &stubGenerator{out: imagegen.Output{Data: []byte("x"), MIMEType: "image/png"}}, func(e env) storage.BlobStore { return failingStore{e.store} }, domain.ErrStorageFailed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t)
			job := e.queuedJob(t, domain.QualityRegular)
			var store storage.BlobStore = e.store
			if tc.store != nil {
				store = tc.store(e)
			}
			_, err := e.processor(tc.gen, store).Process(context.Background(), job.ID)
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v want %v", err, tc.want)
			}
			got, _ := e.repo.Get(context.Background(), job.ID)
			if got.Status != domain.JobStatusError || got.ToonifiedImageRef != "" {
				t.Fatalf("job after failure %+v", got)
			}
		})
	}
}

func TestProcessUnreachableSource(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	job, err := e.jobs.Upload(ctx, "user-1", pngBytes)
	if err != nil {
		t.Fatal(err)
	}
	key, _ := e.store.KeyFromRef(job.OriginalImageRef)
	if err := e.store.Delete(ctx, key); err != nil {
		t.Fatal(err)
	}
	if _, _, err := e.jobs.MarkPaid(ctx, job.ID, ""); err != nil {
		t.Fatal(err)
	}
	gen := &stubGenerator{}
	_, err = e.processor(gen, e.store).Process(ctx, job.ID)
	if !errors.Is(err, domain.ErrUpstreamUnreachable) || !errors.Is(err, domain.ErrGenerationFailed) {
		t.Fatalf("got %v want unreachable generation failure", err)
	}
	if gen.calls != 0 {
		t.Fatalf("generator called %d times", gen.calls)
	}
	got, _ := e.repo.Get(ctx, job.ID)
	if got.Status != domain.JobStatusError {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestProcessMissingOrUnqueuedJob(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	gen := &stubGenerator{}
	p := e.processor(gen, e.store)

	if _, err := p.Process(ctx, "does-not-exist"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("got %v want ErrNotFound", err)
	}
	jobsNow, _ := e.repo.ListByOwner(ctx, "user-1")
	if len(jobsNow) != 0 {
		t.Fatalf("records created: %v", jobsNow)
	}

	unpaid, err := e.jobs.Upload(ctx, "user-1", pngBytes)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Process(ctx, unpaid.ID); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("got %v want ErrConflict", err)
	}
	got, _ := e.repo.Get(ctx, unpaid.ID)
	if got.Status != domain.JobStatusNotToonified {
		t.Fatalf("unqueued job mutated: %s", got.Status)
	}
	if gen.calls != 0 {
		t.Fatalf("generator called %d times", gen.calls)
	}
}

func TestProcessMarksFailedAfterCancellation(t *testing.T) {
	e := newEnv(t)
	job := e.queuedJob(t, domain.QualityRegular)
	ctx, cancel := context.WithCancel(context.Background())
	gen := &cancellingGenerator{cancel: cancel}

	if _, err := e.processor(gen, e.store).Process(ctx, job.ID); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v want context.Canceled", err)
	}
	got, _ := e.repo.Get(context.Background(), job.ID)
	if got.Status != domain.JobStatusError {
		t.Fatalf("status = %s want error", got.Status)
	}
}

type cancellingGenerator struct {
	cancel context.CancelFunc
}

func (g *cancellingGenerator) Generate(ctx context.Context, _ []byte, _, _ string) (imagegen.Output, error) {
	g.cancel()
	return imagegen.Output{}, ctx.Err()
}

type failWriteJobs struct {
	*jobs.Service
	failCalls int
}

func (j *failWriteJobs) Fail(context.Context, string, string) error {
	j.failCalls++
	return errors.New("db down")
}

func TestCompensatingWriteFailureIsOnlyLogged(t *testing.T) {
	e := newEnv(t)
	job := e.queuedJob(t, domain.QualityRegular)
	js := &failWriteJobs{Service: e.jobs}
	gen := &stubGenerator{err: fmt.Errorf("%w: upstream rejected", domain.ErrGenerationFailed)}

	var logs bytes.Buffer
	logger := zerolog.New(&logs)
	p := NewProcessor(js, storage.NewFetcher(e.store, nil), gen, e.store, Options{Logger: &logger})

	_, err := p.Process(context.Background(), job.ID)
	if !errors.Is(err, domain.ErrGenerationFailed) {
		t.Fatalf("Process err = %v, want ErrGenerationFailed", err)
	}
	if strings.Contains(err.Error(), "db down") {
		t.Fatalf("secondary failure leaked into %q", err)
	}
	if js.failCalls != 1 {
		t.Fatalf("Fail calls = %d, want 1", js.failCalls)
	}
	if !strings.Contains(logs.String(), "could not mark job as error") || !strings.Contains(logs.String(), "db down") {
		t.Fatalf("expected the failed write to be logged, got %s", logs.String())
	}
	got, _ := e.repo.Get(context.Background(), job.ID)
	if got.Status != domain.JobStatusProcessing || got.ToonifiedImageRef != "" {
		t.Fatalf("job = %+v, want processing without output", got)
	}
}
