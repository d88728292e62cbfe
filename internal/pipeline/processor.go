package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"toonify/internal/domain"
	"toonify/internal/imagegen"
	"toonify/internal/infra"
	"toonify/internal/storage"
)

// Jobs is the part of the job service the processor drives.
type Jobs interface {
	Claim(ctx context.Context, id string) (*domain.ImageJob, error)
	Complete(ctx context.Context, id, toonifiedRef string) (*domain.ImageJob, error)
	Fail(ctx context.Context, id, reason string) error
}

// SourceFetcher loads the original upload.
type SourceFetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, string, error)
}

// Generator stylizes an image.
type Generator interface {
	Generate(ctx context.Context, source []byte, mimeType, styleHint string) (imagegen.Output, error)
}

// Result is returned for a completed job.
type Result struct {
	JobID    string `json:"-"`
	ImageURL string `json:"imageUrl"`
}

type Options struct {
	MaxSourceDimension int
	FailTimeout        time.Duration
	Logger             *infra.Logger
}

// Processor drives one job from in_queue through processing to complete or
// error.
type Processor struct {
	jobs        Jobs
	fetcher     SourceFetcher
	generator   Generator
	store       storage.BlobStore
	maxDim      int
	failTimeout time.Duration
	logger      *infra.Logger
}

func NewProcessor(jobs Jobs, fetcher SourceFetcher, generator Generator, store storage.BlobStore, opts Options) *Processor {
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		logger = &discard
	}
	failTimeout := opts.FailTimeout
	if failTimeout <= 0 {
		failTimeout = 10 * time.Second
	}
	return &Processor{
		jobs:        jobs,
		fetcher:     fetcher,
		generator:   generator,
		store:       store,
		maxDim:      opts.MaxSourceDimension,
		failTimeout: failTimeout,
		logger:      logger,
	}
}

// Process claims the job and runs fetch, generate and store. A missing job
// yields domain.ErrNotFound and a job that is not queued domain.ErrConflict;
// neither mutates anything. Once claimed, every failure leaves the job in
// error before the error is returned.
func (p *Processor) Process(ctx context.Context, id string) (Result, error) {
	job, err := p.jobs.Claim(ctx, id)
	if err != nil {
		return Result{}, err
	}
	log := infra.WithJob(p.logger, job.ID)
	log.Info().Str("quality_tier", string(job.QualityTier)).Msg("pipeline: processing started")

	ref, err := p.run(ctx, job)
	if err != nil {
		log.Error().Err(err).Msg("pipeline: processing failed")
		p.markFailed(ctx, job.ID, err)
		return Result{}, err
	}

	if _, err := p.jobs.Complete(ctx, job.ID, ref); err != nil {
		log.Error().Err(err).Msg("pipeline: record completion")
		p.markFailed(ctx, job.ID, err)
		return Result{}, err
	}
	log.Info().Str("toonified_ref", ref).Msg("pipeline: processing complete")
	return Result{JobID: job.ID, ImageURL: ref}, nil
}

func (p *Processor) run(ctx context.Context, job *domain.ImageJob) (string, error) {
	source, mimeType, err := p.fetcher.Fetch(ctx, job.OriginalImageRef)
	if err != nil {
		return "", fmt.Errorf("%w: %w: fetch original image: %w", domain.ErrGenerationFailed, domain.ErrUpstreamUnreachable, err)
	}
	source, mimeType, err = imagegen.PrepareSource(source, mimeType, p.maxDim)
	if err != nil {
		return "", fmt.Errorf("%w: prepare source: %w", domain.ErrGenerationFailed, err)
	}

	out, err := p.generator.Generate(ctx, source, mimeType, imagegen.StyleInstruction(job.QualityTier))
	if err != nil {
		return "", err
	}
	if len(out.Data) == 0 {
		return "", domain.ErrNoImageInResponse
	}

	key := storage.ToonifiedKey(job.ID, out.MIMEType)
	ref, err := p.store.Put(ctx, key, out.Data, out.MIMEType)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrStorageFailed, err)
	}
	return ref, nil
}

// markFailed is best effort: it runs even if ctx is done and only logs its
// own failure.
func (p *Processor) markFailed(ctx context.Context, id string, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.failTimeout)
	defer cancel()
	if err := p.jobs.Fail(ctx, id, reason(cause)); err != nil {
		p.logger.Error().Err(err).Str("job_id", id).Msg("pipeline: could not mark job as error")
	}
}

func reason(err error) string {
	switch {
	case errors.Is(err, domain.ErrConfigMissing):
		return "service is not configured"
	case errors.Is(err, domain.ErrStorageFailed):
		return "output could not be stored"
	case errors.Is(err, domain.ErrUpstreamUnreachable):
		return "upstream service unreachable"
	case errors.Is(err, domain.ErrGenerationFailed), errors.Is(err, domain.ErrNoImageInResponse):
		return "image generation failed"
	}
	return "processing failed"
}
