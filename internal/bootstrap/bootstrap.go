// Package bootstrap assembles the job store, blob store, generation pipeline
// and payment provider from configuration. cmd/api and cmd/worker share it.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"

	"toonify/internal/adapter/repo"
	"toonify/internal/dispatcher"
	"toonify/internal/domain"
	"toonify/internal/imagegen"
	"toonify/internal/infra"
	"toonify/internal/infra/credentials"
	"toonify/internal/infra/geoip"
	"toonify/internal/jobs"
	"toonify/internal/notify"
	"toonify/internal/payments"
	"toonify/internal/pipeline"
	"toonify/internal/providers/genai"
	"toonify/internal/storage"
)

// Container holds the shared components. Close releases them.
type Container struct {
	Config      *infra.Config
	Logger      infra.Logger
	Pool        *pgxpool.Pool
	Credentials *credentials.Store
	Repo        domain.JobRepository
	Store       storage.BlobStore
	Events      notify.Publisher
	Jobs        *jobs.Service
	Fetcher     *storage.Fetcher
	GeoIP       *geoip.Resolver
}

// New connects the configured backends. A database pool is opened whenever
// DATABASE_URL is set, since stored credentials live there even when jobs
// are kept elsewhere.
func New(ctx context.Context, cfg *infra.Config, logger infra.Logger) (*Container, error) {
	c := &Container{Config: cfg, Logger: logger}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	if cfg.DatabaseURL != "" {
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		c.Pool = pool
		c.Credentials = credentials.NewStore(infra.NewSQLRunner(pool, infra.Component(logger, "sql")))
	}

	jobRepo, err := c.newRepo()
	if err != nil {
		return nil, err
	}
	c.Repo = jobRepo

	store, err := NewBlobStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c.Store = store

	c.Events = notify.Nop{}
	if cfg.AMQPURL != "" {
		pub, err := notify.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return nil, err
		}
		c.Events = pub
	}

	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		// Country detection degrades to request headers.
		logger.Warn().Err(err).Msg("bootstrap: geoip database unavailable")
	}
	c.GeoIP = resolver

	jobsLogger := infra.Component(logger, "jobs")
	c.Jobs = jobs.NewService(c.Repo, c.Store, c.Events, &jobsLogger)
	c.Fetcher = storage.NewFetcher(c.Store, nil)

	ok = true
	return c, nil
}

func (c *Container) newRepo() (domain.JobRepository, error) {
	switch c.Config.JobStore {
	case infra.JobStoreSQL:
		if c.Pool == nil {
			return nil, fmt.Errorf("bootstrap: DATABASE_URL is required for JOB_STORE=%s", infra.JobStoreSQL)
		}
		return repo.NewJobRepository(infra.NewSQLRunner(c.Pool, infra.Component(c.Logger, "sql"))), nil
	case infra.JobStorePostgREST:
		client, err := repo.NewPostgRESTClient(c.Config.SupabaseURL, c.Config.SupabaseServiceKey)
		if err != nil {
			return nil, err
		}
		return repo.NewJobRepositoryPostgREST(client), nil
	case infra.JobStoreMemory:
		return repo.NewMemoryJobRepository(), nil
	}
	return nil, fmt.Errorf("bootstrap: unsupported job store %q", c.Config.JobStore)
}

// NewBlobStore returns the blob store selected by STORAGE_BACKEND.
func NewBlobStore(ctx context.Context, cfg *infra.Config) (storage.BlobStore, error) {
	switch cfg.StorageBackend {
	case infra.StorageFilesystem:
		path := cfg.StoragePath
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		return storage.NewFileStore(path, cfg.StorageBaseURL)
	case infra.StorageS3:
		client, err := storage.NewS3Client(ctx)
		if err != nil {
			return nil, err
		}
		return storage.NewS3Store(client, cfg.S3Bucket, cfg.S3PublicBaseURL)
	case infra.StorageSupabase:
		if cfg.SupabaseURL == "" || cfg.SupabaseServiceKey == "" {
			return nil, fmt.Errorf("bootstrap: SUPABASE_URL and SUPABASE_SERVICE_KEY are required for STORAGE_BACKEND=%s", infra.StorageSupabase)
		}
		return storage.NewSupabaseStore(storage.NewSupabaseClient(cfg.SupabaseURL, cfg.SupabaseServiceKey), cfg.StorageBucket)
	}
	return nil, fmt.Errorf("bootstrap: unsupported storage backend %q", cfg.StorageBackend)
}

// secret returns the configured value or the stored credential. Lookup
// failures are logged and treated as unset.
func (c *Container) secret(ctx context.Context, provider, configured string) string {
	v, err := c.Credentials.Resolve(ctx, provider, configured)
	if err != nil {
		c.Logger.Warn().Err(err).Str("provider", provider).Msg("bootstrap: load stored credential")
		return ""
	}
	return v
}

// Processor builds the in-process processing pipeline. A missing Gemini key
// is not fatal: each job then fails with a configuration error.
func (c *Container) Processor(ctx context.Context) (*pipeline.Processor, error) {
	cfg := c.Config
	apiKey := c.secret(ctx, credentials.ProviderGemini, cfg.GeminiAPIKey)
	if apiKey == "" {
		c.Logger.Warn().Msg("bootstrap: GEMINI_API_KEY is not set, processing will fail")
	}

	genLogger := infra.Component(c.Logger, "genai")
	client, err := genai.NewClient(genai.Options{
		APIKey:  apiKey,
		BaseURL: cfg.GeminiBaseURL,
		Model:   cfg.GeminiModel,
		Timeout: cfg.GeminiTimeout,
		Logger:  &genLogger,
	})
	if err != nil {
		return nil, err
	}
	generator := imagegen.NewGenerator(client, imagegen.GeneratorOptions{
		MaxAttempts: cfg.GenerationMaxAttempts,
		BaseDelay:   cfg.GenerationBaseDelay,
		Logger:      &genLogger,
	})

	pipeLogger := infra.Component(c.Logger, "pipeline")
	return pipeline.NewProcessor(c.Jobs, c.Fetcher, generator, c.Store, pipeline.Options{
		MaxSourceDimension: cfg.SourceMaxDimension,
		Logger:             &pipeLogger,
	}), nil
}

// PaymentProvider returns the Stripe provider, or nil when no secret key is
// configured or stored.
func (c *Container) PaymentProvider(ctx context.Context) payments.Provider {
	key := c.secret(ctx, credentials.ProviderStripe, c.Config.StripeSecretKey)
	p := payments.NewStripeProvider(key, c.Config.StripeWebhookSecret, nil)
	if p == nil {
		c.Logger.Warn().Msg("bootstrap: STRIPE_SECRET_KEY is not set, checkout is disabled")
		return nil
	}
	return p
}

// Payments builds the checkout and confirmation flows around provider.
func (c *Container) Payments(provider payments.Provider) (*payments.Checkout, *payments.Confirmation) {
	cfg := c.Config
	logger := infra.Component(c.Logger, "payments")
	checkout := payments.NewCheckout(c.Jobs, provider, payments.CheckoutConfig{
		Prices: payments.Prices{
			Regular: cfg.StripeRegularPriceID,
			Premium: cfg.StripePremiumPriceID,
		},
		Currency:         cfg.StripeCurrency,
		PublicAppURL:     cfg.PublicAppURL,
		EnforceOwnership: cfg.EnforceJobOwnership,
	}, &logger)
	return checkout, payments.NewConfirmation(c.Jobs, provider, &logger)
}

// Invoker picks the dispatcher backend for DISPATCH_MODE.
func (c *Container) Invoker(ctx context.Context) (dispatcher.Invoker, error) {
	if c.Config.DispatchMode == infra.DispatchRemote {
		client := &http.Client{Timeout: c.Config.ProcessTimeout}
		return dispatcher.NewHTTPInvoker(c.Config.ProcessEndpoint, c.Config.ProcessToken, client), nil
	}
	processor, err := c.Processor(ctx)
	if err != nil {
		return nil, err
	}
	return processor, nil
}

func (c *Container) Close() {
	if c.Events != nil {
		if err := c.Events.Close(); err != nil {
			c.Logger.Warn().Err(err).Msg("bootstrap: close event publisher")
		}
	}
	if c.GeoIP != nil {
		_ = c.GeoIP.Close()
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
}
