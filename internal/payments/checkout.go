package payments

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"toonify/internal/domain"
	"toonify/internal/infra"
)

// JobStore is the part of the job service used by payments.
type JobStore interface {
	Get(ctx context.Context, id string) (*domain.ImageJob, error)
	AttachCheckout(ctx context.Context, id string, tier domain.QualityTier, sessionRef string) (*domain.ImageJob, error)
	MarkPaid(ctx context.Context, id, sessionRef string) (*domain.ImageJob, bool, error)
}

type CheckoutConfig struct {
	Prices           Prices
	Currency         string
	PublicAppURL     string
	EnforceOwnership bool
}

// Caller is the authenticated user starting a checkout.
type Caller struct {
	UserID string
	Email  string
}

type StartRequest struct {
	Caller  Caller
	JobID   string
	Tier    domain.QualityTier
	Origin  string
	Country string
	Locale  string
}

// Checkout creates payment sessions for unpaid jobs.
type Checkout struct {
	jobs     JobStore
	provider Provider
	cfg      CheckoutConfig
	logger   *infra.Logger
}

// NewCheckout accepts a nil provider; Start then reports ErrConfigMissing.
func NewCheckout(jobs JobStore, provider Provider, cfg CheckoutConfig, logger *infra.Logger) *Checkout {
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	if logger == nil {
		discard := zerolog.New(io.Discard)
		logger = &discard
	}
	return &Checkout{jobs: jobs, provider: provider, cfg: cfg, logger: logger}
}

// Start returns the provider redirect URL for the job. Nothing is written to
// the job unless the session was created.
func (c *Checkout) Start(ctx context.Context, req StartRequest) (string, error) {
	if strings.TrimSpace(req.Caller.UserID) == "" {
		return "", domain.ErrUnauthorized
	}

	job, err := c.jobs.Get(ctx, req.JobID)
	if err != nil {
		return "", err
	}
	if c.cfg.EnforceOwnership && job.OwnerID != req.Caller.UserID {
		return "", fmt.Errorf("%w: job belongs to another user", domain.ErrForbidden)
	}
	if job.Status != domain.JobStatusNotToonified {
		return "", fmt.Errorf("%w: job is %s", domain.ErrConflict, job.Status)
	}

	if c.provider == nil {
		return "", fmt.Errorf("%w: STRIPE_SECRET_KEY", domain.ErrConfigMissing)
	}
	price, err := c.cfg.Prices.Resolve(req.Tier)
	if err != nil {
		return "", err
	}

	origin := strings.TrimRight(strings.TrimSpace(req.Origin), "/")
	if origin == "" {
		origin = c.cfg.PublicAppURL
	}

	metadata := map[string]string{
		"userId":       req.Caller.UserID,
		"imageId":      job.ID,
		"qualityLevel": string(req.Tier),
	}
	if req.Country != "" {
		metadata["country"] = req.Country
	}

	sess, err := c.provider.CreateSession(ctx, SessionRequest{
		Email:      req.Caller.Email,
		Price:      price,
		Currency:   c.cfg.Currency,
		SuccessURL: SuccessURL(origin, job.ID),
		CancelURL:  origin + "/dashboard?canceled=true",
		Locale:     req.Locale,
		Metadata:   metadata,
	})
	if err != nil {
		return "", err
	}

	if _, err := c.jobs.AttachCheckout(ctx, job.ID, req.Tier, sess.ID); err != nil {
		return "", err
	}
	c.logger.Info().
		Str("job_id", job.ID).
		Str("session_id", sess.ID).
		Str("quality_tier", string(req.Tier)).
		Msg("payments: checkout session created")
	return sess.URL, nil
}

// SuccessURL is the return target; the provider substitutes the session id.
func SuccessURL(origin, jobID string) string {
	return origin + "/dashboard?success=true&session_id={CHECKOUT_SESSION_ID}&image_id=" + url.QueryEscape(jobID)
}
