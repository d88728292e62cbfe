package payments

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"toonify/internal/domain"
	"toonify/internal/infra"
)

// Confirmation applies payment confirmations from the browser return and
// from provider webhooks. Both end in JobStore.MarkPaid, which tolerates
// duplicate delivery.
type Confirmation struct {
	jobs     JobStore
	provider Provider
	logger   *infra.Logger
}

func NewConfirmation(jobs JobStore, provider Provider, logger *infra.Logger) *Confirmation {
	if logger == nil {
		discard := zerolog.New(io.Discard)
		logger = &discard
	}
	return &Confirmation{jobs: jobs, provider: provider, logger: logger}
}

// ConfirmReturn handles ?success=true&session_id=..&image_id=... When a
// provider is configured the session must be paid and belong to the job.
func (c *Confirmation) ConfirmReturn(ctx context.Context, sessionID, imageID string) (*domain.ImageJob, error) {
	sessionID = strings.TrimSpace(sessionID)
	imageID = strings.TrimSpace(imageID)
	if sessionID == "" || imageID == "" {
		return nil, fmt.Errorf("%w: session_id and image_id are required", domain.ErrInvalidInput)
	}

	if c.provider != nil {
		sess, err := c.provider.GetSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if ref := sess.Metadata["imageId"]; ref != "" && ref != imageID {
			return nil, fmt.Errorf("%w: session does not belong to image %s", domain.ErrInvalidInput, imageID)
		}
		if !sess.Paid() {
			return nil, fmt.Errorf("%w: checkout session is %s", domain.ErrConflict, sess.PaymentStatus)
		}
	}

	job, applied, err := c.jobs.MarkPaid(ctx, imageID, sessionID)
	if err != nil {
		return nil, err
	}
	c.logger.Info().
		Str("job_id", imageID).
		Str("session_id", sessionID).
		Bool("applied", applied).
		Msg("payments: return confirmed")
	return job, nil
}

// HandleWebhook verifies and applies a provider event. Events other than a
// paid checkout completion are acknowledged and ignored.
func (c *Confirmation) HandleWebhook(ctx context.Context, payload []byte, signature string) (*domain.ImageJob, error) {
	if c.provider == nil {
		return nil, fmt.Errorf("%w: STRIPE_SECRET_KEY", domain.ErrConfigMissing)
	}
	sess, err := c.provider.ParseWebhook(payload, signature)
	if err != nil {
		return nil, err
	}
	if sess == nil || !sess.Paid() {
		return nil, nil
	}
	imageID := sess.Metadata["imageId"]
	if imageID == "" {
		return nil, fmt.Errorf("%w: session %s has no imageId metadata", domain.ErrInvalidInput, sess.ID)
	}
	job, applied, err := c.jobs.MarkPaid(ctx, imageID, sess.ID)
	if err != nil {
		return nil, err
	}
	c.logger.Info().
		Str("job_id", imageID).
		Str("session_id", sess.ID).
		Bool("applied", applied).
		Msg("payments: webhook confirmed")
	return job, nil
}
