package imagegen

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"toonify/internal/domain"
	"toonify/internal/infra"
)

// GeneratorOptions tunes the retry policy for throttled attempts.
type GeneratorOptions struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Logger      *infra.Logger
}

// Generator wraps a ModelClient with exponential backoff. Only throttled
// attempts are retried; every other failure is returned after one call.
type Generator struct {
	client      ModelClient
	maxAttempts int
	baseDelay   time.Duration
	logger      *infra.Logger
}

func NewGenerator(client ModelClient, opts GeneratorOptions) *Generator {
	attempts := opts.MaxAttempts
	if attempts < 1 {
		attempts = 3
	}
	delay := opts.BaseDelay
	if delay <= 0 {
		delay = time.Second
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		logger = &discard
	}
	return &Generator{client: client, maxAttempts: attempts, baseDelay: delay, logger: logger}
}

// maxBackoffShift bounds the doubling so the interval cap cannot overflow
// time.Duration for large attempt counts.
const maxBackoffShift = 16

// retryPolicy doubles the wait from baseDelay on every throttled attempt.
func (g *Generator) retryPolicy() *backoff.ExponentialBackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = g.baseDelay
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxInterval = g.baseDelay << uint(min(g.maxAttempts, maxBackoffShift))
	policy.MaxElapsedTime = 0
	policy.Reset()
	return policy
}

// Generate returns the stylized image or an error wrapping
// domain.ErrGenerationFailed. A missing credential is reported as
// domain.ErrConfigMissing instead.
func (g *Generator) Generate(ctx context.Context, source []byte, mimeType, styleHint string) (Output, error) {
	var out Output
	attempt := 0
	op := func() error {
		attempt++
		data, outMIME, err := g.client.GenerateImage(ctx, source, mimeType, styleHint)
		if err == nil {
			out = Output{Data: data, MIMEType: outMIME}
			return nil
		}
		if errors.Is(err, domain.ErrThrottled) {
			return err
		}
		return backoff.Permanent(err)
	}

	policy := g.retryPolicy()
	notify := func(err error, wait time.Duration) {
		g.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("retry_in", wait).
			Msg("imagegen: generation throttled; retrying")
	}

	err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(g.maxAttempts-1)), ctx), notify)
	if err == nil {
		return out, nil
	}
	switch {
	case errors.Is(err, domain.ErrConfigMissing):
		return Output{}, err
	case errors.Is(err, domain.ErrGenerationFailed):
		return Output{}, err
	case errors.Is(err, domain.ErrThrottled):
		return Output{}, fmt.Errorf("%w: retries exhausted after %d attempts: %w", domain.ErrGenerationFailed, attempt, err)
	default:
		return Output{}, fmt.Errorf("%w: %w", domain.ErrGenerationFailed, err)
	}
}
