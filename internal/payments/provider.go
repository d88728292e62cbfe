package payments

import (
	"context"
	"fmt"
	"strings"

	"toonify/internal/domain"
)

// SessionRequest describes a checkout session for one job.
type SessionRequest struct {
	Email      string
	Price      Price
	Currency   string
	SuccessURL string
	CancelURL  string
	Locale     string
	Metadata   map[string]string
}

// Session is the provider-neutral view of a checkout session.
type Session struct {
	ID            string
	URL           string
	PaymentStatus string
	Metadata      map[string]string
}

// Paid reports whether the provider settled the session.
func (s *Session) Paid() bool {
	return s != nil && s.PaymentStatus == "paid"
}

// Provider is the payment backend.
type Provider interface {
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
	GetSession(ctx context.Context, id string) (*Session, error)
	// ParseWebhook verifies the payload signature. It returns the session
	// of a completed checkout, or nil for events that need no action.
	ParseWebhook(payload []byte, signature string) (*Session, error)
}

// Price is one line item price: a product reference and amount in cents.
type Price struct {
	Product    string
	UnitAmount int64
}

// Prices maps quality tiers to configured product references.
type Prices struct {
	Regular string
	Premium string
}

const (
	regularAmount = 200
	premiumAmount = 1000
)

// Resolve returns the price for tier or domain.ErrConfigMissing when the
// product reference is not configured.
func (p Prices) Resolve(tier domain.QualityTier) (Price, error) {
	if strings.TrimSpace(p.Regular) == "" || strings.TrimSpace(p.Premium) == "" {
		return Price{}, fmt.Errorf("%w: price references are not configured", domain.ErrConfigMissing)
	}
	switch tier {
	case domain.QualityPremium:
		return Price{Product: p.Premium, UnitAmount: premiumAmount}, nil
	case domain.QualityRegular:
		return Price{Product: p.Regular, UnitAmount: regularAmount}, nil
	}
	return Price{}, fmt.Errorf("%w: unknown quality tier %q", domain.ErrInvalidInput, tier)
}
