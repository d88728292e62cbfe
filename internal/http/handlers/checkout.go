package handlers

import (
	"net/http"

	"toonify/internal/domain"
	"toonify/internal/middleware"
	"toonify/internal/payments"
)

// CreateCheckout creates a payment session for an unpaid job and returns its
// redirect URL.
func (a *App) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := a.decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	in := req.normalize()
	if err := a.validate(in); err != nil {
		a.fail(w, r, err)
		return
	}

	ctx := r.Context()
	url, err := a.Checkout.Start(ctx, payments.StartRequest{
		Caller: payments.Caller{
			UserID: middleware.UserIDFromContext(ctx),
			Email:  middleware.EmailFromContext(ctx),
		},
		JobID:   in.JobID,
		Tier:    domain.QualityTier(in.QualityTier),
		Origin:  r.Header.Get("Origin"),
		Country: middleware.CountryFromContext(ctx),
		Locale:  middleware.LocaleFromContext(ctx),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, checkoutResponse{URL: url})
}
