package handlers

import (
	"errors"
	"io"
	"net/http"

	"toonify/internal/domain"
)

const maxWebhookBytes = 65536

// PaymentReturn handles the browser redirect back from the payment page. The
// paid transition is applied and the caller is sent on to the dashboard
// without the query parameters.
func (a *App) PaymentReturn(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	target := a.Config.PublicAppURL + "/dashboard"

	if q.Get("success") == "true" {
		sessionID := q.Get("session_id")
		imageID := q.Get("image_id")
		job, err := a.Confirmation.ConfirmReturn(r.Context(), sessionID, imageID)
		if err != nil {
			a.Logger.Warn().
				Err(err).
				Str("job_id", imageID).
				Str("session_id", sessionID).
				Msg("payments: return not applied")
			target += "?payment=failed"
		} else {
			a.Logger.Info().Str("job_id", job.ID).Str("status", string(job.Status)).Msg("payments: return acknowledged")
		}
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// PaymentWebhook applies checkout completions pushed by the payment provider.
func (a *App) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		a.error(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}
	job, err := a.Confirmation.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		// Redelivery cannot fix a deleted job, so it is acknowledged.
		if errors.Is(err, domain.ErrNotFound) {
			a.Logger.Warn().Err(err).Msg("payments: webhook for unknown job")
			a.json(w, http.StatusOK, map[string]bool{"received": true})
			return
		}
		a.fail(w, r, err)
		return
	}
	if job != nil {
		a.Logger.Info().Str("job_id", job.ID).Str("status", string(job.Status)).Msg("payments: webhook applied")
	}
	a.json(w, http.StatusOK, map[string]bool{"received": true})
}
