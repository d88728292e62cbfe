package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"toonify/internal/http/handlers"
	"toonify/internal/infra"
	"toonify/internal/middleware"
)

// NewRouter mounts the public API. lookup may be nil when no GeoIP database
// is configured.
func NewRouter(app *handlers.App, lookup middleware.CountryLookup) http.Handler {
	cfg := app.Config
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(infra.Component(*app.Logger, "http")),
		middleware.CORS(),
		middleware.I18N(middleware.NewLocales(cfg.CheckoutLocales), lookup),
	)

	r.Get("/v1/healthz", app.Health)

	if cfg.StorageBackend == infra.StorageFilesystem {
		files := http.StripPrefix("/static/", http.FileServer(http.Dir(cfg.StoragePath)))
		r.Handle("/static/*", files)
	}

	r.Route("/v1/payments", func(r chi.Router) {
		r.Get("/return", app.PaymentReturn)
		r.Post("/webhook", app.PaymentWebhook)
	})

	r.With(middleware.RequireServiceToken(cfg.ProcessToken, cfg.JWTSecret)).
		Post("/v1/process", app.ProcessImage)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthJWT(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitPerMin, time.Minute))

		r.Post("/v1/checkout", app.CreateCheckout)

		r.Route("/v1/images", func(r chi.Router) {
			r.Get("/", app.ListImages)
			r.Post("/", app.UploadImage)
			r.Get("/{id}", app.GetImage)
			r.Delete("/{id}", app.DeleteImage)
			r.Patch("/{id}/quality", app.SetImageQuality)
			r.Post("/{id}/retry", app.RetryImage)
			r.Get("/{id}/archive", app.ArchiveImage)
		})
	})

	return r
}
