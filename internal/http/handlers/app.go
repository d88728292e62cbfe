package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"toonify/internal/domain"
	"toonify/internal/infra"
	"toonify/internal/jobs"
	"toonify/internal/middleware"
	"toonify/internal/payments"
	"toonify/internal/pipeline"
)

// Processor runs one queued job to completion.
type Processor interface {
	Process(ctx context.Context, id string) (pipeline.Result, error)
}

// Fetcher reads blob bytes by reference.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, string, error)
}

type App struct {
	Config       *infra.Config
	Logger       *infra.Logger
	Jobs         *jobs.Service
	Processor    Processor
	Checkout     *payments.Checkout
	Confirmation *payments.Confirmation
	Fetcher      Fetcher
	Validate     *validator.Validate
}

type Deps struct {
	Jobs         *jobs.Service
	Processor    Processor
	Checkout     *payments.Checkout
	Confirmation *payments.Confirmation
	Fetcher      Fetcher
}

func NewApp(cfg *infra.Config, logger *infra.Logger, deps Deps) *App {
	if logger == nil {
		discard := zerolog.New(io.Discard)
		logger = &discard
	}
	return &App{
		Config:       cfg,
		Logger:       logger,
		Jobs:         deps.Jobs,
		Processor:    deps.Processor,
		Checkout:     deps.Checkout,
		Confirmation: deps.Confirmation,
		Fetcher:      deps.Fetcher,
		Validate:     newValidator(),
	}
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, msg string) {
	a.json(w, code, map[string]string{"error": msg})
}

// fail maps a domain error onto its HTTP status. Server-side failures other
// than a missing configuration are logged and reported without detail.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError && !errors.Is(err, domain.ErrConfigMissing) {
		a.Logger.Error().
			Err(err).
			Str("request_id", middleware.RequestIDFromContext(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
		msg = "internal error"
		if errors.Is(err, domain.ErrStorageFailed) {
			msg = "storage failed"
		}
	}
	a.error(w, code, msg)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrConfigMissing), errors.Is(err, domain.ErrStorageFailed):
		return http.StatusInternalServerError
	case errors.Is(err, domain.ErrPaymentProvider),
		errors.Is(err, domain.ErrGenerationFailed),
		errors.Is(err, domain.ErrUpstreamUnreachable),
		errors.Is(err, domain.ErrThrottled),
		errors.Is(err, domain.ErrNoImageInResponse):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

// decodeJSON reads a bounded JSON body into dst.
func (a *App) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid payload", domain.ErrInvalidInput)
	}
	return nil
}

func (a *App) validate(v any) error {
	if err := a.Validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s", domain.ErrInvalidInput, fieldMessage(verrs[0]))
		}
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "oneof":
		return fe.Field() + " must be one of: " + fe.Param()
	}
	return fe.Field() + " is invalid"
}
