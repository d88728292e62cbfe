package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("forbidden")
	ErrInvalidInput        = errors.New("invalid input")
	ErrConfigMissing       = errors.New("configuration missing")
	ErrConflict            = errors.New("conflict")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrThrottled           = errors.New("generation throttled")
	ErrNoImageInResponse   = errors.New("no image in generation response")
	ErrUpstreamUnreachable = errors.New("upstream unreachable")
	ErrGenerationFailed    = errors.New("generation failed")
	ErrStorageFailed       = errors.New("storage failed")
	ErrPaymentProvider     = errors.New("payment provider failure")
)
