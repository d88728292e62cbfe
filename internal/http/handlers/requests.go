package handlers

import "strings"

// checkoutRequest accepts both the dashboard field names (imageId,
// qualityLevel) and jobId/qualityTier.
type checkoutRequest struct {
	JobID        string `json:"jobId"`
	ImageID      string `json:"imageId"`
	QualityTier  string `json:"qualityTier"`
	QualityLevel string `json:"qualityLevel"`
}

type checkoutInput struct {
	JobID       string `json:"jobId" validate:"required"`
	QualityTier string `json:"qualityTier" validate:"required,oneof=regular premium"`
}

func (r checkoutRequest) normalize() checkoutInput {
	return checkoutInput{
		JobID:       firstNonEmpty(r.JobID, r.ImageID),
		QualityTier: strings.ToLower(firstNonEmpty(r.QualityTier, r.QualityLevel)),
	}
}

type checkoutResponse struct {
	URL string `json:"url"`
}

type processRequest struct {
	ImageID string `json:"imageId" validate:"required"`
}

type processResponse struct {
	Success  bool   `json:"success"`
	ImageURL string `json:"imageUrl"`
}

type qualityRequest struct {
	QualityTier  string `json:"qualityTier"`
	QualityLevel string `json:"qualityLevel"`
}

type qualityInput struct {
	QualityTier string `json:"qualityTier" validate:"required,oneof=regular premium"`
}

func (r qualityRequest) normalize() qualityInput {
	return qualityInput{QualityTier: strings.ToLower(firstNonEmpty(r.QualityTier, r.QualityLevel))}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
