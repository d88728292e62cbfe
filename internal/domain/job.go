package domain

import (
	"fmt"
	"strings"
	"time"
)

// JobStatus enumerates the image job lifecycle states.
type JobStatus string

const (
	JobStatusNotToonified JobStatus = "not_toonified"
	JobStatusInQueue      JobStatus = "in_queue"
	JobStatusProcessing   JobStatus = "processing"
	JobStatusComplete     JobStatus = "complete"
	JobStatusError        JobStatus = "error"
)

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusNotToonified, JobStatusInQueue, JobStatusProcessing, JobStatusComplete, JobStatusError:
		return true
	}
	return false
}

// transitions lists every edge of the job state graph. Self edges are not
// listed; callers that only patch fields keep the status unchanged.
var transitions = map[JobStatus][]JobStatus{
	JobStatusNotToonified: {JobStatusInQueue},
	JobStatusInQueue:      {JobStatusProcessing},
	JobStatusProcessing:   {JobStatusComplete, JobStatusError},
	JobStatusError:        {JobStatusInQueue},
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to JobStatus) bool {
	if from == to {
		return from.Valid()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// QualityTier selects price and generation detail.
type QualityTier string

const (
	QualityRegular QualityTier = "regular"
	QualityPremium QualityTier = "premium"
)

// ParseQualityTier normalizes user input into a QualityTier.
func ParseQualityTier(raw string) (QualityTier, error) {
	switch QualityTier(strings.ToLower(strings.TrimSpace(raw))) {
	case QualityRegular:
		return QualityRegular, nil
	case QualityPremium:
		return QualityPremium, nil
	}
	return "", fmt.Errorf("%w: unknown quality tier %q", ErrInvalidInput, raw)
}

// PaymentStatusCompleted marks a job whose checkout was confirmed.
const PaymentStatusCompleted = "completed"

// ImageJob is one uploaded image and its processing lifecycle.
type ImageJob struct {
	ID                string      `json:"id"`
	OwnerID           string      `json:"ownerId"`
	OriginalImageRef  string      `json:"originalImageRef"`
	ToonifiedImageRef string      `json:"toonifiedImageRef,omitempty"`
	QualityTier       QualityTier `json:"qualityTier"`
	Status            JobStatus   `json:"status"`
	PaymentSessionRef string      `json:"paymentSessionRef,omitempty"`
	PaymentStatus     string      `json:"paymentStatus,omitempty"`
	CreatedAt         time.Time   `json:"createdAt"`
	UpdatedAt         time.Time   `json:"updatedAt"`
}

// JobPatch carries optional field updates applied together with a status
// change. Nil fields are left untouched.
type JobPatch struct {
	QualityTier       *QualityTier
	PaymentSessionRef *string
	PaymentStatus     *string
	ToonifiedImageRef *string
}

// Apply merges the patch into job and enforces that the toonified reference
// only exists on complete jobs.
func (p JobPatch) Apply(job *ImageJob, status JobStatus) {
	if p.QualityTier != nil {
		job.QualityTier = *p.QualityTier
	}
	if p.PaymentSessionRef != nil {
		job.PaymentSessionRef = *p.PaymentSessionRef
	}
	if p.PaymentStatus != nil {
		job.PaymentStatus = *p.PaymentStatus
	}
	if p.ToonifiedImageRef != nil {
		job.ToonifiedImageRef = *p.ToonifiedImageRef
	}
	if status != JobStatusComplete {
		job.ToonifiedImageRef = ""
	}
	job.Status = status
}

// ValidateCompletion rejects a complete status without an output reference.
func ValidateCompletion(status JobStatus, patch JobPatch) error {
	if status != JobStatusComplete {
		return nil
	}
	if patch.ToonifiedImageRef == nil || strings.TrimSpace(*patch.ToonifiedImageRef) == "" {
		return fmt.Errorf("%w: complete requires a toonified image reference", ErrInvalidTransition)
	}
	return nil
}
