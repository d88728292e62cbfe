package notify

import (
	"context"

	"toonify/internal/domain"
)

// Event is published whenever a job changes status.
type Event struct {
	ID        string           `json:"id"`
	UserID    string           `json:"userId"`
	Status    domain.JobStatus `json:"status"`
	PublicURL string           `json:"publicUrl"`
	ErrorMsg  string           `json:"errorMsg"`
}

// Message is the wire envelope for status events.
type Message struct {
	Pattern string `json:"pattern"`
	Data    Event  `json:"data"`
}

const StatusPattern = "image.status"

// Publisher delivers status events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// EventFor builds the event for a job's current state.
func EventFor(job *domain.ImageJob, errMsg string) Event {
	return Event{
		ID:        job.ID,
		UserID:    job.OwnerID,
		Status:    job.Status,
		PublicURL: job.ToonifiedImageRef,
		ErrorMsg:  errMsg,
	}
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
