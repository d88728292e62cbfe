package repo

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"toonify/internal/domain"
)

type recordedRequest struct {
	method string
	query  string
	body   map[string]any
}

type fakeGateway struct {
	mu       sync.Mutex
	requests []recordedRequest
	respond  func(r *http.Request) []map[string]any
}

func (g *fakeGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(raw, &body)
	g.mu.Lock()
	g.requests = append(g.requests, recordedRequest{method: r.Method, query: r.URL.RawQuery, body: body})
	g.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(g.respond(r))
}

func newGatewayRepo(t *testing.T, respond func(r *http.Request) []map[string]any) (*JobRepositoryPostgREST, *fakeGateway) {
	t.Helper()
	gw := &fakeGateway{respond: respond}
	srv := httptest.NewServer(gw)
	t.Cleanup(srv.Close)
	client, err := NewPostgRESTClient(srv.URL, "service-key")
	if err != nil {
		t.Fatalf("NewPostgRESTClient error: %v", err)
	}
	return NewJobRepositoryPostgREST(client), gw
}

func rowJSON(status string) map[string]any {
	return map[string]any{
		"id":                    testJobID,
		"user_id":               "owner-1",
		"original_image_path":   "https://cdn/owner-1/a.jpg",
		"toonified_image_path":  nil,
		"quality_level":         "regular",
		"status":                status,
		"stripe_session_id":     "cs_1",
		"stripe_payment_status": nil,
		"created_at":            "2024-05-01T10:00:00Z",
		"updated_at":            "2024-05-01T10:00:00Z",
	}
}

func TestPostgRESTGet(t *testing.T) {
	repo, gw := newGatewayRepo(t, func(r *http.Request) []map[string]any {
		return []map[string]any{rowJSON("in_queue")}
	})
	job, err := repo.Get(context.Background(), testJobID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if job.Status != domain.JobStatusInQueue || job.PaymentSessionRef != "cs_1" {
		t.Fatalf("unexpected job %+v", job)
	}
	if !strings.Contains(gw.requests[0].query, "id=eq."+testJobID) {
		t.Fatalf("expected id filter, got %q", gw.requests[0].query)
	}
}

func TestPostgRESTGetEmptyIsNotFound(t *testing.T) {
	repo, _ := newGatewayRepo(t, func(r *http.Request) []map[string]any { return []map[string]any{} })
	if _, err := repo.Get(context.Background(), testJobID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgRESTTransitionFiltersOnStatus(t *testing.T) {
	repo, gw := newGatewayRepo(t, func(r *http.Request) []map[string]any {
		if r.Method == http.MethodPatch {
			return []map[string]any{rowJSON("processing")}
		}
		return nil
	})
	job, err := repo.TransitionStatus(context.Background(), testJobID,
		[]domain.JobStatus{domain.JobStatusInQueue}, domain.JobStatusProcessing, domain.JobPatch{})
	if err != nil {
		t.Fatalf("TransitionStatus error: %v", err)
	}
	if job.Status != domain.JobStatusProcessing {
		t.Fatalf("status = %s", job.Status)
	}
	req := gw.requests[0]
	if req.method != http.MethodPatch || !strings.Contains(req.query, "status=in.") {
		t.Fatalf("expected status filter on PATCH, got %s %q", req.method, req.query)
	}
	if v, ok := req.body["toonified_image_path"]; !ok || v != nil {
		t.Fatalf("expected toonified path cleared, got %#v", req.body)
	}
}

func TestPostgRESTTransitionConflict(t *testing.T) {
	repo, _ := newGatewayRepo(t, func(r *http.Request) []map[string]any {
		if r.Method == http.MethodPatch {
			return []map[string]any{}
		}
		return []map[string]any{rowJSON("complete")}
	})
	_, err := repo.TransitionStatus(context.Background(), testJobID,
		[]domain.JobStatus{domain.JobStatusInQueue}, domain.JobStatusProcessing, domain.JobPatch{})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}
