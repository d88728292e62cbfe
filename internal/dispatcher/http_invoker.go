package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"toonify/internal/domain"
	"toonify/internal/pipeline"
)

// HTTPInvoker calls a remote processing endpoint.
type HTTPInvoker struct {
	endpoint string
	token    string
	client   *http.Client
}

func NewHTTPInvoker(endpoint, token string, client *http.Client) *HTTPInvoker {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPInvoker{endpoint: endpoint, token: strings.TrimSpace(token), client: client}
}

type processResponse struct {
	Success  bool   `json:"success"`
	ImageURL string `json:"imageUrl"`
	Error    string `json:"error"`
}

func (i *HTTPInvoker) Process(ctx context.Context, id string) (pipeline.Result, error) {
	body, err := json.Marshal(map[string]string{"imageId": id})
	if err != nil {
		return pipeline.Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.endpoint, bytes.NewReader(body))
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("build process request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if i.token != "" {
		req.Header.Set("Authorization", "Bearer "+i.token)
	}

	resp, err := i.client.Do(req)
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("%w: call process endpoint: %v", domain.ErrUpstreamUnreachable, err)
	}
	defer resp.Body.Close()

	var out processResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil && resp.StatusCode < 300 {
			return pipeline.Result{}, fmt.Errorf("decode process response: %w", err)
		}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 && out.Success {
		return pipeline.Result{JobID: id, ImageURL: out.ImageURL}, nil
	}

	msg := out.Error
	if msg == "" {
		msg = resp.Status
	}
	return pipeline.Result{}, fmt.Errorf("%w: %s", statusError(resp.StatusCode), msg)
}

func statusError(code int) error {
	switch code {
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusConflict:
		return domain.ErrConflict
	case http.StatusUnauthorized:
		return domain.ErrUnauthorized
	case http.StatusForbidden:
		return domain.ErrForbidden
	case http.StatusBadRequest:
		return domain.ErrInvalidInput
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return domain.ErrUpstreamUnreachable
	}
	return domain.ErrGenerationFailed
}
