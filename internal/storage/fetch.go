package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxFetchBytes = 32 << 20

// Fetcher resolves an image reference to bytes. References owned by the
// store are read through it; any other http(s) URL is downloaded.
type Fetcher struct {
	store  BlobStore
	client *http.Client
}

func NewFetcher(store BlobStore, client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Fetcher{store: store, client: client}
}

func (f *Fetcher) Fetch(ctx context.Context, ref string) ([]byte, string, error) {
	if f.store != nil {
		if key, ok := f.store.KeyFromRef(ref); ok {
			return f.store.Get(ctx, key)
		}
	}
	if !isURL(ref) {
		return nil, "", fmt.Errorf("storage: unresolvable reference %q", ref)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, "", fmt.Errorf("storage: build request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("storage: fetch %s: %w", ref, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, "", ErrObjectNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("storage: fetch %s: status %d", ref, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("storage: read %s: %w", ref, err)
	}
	if len(data) > maxFetchBytes {
		return nil, "", fmt.Errorf("storage: %s exceeds %d bytes", ref, maxFetchBytes)
	}
	contentType := baseMIME(resp.Header.Get("Content-Type"))
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = DetectContentType(ref, data)
	}
	return data, contentType, nil
}
