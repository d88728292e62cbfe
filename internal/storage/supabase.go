package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	storage_go "github.com/supabase-community/storage-go"
)

// SupabaseObjects is the subset of the storage-go client used by SupabaseStore.
type SupabaseObjects interface {
	UploadFile(bucketID string, relativePath string, data io.Reader, fileOptions ...storage_go.FileOptions) (storage_go.FileUploadResponse, error)
	DownloadFile(bucketID string, filePath string, urlOptions ...storage_go.UrlOptions) ([]byte, error)
	RemoveFile(bucketID string, paths []string) ([]storage_go.FileUploadResponse, error)
	GetPublicUrl(bucketID string, filePath string, urlOptions ...storage_go.UrlOptions) storage_go.SignedUrlResponse
}

// SupabaseStore keeps blobs in a public Supabase Storage bucket.
type SupabaseStore struct {
	client SupabaseObjects
	bucket string
}

// NewSupabaseClient creates a service-role storage client for the project.
func NewSupabaseClient(supabaseURL, serviceKey string) *storage_go.Client {
	return storage_go.NewClient(strings.TrimRight(supabaseURL, "/")+"/storage/v1", serviceKey, nil)
}

func NewSupabaseStore(client SupabaseObjects, bucket string) (*SupabaseStore, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage: supabase bucket is required")
	}
	return &SupabaseStore{client: client, bucket: bucket}, nil
}

// Put uploads with upsert so reprocessing replaces the previous output.
// storage-go has no context support; ctx is only checked before the call.
func (s *SupabaseStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	upsert := true
	if _, err := s.client.UploadFile(s.bucket, cleanKey, bytes.NewReader(data), storage_go.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	}); err != nil {
		return "", fmt.Errorf("storage: upload %s: %w", cleanKey, err)
	}
	return s.PublicURL(cleanKey), nil
}

func (s *SupabaseStore) Get(ctx context.Context, key string) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return nil, "", err
	}
	data, err := s.client.DownloadFile(s.bucket, cleanKey)
	if err != nil {
		return nil, "", fmt.Errorf("storage: download %s: %w", cleanKey, err)
	}
	return data, DetectContentType(cleanKey, data), nil
}

func (s *SupabaseStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return err
	}
	if _, err := s.client.RemoveFile(s.bucket, []string{cleanKey}); err != nil {
		return fmt.Errorf("storage: remove %s: %w", cleanKey, err)
	}
	return nil
}

func (s *SupabaseStore) PublicURL(key string) string {
	return s.client.GetPublicUrl(s.bucket, strings.TrimLeft(key, "/")).SignedURL
}

// KeyFromRef accepts public object URLs of this bucket or bare keys.
func (s *SupabaseStore) KeyFromRef(ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	marker := "/object/public/" + s.bucket + "/"
	if i := strings.Index(ref, marker); i >= 0 {
		return keyAfterPrefix(ref, ref[:i+len(marker)])
	}
	return keyAfterPrefix(ref, "")
}

var _ BlobStore = (*SupabaseStore)(nil)
