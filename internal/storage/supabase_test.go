package storage

import (
	"context"
	"io"
	"testing"

	storage_go "github.com/supabase-community/storage-go"
)

type stubSupabase struct {
	uploads map[string][]byte
	upserts []bool
	removed []string
}

func (s *stubSupabase) UploadFile(bucketID, path string, data io.Reader, opts ...storage_go.FileOptions) (storage_go.FileUploadResponse, error) {
	raw, _ := io.ReadAll(data)
	s.uploads[path] = raw
	if len(opts) > 0 && opts[0].Upsert != nil {
		s.upserts = append(s.upserts, *opts[0].Upsert)
	}
	return storage_go.FileUploadResponse{}, nil
}

func (s *stubSupabase) DownloadFile(bucketID, path string, _ ...storage_go.UrlOptions) ([]byte, error) {
	return s.uploads[path], nil
}

func (s *stubSupabase) RemoveFile(bucketID string, paths []string) ([]storage_go.FileUploadResponse, error) {
	s.removed = append(s.removed, paths...)
	return nil, nil
}

func (s *stubSupabase) GetPublicUrl(bucketID, path string, _ ...storage_go.UrlOptions) storage_go.SignedUrlResponse {
	return storage_go.SignedUrlResponse{SignedURL: "https://proj.supabase.co/storage/v1/object/public/" + bucketID + "/" + path}
}

func TestSupabaseStoreUpsertsAndResolvesRefs(t *testing.T) {
	client := &stubSupabase{uploads: map[string][]byte{}}
	store, err := NewSupabaseStore(client, "images")
	if err != nil {
		t.Fatalf("NewSupabaseStore error: %v", err)
	}
	ctx := context.Background()
	ref, err := store.Put(ctx, "toonified/toonified-1.png", pngHeader, "image/png")
	if err != nil {
		t.Fatalf("Put error: %v", err)
	}
	if len(client.upserts) != 1 || !client.upserts[0] {
		t.Fatalf("expected upsert upload, got %v", client.upserts)
	}
	key, ok := store.KeyFromRef(ref)
	if !ok || key != "toonified/toonified-1.png" {
		t.Fatalf("KeyFromRef(%q) = %q %v", ref, key, ok)
	}
	data, ct, err := store.Get(ctx, key)
	if err != nil || ct != "image/png" || string(data) != string(pngHeader) {
		t.Fatalf("Get = %q %q %v", data, ct, err)
	}
	if err := store.Delete(ctx, key); err != nil || len(client.removed) != 1 {
		t.Fatalf("Delete = %v removed=%v", err, client.removed)
	}
	if _, ok := store.KeyFromRef("https://proj.supabase.co/storage/v1/object/public/other/x.png"); ok {
		t.Fatal("other bucket URL must not resolve")
	}
}
