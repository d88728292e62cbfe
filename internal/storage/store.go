package storage

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// ErrObjectNotFound is returned by Get for a missing key.
var ErrObjectNotFound = errors.New("storage: object not found")

// BlobStore reads and writes image blobs by key and maps keys to public
// references. Put overwrites an existing object at the same key.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, string, error)
	Delete(ctx context.Context, key string) error
	PublicURL(key string) string
	// KeyFromRef recovers the storage key from a reference produced by
	// PublicURL, or accepts a bare key. It reports false for foreign URLs.
	KeyFromRef(ref string) (string, bool)
}

// OriginalKey returns the upload location <ownerID>/<random>.<ext>.
func OriginalKey(ownerID, contentType string) (string, error) {
	owner := strings.Trim(strings.TrimSpace(ownerID), "/")
	if owner == "" || strings.Contains(owner, "/") || strings.Contains(owner, "..") {
		return "", fmt.Errorf("storage: invalid owner id %q", ownerID)
	}
	name := strings.ReplaceAll(uuid.NewString(), "-", "")[:13]
	return owner + "/" + name + ExtensionForMIME(contentType), nil
}

// ToonifiedKey returns the deterministic output location for a job, so a
// reprocessed job overwrites its previous output.
func ToonifiedKey(jobID, contentType string) string {
	return "toonified/toonified-" + jobID + "." + subtypeExtension(contentType)
}

// outputTypes are the image types the generation service is known to return.
var outputTypes = []string{"image/png", "image/jpeg", "image/webp", "image/gif", ""}

// ToonifiedKeys lists every output location a job may have written, for
// cleanup when the stored reference is missing.
func ToonifiedKeys(jobID string) []string {
	keys := make([]string, 0, len(outputTypes))
	for _, ct := range outputTypes {
		keys = append(keys, ToonifiedKey(jobID, ct))
	}
	return keys
}

// ExtensionForMIME maps an image content type to a file extension for uploads.
func ExtensionForMIME(contentType string) string {
	switch baseMIME(contentType) {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".jpg"
	}
}

// subtypeExtension uses the MIME subtype verbatim (image/jpeg -> jpeg) and
// falls back to jpg.
func subtypeExtension(contentType string) string {
	base := baseMIME(contentType)
	_, sub, ok := strings.Cut(base, "/")
	if !ok || sub == "" {
		return "jpg"
	}
	if i := strings.IndexByte(sub, '+'); i > 0 {
		sub = sub[:i]
	}
	return sub
}

// DetectContentType sniffs an image content type, falling back to the key's extension.
func DetectContentType(key string, data []byte) string {
	if ct := http.DetectContentType(data); strings.HasPrefix(ct, "image/") {
		return ct
	}
	if i := strings.LastIndexByte(key, '.'); i >= 0 {
		if ct := mime.TypeByExtension(key[i:]); ct != "" {
			return baseMIME(ct)
		}
	}
	return "application/octet-stream"
}

func baseMIME(contentType string) string {
	base, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(base))
}

func isURL(ref string) bool {
	lower := strings.ToLower(ref)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// keyAfterPrefix strips prefix from ref and sanitizes the remainder.
func keyAfterPrefix(ref, prefix string) (string, bool) {
	if prefix != "" && strings.HasPrefix(ref, prefix) {
		key, err := sanitizeKey(strings.TrimPrefix(ref, prefix))
		return key, err == nil
	}
	if isURL(ref) {
		return "", false
	}
	key, err := sanitizeKey(ref)
	return key, err == nil
}
