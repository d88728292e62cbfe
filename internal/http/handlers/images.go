package handlers

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"toonify/internal/domain"
	"toonify/internal/storage"
	"toonify/pkg/zip"
)

const maxUploadBytes = 20 << 20

// UploadImage accepts a multipart "file" field or a raw image body.
func (a *App) UploadImage(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.fail(w, r, domain.ErrUnauthorized)
		return
	}
	data, err := readUpload(w, r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	job, err := a.Jobs.Upload(r.Context(), userID, data)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusCreated, job)
}

func readUpload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: read body: %v", domain.ErrInvalidInput, err)
		}
		return data, nil
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, fmt.Errorf("%w: parse form: %v", domain.ErrInvalidInput, err)
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("%w: missing file field", domain.ErrInvalidInput)
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("%w: read file: %v", domain.ErrInvalidInput, err)
	}
	return data, nil
}

// ListImages returns the caller's jobs, newest first.
func (a *App) ListImages(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.fail(w, r, domain.ErrUnauthorized)
		return
	}
	items, err := a.Jobs.List(r.Context(), userID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if items == nil {
		items = []domain.ImageJob{}
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

func (a *App) GetImage(w http.ResponseWriter, r *http.Request) {
	job, err := a.Jobs.GetOwned(r.Context(), a.currentUserID(r), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, job)
}

// SetImageQuality changes the tier of an unpaid job.
func (a *App) SetImageQuality(w http.ResponseWriter, r *http.Request) {
	var req qualityRequest
	if err := a.decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	in := req.normalize()
	if err := a.validate(in); err != nil {
		a.fail(w, r, err)
		return
	}
	job, err := a.Jobs.SetQuality(r.Context(), a.currentUserID(r), chi.URLParam(r, "id"), domain.QualityTier(in.QualityTier))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, job)
}

func (a *App) RetryImage(w http.ResponseWriter, r *http.Request) {
	job, err := a.Jobs.Retry(r.Context(), a.currentUserID(r), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, job)
}

func (a *App) DeleteImage(w http.ResponseWriter, r *http.Request) {
	if err := a.Jobs.Delete(r.Context(), a.currentUserID(r), chi.URLParam(r, "id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ArchiveImage streams a zip with the original and, once complete, the
// toonified image.
func (a *App) ArchiveImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	job, err := a.Jobs.GetOwned(ctx, a.currentUserID(r), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}

	refs := []struct{ name, ref string }{
		{"original", job.OriginalImageRef},
		{"toonified", job.ToonifiedImageRef},
	}
	assets := make([]zip.Asset, 0, len(refs))
	for _, item := range refs {
		if strings.TrimSpace(item.ref) == "" {
			continue
		}
		data, contentType, err := a.Fetcher.Fetch(ctx, item.ref)
		if err != nil {
			a.fail(w, r, fmt.Errorf("%w: fetch %s image: %w", domain.ErrStorageFailed, item.name, err))
			return
		}
		assets = append(assets, zip.Asset{
			Filename: item.name + storage.ExtensionForMIME(contentType),
			MIME:     contentType,
			Data:     data,
			Modified: job.UpdatedAt,
		})
	}

	archive, err := zip.ArchiveAssets(assets)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="toonify-%s.zip"`, job.ID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}
