package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/sangmemo/internal/apperr"
	"github.com/starford/sangmemo/internal/images"
)

// AttachImage handles POST /api/notes/{id}/images.
// It accepts multipart/form-data (field "file", optional "alt") or a JSON
// AttachImageRequest with either a data URI or an http(s) URL.
//
//	@Summary		Embed an image in a note
//	@Tags			notes
//	@Accept			multipart/form-data,json
//	@Produce		json
//	@Param			id	path		string	true	"Note id"
//	@Success		200	{object}	Note
//	@Failure		400	{object}	errResponse
//	@Failure		413	{object}	errResponse
//	@Failure		415	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id}/images [post]
func (h *Handler) AttachImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, images.MaxSize*2)

	var (
		img images.Image
		alt string
		err error
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		img, alt, err = h.imageFromMultipart(r)
	} else {
		img, alt, err = h.imageFromJSON(r)
	}
	if err != nil {
		writeError(w, "attach image", err)
		return
	}

	note, err := h.svc.AttachImage(r.Context(), chi.URLParam(r, "id"), img, alt)
	if err != nil {
		writeError(w, "attach image", err)
		return
	}
	setETag(w, note)
	writeJSON(w, http.StatusOK, note)
}

func (h *Handler) imageFromMultipart(r *http.Request) (images.Image, string, error) {
	if err := r.ParseMultipartForm(images.MaxSize); err != nil {
		return images.Image{}, "", fmt.Errorf("%w: file too large or invalid multipart", apperr.ErrValidation)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return images.Image{}, "", fmt.Errorf("%w: missing 'file' field in multipart form", apperr.ErrValidation)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, images.MaxSize+1))
	if err != nil {
		return images.Image{}, "", fmt.Errorf("read upload: %w", err)
	}
	img, err := images.FromBytes(data, header.Header.Get("Content-Type"))
	if err != nil {
		return images.Image{}, "", err
	}

	alt := r.FormValue("alt")
	if alt == "" {
		alt = strings.TrimSuffix(header.Filename, filepath.Ext(header.Filename))
	}
	return img, alt, nil
}

func (h *Handler) imageFromJSON(r *http.Request) (images.Image, string, error) {
	var req AttachImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return images.Image{}, "", fmt.Errorf("%w: invalid JSON body", apperr.ErrValidation)
	}
	switch {
	case req.DataURI != "" && req.URL != "":
		return images.Image{}, "", fmt.Errorf("%w: set either dataUri or url", apperr.ErrValidation)
	case req.DataURI != "":
		img, err := images.FromDataURI(req.DataURI)
		return img, req.Alt, asValidation(err)
	case req.URL != "":
		img, err := h.fetcher.Fetch(r.Context(), req.URL)
		return img, req.Alt, asValidation(err)
	}
	return images.Image{}, "", fmt.Errorf("%w: dataUri or url is required", apperr.ErrValidation)
}

// asValidation classifies malformed input as a validation error while keeping
// the image sentinels intact for their own status codes.
func asValidation(err error) error {
	if err == nil || errors.Is(err, images.ErrNotImage) || errors.Is(err, images.ErrTooLarge) {
		return err
	}
	return fmt.Errorf("%w: %v", apperr.ErrValidation, err)
}
