package api

import (
	"encoding/json"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/sangmemo/internal/images"
	"github.com/starford/sangmemo/internal/markdown"
	"github.com/starford/sangmemo/internal/models"
	"github.com/starford/sangmemo/internal/noteservice"
	"github.com/starford/sangmemo/internal/notify"
)

const (
	passwordHeader = "X-Memo-Password"
	maxBodyBytes   = 1 << 20
)

// Handler holds API route handlers.
type Handler struct {
	svc     *noteservice.Service
	sched   *notify.Scheduler
	fetcher *images.Fetcher
}

// NewHandler creates a new Handler. sched may be nil when notifications are
// not wired.
func NewHandler(svc *noteservice.Service, sched *notify.Scheduler, fetcher *images.Fetcher) *Handler {
	if fetcher == nil {
		fetcher = images.NewFetcher()
	}
	return &Handler{svc: svc, sched: sched, fetcher: fetcher}
}

func setETag(w http.ResponseWriter, n models.Note) {
	w.Header().Set("ETag", strconv.Quote(n.Checksum()))
}

// ListNotes handles GET /api/notes.
//
//	@Summary		List notes with sorting and filtering
//	@Tags			notes
//	@Produce		json
//	@Param			sort		query		string	false	"Sort field"	Enums(updatedAt, createdAt, importance, title)
//	@Param			filter		query		string	false	"Filter kind"	Enums(all, category, importance)
//	@Param			category	query		string	false	"Category for filter=category"
//	@Param			importance	query		string	false	"Level for filter=importance"
//	@Success		200			{object}	NoteListResponse
//	@Failure		400			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes [get]
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sortBy, err := models.ParseSortBy(q.Get("sort"))
	if err != nil {
		writeError(w, "list notes", err)
		return
	}
	filterBy, err := models.ParseFilterBy(q.Get("filter"))
	if err != nil {
		writeError(w, "list notes", err)
		return
	}
	opts := noteservice.ListOptions{Sort: sortBy, Filter: filterBy, Category: q.Get("category")}
	if filterBy == models.FilterImportance {
		if opts.Importance, err = models.ParseImportance(q.Get("importance")); err != nil {
			writeError(w, "list notes", err)
			return
		}
	}

	notes, err := h.svc.List(r.Context(), opts)
	if err != nil {
		writeError(w, "list notes", err)
		return
	}
	writeJSON(w, http.StatusOK, NoteListResponse{Notes: notes, Total: len(notes)})
}

// CreateNote handles POST /api/notes.
//
//	@Summary		Create an empty note and select it for editing
//	@Tags			notes
//	@Produce		json
//	@Success		201	{object}	Note
//	@Security		BearerAuth
//	@Router			/notes [post]
func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	note, err := h.svc.Create(r.Context())
	if err != nil {
		writeError(w, "create note", err)
		return
	}
	setETag(w, note)
	writeJSON(w, http.StatusCreated, note)
}

// GetNote handles GET /api/notes/{id}.
//
//	@Summary		View a note (counts as a view)
//	@Tags			notes
//	@Produce		json
//	@Param			id					path		string	true	"Note id"
//	@Param			X-Memo-Password		header		string	false	"Password of a locked note"
//	@Success		200		{object}	Note
//	@Failure		403		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		423		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id} [get]
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	note, err := h.svc.View(r.Context(), chi.URLParam(r, "id"), r.Header.Get(passwordHeader))
	if err != nil {
		writeError(w, "view note", err)
		return
	}
	setETag(w, note)
	writeJSON(w, http.StatusOK, note)
}

// EditNote handles POST /api/notes/{id}/edit.
func (h *Handler) EditNote(w http.ResponseWriter, r *http.Request) {
	note, err := h.svc.Edit(r.Context(), chi.URLParam(r, "id"), r.Header.Get(passwordHeader))
	if err != nil {
		writeError(w, "edit note", err)
		return
	}
	setETag(w, note)
	writeJSON(w, http.StatusOK, note)
}

// SaveNote handles PUT /api/notes/{id}.
//
//	@Summary		Save a note with optimistic concurrency
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			id			path		string			true	"Note id"
//	@Param			If-Match	header		string			false	"Checksum from the last ETag"
//	@Param			body		body		SaveNoteRequest	true	"Note fields"
//	@Success		200			{object}	Note
//	@Failure		400			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Failure		423			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id} [put]
func (h *Handler) SaveNote(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, images.MaxSize*2)
	var req SaveNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	n := models.Note{ID: chi.URLParam(r, "id")}
	req.apply(&n)
	// Strip surrounding quotes if present (standard ETag format).
	ifMatch := strings.Trim(r.Header.Get("If-Match"), `"`)

	note, err := h.svc.Save(r.Context(), n, ifMatch)
	if err != nil {
		writeError(w, "save note", err)
		return
	}
	setETag(w, note)
	writeJSON(w, http.StatusOK, note)
}

// DeleteNote handles DELETE /api/notes/{id}.
func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, "delete note", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// OrganizeNote handles POST /api/notes/{id}/organize.
//
//	@Summary		Restructure note content with the assistant
//	@Tags			assistant
//	@Produce		json
//	@Param			id	path		string	true	"Note id"
//	@Success		200	{object}	Note
//	@Failure		400	{object}	errResponse
//	@Failure		409	{object}	errResponse
//	@Failure		502	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id}/organize [post]
func (h *Handler) OrganizeNote(w http.ResponseWriter, r *http.Request) {
	note, err := h.svc.Organize(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "organize note", err)
		return
	}
	setETag(w, note)
	writeJSON(w, http.StatusOK, note)
}

// SuggestTags handles POST /api/notes/{id}/tags/suggest.
func (h *Handler) SuggestTags(w http.ResponseWriter, r *http.Request) {
	note, err := h.svc.SuggestTags(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "suggest tags", err)
		return
	}
	setETag(w, note)
	writeJSON(w, http.StatusOK, note)
}

func decodePassword(w http.ResponseWriter, r *http.Request) (string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req PasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return "", false
	}
	return req.Password, true
}

// LockNote handles POST /api/notes/{id}/lock.
func (h *Handler) LockNote(w http.ResponseWriter, r *http.Request) {
	pw, ok := decodePassword(w, r)
	if !ok {
		return
	}
	note, err := h.svc.Lock(r.Context(), chi.URLParam(r, "id"), pw)
	if err != nil {
		writeError(w, "lock note", err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// UnlockNote handles POST /api/notes/{id}/unlock. A wrong password is not an
// error: the response reports unlocked=false.
func (h *Handler) UnlockNote(w http.ResponseWriter, r *http.Request) {
	pw, ok := decodePassword(w, r)
	if !ok {
		return
	}
	unlocked, err := h.svc.Unlock(r.Context(), chi.URLParam(r, "id"), pw)
	if err != nil {
		writeError(w, "unlock note", err)
		return
	}
	writeJSON(w, http.StatusOK, UnlockResponse{Unlocked: unlocked})
}

// ExportNote handles GET /api/notes/{id}/export.
//
//	@Summary		Download a note as Markdown
//	@Tags			notes
//	@Produce		text/markdown
//	@Param			id			path	string	true	"Note id"
//	@Param			timestamps	query	bool	false	"Append created/updated lines"
//	@Param			frontmatter	query	bool	false	"Prepend YAML frontmatter"
//	@Success		200
//	@Failure		423	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id}/export [get]
func (h *Handler) ExportNote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := markdown.ExportOptions{}
	opts.Timestamps, _ = strconv.ParseBool(q.Get("timestamps"))
	opts.Frontmatter, _ = strconv.ParseBool(q.Get("frontmatter"))

	data, name, err := h.svc.Export(r.Context(), chi.URLParam(r, "id"), opts)
	if err != nil {
		writeError(w, "export note", err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// RenderNote handles GET /api/notes/{id}/html.
func (h *Handler) RenderNote(w http.ResponseWriter, r *http.Request) {
	html, err := h.svc.RenderHTML(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "render note", err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(html))
}

// Search handles GET /api/search.
//
//	@Summary		Ranked search across notes
//	@Tags			search
//	@Produce		json
//	@Param			q	query		string	false	"Search query; blank yields no results"
//	@Success		200	{object}	SearchResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	results := h.svc.Search(r.Context(), r.URL.Query().Get("q"))
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

// Categories handles GET /api/categories.
func (h *Handler) Categories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, CategoriesResponse{Categories: h.svc.Categories(r.Context())})
}

// Selection handles GET /api/selection.
func (h *Handler) Selection(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, SelectionResponse(h.svc.Selection()))
}
