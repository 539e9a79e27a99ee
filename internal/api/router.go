package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/sangmemo/internal/images"
	"github.com/starford/sangmemo/internal/noteservice"
	"github.com/starford/sangmemo/internal/notify"
)

// RouterConfig carries the collaborators of the API router.
type RouterConfig struct {
	Service     *noteservice.Service
	Scheduler   *notify.Scheduler // optional; notification routes are skipped when nil
	Fetcher     *images.Fetcher   // optional; defaults to images.NewFetcher
	AuthEnabled bool
	Token       string
	SSE         http.Handler // optional; mounted at GET /events inside the auth group
}

// NewRouter creates a chi router with all API routes mounted.
func NewRouter(cfg RouterConfig) chi.Router {
	h := NewHandler(cfg.Service, cfg.Scheduler, cfg.Fetcher)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(cfg.AuthEnabled, cfg.Token))

	r.Route("/notes", func(r chi.Router) {
		r.Get("/", h.ListNotes)
		r.Post("/", h.CreateNote)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetNote)
			r.Put("/", h.SaveNote)
			r.Delete("/", h.DeleteNote)
			r.Post("/edit", h.EditNote)
			r.Post("/organize", h.OrganizeNote)
			r.Post("/tags/suggest", h.SuggestTags)
			r.Post("/lock", h.LockNote)
			r.Post("/unlock", h.UnlockNote)
			r.Post("/images", h.AttachImage)
			r.Get("/export", h.ExportNote)
			r.Get("/html", h.RenderNote)
		})
	})

	r.Get("/search", h.Search)
	r.Get("/categories", h.Categories)
	r.Get("/selection", h.Selection)

	if cfg.Scheduler != nil {
		r.Get("/notifications", h.ListNotifications)
		r.Get("/notifications/unread-count", h.UnreadCount)
		r.Post("/notifications/read-all", h.MarkAllAsRead)
		r.Post("/notifications/{id}/read", h.MarkAsRead)
	}

	// SSE endpoint (protected by same auth middleware).
	if cfg.SSE != nil {
		r.Get("/events", cfg.SSE.ServeHTTP)
	}

	return r
}
