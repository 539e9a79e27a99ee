package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ListNotifications handles GET /api/notifications.
//
//	@Summary		List notifications, newest first
//	@Tags			notifications
//	@Produce		json
//	@Success		200	{object}	NotificationsResponse
//	@Security		BearerAuth
//	@Router			/notifications [get]
func (h *Handler) ListNotifications(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, NotificationsResponse{
		Notifications: h.sched.All(),
		Unread:        h.sched.UnreadCount(),
	})
}

// UnreadCount handles GET /api/notifications/unread-count.
func (h *Handler) UnreadCount(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, UnreadCountResponse{Unread: h.sched.UnreadCount()})
}

// MarkAsRead handles POST /api/notifications/{id}/read.
func (h *Handler) MarkAsRead(w http.ResponseWriter, r *http.Request) {
	if err := h.sched.MarkAsRead(chi.URLParam(r, "id")); err != nil {
		writeError(w, "mark notification read", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkAllAsRead handles POST /api/notifications/read-all.
func (h *Handler) MarkAllAsRead(w http.ResponseWriter, _ *http.Request) {
	h.sched.MarkAllAsRead()
	w.WriteHeader(http.StatusNoContent)
}
