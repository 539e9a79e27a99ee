package api

import (
	"time"

	"github.com/starford/sangmemo/internal/models"
	"github.com/starford/sangmemo/internal/noteservice"
)

// Note is the note representation returned by the API (aliased from the domain layer).
type Note = models.Note

// SaveNoteRequest is the request body for saving a note. Server-owned fields
// (creation time, lock state, view counters) are ignored if sent.
type SaveNoteRequest struct {
	Title        string            `json:"title" example:"Groceries"`
	Content      string            `json:"content" example:"buy milk"`
	Tags         []string          `json:"tags" example:"home,food"`
	Importance   models.Importance `json:"importance" example:"medium"`
	Color        models.Color      `json:"color,omitempty" example:"blue"`
	Category     string            `json:"category,omitempty" example:"home"`
	ReminderDate time.Time         `json:"reminderDate,omitzero"`
}

// PasswordRequest carries a lock or unlock password.
type PasswordRequest struct {
	Password string `json:"password" validate:"required"`
}

// UnlockResponse reports whether the password matched.
type UnlockResponse struct {
	Unlocked bool `json:"unlocked"`
}

// AttachImageRequest is the JSON form of an image attachment. Exactly one of
// DataURI and URL is set.
type AttachImageRequest struct {
	DataURI string `json:"dataUri,omitempty" example:"data:image/png;base64,iVBOR..."`
	URL     string `json:"url,omitempty" example:"https://example.com/cat.png"`
	Alt     string `json:"alt,omitempty" example:"cat"`
}

// NoteListResponse wraps note listings.
type NoteListResponse struct {
	Notes []Note `json:"notes" validate:"required"`
	Total int    `json:"total" example:"42" validate:"required"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []models.SearchResult `json:"results" validate:"required"`
}

// CategoriesResponse lists the categories in use.
type CategoriesResponse struct {
	Categories []string `json:"categories" validate:"required"`
}

// SelectionResponse is the current selection (aliased from the domain layer).
type SelectionResponse = noteservice.Selection

// NotificationsResponse lists notifications, newest first.
type NotificationsResponse struct {
	Notifications []models.NotificationItem `json:"notifications" validate:"required"`
	Unread        int                       `json:"unread" example:"2"`
}

// UnreadCountResponse carries the unread notification count.
type UnreadCountResponse struct {
	Unread int `json:"unread" example:"2"`
}

func (r SaveNoteRequest) apply(n *models.Note) {
	n.Title = r.Title
	n.Content = r.Content
	n.Tags = r.Tags
	n.Importance = r.Importance
	n.Color = r.Color
	n.Category = r.Category
	n.ReminderDate = r.ReminderDate
}
