package models

import "time"

// NotificationType discriminates notification items.
type NotificationType string

const (
	NotificationReminder  NotificationType = "reminder"
	NotificationForgotten NotificationType = "forgotten_memo"
)

// NotificationItem is an in-app notification about one note.
type NotificationItem struct {
	ID           string           `json:"id"`
	MemoID       string           `json:"memoId"`
	Type         NotificationType `json:"type"`
	Title        string           `json:"title"`
	Message      string           `json:"message"`
	CreatedAt    time.Time        `json:"createdAt"`
	IsRead       bool             `json:"isRead"`
	ScheduledFor time.Time        `json:"scheduledFor,omitzero"`
}
