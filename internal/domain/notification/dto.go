package notification

import (
	"time"

	"github.com/google/uuid"
)

// NotificationResponse for API
type NotificationResponse struct {
	ID        uuid.UUID         `json:"id"`
	Type      string            `json:"type"`
	Title     string            `json:"title"`
	Body      string            `json:"body,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
	IsRead    bool              `json:"is_read"`
	CreatedAt string            `json:"created_at"`
}

// NotificationResponseFromEntity converts entity to response
func NotificationResponseFromEntity(n *Notification) *NotificationResponse {
	resp := &NotificationResponse{
		ID:        n.ID,
		Type:      string(n.Type),
		Title:     n.Title,
		Body:      n.Body,
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt.Format(time.RFC3339),
	}
	if len(n.Data) > 0 {
		resp.Data = n.GetData()
	}
	return resp
}

// UnreadCountResponse for unread count endpoint
type UnreadCountResponse struct {
	UnreadCount int `json:"unread_count"`
}

// ChannelRequest links a chat-bot chat to the caller's account.
type ChannelRequest struct {
	ChatID string `json:"chat_id" validate:"required,max=64"`
}
