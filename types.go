package wordimpact

import (
	"encoding/json"
	"fmt"
	"time"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents a non-successful REST response.
type APIError struct {
	Status  int    `json:"-"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return e.Message
	}
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

// Result is the response envelope returned by every REST endpoint.
type Result struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals the data field into v.
func (r *Result) Decode(v interface{}) error {
	if len(r.Data) == 0 {
		return fmt.Errorf("empty data")
	}
	return json.Unmarshal(r.Data, v)
}

// ============================================================================
// Messaging Types
// ============================================================================

// User is the denormalized participant attached to messages.
type User struct {
	ID       string `json:"id"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role,omitempty"`
	FullName string `json:"fullName,omitempty"`
}

// Message is a chat message between a student and an admin.
type Message struct {
	ID          string    `json:"id"`
	Content     string    `json:"content"`
	SenderID    string    `json:"senderId,omitempty"`
	Sender      *User     `json:"sender,omitempty"`
	RecipientID string    `json:"recipientId,omitempty"`
	Recipient   *User     `json:"recipient,omitempty"`
	IsRead      bool      `json:"isRead"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt,omitempty"`

	// Speculative is set on local shadows built from a push event that the
	// REST source of truth has not confirmed yet.
	Speculative bool `json:"-"`
}

// NotificationSummary is a single entry of the notification list.
type NotificationSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	IsRead    bool      `json:"isRead"`
	CreatedAt time.Time `json:"createdAt"`
}

// Pagination describes a page of a REST collection.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// NotificationPage is one page of notifications.
type NotificationPage struct {
	Notifications []NotificationSummary `json:"notifications"`
	Pagination    Pagination            `json:"pagination"`
}

// MessagePage is one page of a conversation.
type MessagePage struct {
	Messages   []Message  `json:"messages"`
	Pagination Pagination `json:"pagination"`
}

// UnreadCount is the payload of the unread-count endpoints.
type UnreadCount struct {
	Count int `json:"unreadCount"`
}

// UnreadCounts aggregates both unread counters.
type UnreadCounts struct {
	Messages      int
	Notifications int
}

// ============================================================================
// Request Options
// ============================================================================

// PageOptions selects a page of a collection. Zero values are omitted.
type PageOptions struct {
	Page  int
	Limit int
}

// NotificationListOptions selects a page of notifications.
type NotificationListOptions struct {
	Page       int
	Limit      int
	UnreadOnly bool
}

// SendMessageOptions is the body of a message send.
type SendMessageOptions struct {
	Content     string `json:"content"`
	RecipientID string `json:"recipientId,omitempty"`
}
