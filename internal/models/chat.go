package models

import "time"

// ChatStatus enumerates the support ticket lifecycle.
type ChatStatus string

const (
	ChatStatusOpen       ChatStatus = "OPEN"
	ChatStatusInProgress ChatStatus = "IN_PROGRESS"
	ChatStatusClosed     ChatStatus = "CLOSED"
)

// Chat is a support ticket between a student and staff.
type Chat struct {
	ID         string     `db:"id" json:"id"`
	UserID     string     `db:"user_id" json:"user_id"`
	Subject    string     `db:"subject" json:"subject"`
	Status     ChatStatus `db:"status" json:"status"`
	AssigneeID *string    `db:"assignee_id" json:"assignee_id,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

// ChatMessage is a single ordered message in a chat. IsSystem marks
// synthetic or admin-injected notices.
type ChatMessage struct {
	ID        string     `db:"id" json:"id"`
	ChatID    string     `db:"chat_id" json:"chat_id"`
	SenderID  string     `db:"sender_id" json:"sender_id"`
	Body      string     `db:"body" json:"body"`
	IsSystem  bool       `db:"is_system" json:"is_system"`
	Read      bool       `db:"read" json:"read"`
	ReadAt    *time.Time `db:"read_at" json:"read_at,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

// ChatSummary joins per-chat unread counts and participant context for
// staff inbox listings.
type ChatSummary struct {
	Chat
	UserName    string     `db:"user_name" json:"user_name"`
	UserEmail   string     `db:"user_email" json:"user_email"`
	UnreadCount int        `db:"unread_count" json:"unread_count"`
	LastMessage *time.Time `db:"last_message_at" json:"last_message_at,omitempty"`
}

// ChatFilter captures listing criteria for the staff inbox.
type ChatFilter struct {
	UserID     string
	Status     ChatStatus
	AssigneeID string
	Page       int
	PageSize   int
}

// TypingState reports the counterpart typing indicator for a chat.
type TypingState struct {
	ChatID string `json:"chat_id"`
	UserID string `json:"user_id,omitempty"`
	Typing bool   `json:"typing"`
}

// UnreadSummary carries viewer unread totals for badge polling.
type UnreadSummary struct {
	Total  int            `json:"total"`
	ByChat map[string]int `json:"by_chat,omitempty"`
}
