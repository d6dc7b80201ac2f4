package models

import "time"

// Role identifies who authored a message
type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// TimestampLayout is the ISO-8601 layout used for message timestamps
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Session represents a named chat session on the agent backend
type Session struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Message represents a single turn in a session's history
type Message struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// ChatResponse is the backend reply to a sent message. History is the
// full post-send history of the session, not just the new turn.
type ChatResponse struct {
	Response string    `json:"response,omitempty"`
	History  []Message `json:"history"`
}

// FormatTimestamp renders t the way message timestamps are stored
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// NewMessage creates a message stamped with the given time
func NewMessage(role Role, content string, at time.Time) Message {
	return Message{
		Role:      role,
		Content:   content,
		Timestamp: FormatTimestamp(at),
	}
}
