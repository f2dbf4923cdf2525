package messagequeue

import "time"

// MessagePayload is the schema for messages.{message_type} subjects.
type MessagePayload struct {
	ID        string         `json:"id"`
	Type      string         `json:"message_type"`
	From      string         `json:"from"`
	To        string         `json:"to,omitempty"`
	Body      map[string]any `json:"body,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
