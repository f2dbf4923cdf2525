// Package message defines the Message domain entity exchanged between principals.
package message

import (
	"errors"
	"strings"
	"time"
	"unicode"
)

// Well-known message types.
const (
	TypeIP      = "ip"
	TypeIPMatch = "ip_match"
)

// Message is a durable platform message.
type Message struct {
	ID        string         `json:"id"`
	Type      string         `json:"message_type"`
	From      string         `json:"from"`
	To        string         `json:"to,omitempty"`
	Body      map[string]any `json:"body,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Validate checks that the message carries a type and a sender. The type
// becomes one subject token, so separators, wildcards and whitespace are rejected.
func (m *Message) Validate() error {
	if m.Type == "" {
		return errors.New("message_type is required")
	}
	if strings.ContainsAny(m.Type, ".*>") || strings.IndexFunc(m.Type, unicode.IsSpace) >= 0 {
		return errors.New("message_type must not contain '.', '*', '>' or whitespace")
	}
	if m.From == "" {
		return errors.New("from is required")
	}
	return nil
}

// BodyString returns the string value of a body field, or "" if absent
// or not a string.
func (m *Message) BodyString(key string) string {
	if m.Body == nil {
		return ""
	}
	s, _ := m.Body[key].(string)
	return s
}

// Filter selects messages delivered to a subscription. Empty fields match anything.
type Filter struct {
	Type string `json:"message_type,omitempty"`
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

// Matches reports whether m satisfies f.
func (f Filter) Matches(m *Message) bool {
	if m == nil {
		return false
	}
	if f.Type != "" && m.Type != f.Type {
		return false
	}
	if f.From != "" && m.From != f.From {
		return false
	}
	if f.To != "" && m.To != f.To {
		return false
	}
	return true
}
