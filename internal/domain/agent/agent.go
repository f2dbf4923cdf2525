// Package agent defines the Agent domain entity: a script bound to the
// principal it executes as.
package agent

import (
	"encoding/json"
	"errors"
	"time"
)

// Agent is a persisted agent definition.
type Agent struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Action    string          `json:"action"`
	Enabled   bool            `json:"enabled"`
	ExecuteAs string          `json:"execute_as"`
	Params    json.RawMessage `json:"params,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// CreateRequest is the draft of a new agent. ExecuteAs is honoured only
// when the creator is the service principal.
type CreateRequest struct {
	Name      string          `json:"name"`
	Action    string          `json:"action"`
	Enabled   bool            `json:"enabled"`
	ExecuteAs string          `json:"execute_as,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
}

// Validate checks that the CreateRequest has all required fields.
func (r *CreateRequest) Validate() error {
	if r.Name == "" {
		return errors.New("name is required")
	}
	if r.Action == "" {
		return errors.New("action is required")
	}
	if len(r.Params) > 0 && !json.Valid(r.Params) {
		return errors.New("params must be valid JSON")
	}
	return nil
}

// UpdateRequest is a partial update. Nil fields are left untouched.
// There is intentionally no ExecuteAs: ownership never changes.
type UpdateRequest struct {
	Name    *string         `json:"name,omitempty"`
	Action  *string         `json:"action,omitempty"`
	Enabled *bool           `json:"enabled,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsEmpty reports whether the update changes nothing.
func (r *UpdateRequest) IsEmpty() bool {
	return r.Name == nil && r.Action == nil && r.Enabled == nil && len(r.Params) == 0
}

// Validate checks the fields that are set.
func (r *UpdateRequest) Validate() error {
	if r.Name != nil && *r.Name == "" {
		return errors.New("name must not be empty")
	}
	if r.Action != nil && *r.Action == "" {
		return errors.New("action must not be empty")
	}
	if len(r.Params) > 0 && !json.Valid(r.Params) {
		return errors.New("params must be valid JSON")
	}
	return nil
}

// Apply returns a copy of a with the update applied.
func (r *UpdateRequest) Apply(a Agent) Agent {
	if r.Name != nil {
		a.Name = *r.Name
	}
	if r.Action != nil {
		a.Action = *r.Action
	}
	if r.Enabled != nil {
		a.Enabled = *r.Enabled
	}
	if len(r.Params) > 0 {
		a.Params = r.Params
	}
	return a
}

// Filter selects agents. Every set field must match.
//
// Owner is the access-control constraint added on behalf of the requesting
// principal; it is ANDed with ExecuteAs rather than replacing it.
type Filter struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	ExecuteAs string `json:"execute_as,omitempty"`
	Enabled   *bool  `json:"enabled,omitempty"`
	Owner     string `json:"-"`
}

// Matches reports whether a satisfies the filter.
func (f Filter) Matches(a *Agent) bool {
	if a == nil {
		return false
	}
	if f.ID != "" && a.ID != f.ID {
		return false
	}
	if f.Name != "" && a.Name != f.Name {
		return false
	}
	if f.ExecuteAs != "" && a.ExecuteAs != f.ExecuteAs {
		return false
	}
	if f.Owner != "" && a.ExecuteAs != f.Owner {
		return false
	}
	if f.Enabled != nil && a.Enabled != *f.Enabled {
		return false
	}
	return true
}

// Sortable fields.
const (
	SortName      = "name"
	SortCreatedAt = "created_at"
)

// ListOptions controls paging and ordering of agent queries. Zero Limit means no limit.
type ListOptions struct {
	Limit      int    `json:"limit,omitempty"`
	Offset     int    `json:"offset,omitempty"`
	Sort       string `json:"sort,omitempty"`
	Descending bool   `json:"descending,omitempty"`
}
