// Package principal defines the Principal domain entity: the identity
// (user, device or service) that owns agents and sends messages.
package principal

import "time"

// Type classifies a principal.
type Type string

const (
	TypeUser    Type = "user"
	TypeDevice  Type = "device"
	TypeService Type = "service"
)

// ValidTypes is the set of all valid principal types.
var ValidTypes = map[Type]bool{
	TypeUser:    true,
	TypeDevice:  true,
	TypeService: true,
}

// Principal is an identity known to the platform.
type Principal struct {
	ID        string    `json:"id"`
	Type      Type      `json:"principal_type"`
	Name      string    `json:"name,omitempty"`
	LastIP    string    `json:"last_ip,omitempty"`
	Owner     string    `json:"owner,omitempty"` // owning user id, devices only
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Is reports whether the principal has the given type.
func (p *Principal) Is(t Type) bool {
	return p != nil && p.Type == t
}

// IsUser reports whether the principal is a user.
func (p *Principal) IsUser() bool { return p.Is(TypeUser) }

// IsDevice reports whether the principal is a device.
func (p *Principal) IsDevice() bool { return p.Is(TypeDevice) }

// IsService reports whether the principal is a service.
func (p *Principal) IsService() bool { return p.Is(TypeService) }

// HasOwner reports whether the principal is claimed by another principal.
func (p *Principal) HasOwner() bool {
	return p != nil && p.Owner != ""
}

// Query selects principals. Empty fields are ignored; set fields are ANDed.
type Query struct {
	ID     string `json:"id,omitempty"`
	LastIP string `json:"last_ip,omitempty"`
	Type   Type   `json:"principal_type,omitempty"`
	Name   string `json:"name,omitempty"`
}

// IsEmpty reports whether the query has no constraints.
func (q Query) IsEmpty() bool {
	return q.ID == "" && q.LastIP == "" && q.Type == "" && q.Name == ""
}

// Matches reports whether p satisfies every constraint of q.
func (q Query) Matches(p *Principal) bool {
	if p == nil {
		return false
	}
	if q.ID != "" && p.ID != q.ID {
		return false
	}
	if q.LastIP != "" && p.LastIP != q.LastIP {
		return false
	}
	if q.Type != "" && p.Type != q.Type {
		return false
	}
	if q.Name != "" && p.Name != q.Name {
		return false
	}
	return true
}
