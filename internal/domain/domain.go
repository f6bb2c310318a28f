package domain

import "strings"

// Role is the closed set of actor kinds known to the resolver.
type Role string

const (
	RoleOwnerAdmin  Role = "owner-admin"
	RoleOwnerVendor Role = "owner-vendor"
	RoleEmployee    Role = "employee"
	RoleCustomer    Role = "customer"
)

// ParseRole accepts canonical names plus the short forms used by the CLI.
// Unknown input yields an invalid Role that resolves to no permissions.
func ParseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "owner-admin", "admin":
		return RoleOwnerAdmin
	case "owner-vendor", "vendor":
		return RoleOwnerVendor
	case "employee":
		return RoleEmployee
	case "customer":
		return RoleCustomer
	}
	return Role(s)
}

func (r Role) Valid() bool {
	switch r {
	case RoleOwnerAdmin, RoleOwnerVendor, RoleEmployee, RoleCustomer:
		return true
	}
	return false
}

// IsOwner reports whether the role is a top-level owner.
func (r Role) IsOwner() bool {
	return r == RoleOwnerAdmin || r == RoleOwnerVendor
}

type Actor struct {
	ID             string  `json:"id"`
	Role           Role    `json:"role" enum:"owner-admin,owner-vendor,employee,customer"`
	ParentID       *string `json:"parent_id,omitempty"`
	ProfileID      *string `json:"profile_id,omitempty"`
	FirstName      string  `json:"first_name,omitempty"`
	LastName       string  `json:"last_name,omitempty"`
	Email          string  `json:"email"`
	CredentialHash string  `json:"-"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
	UpdatedAt      string  `json:"updated_at" format:"date-time"`
}

type Profile struct {
	ID          string   `json:"id"`
	OwnerID     string   `json:"owner_id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Permissions []string `json:"permissions"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
	UpdatedAt   string   `json:"updated_at" format:"date-time"`
}

const (
	AuditSuccess = "success"
	AuditFailure = "failure"
)

// AuditEntry is an immutable record of a delegation decision.
type AuditEntry struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Action     string         `json:"action"`
	ActorID    string         `json:"actor_id"`
	ActorRole  Role           `json:"actor_role"`
	TargetKind string         `json:"target_kind"`
	TargetID   string         `json:"target_id,omitempty"`
	Status     string         `json:"status" enum:"success,failure"`
	Details    map[string]any `json:"details,omitempty"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// EffectivePermissions is the resolver output for one actor.
type EffectivePermissions struct {
	ActorID     string   `json:"actor_id"`
	Role        Role     `json:"role"`
	All         bool     `json:"all"`
	Permissions []string `json:"permissions"`
}
