package server

import (
	"tripauth/internal/domain"
	"tripauth/internal/perm"
)

// Request payloads

type CreateProfileRequest struct {
	Name        string   `json:"name" minLength:"1"`
	Description string   `json:"description,omitempty"`
	Permissions []string `json:"permissions"`
}

type UpdateProfileRequest struct {
	Name        *string   `json:"name,omitempty"`
	Description *string   `json:"description,omitempty"`
	Permissions *[]string `json:"permissions,omitempty"`
}

type CheckPermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

type CreateEmployeeRequest struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Email     string `json:"email" format:"email"`
	Password  string `json:"password" minLength:"1"`
	ProfileID string `json:"profile_id"`
}

type UpdateEmployeeRequest struct {
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
	Email     *string `json:"email,omitempty"`
	Password  *string `json:"password,omitempty"`
	ProfileID *string `json:"profile_id,omitempty"`
}

type DevLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Responses

type ActorResponse struct {
	ID        string      `json:"id"`
	Role      domain.Role `json:"role"`
	ParentID  string      `json:"parent_id,omitempty"`
	ProfileID string      `json:"profile_id,omitempty"`
	FirstName string      `json:"first_name,omitempty"`
	LastName  string      `json:"last_name,omitempty"`
	Email     string      `json:"email"`
	CreatedAt string      `json:"created_at"`
	UpdatedAt string      `json:"updated_at"`
}

type ProfileResponse = domain.Profile

type PermissionsResponse = domain.EffectivePermissions

type CheckPermissionsResponse struct {
	Allowed  bool     `json:"allowed"`
	Rejected []string `json:"rejected"`
}

type CatalogResponse struct {
	Resources   []perm.Resource `json:"resources"`
	Permissions []string        `json:"permissions"`
}

type AuditEntryResponse = domain.AuditEntry

type AuditListResponse struct {
	Items      []AuditEntryResponse `json:"items"`
	NextCursor int64                `json:"next_cursor,omitempty"`
}

type DeleteResponse struct {
	Deleted bool `json:"deleted"`
}

type DevLoginResponse struct {
	Token     string `json:"token"`
	ActorID   string `json:"actor_id"`
	ExpiresAt string `json:"expires_at"`
}

func mapActor(a domain.Actor) ActorResponse {
	return ActorResponse{
		ID:        a.ID,
		Role:      a.Role,
		ParentID:  stringOrEmpty(a.ParentID),
		ProfileID: stringOrEmpty(a.ProfileID),
		FirstName: a.FirstName,
		LastName:  a.LastName,
		Email:     a.Email,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func mapActors(items []domain.Actor) []ActorResponse {
	out := make([]ActorResponse, 0, len(items))
	for _, a := range items {
		out = append(out, mapActor(a))
	}
	return out
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
