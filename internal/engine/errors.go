package engine

import (
	"errors"
	"fmt"

	"tripauth/internal/engine/auth"
)

type NotFoundError struct {
	Kind string
	ID   string
}

func (e NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Kind)
	}
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

type DuplicateProfileError struct {
	Name    string
	OwnerID string
}

func (e DuplicateProfileError) Error() string {
	return fmt.Sprintf("profile %q already exists for owner %s", e.Name, e.OwnerID)
}

type DuplicateIdentityError struct {
	Email string
}

func (e DuplicateIdentityError) Error() string {
	return fmt.Sprintf("an actor with email %s already exists", e.Email)
}

// InUseError blocks deleting a profile that actors still reference.
type InUseError struct {
	ProfileID  string
	References int
}

func (e InUseError) Error() string {
	return fmt.Sprintf("profile %s is assigned to %d actor(s)", e.ProfileID, e.References)
}

type InvalidError struct {
	Field  string
	Reason string
}

func (e InvalidError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

type Kind string

const (
	KindNone                Kind = ""
	KindForbidden           Kind = "forbidden"
	KindPrivilegeEscalation Kind = "privilege_escalation"
	KindNotFound            Kind = "not_found"
	KindDuplicateProfile    Kind = "duplicate_profile"
	KindDuplicateIdentity   Kind = "duplicate_identity"
	KindInUse               Kind = "in_use"
	KindInvalid             Kind = "invalid"
	KindInternal            Kind = "internal"
)

// KindOf classifies err. Errors outside the taxonomy are KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var (
		forbidden auth.ForbiddenError
		escalate  auth.EscalationError
		notFound  NotFoundError
		dupProf   DuplicateProfileError
		dupIdent  DuplicateIdentityError
		inUse     InUseError
		invalid   InvalidError
	)
	switch {
	case errors.As(err, &forbidden):
		return KindForbidden
	case errors.As(err, &escalate):
		return KindPrivilegeEscalation
	case errors.As(err, &notFound):
		return KindNotFound
	case errors.As(err, &dupProf):
		return KindDuplicateProfile
	case errors.As(err, &dupIdent):
		return KindDuplicateIdentity
	case errors.As(err, &inUse):
		return KindInUse
	case errors.As(err, &invalid):
		return KindInvalid
	}
	return KindInternal
}
