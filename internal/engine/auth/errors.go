package auth

import (
	"fmt"
	"strings"

	"tripauth/internal/domain"
)

// ForbiddenError indicates the actor's role may not perform the operation.
type ForbiddenError struct {
	ActorID   string
	Role      domain.Role
	Operation string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("role %s may not %s", e.Role, e.Operation)
}

// EscalationError indicates an attempt to grant permissions the actor lacks.
type EscalationError struct {
	ActorID  string
	Rejected []string
}

func (e EscalationError) Error() string {
	return fmt.Sprintf("actor %s cannot grant %s", e.ActorID, strings.Join(e.Rejected, ", "))
}
