package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"tripauth/internal/domain"
	"tripauth/internal/events"
	"tripauth/internal/repo"
)

type EmployeeCreateOptions struct {
	ID             string
	FirstName      string
	LastName       string
	Email          string
	CredentialHash string
	ProfileID      string
}

// EmployeeChanges is a partial update; nil fields keep their value.
type EmployeeChanges struct {
	FirstName      *string
	LastName       *string
	Email          *string
	CredentialHash *string
	ProfileID      *string
}

func (e Engine) CreateEmployee(ctx context.Context, actorID string, opts EmployeeCreateOptions) (domain.Actor, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Actor{}, err
	}
	defer tx.Rollback()

	actor, err := e.loadActor(ctx, tx, actorID)
	if err != nil {
		return domain.Actor{}, err
	}
	id := opts.ID
	if id == "" {
		id = newID()
	}
	o := op{action: "employee.create", targetKind: "employee", targetID: id, actor: actor}
	if err := e.requireOwner(ctx, tx, o); err != nil {
		return domain.Actor{}, err
	}
	email, err := validateEmail(opts.Email)
	if err != nil {
		return domain.Actor{}, err
	}
	profile, err := e.Repo.GetOwnedProfile(ctx, tx, actor.ID, opts.ProfileID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Actor{}, e.reject(ctx, tx, o, NotFoundError{Kind: "profile", ID: opts.ProfileID}, nil)
	}
	if err != nil {
		return domain.Actor{}, err
	}
	exists, err := e.Repo.EmailExists(ctx, tx, email)
	if err != nil {
		return domain.Actor{}, err
	}
	if exists {
		return domain.Actor{}, e.reject(ctx, tx, o, DuplicateIdentityError{Email: email}, nil)
	}
	// The profile may predate a change to the actor's own permissions.
	dec, err := e.guard(tx).Check(ctx, actor, profile.Permissions)
	if err != nil {
		return domain.Actor{}, err
	}
	if !dec.Allowed {
		return domain.Actor{}, e.escalation(ctx, tx, o, profile.Permissions, dec)
	}
	now := e.stamp()
	emp := domain.Actor{
		ID:             id,
		Role:           domain.RoleEmployee,
		ParentID:       &actor.ID,
		ProfileID:      &profile.ID,
		FirstName:      strings.TrimSpace(opts.FirstName),
		LastName:       strings.TrimSpace(opts.LastName),
		Email:          email,
		CredentialHash: opts.CredentialHash,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.Repo.InsertActor(ctx, tx, emp); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return domain.Actor{}, e.reject(ctx, tx, o, DuplicateIdentityError{Email: email}, nil)
		}
		return domain.Actor{}, err
	}
	if err := e.succeed(ctx, tx, o, events.Details{"email": email, "profile_id": profile.ID}); err != nil {
		return domain.Actor{}, err
	}
	return emp, nil
}

// ownedEmployee loads employeeID only if actor is its parent.
func (e Engine) ownedEmployee(ctx context.Context, tx *sql.Tx, actor domain.Actor, employeeID string) (domain.Actor, bool, error) {
	emp, err := e.Repo.GetActor(ctx, tx, employeeID)
	if errors.Is(err, repo.ErrNotFound) {
		return emp, false, nil
	}
	if err != nil {
		return emp, false, err
	}
	if emp.Role != domain.RoleEmployee || emp.ParentID == nil || *emp.ParentID != actor.ID {
		return domain.Actor{}, false, nil
	}
	return emp, true, nil
}

func (e Engine) UpdateEmployee(ctx context.Context, actorID, employeeID string, changes EmployeeChanges) (domain.Actor, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Actor{}, err
	}
	defer tx.Rollback()

	actor, err := e.loadActor(ctx, tx, actorID)
	if err != nil {
		return domain.Actor{}, err
	}
	o := op{action: "employee.update", targetKind: "employee", targetID: employeeID, actor: actor}
	if err := e.requireOwner(ctx, tx, o); err != nil {
		return domain.Actor{}, err
	}
	emp, ok, err := e.ownedEmployee(ctx, tx, actor, employeeID)
	if err != nil {
		return domain.Actor{}, err
	}
	if !ok {
		return domain.Actor{}, e.reject(ctx, tx, o, NotFoundError{Kind: "employee", ID: employeeID}, nil)
	}
	var changed []string
	details := events.Details{}
	if changes.FirstName != nil {
		emp.FirstName = strings.TrimSpace(*changes.FirstName)
		changed = append(changed, "first_name")
	}
	if changes.LastName != nil {
		emp.LastName = strings.TrimSpace(*changes.LastName)
		changed = append(changed, "last_name")
	}
	if changes.Email != nil {
		email, err := validateEmail(*changes.Email)
		if err != nil {
			return domain.Actor{}, err
		}
		if email != emp.Email {
			exists, err := e.Repo.EmailExists(ctx, tx, email)
			if err != nil {
				return domain.Actor{}, err
			}
			if exists {
				return domain.Actor{}, e.reject(ctx, tx, o, DuplicateIdentityError{Email: email}, nil)
			}
			emp.Email = email
			changed = append(changed, "email")
		}
	}
	if changes.CredentialHash != nil {
		emp.CredentialHash = *changes.CredentialHash
		changed = append(changed, "credential")
	}
	if changes.ProfileID != nil {
		profile, err := e.Repo.GetOwnedProfile(ctx, tx, actor.ID, *changes.ProfileID)
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Actor{}, e.reject(ctx, tx, o, NotFoundError{Kind: "profile", ID: *changes.ProfileID}, nil)
		}
		if err != nil {
			return domain.Actor{}, err
		}
		dec, err := e.guard(tx).Check(ctx, actor, profile.Permissions)
		if err != nil {
			return domain.Actor{}, err
		}
		if !dec.Allowed {
			return domain.Actor{}, e.escalation(ctx, tx, o, profile.Permissions, dec)
		}
		emp.ProfileID = &profile.ID
		changed = append(changed, "profile_id")
		details["profile_id"] = profile.ID
	}
	emp.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateActor(ctx, tx, emp); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return domain.Actor{}, e.reject(ctx, tx, o, DuplicateIdentityError{Email: emp.Email}, nil)
		}
		return domain.Actor{}, err
	}
	details["changed"] = changed
	if err := e.succeed(ctx, tx, o, details); err != nil {
		return domain.Actor{}, err
	}
	return emp, nil
}

// DeleteEmployee reports false when actorID has no such employee.
func (e Engine) DeleteEmployee(ctx context.Context, actorID, employeeID string) (bool, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	actor, err := e.loadActor(ctx, tx, actorID)
	if err != nil {
		return false, err
	}
	o := op{action: "employee.delete", targetKind: "employee", targetID: employeeID, actor: actor}
	if err := e.requireOwner(ctx, tx, o); err != nil {
		return false, err
	}
	emp, ok, err := e.ownedEmployee(ctx, tx, actor, employeeID)
	if err != nil || !ok {
		return false, err
	}
	if err := e.Repo.DeleteActor(ctx, tx, emp.ID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := e.succeed(ctx, tx, o, events.Details{"email": emp.Email}); err != nil {
		return false, err
	}
	return true, nil
}

// ListEmployees returns the employees whose parent is actorID.
func (e Engine) ListEmployees(ctx context.Context, actorID string) ([]domain.Actor, error) {
	actor, err := e.loadActor(ctx, nil, actorID)
	if err != nil {
		return nil, err
	}
	if !actor.Role.IsOwner() {
		return nil, forbidden(actor, "employee.list")
	}
	children, err := e.Repo.ListActorsByParent(ctx, nil, actor.ID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Actor, 0, len(children))
	for _, c := range children {
		if c.Role == domain.RoleEmployee {
			out = append(out, c)
		}
	}
	return out, nil
}
