package engine

import (
	"context"
	"errors"
	"strings"

	"tripauth/internal/domain"
	"tripauth/internal/events"
	"tripauth/internal/repo"
)

type ProfileCreateOptions struct {
	Name        string
	Description string
	Permissions []string
}

// ProfileChanges is a partial update; nil fields keep their value.
type ProfileChanges struct {
	Name        *string
	Description *string
	Permissions *[]string
}

func (e Engine) CreateProfile(ctx context.Context, actorID string, opts ProfileCreateOptions) (domain.Profile, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Profile{}, err
	}
	defer tx.Rollback()

	actor, err := e.loadActor(ctx, tx, actorID)
	if err != nil {
		return domain.Profile{}, err
	}
	now := e.stamp()
	p := domain.Profile{
		ID:          newID(),
		OwnerID:     actor.ID,
		Name:        strings.TrimSpace(opts.Name),
		Description: strings.TrimSpace(opts.Description),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	o := op{action: "profile.create", targetKind: "profile", targetID: p.ID, actor: actor}
	if err := e.requireOwner(ctx, tx, o); err != nil {
		return domain.Profile{}, err
	}
	if p.Name == "" {
		return domain.Profile{}, InvalidError{Field: "name", Reason: "required"}
	}
	p.Permissions, err = e.normalizePermissions(opts.Permissions)
	if err != nil {
		return domain.Profile{}, err
	}
	if _, err := e.Repo.GetProfileByName(ctx, tx, actor.ID, p.Name); err == nil {
		return domain.Profile{}, e.reject(ctx, tx, o, DuplicateProfileError{Name: p.Name, OwnerID: actor.ID}, nil)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Profile{}, err
	}
	dec, err := e.guard(tx).Check(ctx, actor, p.Permissions)
	if err != nil {
		return domain.Profile{}, err
	}
	if !dec.Allowed {
		return domain.Profile{}, e.escalation(ctx, tx, o, p.Permissions, dec)
	}
	if err := e.Repo.InsertProfile(ctx, tx, p); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return domain.Profile{}, e.reject(ctx, tx, o, DuplicateProfileError{Name: p.Name, OwnerID: actor.ID}, nil)
		}
		return domain.Profile{}, err
	}
	if err := e.succeed(ctx, tx, o, events.Details{"name": p.Name, "permissions": p.Permissions}); err != nil {
		return domain.Profile{}, err
	}
	return p, nil
}

func (e Engine) UpdateProfile(ctx context.Context, actorID, profileID string, changes ProfileChanges) (domain.Profile, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Profile{}, err
	}
	defer tx.Rollback()

	actor, err := e.loadActor(ctx, tx, actorID)
	if err != nil {
		return domain.Profile{}, err
	}
	o := op{action: "profile.update", targetKind: "profile", targetID: profileID, actor: actor}
	if err := e.requireOwner(ctx, tx, o); err != nil {
		return domain.Profile{}, err
	}
	p, err := e.Repo.GetOwnedProfile(ctx, tx, actor.ID, profileID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Profile{}, e.reject(ctx, tx, o, NotFoundError{Kind: "profile", ID: profileID}, nil)
	}
	if err != nil {
		return domain.Profile{}, err
	}
	var changed []string
	if changes.Name != nil {
		name := strings.TrimSpace(*changes.Name)
		if name == "" {
			return domain.Profile{}, InvalidError{Field: "name", Reason: "required"}
		}
		if name != p.Name {
			other, err := e.Repo.GetProfileByName(ctx, tx, actor.ID, name)
			switch {
			case err == nil && other.ID != p.ID:
				return domain.Profile{}, e.reject(ctx, tx, o, DuplicateProfileError{Name: name, OwnerID: actor.ID}, nil)
			case err != nil && !errors.Is(err, repo.ErrNotFound):
				return domain.Profile{}, err
			}
			p.Name = name
			changed = append(changed, "name")
		}
	}
	if changes.Description != nil {
		p.Description = strings.TrimSpace(*changes.Description)
		changed = append(changed, "description")
	}
	if changes.Permissions != nil {
		perms, err := e.normalizePermissions(*changes.Permissions)
		if err != nil {
			return domain.Profile{}, err
		}
		dec, err := e.guard(tx).Check(ctx, actor, perms)
		if err != nil {
			return domain.Profile{}, err
		}
		if !dec.Allowed {
			return domain.Profile{}, e.escalation(ctx, tx, o, perms, dec)
		}
		p.Permissions = perms
		changed = append(changed, "permissions")
	}
	p.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateProfile(ctx, tx, p); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return domain.Profile{}, e.reject(ctx, tx, o, DuplicateProfileError{Name: p.Name, OwnerID: actor.ID}, nil)
		}
		return domain.Profile{}, err
	}
	if err := e.succeed(ctx, tx, o, events.Details{"changed": changed}); err != nil {
		return domain.Profile{}, err
	}
	return p, nil
}

// DeleteProfile reports false when actorID owns no profile with that id,
// whether it does not exist or belongs to another owner.
func (e Engine) DeleteProfile(ctx context.Context, actorID, profileID string) (bool, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	actor, err := e.loadActor(ctx, tx, actorID)
	if err != nil {
		return false, err
	}
	o := op{action: "profile.delete", targetKind: "profile", targetID: profileID, actor: actor}
	if err := e.requireOwner(ctx, tx, o); err != nil {
		return false, err
	}
	p, err := e.Repo.GetOwnedProfile(ctx, tx, actor.ID, profileID)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	refs, err := e.Repo.CountActorsByProfile(ctx, tx, p.ID)
	if err != nil {
		return false, err
	}
	if refs > 0 {
		return false, e.reject(ctx, tx, o, InUseError{ProfileID: p.ID, References: refs}, nil)
	}
	if err := e.Repo.DeleteProfile(ctx, tx, actor.ID, p.ID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := e.succeed(ctx, tx, o, events.Details{"name": p.Name}); err != nil {
		return false, err
	}
	return true, nil
}

// ListProfiles returns the profiles actorID defined, by name.
func (e Engine) ListProfiles(ctx context.Context, actorID string) ([]domain.Profile, error) {
	actor, err := e.loadActor(ctx, nil, actorID)
	if err != nil {
		return nil, err
	}
	if !actor.Role.IsOwner() {
		return nil, forbidden(actor, "profile.list")
	}
	return e.Repo.ListProfilesByOwner(ctx, nil, actor.ID)
}

func (e Engine) GetProfile(ctx context.Context, actorID, profileID string) (domain.Profile, error) {
	actor, err := e.loadActor(ctx, nil, actorID)
	if err != nil {
		return domain.Profile{}, err
	}
	if !actor.Role.IsOwner() {
		return domain.Profile{}, forbidden(actor, "profile.show")
	}
	p, err := e.Repo.GetOwnedProfile(ctx, nil, actor.ID, profileID)
	if errors.Is(err, repo.ErrNotFound) {
		return p, NotFoundError{Kind: "profile", ID: profileID}
	}
	return p, err
}
