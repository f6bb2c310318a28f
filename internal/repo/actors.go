package repo

import (
	"context"
	"database/sql"
	"strings"

	"tripauth/internal/domain"
)

const actorColumns = `id,role,parent_id,profile_id,COALESCE(first_name,''),COALESCE(last_name,''),email,COALESCE(credential_hash,''),created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanActor(row rowScanner) (domain.Actor, error) {
	var a domain.Actor
	var role string
	var parentID, profileID sql.NullString
	err := row.Scan(&a.ID, &role, &parentID, &profileID, &a.FirstName, &a.LastName, &a.Email, &a.CredentialHash, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.Role = domain.Role(role)
	a.ParentID = ptrFromNull(parentID)
	a.ProfileID = ptrFromNull(profileID)
	return a, nil
}

// NormalizeEmail is the canonical form used for the global uniqueness check.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (r Repo) InsertActor(ctx context.Context, tx *sql.Tx, a domain.Actor) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO actors(id,role,parent_id,profile_id,first_name,last_name,email,credential_hash,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		a.ID, string(a.Role), nullableStringPtr(a.ParentID), nullableStringPtr(a.ProfileID), nullable(a.FirstName), nullable(a.LastName),
		NormalizeEmail(a.Email), nullable(a.CredentialHash), a.CreatedAt, a.UpdatedAt)
	return wrapWrite("insert actor", err)
}

// UpdateActor rewrites every mutable column of the actor.
func (r Repo) UpdateActor(ctx context.Context, tx *sql.Tx, a domain.Actor) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE actors SET parent_id=?, profile_id=?, first_name=?, last_name=?, email=?, credential_hash=?, updated_at=? WHERE id=?`,
		nullableStringPtr(a.ParentID), nullableStringPtr(a.ProfileID), nullable(a.FirstName), nullable(a.LastName),
		NormalizeEmail(a.Email), nullable(a.CredentialHash), a.UpdatedAt, a.ID)
	if err != nil {
		return wrapWrite("update actor", err)
	}
	return affectedOrNotFound(res)
}

func (r Repo) GetActor(ctx context.Context, tx *sql.Tx, id string) (domain.Actor, error) {
	return scanActor(r.q(tx).QueryRowContext(ctx, `SELECT `+actorColumns+` FROM actors WHERE id=?`, id))
}

func (r Repo) GetActorByEmail(ctx context.Context, tx *sql.Tx, email string) (domain.Actor, error) {
	return scanActor(r.q(tx).QueryRowContext(ctx, `SELECT `+actorColumns+` FROM actors WHERE email=?`, NormalizeEmail(email)))
}

func (r Repo) EmailExists(ctx context.Context, tx *sql.Tx, email string) (bool, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(*) FROM actors WHERE email=?`, NormalizeEmail(email)).Scan(&n)
	return n > 0, err
}

func (r Repo) ListActorsByParent(ctx context.Context, tx *sql.Tx, parentID string) ([]domain.Actor, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+actorColumns+` FROM actors WHERE parent_id=? ORDER BY created_at, id`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Actor
	for rows.Next() {
		a, err := scanActor(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// CountActorsByProfile counts actors currently assigned the profile.
func (r Repo) CountActorsByProfile(ctx context.Context, tx *sql.Tx, profileID string) (int, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(*) FROM actors WHERE profile_id=?`, profileID).Scan(&n)
	return n, err
}

func (r Repo) DeleteActor(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM actors WHERE id=?`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}
