package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"tripauth/internal/domain"
)

const profileColumns = `id,owner_id,name,COALESCE(description,''),permissions_json,created_at,updated_at`

func scanProfile(row rowScanner) (domain.Profile, error) {
	var p domain.Profile
	var permsJSON string
	err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Description, &permsJSON, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal([]byte(permsJSON), &p.Permissions); err != nil {
		return p, fmt.Errorf("decode permissions of profile %s: %w", p.ID, err)
	}
	if p.Permissions == nil {
		p.Permissions = []string{}
	}
	return p, nil
}

func marshalPermissions(perms []string) (string, error) {
	if perms == nil {
		perms = []string{}
	}
	b, err := json.Marshal(perms)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r Repo) InsertProfile(ctx context.Context, tx *sql.Tx, p domain.Profile) error {
	permsJSON, err := marshalPermissions(p.Permissions)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO profiles(id,owner_id,name,description,permissions_json,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		p.ID, p.OwnerID, p.Name, nullable(p.Description), permsJSON, p.CreatedAt, p.UpdatedAt)
	return wrapWrite("insert profile", err)
}

func (r Repo) UpdateProfile(ctx context.Context, tx *sql.Tx, p domain.Profile) error {
	permsJSON, err := marshalPermissions(p.Permissions)
	if err != nil {
		return err
	}
	res, err := r.q(tx).ExecContext(ctx, `UPDATE profiles SET name=?, description=?, permissions_json=?, updated_at=? WHERE id=? AND owner_id=?`,
		p.Name, nullable(p.Description), permsJSON, p.UpdatedAt, p.ID, p.OwnerID)
	if err != nil {
		return wrapWrite("update profile", err)
	}
	return affectedOrNotFound(res)
}

func (r Repo) GetProfile(ctx context.Context, tx *sql.Tx, id string) (domain.Profile, error) {
	return scanProfile(r.q(tx).QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id=?`, id))
}

// GetOwnedProfile returns the profile only if ownerID defined it.
func (r Repo) GetOwnedProfile(ctx context.Context, tx *sql.Tx, ownerID, id string) (domain.Profile, error) {
	return scanProfile(r.q(tx).QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id=? AND owner_id=?`, id, ownerID))
}

func (r Repo) GetProfileByName(ctx context.Context, tx *sql.Tx, ownerID, name string) (domain.Profile, error) {
	return scanProfile(r.q(tx).QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE owner_id=? AND name=?`, ownerID, name))
}

func (r Repo) ListProfilesByOwner(ctx context.Context, tx *sql.Tx, ownerID string) ([]domain.Profile, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE owner_id=? ORDER BY name`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) DeleteProfile(ctx context.Context, tx *sql.Tx, ownerID, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM profiles WHERE id=? AND owner_id=?`, id, ownerID)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}
