package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"tripauth/internal/domain"
)

// AuditFilter narrows audit listings; zero fields match everything.
type AuditFilter struct {
	ActorID    string
	Action     string
	Status     string
	TargetKind string
	TargetID   string
	Before     int64
	Limit      int
}

const defaultAuditLimit = 50

// ListAudit returns the newest matching entries first.
func (r Repo) ListAudit(ctx context.Context, f AuditFilter) ([]domain.AuditEntry, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.ActorID != "" {
		clauses = append(clauses, "actor_id=?")
		args = append(args, f.ActorID)
	}
	if f.Action != "" {
		clauses = append(clauses, "action=?")
		args = append(args, f.Action)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.TargetKind != "" {
		clauses = append(clauses, "target_kind=?")
		args = append(args, f.TargetKind)
	}
	if f.TargetID != "" {
		clauses = append(clauses, "target_id=?")
		args = append(args, f.TargetID)
	}
	if f.Before > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Before)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	query := fmt.Sprintf(`SELECT id,ts,action,actor_id,actor_role,target_kind,COALESCE(target_id,''),status,details_json FROM audit_log WHERE %s ORDER BY id DESC LIMIT ?`,
		strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var role string
		var details sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Action, &e.ActorID, &role, &e.TargetKind, &e.TargetID, &e.Status, &details); err != nil {
			return nil, err
		}
		e.ActorRole = domain.Role(role)
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
				return nil, fmt.Errorf("decode audit %d details: %w", e.ID, err)
			}
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
