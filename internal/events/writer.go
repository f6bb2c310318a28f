package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tripauth/internal/domain"
)

// Writer appends audit entries. Entries are never updated or deleted; the
// schema rejects both.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type Details map[string]any

// Append writes entry inside tx, or directly on DB when tx is nil. A nil tx is
// how failure entries outlive the rolled-back operation they describe.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, entry domain.AuditEntry) error {
	if entry.Action == "" || entry.ActorID == "" || entry.TargetKind == "" {
		return errors.New("audit entry requires action, actor and target kind")
	}
	if entry.Status != domain.AuditSuccess && entry.Status != domain.AuditFailure {
		return fmt.Errorf("audit entry status %q invalid", entry.Status)
	}
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := entry.TS
	if ts == "" {
		ts = w.Now().UTC().Format(time.RFC3339)
	}
	details := entry.Details
	if details == nil {
		details = map[string]any{}
	}
	data, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}
	const query = `INSERT INTO audit_log(ts,action,actor_id,actor_role,target_kind,target_id,status,details_json) VALUES (?,?,?,?,?,?,?,?)`
	args := []any{ts, entry.Action, entry.ActorID, string(entry.ActorRole), entry.TargetKind, nullable(entry.TargetID), entry.Status, string(data)}
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, args...)
	} else {
		if w.DB == nil {
			return errors.New("audit writer has no database")
		}
		_, err = w.DB.ExecContext(ctx, query, args...)
	}
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
