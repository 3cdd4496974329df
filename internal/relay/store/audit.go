package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AuditEntry represents an audit log entry
type AuditEntry struct {
	ID        int64
	Timestamp time.Time
	SessionID string
	Event     string
	Detail    sql.NullString
}

// RecordAudit logs an audit entry
func (s *Store) RecordAudit(ctx context.Context, sessionID, event, detail string) error {
	var detailNull sql.NullString
	if detail != "" {
		detailNull = sql.NullString{String: detail, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (ts, session_id, event, detail)
		VALUES (?, ?, ?, ?)
	`, time.Now(), sessionID, event, detailNull)
	if err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// AuditLog retrieves a session's audit entries, oldest first.
func (s *Store) AuditLog(ctx context.Context, sessionID string, limit int) ([]*AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, session_id, event, detail
		FROM audit_log
		WHERE session_id = ?
		ORDER BY ts ASC
		LIMIT ?
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		entry := &AuditEntry{}
		if err := rows.Scan(&entry.ID, &entry.Timestamp, &entry.SessionID, &entry.Event, &entry.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log: %w", err)
	}
	return entries, nil
}
