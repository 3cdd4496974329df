package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opsrelay/opsrelay/internal/relay/conversation"
)

// RecordTurn persists one conversation turn, creating the session row on
// first use. Re-recording an already stored (session, sequence) pair is a
// no-op: turns are immutable once written.
func (s *Store) RecordTurn(ctx context.Context, sessionID string, turn conversation.Turn) error {
	if err := s.touchSession(ctx, sessionID); err != nil {
		return err
	}

	refs, err := json.Marshal(turn.FixRefs)
	if err != nil {
		return fmt.Errorf("failed to marshal fix refs: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO turns (session_id, sequence, role, content, intent, fix_refs, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, sessionID, turn.Sequence, string(turn.Role), turn.Content, turn.Intent, string(refs), turn.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to record turn: %w", err)
	}
	return nil
}

// Turns retrieves a session's turns in sequence order.
func (s *Store) Turns(ctx context.Context, sessionID string) ([]conversation.Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, role, content, intent, fix_refs, ts
		FROM turns
		WHERE session_id = ?
		ORDER BY sequence ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var turns []conversation.Turn
	for rows.Next() {
		var (
			turn     conversation.Turn
			role     string
			intent   sql.NullString
			refsJSON sql.NullString
			ts       time.Time
		)
		if err := rows.Scan(&turn.Sequence, &role, &turn.Content, &intent, &refsJSON, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turn.Role = conversation.Role(role)
		turn.Intent = intent.String
		turn.Timestamp = ts
		if refsJSON.Valid && refsJSON.String != "" {
			if err := json.Unmarshal([]byte(refsJSON.String), &turn.FixRefs); err != nil {
				return nil, fmt.Errorf("failed to unmarshal fix refs: %w", err)
			}
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating turns: %w", err)
	}
	return turns, nil
}

func (s *Store) touchSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, created_at, last_active_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET last_active_at = excluded.last_active_at
	`, sessionID, time.Now(), time.Now())
	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}
	return nil
}
