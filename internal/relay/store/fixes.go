package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opsrelay/opsrelay/internal/relay/fix"
)

// RecordActions upserts fix actions. New actions are inserted; known ones
// have their mutable fields (status, after state, validation time, error
// detail) refreshed so the row tracks the ledger through validation.
func (s *Store) RecordActions(ctx context.Context, sessionID string, actions []*fix.Action) error {
	if len(actions) == 0 {
		return nil
	}
	if err := s.touchSession(ctx, sessionID); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, a := range actions {
		before, err := json.Marshal(a.BeforeState)
		if err != nil {
			return fmt.Errorf("failed to marshal before state: %w", err)
		}
		after, err := json.Marshal(a.AfterState)
		if err != nil {
			return fmt.Errorf("failed to marshal after state: %w", err)
		}

		var validatedAt sql.NullTime
		if a.ValidatedAt != nil {
			validatedAt = sql.NullTime{Time: *a.ValidatedAt, Valid: true}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO fix_actions
				(id, session_id, description, target_resource, command_issued,
				 before_state, after_state, status, applied_at, validated_at, error_detail)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(session_id, id) DO UPDATE SET
				status = excluded.status,
				after_state = excluded.after_state,
				validated_at = excluded.validated_at,
				error_detail = excluded.error_detail
		`, a.ID, sessionID, a.Description, a.TargetResource, a.CommandIssued,
			string(before), string(after), string(a.Status), a.AppliedAt, validatedAt, a.ErrorDetail)
		if err != nil {
			return fmt.Errorf("failed to upsert fix action %s: %w", a.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit fix actions: %w", err)
	}
	return nil
}

// Actions retrieves a session's fix actions in application order.
func (s *Store) Actions(ctx context.Context, sessionID string) ([]*fix.Action, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, description, target_resource, command_issued,
		       before_state, after_state, status, applied_at, validated_at, error_detail
		FROM fix_actions
		WHERE session_id = ?
		ORDER BY applied_at ASC, id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query fix actions: %w", err)
	}
	defer rows.Close()

	var actions []*fix.Action
	for rows.Next() {
		var (
			a           fix.Action
			before      string
			after       string
			status      string
			appliedAt   time.Time
			validatedAt sql.NullTime
			errorDetail sql.NullString
		)
		err := rows.Scan(&a.ID, &a.Description, &a.TargetResource, &a.CommandIssued,
			&before, &after, &status, &appliedAt, &validatedAt, &errorDetail)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fix action: %w", err)
		}
		if err := json.Unmarshal([]byte(before), &a.BeforeState); err != nil {
			return nil, fmt.Errorf("failed to unmarshal before state: %w", err)
		}
		if err := json.Unmarshal([]byte(after), &a.AfterState); err != nil {
			return nil, fmt.Errorf("failed to unmarshal after state: %w", err)
		}
		a.Status = fix.Status(status)
		a.AppliedAt = appliedAt
		if validatedAt.Valid {
			ts := validatedAt.Time
			a.ValidatedAt = &ts
		}
		a.ErrorDetail = errorDetail.String
		actions = append(actions, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fix actions: %w", err)
	}
	return actions, nil
}
