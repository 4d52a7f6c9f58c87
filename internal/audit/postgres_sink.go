package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
)

// PostgresSink implements Logger with PostgreSQL.
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink creates a new PostgreSQL-backed audit sink.
func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

func (p *PostgresSink) Record(ctx context.Context, e Entry) error {
	var details []byte
	if e.Details != nil {
		var err error
		details, err = json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, action, actor_id, target_type, target_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, e.ID, e.Action, e.ActorID, e.TargetType, e.TargetID, details, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (p *PostgresSink) List(ctx context.Context, q Query) ([]Entry, error) {
	query := `SELECT id, action, actor_id, target_type, target_id, details, created_at
	          FROM audit_log WHERE 1=1`
	var args []any
	if q.Action != "" {
		args = append(args, q.Action)
		query += " AND action = $" + strconv.Itoa(len(args))
	}
	if q.ActorID != "" {
		args = append(args, q.ActorID)
		query += " AND actor_id = $" + strconv.Itoa(len(args))
	}
	if q.TargetID != "" {
		args = append(args, q.TargetID)
		query += " AND target_id = $" + strconv.Itoa(len(args))
	}
	query += " ORDER BY created_at DESC"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Entry
	for rows.Next() {
		var e Entry
		var details []byte
		if err := rows.Scan(&e.ID, &e.Action, &e.ActorID, &e.TargetType, &e.TargetID, &details, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("unmarshal audit details for %s: %w", e.ID, err)
			}
		}
		result = append(result, e)
	}
	return result, rows.Err()
}
