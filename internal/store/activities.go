package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/maxclaw/internal/types"
)

// AppendActivity records an audit entry. The log is append-only; there is
// no update or delete path short of project cascade.
func (s *Store) AppendActivity(a *types.Activity) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO activities (id, project_id, session_id, kind, timestamp, details)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.ProjectID, nullString(a.SessionID), string(a.Kind),
		timeString(a.Timestamp), encodeJSON(a.Details))
	if err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	return nil
}

// ListActivities returns recent activity, optionally scoped to a project,
// newest first. limit <= 0 means a default page of 50.
func (s *Store) ListActivities(projectID string, limit int) ([]*types.Activity, error) {
	if limit <= 0 {
		limit = 50
	}
	query := "SELECT id, project_id, session_id, kind, timestamp, details FROM activities"
	var args []interface{}
	if projectID != "" {
		query += " WHERE project_id = ?"
		args = append(args, projectID)
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()

	var out []*types.Activity
	for rows.Next() {
		var a types.Activity
		var sessionID, details sql.NullString
		var ts string
		if err := rows.Scan(&a.ID, &a.ProjectID, &sessionID, &a.Kind, &ts, &details); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		a.SessionID = sessionID.String
		a.Timestamp = parseTime(ts)
		a.Details = decodeStringMap(details.String)
		out = append(out, &a)
	}
	return out, rows.Err()
}
