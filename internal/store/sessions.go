package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/maxclaw/internal/types"
)

const sessionColumns = `id, project_id, started_at, ended_at, status, summary,
	summary_status, summary_generated_at, os_process_id`

// CreateSession inserts an active session. The partial unique index turns
// a second active session for the same project into a conflict.
func (s *Store) CreateSession(sess *types.Session) error {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now()
	}
	if sess.Status == "" {
		sess.Status = types.SessionActive
	}
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, project_id, started_at, ended_at, status, summary,
			summary_status, summary_generated_at, os_process_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.ProjectID, timeString(sess.StartedAt), nullableTime(sess.EndedAt),
		string(sess.Status), nullString(sess.Summary), nullString(sess.SummaryStatus),
		nullableTime(sess.SummaryGeneratedAt), nullInt(sess.OSProcessID))
	if isUniqueViolation(err) {
		return types.NewConflict("active session already exists for project %s", sess.ProjectID)
	}
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func scanSession(row interface{ Scan(...interface{}) error }) (*types.Session, error) {
	var sess types.Session
	var started string
	var ended, summary, summaryStatus, summaryAt sql.NullString
	var pid sql.NullInt64
	if err := row.Scan(&sess.ID, &sess.ProjectID, &started, &ended, &sess.Status,
		&summary, &summaryStatus, &summaryAt, &pid); err != nil {
		return nil, err
	}
	sess.StartedAt = parseTime(started)
	sess.EndedAt = scanTimePtr(ended)
	sess.Summary = summary.String
	sess.SummaryStatus = summaryStatus.String
	sess.SummaryGeneratedAt = scanTimePtr(summaryAt)
	sess.OSProcessID = int(pid.Int64)
	return &sess, nil
}

// GetSession returns the session or a not-found error
func (s *Store) GetSession(id string) (*types.Session, error) {
	row := s.db.QueryRow("SELECT "+sessionColumns+" FROM sessions WHERE id = ?", id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, types.NewNotFound("session %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// ListSessions returns sessions filtered by project and/or status; empty
// filters match everything. Newest first.
func (s *Store) ListSessions(projectID string, status types.SessionStatus) ([]*types.Session, error) {
	query := "SELECT " + sessionColumns + " FROM sessions WHERE 1=1"
	var args []interface{}
	if projectID != "" {
		query += " AND project_id = ?"
		args = append(args, projectID)
	}
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY started_at DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*types.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// ActiveSessionForProject returns the project's active session, if any
func (s *Store) ActiveSessionForProject(projectID string) (*types.Session, error) {
	row := s.db.QueryRow("SELECT "+sessionColumns+" FROM sessions WHERE project_id = ? AND status = 'active'", projectID)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, types.NewNotFound("no active session for project %s", projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("active session lookup: %w", err)
	}
	return sess, nil
}

// EndSession moves an active session to a terminal status and stamps
// ended_at. Ending an already-terminal session is a conflict.
func (s *Store) EndSession(id string, status types.SessionStatus, endedAt time.Time) error {
	if !status.Terminal() {
		return types.NewValidation("status %q is not terminal", status)
	}
	return s.withTx(func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRow("SELECT status FROM sessions WHERE id = ?", id).Scan(&current)
		if err == sql.ErrNoRows {
			return types.NewNotFound("session %s not found", id)
		}
		if err != nil {
			return fmt.Errorf("read session status: %w", err)
		}
		if types.SessionStatus(current).Terminal() {
			return types.NewConflict("session %s already %s", id, current)
		}
		_, err = tx.Exec("UPDATE sessions SET status = ?, ended_at = ? WHERE id = ?",
			string(status), timeString(endedAt), id)
		if err != nil {
			return fmt.Errorf("end session: %w", err)
		}
		return nil
	})
}

// SetSessionProcessID records the spawned child's pid
func (s *Store) SetSessionProcessID(id string, pid int) error {
	_, err := s.db.Exec("UPDATE sessions SET os_process_id = ? WHERE id = ?", pid, id)
	if err != nil {
		return fmt.Errorf("set session pid: %w", err)
	}
	return nil
}

// UpdateSessionSummary stores a generated summary and its status
func (s *Store) UpdateSessionSummary(id, summary, summaryStatus string) error {
	now := time.Now()
	res, err := s.db.Exec(`
		UPDATE sessions SET summary = ?, summary_status = ?, summary_generated_at = ? WHERE id = ?`,
		nullString(summary), nullString(summaryStatus), timeString(now), id)
	if err != nil {
		return fmt.Errorf("update session summary: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NewNotFound("session %s not found", id)
	}
	return nil
}

// CountSessions returns total and active session counts
func (s *Store) CountSessions() (total int, active int, err error) {
	if err = s.db.QueryRow("SELECT COUNT(*) FROM sessions").Scan(&total); err != nil {
		return 0, 0, fmt.Errorf("count sessions: %w", err)
	}
	if err = s.db.QueryRow("SELECT COUNT(*) FROM sessions WHERE status = 'active'").Scan(&active); err != nil {
		return 0, 0, fmt.Errorf("count active sessions: %w", err)
	}
	return total, active, nil
}
