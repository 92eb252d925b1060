package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/maxclaw/internal/types"
)

const scheduleColumns = `id, project_id, name, description, cron_expression, task_kind,
	command, skill_name, skill_command, skill_args, message, enabled,
	last_run_at, next_run_at, run_count, created_at, updated_at`

// CreateSchedule inserts a schedule after validation
func (s *Store) CreateSchedule(sched *types.Schedule) error {
	if err := sched.Validate(); err != nil {
		return types.NewValidation("%v", err)
	}
	if sched.ID == "" {
		sched.ID = uuid.NewString()
	}
	now := time.Now()
	if sched.CreatedAt.IsZero() {
		sched.CreatedAt = now
	}
	sched.UpdatedAt = now
	_, err := s.db.Exec(`
		INSERT INTO schedules (id, project_id, name, description, cron_expression, task_kind,
			command, skill_name, skill_command, skill_args, message, enabled,
			last_run_at, next_run_at, run_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sched.ID, sched.ProjectID, sched.Name, nullString(sched.Description),
		sched.CronExpression, string(sched.TaskKind), nullString(sched.Command),
		nullString(sched.SkillName), nullString(sched.SkillCommand), encodeJSON(sched.SkillArgs),
		nullString(sched.Message), boolInt(sched.Enabled),
		nullableTime(sched.LastRunAt), nullableTime(sched.NextRunAt), sched.RunCount,
		timeString(sched.CreatedAt), timeString(sched.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create schedule: %w", err)
	}
	return nil
}

func scanSchedule(row interface{ Scan(...interface{}) error }) (*types.Schedule, error) {
	var sched types.Schedule
	var desc, command, skillName, skillCommand, skillArgs, message sql.NullString
	var lastRun, nextRun sql.NullString
	var enabled int
	var created, updated string
	if err := row.Scan(&sched.ID, &sched.ProjectID, &sched.Name, &desc, &sched.CronExpression,
		&sched.TaskKind, &command, &skillName, &skillCommand, &skillArgs, &message,
		&enabled, &lastRun, &nextRun, &sched.RunCount, &created, &updated); err != nil {
		return nil, err
	}
	sched.Description = desc.String
	sched.Command = command.String
	sched.SkillName = skillName.String
	sched.SkillCommand = skillCommand.String
	sched.SkillArgs = decodeStrings(skillArgs.String)
	sched.Message = message.String
	sched.Enabled = enabled != 0
	sched.LastRunAt = scanTimePtr(lastRun)
	sched.NextRunAt = scanTimePtr(nextRun)
	sched.CreatedAt = parseTime(created)
	sched.UpdatedAt = parseTime(updated)
	return &sched, nil
}

// GetSchedule returns the schedule or a not-found error
func (s *Store) GetSchedule(id string) (*types.Schedule, error) {
	row := s.db.QueryRow("SELECT "+scheduleColumns+" FROM schedules WHERE id = ?", id)
	sched, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, types.NewNotFound("schedule %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return sched, nil
}

// ListSchedules returns schedules, optionally scoped to a project
func (s *Store) ListSchedules(projectID string) ([]*types.Schedule, error) {
	query := "SELECT " + scheduleColumns + " FROM schedules"
	var args []interface{}
	if projectID != "" {
		query += " WHERE project_id = ?"
		args = append(args, projectID)
	}
	query += " ORDER BY created_at"
	return s.querySchedules(query, args...)
}

// ListEnabledSchedules returns every enabled schedule
func (s *Store) ListEnabledSchedules() ([]*types.Schedule, error) {
	return s.querySchedules("SELECT " + scheduleColumns + " FROM schedules WHERE enabled = 1 ORDER BY created_at")
}

func (s *Store) querySchedules(query string, args ...interface{}) ([]*types.Schedule, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query schedules: %w", err)
	}
	defer rows.Close()

	var out []*types.Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		out = append(out, sched)
	}
	return out, rows.Err()
}

// UpdateSchedule persists mutable schedule fields and bumps updated_at
func (s *Store) UpdateSchedule(sched *types.Schedule) error {
	if err := sched.Validate(); err != nil {
		return types.NewValidation("%v", err)
	}
	sched.UpdatedAt = time.Now()
	res, err := s.db.Exec(`
		UPDATE schedules SET name = ?, description = ?, cron_expression = ?, task_kind = ?,
			command = ?, skill_name = ?, skill_command = ?, skill_args = ?, message = ?,
			enabled = ?, next_run_at = ?, updated_at = ?
		WHERE id = ?`,
		sched.Name, nullString(sched.Description), sched.CronExpression, string(sched.TaskKind),
		nullString(sched.Command), nullString(sched.SkillName), nullString(sched.SkillCommand),
		encodeJSON(sched.SkillArgs), nullString(sched.Message), boolInt(sched.Enabled),
		nullableTime(sched.NextRunAt), timeString(sched.UpdatedAt), sched.ID)
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NewNotFound("schedule %s not found", sched.ID)
	}
	return nil
}

// SetScheduleEnabled toggles a schedule. Disabling clears next_run_at;
// enabling stores the supplied next run.
func (s *Store) SetScheduleEnabled(id string, enabled bool, nextRun *time.Time) error {
	if !enabled {
		nextRun = nil
	}
	res, err := s.db.Exec(`
		UPDATE schedules SET enabled = ?, next_run_at = ?, updated_at = ? WHERE id = ?`,
		boolInt(enabled), nullableTime(nextRun), timeString(time.Now()), id)
	if err != nil {
		return fmt.Errorf("set schedule enabled: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NewNotFound("schedule %s not found", id)
	}
	return nil
}

// MarkScheduleRun records a completed dispatch: last run, monotonic run
// count, and the next occurrence.
func (s *Store) MarkScheduleRun(id string, lastRun time.Time, nextRun *time.Time) error {
	res, err := s.db.Exec(`
		UPDATE schedules SET last_run_at = ?, next_run_at = ?, run_count = run_count + 1,
			updated_at = ?
		WHERE id = ?`,
		timeString(lastRun), nullableTime(nextRun), timeString(time.Now()), id)
	if err != nil {
		return fmt.Errorf("mark schedule run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NewNotFound("schedule %s not found", id)
	}
	return nil
}

// DeleteSchedule removes the schedule; its logs cascade
func (s *Store) DeleteSchedule(id string) error {
	res, err := s.db.Exec("DELETE FROM schedules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NewNotFound("schedule %s not found", id)
	}
	return nil
}

// CreateScheduleLog opens an execution log entry
func (s *Store) CreateScheduleLog(l *types.ScheduleLog) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.StartedAt.IsZero() {
		l.StartedAt = time.Now()
	}
	if l.Status == "" {
		l.Status = types.LogPending
	}
	_, err := s.db.Exec(`
		INSERT INTO schedule_logs (id, schedule_id, status, started_at, completed_at, output, error, duration_millis)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.ScheduleID, string(l.Status), timeString(l.StartedAt),
		nullableTime(l.CompletedAt), nullString(l.Output), nullString(l.Error), l.DurationMillis)
	if err != nil {
		return fmt.Errorf("create schedule log: %w", err)
	}
	return nil
}

// CloseScheduleLog finishes a log entry with a terminal status
func (s *Store) CloseScheduleLog(id string, status types.ScheduleLogStatus, output, errMsg string, duration time.Duration) error {
	now := time.Now()
	res, err := s.db.Exec(`
		UPDATE schedule_logs SET status = ?, completed_at = ?, output = ?, error = ?, duration_millis = ?
		WHERE id = ?`,
		string(status), timeString(now), nullString(output), nullString(errMsg),
		duration.Milliseconds(), id)
	if err != nil {
		return fmt.Errorf("close schedule log: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NewNotFound("schedule log %s not found", id)
	}
	return nil
}

// ListScheduleLogs returns recent runs for a schedule, newest first
func (s *Store) ListScheduleLogs(scheduleID string, limit int) ([]*types.ScheduleLog, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, schedule_id, status, started_at, completed_at, output, error, duration_millis
		FROM schedule_logs WHERE schedule_id = ? ORDER BY started_at DESC LIMIT ?`,
		scheduleID, limit)
	if err != nil {
		return nil, fmt.Errorf("list schedule logs: %w", err)
	}
	defer rows.Close()

	var out []*types.ScheduleLog
	for rows.Next() {
		var l types.ScheduleLog
		var started string
		var completed, output, errMsg sql.NullString
		var duration sql.NullInt64
		if err := rows.Scan(&l.ID, &l.ScheduleID, &l.Status, &started, &completed,
			&output, &errMsg, &duration); err != nil {
			return nil, fmt.Errorf("scan schedule log: %w", err)
		}
		l.StartedAt = parseTime(started)
		l.CompletedAt = scanTimePtr(completed)
		l.Output = output.String
		l.Error = errMsg.String
		l.DurationMillis = duration.Int64
		out = append(out, &l)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
