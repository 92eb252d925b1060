package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/maxclaw/internal/types"
)

// CreateTeam inserts a team
func (s *Store) CreateTeam(t *types.Team) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	if t.Status == "" {
		t.Status = types.TeamIdle
	}
	_, err := s.db.Exec(`
		INSERT INTO teams (id, name, project_id, lead_member_id, member_ids, status, created_at, config)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.ProjectID, nullString(t.LeadMemberID), encodeJSON(t.MemberIDs),
		string(t.Status), timeString(t.CreatedAt), encodeJSON(t.Config))
	if err != nil {
		return fmt.Errorf("create team: %w", err)
	}
	return nil
}

func scanTeam(row interface{ Scan(...interface{}) error }) (*types.Team, error) {
	var t types.Team
	var lead, memberIDs, cfg sql.NullString
	var created string
	if err := row.Scan(&t.ID, &t.Name, &t.ProjectID, &lead, &memberIDs, &t.Status, &created, &cfg); err != nil {
		return nil, err
	}
	t.LeadMemberID = lead.String
	t.MemberIDs = decodeStrings(memberIDs.String)
	t.CreatedAt = parseTime(created)
	t.Config = decodeStringMap(cfg.String)
	return &t, nil
}

// GetTeam returns the team or a not-found error
func (s *Store) GetTeam(id string) (*types.Team, error) {
	row := s.db.QueryRow("SELECT id, name, project_id, lead_member_id, member_ids, status, created_at, config FROM teams WHERE id = ?", id)
	t, err := scanTeam(row)
	if err == sql.ErrNoRows {
		return nil, types.NewNotFound("team %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get team: %w", err)
	}
	return t, nil
}

// ListTeams returns teams, optionally scoped to a project
func (s *Store) ListTeams(projectID string) ([]*types.Team, error) {
	query := "SELECT id, name, project_id, lead_member_id, member_ids, status, created_at, config FROM teams"
	var args []interface{}
	if projectID != "" {
		query += " WHERE project_id = ?"
		args = append(args, projectID)
	}
	query += " ORDER BY created_at"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	defer rows.Close()

	var out []*types.Team
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, fmt.Errorf("scan team: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateTeamStatus moves a team through idle/active/completed
func (s *Store) UpdateTeamStatus(id string, status types.TeamStatus) error {
	res, err := s.db.Exec("UPDATE teams SET status = ? WHERE id = ?", string(status), id)
	if err != nil {
		return fmt.Errorf("update team status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NewNotFound("team %s not found", id)
	}
	return nil
}

// SetTeamLead records the lead member and keeps member_ids in sync
func (s *Store) SetTeamLead(teamID, memberID string) error {
	res, err := s.db.Exec("UPDATE teams SET lead_member_id = ? WHERE id = ?", memberID, teamID)
	if err != nil {
		return fmt.Errorf("set team lead: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NewNotFound("team %s not found", teamID)
	}
	return nil
}

// DeleteTeam removes a team; members, tasks and team sessions cascade
func (s *Store) DeleteTeam(id string) error {
	res, err := s.db.Exec("DELETE FROM teams WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete team: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NewNotFound("team %s not found", id)
	}
	return nil
}

// Members

// CreateTeamMember inserts a member and appends it to the team's member
// list.
func (s *Store) CreateTeamMember(m *types.TeamMember) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Status == "" {
		m.Status = types.MemberIdle
	}
	if m.MaxConcurrentTasks == 0 {
		m.MaxConcurrentTasks = types.DefaultMaxConcurrentTasks
	}
	if err := types.ValidateCapacity(m.MaxConcurrentTasks); err != nil {
		return types.NewValidation("%v", err)
	}
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO team_members (id, team_id, name, role, specialty, expertise, status, current_task_id, max_concurrent_tasks)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.TeamID, m.Name, string(m.Role), encodeJSON(m.Specialty), encodeJSON(m.Expertise),
			string(m.Status), nullString(m.CurrentTaskID), m.MaxConcurrentTasks)
		if err != nil {
			return fmt.Errorf("create team member: %w", err)
		}

		var memberIDs sql.NullString
		if err := tx.QueryRow("SELECT member_ids FROM teams WHERE id = ?", m.TeamID).Scan(&memberIDs); err != nil {
			if err == sql.ErrNoRows {
				return types.NewNotFound("team %s not found", m.TeamID)
			}
			return fmt.Errorf("read team members: %w", err)
		}
		ids := append(decodeStrings(memberIDs.String), m.ID)
		if _, err := tx.Exec("UPDATE teams SET member_ids = ? WHERE id = ?", encodeJSON(ids), m.TeamID); err != nil {
			return fmt.Errorf("append team member: %w", err)
		}
		return nil
	})
}

func scanMember(row interface{ Scan(...interface{}) error }) (*types.TeamMember, error) {
	var m types.TeamMember
	var specialty, expertise, currentTask sql.NullString
	if err := row.Scan(&m.ID, &m.TeamID, &m.Name, &m.Role, &specialty, &expertise,
		&m.Status, &currentTask, &m.MaxConcurrentTasks); err != nil {
		return nil, err
	}
	m.Specialty = decodeStrings(specialty.String)
	m.Expertise = decodeStrings(expertise.String)
	m.CurrentTaskID = currentTask.String
	return &m, nil
}

// GetTeamMember returns the member or a not-found error
func (s *Store) GetTeamMember(id string) (*types.TeamMember, error) {
	row := s.db.QueryRow("SELECT id, team_id, name, role, specialty, expertise, status, current_task_id, max_concurrent_tasks FROM team_members WHERE id = ?", id)
	m, err := scanMember(row)
	if err == sql.ErrNoRows {
		return nil, types.NewNotFound("team member %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get team member: %w", err)
	}
	return m, nil
}

// ListTeamMembers returns the members of a team ordered by id for
// deterministic assignment.
func (s *Store) ListTeamMembers(teamID string) ([]*types.TeamMember, error) {
	rows, err := s.db.Query("SELECT id, team_id, name, role, specialty, expertise, status, current_task_id, max_concurrent_tasks FROM team_members WHERE team_id = ? ORDER BY id", teamID)
	if err != nil {
		return nil, fmt.Errorf("list team members: %w", err)
	}
	defer rows.Close()

	var out []*types.TeamMember
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan team member: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpdateMemberAssignment sets the member's current task and status
func (s *Store) UpdateMemberAssignment(memberID, currentTaskID string, status types.MemberStatus) error {
	res, err := s.db.Exec("UPDATE team_members SET current_task_id = ?, status = ? WHERE id = ?",
		nullString(currentTaskID), string(status), memberID)
	if err != nil {
		return fmt.Errorf("update member assignment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NewNotFound("team member %s not found", memberID)
	}
	return nil
}

// UpdateMemberCapacity changes max concurrent tasks, bounds-checked
func (s *Store) UpdateMemberCapacity(memberID string, capacity int) error {
	if err := types.ValidateCapacity(capacity); err != nil {
		return types.NewValidation("%v", err)
	}
	res, err := s.db.Exec("UPDATE team_members SET max_concurrent_tasks = ? WHERE id = ?", capacity, memberID)
	if err != nil {
		return fmt.Errorf("update member capacity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NewNotFound("team member %s not found", memberID)
	}
	return nil
}

// CountActiveTasks counts a member's pending or in-progress tasks
func (s *Store) CountActiveTasks(memberID string) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM team_tasks
		WHERE assignee_member_id = ? AND status IN ('pending', 'in_progress')`, memberID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active tasks: %w", err)
	}
	return n, nil
}

// Tasks

// CreateTeamTask inserts a task
func (s *Store) CreateTeamTask(t *types.TeamTask) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	if t.Status == "" {
		t.Status = types.TaskPending
	}
	if t.Priority == 0 {
		t.Priority = 3
	}
	if t.Priority < 1 || t.Priority > 5 {
		return types.NewValidation("task priority must be 1..5, got %d", t.Priority)
	}
	_, err := s.db.Exec(`
		INSERT INTO team_tasks (id, team_id, session_id, assignee_member_id, title, description,
			status, dependencies, created_at, completed_at, result, kind, required_skills, priority)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.TeamID, nullString(t.SessionID), nullString(t.AssigneeMemberID), t.Title,
		nullString(t.Description), string(t.Status), encodeJSON(t.Dependencies),
		timeString(t.CreatedAt), nullableTime(t.CompletedAt), nullString(t.Result),
		nullString(t.Kind), encodeJSON(t.RequiredSkills), t.Priority)
	if err != nil {
		return fmt.Errorf("create team task: %w", err)
	}
	return nil
}

func scanTask(row interface{ Scan(...interface{}) error }) (*types.TeamTask, error) {
	var t types.TeamTask
	var sessionID, assignee, desc, deps, result, kind, skills sql.NullString
	var created string
	var completed sql.NullString
	if err := row.Scan(&t.ID, &t.TeamID, &sessionID, &assignee, &t.Title, &desc, &t.Status,
		&deps, &created, &completed, &result, &kind, &skills, &t.Priority); err != nil {
		return nil, err
	}
	t.SessionID = sessionID.String
	t.AssigneeMemberID = assignee.String
	t.Description = desc.String
	t.Dependencies = decodeStrings(deps.String)
	t.CreatedAt = parseTime(created)
	t.CompletedAt = scanTimePtr(completed)
	t.Result = result.String
	t.Kind = kind.String
	t.RequiredSkills = decodeStrings(skills.String)
	return &t, nil
}

const taskColumns = `id, team_id, session_id, assignee_member_id, title, description, status,
	dependencies, created_at, completed_at, result, kind, required_skills, priority`

// GetTeamTask returns the task or a not-found error
func (s *Store) GetTeamTask(id string) (*types.TeamTask, error) {
	row := s.db.QueryRow("SELECT "+taskColumns+" FROM team_tasks WHERE id = ?", id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, types.NewNotFound("team task %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get team task: %w", err)
	}
	return t, nil
}

// ListTeamTasks returns a team's tasks, oldest first
func (s *Store) ListTeamTasks(teamID string) ([]*types.TeamTask, error) {
	rows, err := s.db.Query("SELECT "+taskColumns+" FROM team_tasks WHERE team_id = ? ORDER BY created_at", teamID)
	if err != nil {
		return nil, fmt.Errorf("list team tasks: %w", err)
	}
	defer rows.Close()

	var out []*types.TeamTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan team task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateTaskStatus advances a task; completion stamps completed_at and
// the result.
func (s *Store) UpdateTaskStatus(id string, status types.TeamTaskStatus, result string) error {
	var completed interface{}
	if status == types.TaskCompleted {
		completed = timeString(time.Now())
	}
	res, err := s.db.Exec("UPDATE team_tasks SET status = ?, result = ?, completed_at = COALESCE(?, completed_at) WHERE id = ?",
		string(status), nullString(result), completed, id)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NewNotFound("team task %s not found", id)
	}
	return nil
}

// AssignTask sets the task's assignee
func (s *Store) AssignTask(taskID, memberID string) error {
	res, err := s.db.Exec("UPDATE team_tasks SET assignee_member_id = ? WHERE id = ?", memberID, taskID)
	if err != nil {
		return fmt.Errorf("assign task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NewNotFound("team task %s not found", taskID)
	}
	return nil
}

// Team sessions

// CreateTeamSession opens a collaborative run
func (s *Store) CreateTeamSession(ts *types.TeamSession) error {
	if ts.ID == "" {
		ts.ID = uuid.NewString()
	}
	if ts.StartedAt.IsZero() {
		ts.StartedAt = time.Now()
	}
	if ts.Status == "" {
		ts.Status = "active"
	}
	_, err := s.db.Exec(`
		INSERT INTO team_sessions (id, team_id, project_id, started_at, ended_at, status, goal, task_ids)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ts.ID, ts.TeamID, ts.ProjectID, timeString(ts.StartedAt), nullableTime(ts.EndedAt),
		ts.Status, nullString(ts.Goal), encodeJSON(ts.TaskIDs))
	if err != nil {
		return fmt.Errorf("create team session: %w", err)
	}
	return nil
}

// GetTeamSession returns the collaborative run or a not-found error
func (s *Store) GetTeamSession(id string) (*types.TeamSession, error) {
	row := s.db.QueryRow("SELECT id, team_id, project_id, started_at, ended_at, status, goal, task_ids FROM team_sessions WHERE id = ?", id)
	var ts types.TeamSession
	var started string
	var ended, goal, taskIDs sql.NullString
	err := row.Scan(&ts.ID, &ts.TeamID, &ts.ProjectID, &started, &ended, &ts.Status, &goal, &taskIDs)
	if err == sql.ErrNoRows {
		return nil, types.NewNotFound("team session %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get team session: %w", err)
	}
	ts.StartedAt = parseTime(started)
	ts.EndedAt = scanTimePtr(ended)
	ts.Goal = goal.String
	ts.TaskIDs = decodeStrings(taskIDs.String)
	return &ts, nil
}

// EndTeamSession closes a collaborative run
func (s *Store) EndTeamSession(id, status string) error {
	res, err := s.db.Exec("UPDATE team_sessions SET status = ?, ended_at = ? WHERE id = ?",
		status, timeString(time.Now()), id)
	if err != nil {
		return fmt.Errorf("end team session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NewNotFound("team session %s not found", id)
	}
	return nil
}

// GetTeamWithMembers joins a team with its member rows
func (s *Store) GetTeamWithMembers(teamID string) (*types.TeamWithMembers, error) {
	team, err := s.GetTeam(teamID)
	if err != nil {
		return nil, err
	}
	members, err := s.ListTeamMembers(teamID)
	if err != nil {
		return nil, err
	}
	out := &types.TeamWithMembers{Team: *team}
	for _, m := range members {
		out.Members = append(out.Members, *m)
	}
	return out, nil
}
