// Package team manages cooperating member personas: team and member
// bookkeeping, collaborative sessions, and skill-aware task assignment.
package team

import (
	"log"

	"github.com/maxclaw/internal/bus"
	"github.com/maxclaw/internal/store"
	"github.com/maxclaw/internal/types"
)

// Bus topics published by the manager
const (
	TopicTaskAssigned   = "team:task:assigned"
	TopicTaskCompleted  = "team:task:completed"
	TopicSessionStarted = "team:session:started"
	TopicSessionEnded   = "team:session:ended"
)

// TaskEvent is the payload for team task topics
type TaskEvent struct {
	TaskID   string `json:"taskId"`
	TeamID   string `json:"teamId"`
	MemberID string `json:"memberId,omitempty"`
	Title    string `json:"title"`
	Result   string `json:"result,omitempty"`
}

// SessionEvent is the payload for team session topics
type SessionEvent struct {
	SessionID string `json:"sessionId"`
	TeamID    string `json:"teamId"`
	ProjectID string `json:"projectId"`
	Status    string `json:"status"`
}

// Manager owns team state. All persistence goes through the store; member
// and task handles are ids, never live references.
type Manager struct {
	store  *store.Store
	bus    *bus.Bus
	logger *log.Logger
}

// NewManager wires the team subsystem. The bus may be nil in tests.
func NewManager(st *store.Store, b *bus.Bus, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{store: st, bus: b, logger: logger}
}

// CreateTeam registers a team for a project given by id or name
func (m *Manager) CreateTeam(name, projectIDOrName string, cfg map[string]string) (*types.Team, error) {
	if name == "" {
		return nil, types.NewValidation("team requires a name")
	}
	project, err := m.store.ResolveProject(projectIDOrName)
	if err != nil {
		return nil, err
	}
	team := &types.Team{Name: name, ProjectID: project.ID, Config: cfg}
	if err := m.store.CreateTeam(team); err != nil {
		return nil, err
	}
	m.logger.Printf("[TEAM] Created team %s for project %s", name, project.Name)
	return team, nil
}

// AddMember adds a persona to a team. Capacity 0 takes the default. A lead
// member replaces any previous lead.
func (m *Manager) AddMember(teamID, name string, role types.MemberRole, specialty, expertise []string, capacity int) (*types.TeamMember, error) {
	if name == "" {
		return nil, types.NewValidation("member requires a name")
	}
	if _, err := m.store.GetTeam(teamID); err != nil {
		return nil, err
	}
	member := &types.TeamMember{
		TeamID:             teamID,
		Name:               name,
		Role:               role,
		Specialty:          specialty,
		Expertise:          expertise,
		MaxConcurrentTasks: capacity,
	}
	if err := m.store.CreateTeamMember(member); err != nil {
		return nil, err
	}
	if role == types.RoleLead {
		if err := m.store.SetTeamLead(teamID, member.ID); err != nil {
			m.logger.Printf("[TEAM] set lead for team %s: %v", teamID, err)
		}
	}
	m.logger.Printf("[TEAM] Added %s (%s) to team %s", name, role, teamID)
	return member, nil
}

// UpdateMemberCapacity changes a member's concurrent-task ceiling. Values
// outside [1,10] are rejected.
func (m *Manager) UpdateMemberCapacity(memberID string, capacity int) error {
	return m.store.UpdateMemberCapacity(memberID, capacity)
}

// Teams returns team projections with their member rows
func (m *Manager) Teams(projectID string) ([]*types.TeamWithMembers, error) {
	teams, err := m.store.ListTeams(projectID)
	if err != nil {
		return nil, err
	}
	out := make([]*types.TeamWithMembers, 0, len(teams))
	for _, t := range teams {
		tw, err := m.store.GetTeamWithMembers(t.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, tw)
	}
	return out, nil
}

// StartSession opens a collaborative run and marks the team active
func (m *Manager) StartSession(teamID, goal string) (*types.TeamSession, error) {
	team, err := m.store.GetTeam(teamID)
	if err != nil {
		return nil, err
	}
	ts := &types.TeamSession{TeamID: team.ID, ProjectID: team.ProjectID, Goal: goal}
	if err := m.store.CreateTeamSession(ts); err != nil {
		return nil, err
	}
	if err := m.store.UpdateTeamStatus(team.ID, types.TeamActive); err != nil {
		m.logger.Printf("[TEAM] mark team %s active: %v", team.ID, err)
	}
	m.appendActivity(team.ProjectID, ts.ID, types.ActivityTeamStart, map[string]string{"team": team.Name, "goal": goal})
	m.publishSession(TopicSessionStarted, ts, "active")
	m.logger.Printf("[TEAM] Started team session %s for %s", ts.ID, team.Name)
	return ts, nil
}

// EndSession closes a collaborative run. Already-ended sessions conflict.
func (m *Manager) EndSession(teamSessionID, status string) error {
	ts, err := m.store.GetTeamSession(teamSessionID)
	if err != nil {
		return err
	}
	if ts.EndedAt != nil {
		return types.NewConflict("team session %s already ended", teamSessionID)
	}
	if status == "" {
		status = "completed"
	}
	if err := m.store.EndTeamSession(teamSessionID, status); err != nil {
		return err
	}
	if err := m.store.UpdateTeamStatus(ts.TeamID, types.TeamCompleted); err != nil {
		m.logger.Printf("[TEAM] mark team %s completed: %v", ts.TeamID, err)
	}
	m.appendActivity(ts.ProjectID, ts.ID, types.ActivityTeamStop, map[string]string{"status": status})
	m.publishSession(TopicSessionEnded, ts, status)
	m.logger.Printf("[TEAM] Ended team session %s (%s)", teamSessionID, status)
	return nil
}

func (m *Manager) appendActivity(projectID, sessionID string, kind types.ActivityKind, details map[string]string) {
	err := m.store.AppendActivity(&types.Activity{
		ProjectID: projectID,
		SessionID: sessionID,
		Kind:      kind,
		Details:   details,
	})
	if err != nil {
		m.logger.Printf("[TEAM] append %s activity: %v", kind, err)
	}
}

func (m *Manager) publishTask(topic string, task *types.TeamTask, memberID string) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(topic, bus.NewMessage(bus.MessageNotification, "team-manager", TaskEvent{
		TaskID:   task.ID,
		TeamID:   task.TeamID,
		MemberID: memberID,
		Title:    task.Title,
		Result:   task.Result,
	}))
}

func (m *Manager) publishSession(topic string, ts *types.TeamSession, status string) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(topic, bus.NewMessage(bus.MessageNotification, "team-manager", SessionEvent{
		SessionID: ts.ID,
		TeamID:    ts.TeamID,
		ProjectID: ts.ProjectID,
		Status:    status,
	}))
}
