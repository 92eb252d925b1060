package team

import (
	"sort"
	"strings"

	"github.com/maxclaw/internal/types"
)

// Score weights for ranking candidates
const (
	skillWeight    = 0.6
	workloadWeight = 0.4
)

// Suggestion ranks one eligible member for an assignment
type Suggestion struct {
	Member          *types.TeamMember `json:"member"`
	CurrentTasks    int               `json:"currentTasks"`
	SkillMatchScore float64           `json:"skillMatchScore"`
	WorkloadFactor  float64           `json:"workloadFactor"`
	OverallScore    float64           `json:"overallScore"`
}

// TaskOptions are optional fields for a new team task
type TaskOptions struct {
	Description    string
	Kind           string
	RequiredSkills []string
	Dependencies   []string
	Priority       int
}

// SuggestAssignments ranks the team's members for a set of required skills.
// Leads, offline members, and members at capacity are excluded. The order is
// deterministic: score descending, then fewer active tasks, then member id.
func (m *Manager) SuggestAssignments(teamID string, requiredSkills []string) ([]Suggestion, error) {
	if _, err := m.store.GetTeam(teamID); err != nil {
		return nil, err
	}
	members, err := m.store.ListTeamMembers(teamID)
	if err != nil {
		return nil, err
	}

	var out []Suggestion
	for _, member := range members {
		if member.Role == types.RoleLead || member.Status == types.MemberOffline {
			continue
		}
		count, err := m.store.CountActiveTasks(member.ID)
		if err != nil {
			return nil, err
		}
		if count >= member.MaxConcurrentTasks {
			continue
		}
		skill := skillMatchScore(requiredSkills, member)
		workload := 1 - float64(count)/float64(member.MaxConcurrentTasks)
		out = append(out, Suggestion{
			Member:          member,
			CurrentTasks:    count,
			SkillMatchScore: skill,
			WorkloadFactor:  workload,
			OverallScore:    skillWeight*skill + workloadWeight*workload,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].OverallScore != out[j].OverallScore {
			return out[i].OverallScore > out[j].OverallScore
		}
		if out[i].CurrentTasks != out[j].CurrentTasks {
			return out[i].CurrentTasks < out[j].CurrentTasks
		}
		return out[i].Member.ID < out[j].Member.ID
	})
	return out, nil
}

// skillMatchScore is the matched fraction of the required skill set against
// the member's expertise and specialty, case-insensitive. No requirements
// means a full match.
func skillMatchScore(required []string, member *types.TeamMember) float64 {
	req := lowerSet(required)
	if len(req) == 0 {
		return 1
	}
	have := lowerSet(append(append([]string(nil), member.Expertise...), member.Specialty...))
	matched := 0
	for skill := range req {
		if _, ok := have[skill]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(req))
}

func lowerSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}

// CreateTaskWithAutoAssign creates a task assigned to the best-ranked
// member. Fails with a conflict when nobody has capacity. The assignee's
// current task is updated and the member goes busy.
func (m *Manager) CreateTaskWithAutoAssign(teamID, sessionID, title string, opts TaskOptions) (*types.TeamTask, error) {
	if title == "" {
		return nil, types.NewValidation("task requires a title")
	}
	suggestions, err := m.SuggestAssignments(teamID, opts.RequiredSkills)
	if err != nil {
		return nil, err
	}
	if len(suggestions) == 0 {
		return nil, types.NewConflict("no member with capacity in team %s", teamID)
	}

	top := suggestions[0]
	task := &types.TeamTask{
		TeamID:           teamID,
		SessionID:        sessionID,
		AssigneeMemberID: top.Member.ID,
		Title:            title,
		Description:      opts.Description,
		Kind:             opts.Kind,
		RequiredSkills:   opts.RequiredSkills,
		Dependencies:     opts.Dependencies,
		Priority:         opts.Priority,
	}
	if err := m.store.CreateTeamTask(task); err != nil {
		return nil, err
	}
	if err := m.store.UpdateMemberAssignment(top.Member.ID, task.ID, types.MemberBusy); err != nil {
		m.logger.Printf("[TEAM] mark member %s busy: %v", top.Member.ID, err)
	}
	m.publishTask(TopicTaskAssigned, task, top.Member.ID)
	m.logger.Printf("[TEAM] Assigned %q to %s (score %.2f)", title, top.Member.Name, top.OverallScore)
	return task, nil
}

// StartTask moves a pending task to in_progress
func (m *Manager) StartTask(taskID string) error {
	task, err := m.store.GetTeamTask(taskID)
	if err != nil {
		return err
	}
	if task.Status != types.TaskPending {
		return types.NewConflict("task %s is %s, not pending", taskID, task.Status)
	}
	return m.store.UpdateTaskStatus(taskID, types.TaskInProgress, "")
}

// CompleteTask finishes a task and releases the assignee. A member with no
// remaining active tasks goes idle.
func (m *Manager) CompleteTask(taskID, result string) error {
	task, err := m.store.GetTeamTask(taskID)
	if err != nil {
		return err
	}
	if task.Status == types.TaskCompleted {
		return types.NewConflict("task %s already completed", taskID)
	}
	if err := m.store.UpdateTaskStatus(taskID, types.TaskCompleted, result); err != nil {
		return err
	}
	task.Result = result

	if task.AssigneeMemberID != "" {
		m.releaseMember(task.AssigneeMemberID, taskID)
	}
	m.publishTask(TopicTaskCompleted, task, task.AssigneeMemberID)
	m.logger.Printf("[TEAM] Completed task %q", task.Title)
	return nil
}

// releaseMember clears the member's pointer to a finished task and settles
// the busy flag from the remaining active count.
func (m *Manager) releaseMember(memberID, finishedTaskID string) {
	member, err := m.store.GetTeamMember(memberID)
	if err != nil {
		m.logger.Printf("[TEAM] release member %s: %v", memberID, err)
		return
	}
	count, err := m.store.CountActiveTasks(memberID)
	if err != nil {
		m.logger.Printf("[TEAM] count tasks for member %s: %v", memberID, err)
		return
	}
	current := member.CurrentTaskID
	if current == finishedTaskID {
		current = ""
	}
	status := types.MemberBusy
	if count == 0 {
		status = types.MemberIdle
	}
	if err := m.store.UpdateMemberAssignment(memberID, current, status); err != nil {
		m.logger.Printf("[TEAM] settle member %s: %v", memberID, err)
	}
}

// Tasks returns a team's tasks, oldest first
func (m *Manager) Tasks(teamID string) ([]*types.TeamTask, error) {
	return m.store.ListTeamTasks(teamID)
}
