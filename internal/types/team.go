package types

import (
	"fmt"
	"time"
)

// MemberRole is the persona a team member plays
type MemberRole string

const (
	RoleLead      MemberRole = "lead"
	RoleDeveloper MemberRole = "developer"
	RoleArchitect MemberRole = "architect"
	RoleQA        MemberRole = "qa"
	RolePM        MemberRole = "pm"
	RoleAnalyst   MemberRole = "analyst"
)

// MemberStatus is the availability state of a team member
type MemberStatus string

const (
	MemberIdle    MemberStatus = "idle"
	MemberBusy    MemberStatus = "busy"
	MemberOffline MemberStatus = "offline"
)

// TeamStatus is the lifecycle state of a team
type TeamStatus string

const (
	TeamIdle      TeamStatus = "idle"
	TeamActive    TeamStatus = "active"
	TeamCompleted TeamStatus = "completed"
)

// TeamTaskStatus is the lifecycle state of a team task
type TeamTaskStatus string

const (
	TaskPending    TeamTaskStatus = "pending"
	TaskInProgress TeamTaskStatus = "in_progress"
	TaskCompleted  TeamTaskStatus = "completed"
	TaskBlocked    TeamTaskStatus = "blocked"
)

// Member capacity bounds. DefaultMaxConcurrentTasks applies when a member
// is created without an explicit capacity.
const (
	MinConcurrentTasks        = 1
	MaxConcurrentTasks        = 10
	DefaultMaxConcurrentTasks = 3
)

// ValidateCapacity rejects member capacities outside [1,10]
func ValidateCapacity(n int) error {
	if n < MinConcurrentTasks || n > MaxConcurrentTasks {
		return fmt.Errorf("capacity must be between %d and %d, got %d", MinConcurrentTasks, MaxConcurrentTasks, n)
	}
	return nil
}

// Team groups cooperating member personas around one project
type Team struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	ProjectID    string            `json:"projectId"`
	LeadMemberID string            `json:"leadMemberId,omitempty"`
	MemberIDs    []string          `json:"memberIds"`
	Status       TeamStatus        `json:"status"`
	CreatedAt    time.Time         `json:"createdAt"`
	Config       map[string]string `json:"config,omitempty"`
}

// TeamMember is one persona inside a team
type TeamMember struct {
	ID                 string       `json:"id"`
	TeamID             string       `json:"teamId"`
	Name               string       `json:"name"`
	Role               MemberRole   `json:"role"`
	Specialty          []string     `json:"specialty"`
	Expertise          []string     `json:"expertise"`
	Status             MemberStatus `json:"status"`
	CurrentTaskID      string       `json:"currentTaskId,omitempty"`
	MaxConcurrentTasks int          `json:"maxConcurrentTasks"`
}

// TeamTask is a unit of work assignable to a member
type TeamTask struct {
	ID               string         `json:"id"`
	TeamID           string         `json:"teamId"`
	SessionID        string         `json:"sessionId"`
	AssigneeMemberID string         `json:"assigneeMemberId,omitempty"`
	Title            string         `json:"title"`
	Description      string         `json:"description,omitempty"`
	Status           TeamTaskStatus `json:"status"`
	Dependencies     []string       `json:"dependencies,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
	CompletedAt      *time.Time     `json:"completedAt,omitempty"`
	Result           string         `json:"result,omitempty"`
	Kind             string         `json:"kind,omitempty"`
	RequiredSkills   []string       `json:"requiredSkills,omitempty"`
	Priority         int            `json:"priority"`
}

// TeamSession tracks one collaborative run of a team
type TeamSession struct {
	ID        string     `json:"id"`
	TeamID    string     `json:"teamId"`
	ProjectID string     `json:"projectId"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
	Status    string     `json:"status"`
	Goal      string     `json:"goal,omitempty"`
	TaskIDs   []string   `json:"taskIds,omitempty"`
}

// TeamWithMembers is a read-side projection, never persisted as a row
type TeamWithMembers struct {
	Team    Team         `json:"team"`
	Members []TeamMember `json:"members"`
}
