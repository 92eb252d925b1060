package types

import (
	"time"
)

// SessionStatus represents the lifecycle state of a coding session
type SessionStatus string

const (
	SessionActive      SessionStatus = "active"
	SessionCompleted   SessionStatus = "completed"
	SessionInterrupted SessionStatus = "interrupted"
)

// Terminal reports whether the status is final
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionInterrupted
}

// Project is a discovered or manually registered source tree
type Project struct {
	ID                   string     `json:"id"`
	Name                 string     `json:"name"`
	AbsolutePath         string     `json:"absolutePath"`
	Description          string     `json:"description,omitempty"`
	TechStack            []string   `json:"techStack"`
	DiscoveredAt         time.Time  `json:"discoveredAt"`
	LastAccessedAt       *time.Time `json:"lastAccessedAt,omitempty"`
	NotificationWebhook  string     `json:"notificationWebhook,omitempty"`
	NotificationPlatform string     `json:"notificationPlatform,omitempty"`
	NotificationMinLevel string     `json:"notificationMinLevel,omitempty"`
}

// Session is one invocation of the coding agent against a project
type Session struct {
	ID                 string        `json:"id"`
	ProjectID          string        `json:"projectId"`
	StartedAt          time.Time     `json:"startedAt"`
	EndedAt            *time.Time    `json:"endedAt,omitempty"`
	Status             SessionStatus `json:"status"`
	Summary            string        `json:"summary,omitempty"`
	SummaryStatus      string        `json:"summaryStatus,omitempty"`
	SummaryGeneratedAt *time.Time    `json:"summaryGeneratedAt,omitempty"`
	OSProcessID        int           `json:"osProcessId,omitempty"`
}

// StartOptions are caller-supplied knobs for session.start
type StartOptions struct {
	AllowedTools  []string `json:"allowedTools,omitempty"`
	InitialPrompt string   `json:"initialPrompt,omitempty"`
}

// ActivityKind classifies an audit log entry
type ActivityKind string

const (
	ActivityStart     ActivityKind = "start"
	ActivityCommand   ActivityKind = "command"
	ActivityComplete  ActivityKind = "complete"
	ActivityDiscover  ActivityKind = "discover"
	ActivityAdd       ActivityKind = "add"
	ActivityRemove    ActivityKind = "remove"
	ActivityTeamStart ActivityKind = "team_start"
	ActivityTeamStop  ActivityKind = "team_stop"
)

// Activity is an append-only audit record
type Activity struct {
	ID        string            `json:"id"`
	ProjectID string            `json:"projectId"`
	SessionID string            `json:"sessionId,omitempty"`
	Kind      ActivityKind      `json:"kind"`
	Timestamp time.Time         `json:"timestamp"`
	Details   map[string]string `json:"details,omitempty"`
}

// AgentStatus is the runtime state of a registered agent
type AgentStatus string

const (
	AgentIdle    AgentStatus = "idle"
	AgentBusy    AgentStatus = "busy"
	AgentOffline AgentStatus = "offline"
	AgentError   AgentStatus = "error"
)

// AgentInfo is a directory entry for a registered agent
type AgentInfo struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Description     string            `json:"description,omitempty"`
	Status          AgentStatus       `json:"status"`
	Subscriptions   []string          `json:"subscriptions"`
	Capabilities    []string          `json:"capabilities"`
	RegisteredAt    time.Time         `json:"registeredAt"`
	LastHeartbeatAt *time.Time        `json:"lastHeartbeatAt,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}
