package types

import (
	"fmt"
	"time"
)

// TaskKind selects the executor for a schedule
type TaskKind string

const (
	TaskReminder   TaskKind = "reminder"
	TaskBackup     TaskKind = "backup"
	TaskCommand    TaskKind = "command"
	TaskSkill      TaskKind = "skill"
	TaskGithubSync TaskKind = "github-sync"
)

// KnownTaskKinds lists every kind a schedule may declare. Declaring a kind
// does not imply an executor is registered for it.
var KnownTaskKinds = []TaskKind{TaskReminder, TaskBackup, TaskCommand, TaskSkill, TaskGithubSync}

// Valid reports whether k is a declarable task kind
func (k TaskKind) Valid() bool {
	for _, known := range KnownTaskKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Schedule is a cron-triggered task attached to a project
type Schedule struct {
	ID             string     `json:"id"`
	ProjectID      string     `json:"projectId"`
	Name           string     `json:"name"`
	Description    string     `json:"description,omitempty"`
	CronExpression string     `json:"cronExpression"`
	TaskKind       TaskKind   `json:"taskKind"`
	Command        string     `json:"command,omitempty"`
	SkillName      string     `json:"skillName,omitempty"`
	SkillCommand   string     `json:"skillCommand,omitempty"`
	SkillArgs      []string   `json:"skillArgs,omitempty"`
	Message        string     `json:"message,omitempty"`
	Enabled        bool       `json:"enabled"`
	LastRunAt      *time.Time `json:"lastRunAt,omitempty"`
	NextRunAt      *time.Time `json:"nextRunAt,omitempty"`
	RunCount       int        `json:"runCount"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Validate checks fields that must hold before the schedule is persisted
func (s *Schedule) Validate() error {
	if s.ProjectID == "" {
		return fmt.Errorf("schedule requires a project id")
	}
	if s.Name == "" {
		return fmt.Errorf("schedule requires a name")
	}
	if !s.TaskKind.Valid() {
		return fmt.Errorf("unknown task kind %q", s.TaskKind)
	}
	if s.CronExpression == "" {
		return fmt.Errorf("schedule requires a cron expression")
	}
	return nil
}

// ScheduleLogStatus tracks one execution attempt
type ScheduleLogStatus string

const (
	LogPending   ScheduleLogStatus = "pending"
	LogRunning   ScheduleLogStatus = "running"
	LogCompleted ScheduleLogStatus = "completed"
	LogFailed    ScheduleLogStatus = "failed"
)

// ScheduleLog records one execution of a schedule
type ScheduleLog struct {
	ID             string            `json:"id"`
	ScheduleID     string            `json:"scheduleId"`
	Status         ScheduleLogStatus `json:"status"`
	StartedAt      time.Time         `json:"startedAt"`
	CompletedAt    *time.Time        `json:"completedAt,omitempty"`
	Output         string            `json:"output,omitempty"`
	Error          string            `json:"error,omitempty"`
	DurationMillis int64             `json:"durationMillis,omitempty"`
}
