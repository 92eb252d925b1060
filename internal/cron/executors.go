package cron

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/maxclaw/internal/types"
)

// Result is an executor's report for a single run.
type Result struct {
	Success        bool   `json:"success"`
	Output         string `json:"output,omitempty"`
	Error          string `json:"error,omitempty"`
	DurationMillis int64  `json:"durationMillis"`
}

// Executor runs one kind of scheduled task. The project may be nil when the
// schedule's project no longer resolves.
type Executor interface {
	Execute(ctx context.Context, sched *types.Schedule, project *types.Project) Result
}

// ReminderExecutor logs the schedule's message. It cannot fail.
type ReminderExecutor struct {
	Logger *log.Logger
}

func (r *ReminderExecutor) Execute(_ context.Context, sched *types.Schedule, _ *types.Project) Result {
	message := sched.Message
	if message == "" {
		message = fmt.Sprintf("Reminder: %s", sched.Name)
	}
	logger := r.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("[CRON] %s", message)
	return Result{Success: true, Output: message}
}

// BackupExecutor snapshots the project record as JSON under the data
// directory, one file per run.
type BackupExecutor struct {
	DataDir string
}

func (b *BackupExecutor) Execute(_ context.Context, _ *types.Schedule, project *types.Project) Result {
	if project == nil {
		return Result{Error: "project not found"}
	}
	dir := filepath.Join(b.DataDir, "backups", project.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{Error: fmt.Sprintf("create backup dir: %v", err)}
	}
	stamp := strings.ReplaceAll(time.Now().UTC().Format(time.RFC3339), ":", "-")
	path := filepath.Join(dir, fmt.Sprintf("backup-%s.json", stamp))
	data, err := json.MarshalIndent(project, "", "  ")
	if err != nil {
		return Result{Error: fmt.Sprintf("encode project: %v", err)}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return Result{Error: fmt.Sprintf("write backup: %v", err)}
	}
	return Result{Success: true, Output: path}
}

// CommandExecutor runs a shell command in the project directory and captures
// its output.
type CommandExecutor struct{}

func (CommandExecutor) Execute(ctx context.Context, sched *types.Schedule, project *types.Project) Result {
	if sched.Command == "" {
		return Result{Error: "schedule has no command"}
	}
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", sched.Command)
	if project != nil {
		cmd.Dir = project.AbsolutePath
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	output := strings.TrimSpace(stdout.String())
	if err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		} else {
			detail = fmt.Sprintf("%v: %s", err, detail)
		}
		return Result{Output: output, Error: detail}
	}
	return Result{Success: true, Output: output}
}

// SkillRunner is the slice of the skill registry the executor needs.
type SkillRunner interface {
	Execute(name, command string, args []string, opts map[string]interface{}) (interface{}, error)
}

// SkillExecutor dispatches to a registered skill command.
type SkillExecutor struct {
	Runner SkillRunner
}

func (s *SkillExecutor) Execute(_ context.Context, sched *types.Schedule, _ *types.Project) Result {
	if s.Runner == nil {
		return Result{Error: "skill registry unavailable"}
	}
	if sched.SkillName == "" || sched.SkillCommand == "" {
		return Result{Error: "schedule has no skill binding"}
	}
	out, err := s.Runner.Execute(sched.SkillName, sched.SkillCommand, sched.SkillArgs, map[string]interface{}{})
	if err != nil {
		return Result{Error: err.Error()}
	}
	return Result{Success: true, Output: formatSkillOutput(out)}
}

func formatSkillOutput(out interface{}) string {
	switch v := out.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	}
}
