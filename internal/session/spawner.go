package session

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/maxclaw/internal/types"
)

// StopGrace is how long a stopped child gets to exit after SIGTERM before
// SIGKILL is sent.
const StopGrace = 2 * time.Second

// Child is a spawned coding-agent process. Done receives the exit error
// (nil on clean exit) exactly once.
type Child struct {
	PID  int
	Done <-chan error
}

// Spawner launches and signals child coding-agent processes
type Spawner interface {
	Spawn(ctx context.Context, sess *types.Session, project *types.Project, opts types.StartOptions) (*Child, error)
	Stop(pid int) error
	Alive(pid int) bool
}

// ExecSpawner runs the coding agent CLI as a child process. The binary comes
// from CLAUDE_BINARY, falling back to "claude" on PATH. Child output is
// appended to a per-session log file under logDir.
type ExecSpawner struct {
	binary string
	logDir string
	logger *log.Logger
}

// NewExecSpawner creates a spawner writing session logs under logDir
func NewExecSpawner(logDir string, logger *log.Logger) *ExecSpawner {
	binary := os.Getenv("CLAUDE_BINARY")
	if binary == "" {
		binary = "claude"
	}
	return &ExecSpawner{binary: binary, logDir: logDir, logger: logger}
}

// Spawn starts the coding agent in the project directory. The child inherits
// the daemon environment plus MAXCLAW_SESSION_ID and MAXCLAW_PROJECT_ID.
func (s *ExecSpawner) Spawn(ctx context.Context, sess *types.Session, project *types.Project, opts types.StartOptions) (*Child, error) {
	var args []string
	if len(opts.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(opts.AllowedTools, ","))
	}
	if opts.InitialPrompt != "" {
		args = append(args, opts.InitialPrompt)
	}

	cmd := exec.CommandContext(ctx, s.binary, args...)
	cmd.Dir = project.AbsolutePath
	cmd.Env = append(os.Environ(),
		"MAXCLAW_SESSION_ID="+sess.ID,
		"MAXCLAW_PROJECT_ID="+project.ID,
	)

	var logFile *os.File
	if s.logDir != "" {
		if err := os.MkdirAll(s.logDir, 0o755); err != nil {
			return nil, types.NewOperational(err, "create session log dir %s", s.logDir)
		}
		logPath := filepath.Join(s.logDir, fmt.Sprintf("session-%s.log", sess.ID))
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, types.NewOperational(err, "open session log %s", logPath)
		}
		logFile = f
		cmd.Stdout = f
		cmd.Stderr = f
	}

	if err := cmd.Start(); err != nil {
		if logFile != nil {
			logFile.Close()
		}
		return nil, types.NewOperational(err, "spawn %s for project %s", s.binary, project.Name)
	}

	pid := cmd.Process.Pid
	s.logger.Printf("[SPAWNER] Started %s (pid %d) for project %s", s.binary, pid, project.Name)

	done := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		if logFile != nil {
			logFile.Close()
		}
		done <- err
		close(done)
	}()

	return &Child{PID: pid, Done: done}, nil
}

// Stop terminates a child: SIGTERM, a grace period, then SIGKILL. A pid
// that is already gone is not an error.
func (s *ExecSpawner) Stop(pid int) error {
	if !s.Alive(pid) {
		return nil
	}

	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		if err == syscall.ESRCH {
			return nil
		}
		return types.NewOperational(err, "send SIGTERM to pid %d", pid)
	}

	deadline := time.Now().Add(StopGrace)
	for time.Now().Before(deadline) {
		if !s.Alive(pid) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	if s.Alive(pid) {
		s.logger.Printf("[SPAWNER] pid %d ignored SIGTERM, sending SIGKILL", pid)
		if err := syscall.Kill(pid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
			return types.NewOperational(err, "send SIGKILL to pid %d", pid)
		}
	}
	return nil
}

// Alive reports whether a process with the given pid exists
func (s *ExecSpawner) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}
