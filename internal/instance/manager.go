// Package instance enforces the single-daemon guarantee through a
// flock-guarded PID file.
package instance

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/maxclaw/internal/types"
)

// Manager owns the daemon PID file. Acquire takes an exclusive
// non-blocking flock on the file so two daemons racing past the
// liveness check still cannot both start.
type Manager struct {
	path   string
	logger *log.Logger

	file     *os.File
	acquired bool
}

func NewManager(pidPath string, logger *log.Logger) *Manager {
	return &Manager{path: pidPath, logger: logger}
}

// Path returns the PID file location.
func (m *Manager) Path() string { return m.path }

// Acquire claims the PID file for this process. An existing file
// naming a live process is fatal; a stale file is removed first. The
// PID itself is written by WritePID once the daemon is ready.
func (m *Manager) Acquire() error {
	if m.acquired {
		return nil
	}
	if pid, err := ReadPID(m.path); err == nil {
		if IsAlive(pid) {
			return types.NewFatal("daemon already running with pid %d", pid)
		}
		m.logger.Printf("[INSTANCE] removing stale pid file (pid %d is dead)", pid)
		if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
			return types.NewFatal("removing stale pid file %s: %v", m.path, err)
		}
	} else if err != nil && !os.IsNotExist(underlying(err)) {
		// Unparseable content means a dead or corrupt writer.
		m.logger.Printf("[INSTANCE] removing unreadable pid file: %v", err)
		_ = os.Remove(m.path)
	}

	if err := os.MkdirAll(filepath.Dir(m.path), 0o700); err != nil {
		return types.NewFatal("creating pid directory: %v", err)
	}
	f, err := os.OpenFile(m.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return types.NewFatal("opening pid file %s: %v", m.path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return types.NewFatal("daemon already running (pid file locked)")
		}
		return types.NewFatal("locking pid file %s: %v", m.path, err)
	}
	m.file = f
	m.acquired = true
	return nil
}

// WritePID records the current process id in the locked file.
func (m *Manager) WritePID() error {
	if !m.acquired {
		return types.NewFatal("pid file not acquired")
	}
	if err := m.file.Truncate(0); err != nil {
		return types.NewFatal("truncating pid file: %v", err)
	}
	if _, err := m.file.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0); err != nil {
		return types.NewFatal("writing pid file: %v", err)
	}
	if err := m.file.Sync(); err != nil {
		return types.NewFatal("syncing pid file: %v", err)
	}
	return nil
}

// Release drops the lock and removes the file. Idempotent.
func (m *Manager) Release() {
	if !m.acquired {
		return
	}
	m.acquired = false
	if err := unix.Flock(int(m.file.Fd()), unix.LOCK_UN); err != nil {
		m.logger.Printf("[INSTANCE] unlocking pid file: %v", err)
	}
	m.file.Close()
	m.file = nil
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		m.logger.Printf("[INSTANCE] removing pid file: %v", err)
	}
}

// ReadPID parses the single decimal integer a PID file holds.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, types.NewValidation("pid file %s is corrupt: %v", path, err)
	}
	if pid <= 0 {
		return 0, types.NewValidation("pid file %s holds invalid pid %d", path, pid)
	}
	return pid, nil
}

// IsAlive reports whether a process with the given pid exists. Signal
// zero probes without delivering anything; EPERM still proves
// existence.
func IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return err == syscall.EPERM
}

// underlying unwraps DomainError to reach os errors for IsNotExist.
func underlying(err error) error {
	if de, ok := err.(*types.DomainError); ok && de.Err != nil {
		return de.Err
	}
	return err
}
