package session

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/maxclaw/internal/bus"
	"github.com/maxclaw/internal/store"
	"github.com/maxclaw/internal/types"
)

// fakeSpawner stands in for the exec spawner; tests decide when children
// exit and with what error.
type fakeSpawner struct {
	mu       sync.Mutex
	nextPID  int
	spawnErr error
	children map[int]chan error
	alive    map[int]bool
	stopped  []int
}

func newFakeSpawner() *fakeSpawner {
	return &fakeSpawner{
		nextPID:  1000,
		children: make(map[int]chan error),
		alive:    make(map[int]bool),
	}
}

func (f *fakeSpawner) Spawn(ctx context.Context, sess *types.Session, project *types.Project, opts types.StartOptions) (*Child, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.spawnErr != nil {
		return nil, f.spawnErr
	}
	f.nextPID++
	pid := f.nextPID
	done := make(chan error, 1)
	f.children[pid] = done
	f.alive[pid] = true
	return &Child{PID: pid, Done: done}, nil
}

func (f *fakeSpawner) Stop(pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, pid)
	if done, ok := f.children[pid]; ok {
		delete(f.children, pid)
		f.alive[pid] = false
		done <- errors.New("signal: terminated")
	}
	return nil
}

func (f *fakeSpawner) Alive(pid int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[pid]
}

// exit simulates a child terminating on its own
func (f *fakeSpawner) exit(pid int, err error) {
	f.mu.Lock()
	done, ok := f.children[pid]
	if ok {
		delete(f.children, pid)
		f.alive[pid] = false
	}
	f.mu.Unlock()
	if ok {
		done <- err
	}
}

func (f *fakeSpawner) stoppedPIDs() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.stopped...)
}

func newTestManager(t *testing.T, cfg PoolConfig) (*Manager, *store.Store, *fakeSpawner, *bus.Bus) {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	st, err := store.Open(filepath.Join(t.TempDir(), "data.db"), logger)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	b := bus.New(logger)
	q := NewQueue(0, 0)
	cfg.QueueEnabled = true
	pool := NewPool(cfg, q, b, logger)
	sp := newFakeSpawner()
	return NewManager(st, pool, q, sp, b, logger), st, sp, b
}

func seedManagerProject(t *testing.T, st *store.Store, name string) *types.Project {
	t.Helper()
	p := &types.Project{Name: name, AbsolutePath: filepath.Join(t.TempDir(), name)}
	if err := st.CreateProject(p); err != nil {
		t.Fatalf("CreateProject(%s): %v", name, err)
	}
	return p
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStartSession(t *testing.T) {
	m, st, _, _ := newTestManager(t, PoolConfig{})
	project := seedManagerProject(t, st, "alpha")

	sess, err := m.Start("alpha", types.StartOptions{InitialPrompt: "fix the tests"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sess.Status != types.SessionActive {
		t.Errorf("Status = %q, want active", sess.Status)
	}
	if sess.OSProcessID == 0 {
		t.Error("expected a recorded pid")
	}

	stored, err := st.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if stored.OSProcessID != sess.OSProcessID {
		t.Errorf("stored pid = %d, want %d", stored.OSProcessID, sess.OSProcessID)
	}
	if got := m.List(); len(got) != 1 || got[0].ID != sess.ID {
		t.Errorf("List = %v, want the new session", got)
	}

	activities, err := st.ListActivities(project.ID, 10)
	if err != nil {
		t.Fatalf("ListActivities: %v", err)
	}
	if len(activities) != 1 || activities[0].Kind != types.ActivityStart {
		t.Errorf("activities = %+v, want one start entry", activities)
	}

	touched, _ := st.GetProject(project.ID)
	if touched.LastAccessedAt == nil {
		t.Error("expected LastAccessedAt to be set")
	}
}

func TestStartUnknownProject(t *testing.T) {
	m, _, _, _ := newTestManager(t, PoolConfig{})
	if _, err := m.Start("ghost", types.StartOptions{}); !types.IsNotFound(err) {
		t.Errorf("error = %v, want not found", err)
	}
}

func TestStartAlreadyActiveConflicts(t *testing.T) {
	m, st, _, _ := newTestManager(t, PoolConfig{})
	seedManagerProject(t, st, "alpha")

	if _, err := m.Start("alpha", types.StartOptions{}); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	_, err := m.Start("alpha", types.StartOptions{})
	if !types.IsConflict(err) {
		t.Fatalf("second Start = %v, want conflict", err)
	}
}

func TestStartRejectedByPool(t *testing.T) {
	m, st, _, _ := newTestManager(t, PoolConfig{MaxGlobalConcurrent: 1, MaxPerProject: 1})
	seedManagerProject(t, st, "alpha")
	seedManagerProject(t, st, "beta")

	if _, err := m.Start("alpha", types.StartOptions{}); err != nil {
		t.Fatalf("Start alpha: %v", err)
	}
	_, err := m.Start("beta", types.StartOptions{})
	if !types.IsConflict(err) {
		t.Fatalf("Start beta = %v, want conflict", err)
	}
}

func TestStartSpawnFailureRollsBack(t *testing.T) {
	m, st, sp, _ := newTestManager(t, PoolConfig{})
	project := seedManagerProject(t, st, "alpha")

	sp.spawnErr = errors.New("exec: \"claude\": executable file not found")
	if _, err := m.Start("alpha", types.StartOptions{}); err == nil {
		t.Fatal("expected spawn error")
	}

	if m.pool.Count() != 0 {
		t.Errorf("pool count = %d, want 0", m.pool.Count())
	}
	if _, err := st.ActiveSessionForProject(project.ID); !types.IsNotFound(err) {
		t.Errorf("active lookup = %v, want not found", err)
	}

	// the slot is usable again
	sp.mu.Lock()
	sp.spawnErr = nil
	sp.mu.Unlock()
	if _, err := m.Start("alpha", types.StartOptions{}); err != nil {
		t.Fatalf("retry Start: %v", err)
	}
}

func TestStopSession(t *testing.T) {
	m, st, sp, _ := newTestManager(t, PoolConfig{})
	seedManagerProject(t, st, "alpha")

	sess, err := m.Start("alpha", types.StartOptions{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Stop(sess.ID); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	stored, _ := st.GetSession(sess.ID)
	if stored.Status != types.SessionInterrupted {
		t.Errorf("Status = %q, want interrupted", stored.Status)
	}
	if stored.EndedAt == nil {
		t.Error("EndedAt not set")
	}
	if m.pool.Count() != 0 {
		t.Errorf("pool count = %d, want 0", m.pool.Count())
	}
	if pids := sp.stoppedPIDs(); len(pids) != 1 || pids[0] != sess.OSProcessID {
		t.Errorf("stopped pids = %v, want [%d]", pids, sess.OSProcessID)
	}
}

func TestStopErrors(t *testing.T) {
	m, st, _, _ := newTestManager(t, PoolConfig{})
	seedManagerProject(t, st, "alpha")

	if err := m.Stop("missing"); !types.IsNotFound(err) {
		t.Errorf("Stop(missing) = %v, want not found", err)
	}

	sess, _ := m.Start("alpha", types.StartOptions{})
	if err := m.Stop(sess.ID); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := m.Stop(sess.ID); !types.IsConflict(err) {
		t.Errorf("second Stop = %v, want conflict", err)
	}
}

func TestChildExitCompletesSession(t *testing.T) {
	m, st, sp, _ := newTestManager(t, PoolConfig{})
	seedManagerProject(t, st, "alpha")

	sess, _ := m.Start("alpha", types.StartOptions{})
	sp.exit(sess.OSProcessID, nil)

	waitFor(t, "session to complete", func() bool {
		stored, err := st.GetSession(sess.ID)
		return err == nil && stored.Status == types.SessionCompleted
	})
	waitFor(t, "pool release", func() bool { return m.pool.Count() == 0 })
}

func TestChildCrashInterruptsSession(t *testing.T) {
	m, st, sp, _ := newTestManager(t, PoolConfig{})
	project := seedManagerProject(t, st, "alpha")

	sess, _ := m.Start("alpha", types.StartOptions{})
	sp.exit(sess.OSProcessID, errors.New("exit status 1"))

	waitFor(t, "session to interrupt", func() bool {
		stored, err := st.GetSession(sess.ID)
		return err == nil && stored.Status == types.SessionInterrupted
	})

	waitFor(t, "complete activity", func() bool {
		activities, err := st.ListActivities(project.ID, 10)
		if err != nil || len(activities) < 2 {
			return false
		}
		return activities[0].Kind == types.ActivityComplete && activities[0].Details["error"] != ""
	})
}

func TestResume(t *testing.T) {
	m, st, sp, _ := newTestManager(t, PoolConfig{})
	seedManagerProject(t, st, "alpha")

	if _, err := m.Resume("", types.StartOptions{}); !types.IsNotFound(err) {
		t.Fatalf("Resume with no history = %v, want not found", err)
	}

	first, err := m.Start("alpha", types.StartOptions{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	sp.exit(first.OSProcessID, nil)
	waitFor(t, "first session to end", func() bool {
		stored, _ := st.GetSession(first.ID)
		return stored != nil && stored.Status.Terminal()
	})

	resumed, err := m.Resume("", types.StartOptions{})
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.ProjectID != first.ProjectID {
		t.Errorf("resumed project = %s, want %s", resumed.ProjectID, first.ProjectID)
	}
	if resumed.ID == first.ID {
		t.Error("resume must create a new session")
	}
}

func TestEnqueueStartsImmediatelyWhenIdle(t *testing.T) {
	m, st, _, _ := newTestManager(t, PoolConfig{})
	project := seedManagerProject(t, st, "alpha")

	if _, err := m.Enqueue("alpha", 0, types.StartOptions{}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitFor(t, "queued session to start", func() bool {
		_, err := st.ActiveSessionForProject(project.ID)
		return err == nil
	})
	if m.queue.Len() != 0 {
		t.Errorf("queue length = %d, want 0", m.queue.Len())
	}
}

func TestEnqueueUnknownProject(t *testing.T) {
	m, _, _, _ := newTestManager(t, PoolConfig{})
	if _, err := m.Enqueue("ghost", 0, types.StartOptions{}); !types.IsNotFound(err) {
		t.Errorf("error = %v, want not found", err)
	}
}

func TestQueuePumpsOnRelease(t *testing.T) {
	m, st, sp, _ := newTestManager(t, PoolConfig{MaxGlobalConcurrent: 1, MaxPerProject: 1})
	seedManagerProject(t, st, "alpha")
	beta := seedManagerProject(t, st, "beta")

	first, err := m.Start("alpha", types.StartOptions{})
	if err != nil {
		t.Fatalf("Start alpha: %v", err)
	}

	item, err := m.Enqueue("beta", 1, types.StartOptions{})
	if err != nil {
		t.Fatalf("Enqueue beta: %v", err)
	}
	if item.Position != 1 {
		t.Errorf("queued position = %d, want 1", item.Position)
	}
	if _, err := st.ActiveSessionForProject(beta.ID); err == nil {
		t.Fatal("beta must not start while the pool is full")
	}

	sp.exit(first.OSProcessID, nil)

	waitFor(t, "queued session to start", func() bool {
		_, err := st.ActiveSessionForProject(beta.ID)
		return err == nil
	})
	if m.queue.Len() != 0 {
		t.Errorf("queue length = %d, want 0", m.queue.Len())
	}

	hist := m.QueueHistory()
	if len(hist) != 1 || hist[0].Status != QueueStatusRunning {
		t.Fatalf("history = %+v, want one running entry", hist)
	}

	// ending the queued session settles its history entry
	second, err := st.ActiveSessionForProject(beta.ID)
	if err != nil {
		t.Fatalf("ActiveSessionForProject: %v", err)
	}
	if err := m.Stop(second.ID); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	hist = m.QueueHistory()
	if hist[0].Status != QueueStatusCompleted {
		t.Errorf("history status = %q, want completed", hist[0].Status)
	}
}

func TestCancelQueued(t *testing.T) {
	m, st, _, _ := newTestManager(t, PoolConfig{MaxGlobalConcurrent: 1, MaxPerProject: 1})
	seedManagerProject(t, st, "alpha")
	seedManagerProject(t, st, "beta")

	if _, err := m.Start("alpha", types.StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	item, err := m.Enqueue("beta", 0, types.StartOptions{})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := m.CancelQueued(item.ID); err != nil {
		t.Fatalf("CancelQueued: %v", err)
	}
	if len(m.QueueItems()) != 0 {
		t.Error("queue should be empty after cancel")
	}
	if hist := m.QueueHistory(); len(hist) != 1 || hist[0].Status != QueueStatusCancelled {
		t.Errorf("history = %+v, want one cancelled entry", hist)
	}
}

func TestRecoverySettlesStaleSessions(t *testing.T) {
	m, st, sp, _ := newTestManager(t, PoolConfig{})
	dead := seedManagerProject(t, st, "dead-proj")
	live := seedManagerProject(t, st, "live-proj")

	deadSess := &types.Session{ProjectID: dead.ID}
	if err := st.CreateSession(deadSess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := st.SetSessionProcessID(deadSess.ID, 99991); err != nil {
		t.Fatalf("SetSessionProcessID: %v", err)
	}

	liveSess := &types.Session{ProjectID: live.ID}
	if err := st.CreateSession(liveSess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := st.SetSessionProcessID(liveSess.ID, 99992); err != nil {
		t.Fatalf("SetSessionProcessID: %v", err)
	}
	sp.mu.Lock()
	sp.alive[99992] = true
	sp.mu.Unlock()

	if err := m.Recover(); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	stored, _ := st.GetSession(deadSess.ID)
	if stored.Status != types.SessionInterrupted || stored.EndedAt == nil {
		t.Errorf("dead session = %q/%v, want interrupted with EndedAt", stored.Status, stored.EndedAt)
	}

	kept, _ := st.GetSession(liveSess.ID)
	if kept.Status != types.SessionActive {
		t.Errorf("live session = %q, want active", kept.Status)
	}
	if m.pool.Count() != 1 {
		t.Errorf("pool count = %d, want 1", m.pool.Count())
	}
	if !m.isUnowned(liveSess.ID) {
		t.Error("live session should be marked unowned")
	}

	// stopping an unowned session ends the record without signalling
	if err := m.Stop(liveSess.ID); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if pids := sp.stoppedPIDs(); len(pids) != 0 {
		t.Errorf("stopped pids = %v, want none", pids)
	}
	ended, _ := st.GetSession(liveSess.ID)
	if ended.Status != types.SessionInterrupted {
		t.Errorf("unowned session after stop = %q, want interrupted", ended.Status)
	}
}

func TestStopAll(t *testing.T) {
	m, st, sp, _ := newTestManager(t, PoolConfig{})
	seedManagerProject(t, st, "alpha")
	seedManagerProject(t, st, "beta")

	s1, err := m.Start("alpha", types.StartOptions{})
	if err != nil {
		t.Fatalf("Start alpha: %v", err)
	}
	s2, err := m.Start("beta", types.StartOptions{})
	if err != nil {
		t.Fatalf("Start beta: %v", err)
	}

	m.StopAll()

	for _, id := range []string{s1.ID, s2.ID} {
		stored, _ := st.GetSession(id)
		if stored.Status != types.SessionInterrupted {
			t.Errorf("session %s = %q, want interrupted", id, stored.Status)
		}
	}
	if m.pool.Count() != 0 {
		t.Errorf("pool count = %d, want 0", m.pool.Count())
	}
	if pids := sp.stoppedPIDs(); len(pids) != 2 {
		t.Errorf("stopped pids = %v, want 2 entries", pids)
	}
}
