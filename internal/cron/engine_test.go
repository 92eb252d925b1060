package cron

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/maxclaw/internal/store"
	"github.com/maxclaw/internal/types"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "maxclaw.db"), log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedProject(t *testing.T, s *store.Store, name, path string) *types.Project {
	t.Helper()
	p := &types.Project{Name: name, AbsolutePath: path, TechStack: []string{"Go"}}
	if err := s.CreateProject(p); err != nil {
		t.Fatalf("CreateProject(%s) error = %v", name, err)
	}
	return p
}

func seedSchedule(t *testing.T, s *store.Store, projectID string, kind types.TaskKind, mutate func(*types.Schedule)) *types.Schedule {
	t.Helper()
	sched := &types.Schedule{
		ProjectID:      projectID,
		Name:           "standup",
		CronExpression: "0 9 * * *",
		TaskKind:       kind,
		Enabled:        true,
	}
	if mutate != nil {
		mutate(sched)
	}
	if err := s.CreateSchedule(sched); err != nil {
		t.Fatalf("CreateSchedule() error = %v", err)
	}
	return sched
}

type notifyCall struct {
	schedule string
	success  bool
	detail   string
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
	fail  bool
}

func (n *recordingNotifier) ScheduleResult(_ *types.Project, scheduleName string, success bool, detail string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notifyCall{scheduleName, success, detail})
	if n.fail {
		return fmt.Errorf("webhook down")
	}
	return nil
}

func (n *recordingNotifier) snapshot() []notifyCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notifyCall(nil), n.calls...)
}

type stubExecutor struct {
	mu     sync.Mutex
	calls  int
	result Result
}

func (s *stubExecutor) Execute(context.Context, *types.Schedule, *types.Project) Result {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.result
}

func (s *stubExecutor) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func discard() *log.Logger { return log.New(io.Discard, "", 0) }

func TestValidate(t *testing.T) {
	for _, expr := range []string{"*/5 * * * *", "0 9 * * *", "30 14 1 * *"} {
		if !Validate(expr) {
			t.Errorf("Validate(%q) = false, want true", expr)
		}
	}
	for _, expr := range []string{"invalid", "", "* * *", "61 * * * *", "* * * * * *"} {
		if Validate(expr) {
			t.Errorf("Validate(%q) = true, want false", expr)
		}
	}
}

func TestNextRun(t *testing.T) {
	from := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	next, err := NextRun("0 9 * * *", from)
	if err != nil {
		t.Fatalf("NextRun() error = %v", err)
	}
	want := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("NextRun() = %v, want %v", next, want)
	}

	// Strictly after: at 09:00 the next occurrence is tomorrow.
	next, err = NextRun("0 9 * * *", want)
	if err != nil {
		t.Fatalf("NextRun() error = %v", err)
	}
	if !next.Equal(want.Add(24 * time.Hour)) {
		t.Errorf("NextRun() from boundary = %v, want %v", next, want.Add(24*time.Hour))
	}

	if _, err := NextRun("not-cron", from); err == nil {
		t.Error("NextRun(invalid) error = nil, want validation error")
	}
}

func TestEngineExecutesDueSchedule(t *testing.T) {
	s := newTestStore(t)
	p := seedProject(t, s, "api", "/home/dev/api")
	sched := seedSchedule(t, s, p.ID, types.TaskReminder, func(sc *types.Schedule) {
		sc.Message = "standup time"
	})

	notifier := &recordingNotifier{}
	e := NewEngine(s, notifier, time.Hour, discard())
	e.Bind(types.TaskReminder, &ReminderExecutor{Logger: discard()})

	e.sweep(context.Background())
	e.done.Wait()

	logs, err := s.ListScheduleLogs(sched.ID, 10)
	if err != nil {
		t.Fatalf("ListScheduleLogs() error = %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("logs = %d, want 1", len(logs))
	}
	if logs[0].Status != types.LogCompleted {
		t.Errorf("log status = %s, want %s", logs[0].Status, types.LogCompleted)
	}
	if logs[0].Output != "standup time" {
		t.Errorf("log output = %q, want %q", logs[0].Output, "standup time")
	}
	if logs[0].CompletedAt == nil {
		t.Error("log CompletedAt = nil, want set")
	}

	got, err := s.GetSchedule(sched.ID)
	if err != nil {
		t.Fatalf("GetSchedule() error = %v", err)
	}
	if got.RunCount != 1 {
		t.Errorf("RunCount = %d, want 1", got.RunCount)
	}
	if got.LastRunAt == nil {
		t.Error("LastRunAt = nil, want set")
	}
	if got.NextRunAt == nil || !got.NextRunAt.After(time.Now()) {
		t.Errorf("NextRunAt = %v, want a future time", got.NextRunAt)
	}

	calls := notifier.snapshot()
	if len(calls) != 1 {
		t.Fatalf("notifications = %d, want 1", len(calls))
	}
	if !calls[0].success || calls[0].schedule != "standup" {
		t.Errorf("notification = %+v, want success for standup", calls[0])
	}
}

func TestEngineNoExecutorFailsRun(t *testing.T) {
	s := newTestStore(t)
	p := seedProject(t, s, "api", "/home/dev/api")
	sched := seedSchedule(t, s, p.ID, types.TaskGithubSync, nil)

	notifier := &recordingNotifier{}
	e := NewEngine(s, notifier, time.Hour, discard())

	e.sweep(context.Background())
	e.done.Wait()

	logs, err := s.ListScheduleLogs(sched.ID, 10)
	if err != nil {
		t.Fatalf("ListScheduleLogs() error = %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("logs = %d, want 1", len(logs))
	}
	if logs[0].Status != types.LogFailed {
		t.Errorf("log status = %s, want %s", logs[0].Status, types.LogFailed)
	}
	if !strings.Contains(logs[0].Error, "no executor") {
		t.Errorf("log error = %q, want mention of missing executor", logs[0].Error)
	}

	// The schedule still advances so the sweep does not redispatch forever.
	got, err := s.GetSchedule(sched.ID)
	if err != nil {
		t.Fatalf("GetSchedule() error = %v", err)
	}
	if got.RunCount != 1 || got.NextRunAt == nil {
		t.Errorf("schedule after failed run = count %d next %v, want count 1 and a next run", got.RunCount, got.NextRunAt)
	}

	calls := notifier.snapshot()
	if len(calls) != 1 || calls[0].success {
		t.Errorf("notifications = %+v, want one failure", calls)
	}
}

func TestEngineSkipsNotDueSchedules(t *testing.T) {
	s := newTestStore(t)
	p := seedProject(t, s, "api", "/home/dev/api")
	future := time.Now().Add(time.Hour)
	sched := seedSchedule(t, s, p.ID, types.TaskReminder, func(sc *types.Schedule) {
		sc.NextRunAt = &future
	})

	exec := &stubExecutor{result: Result{Success: true}}
	e := NewEngine(s, nil, time.Hour, discard())
	e.Bind(types.TaskReminder, exec)

	e.sweep(context.Background())
	e.done.Wait()

	if exec.callCount() != 0 {
		t.Errorf("executor calls = %d, want 0", exec.callCount())
	}
	logs, _ := s.ListScheduleLogs(sched.ID, 10)
	if len(logs) != 0 {
		t.Errorf("logs = %d, want 0", len(logs))
	}
}

func TestEngineNotifierFailureDoesNotFailRun(t *testing.T) {
	s := newTestStore(t)
	p := seedProject(t, s, "api", "/home/dev/api")
	sched := seedSchedule(t, s, p.ID, types.TaskReminder, nil)

	notifier := &recordingNotifier{fail: true}
	e := NewEngine(s, notifier, time.Hour, discard())
	e.Bind(types.TaskReminder, &ReminderExecutor{Logger: discard()})

	e.sweep(context.Background())
	e.done.Wait()

	logs, err := s.ListScheduleLogs(sched.ID, 10)
	if err != nil {
		t.Fatalf("ListScheduleLogs() error = %v", err)
	}
	if len(logs) != 1 || logs[0].Status != types.LogCompleted {
		t.Fatalf("logs = %+v, want one completed run", logs)
	}
}

func TestEngineRebindReplacesExecutor(t *testing.T) {
	s := newTestStore(t)
	p := seedProject(t, s, "api", "/home/dev/api")
	seedSchedule(t, s, p.ID, types.TaskReminder, nil)

	first := &stubExecutor{result: Result{Success: true, Output: "first"}}
	second := &stubExecutor{result: Result{Success: true, Output: "second"}}
	e := NewEngine(s, nil, time.Hour, discard())
	e.Bind(types.TaskReminder, first)
	e.Bind(types.TaskReminder, second)

	e.sweep(context.Background())
	e.done.Wait()

	if first.callCount() != 0 {
		t.Errorf("replaced executor calls = %d, want 0", first.callCount())
	}
	if second.callCount() != 1 {
		t.Errorf("bound executor calls = %d, want 1", second.callCount())
	}
}

func TestEngineDoesNotOverlapSameSchedule(t *testing.T) {
	e := NewEngine(nil, nil, time.Hour, discard())
	if !e.markRunning("s1") {
		t.Fatal("markRunning first call = false, want true")
	}
	if e.markRunning("s1") {
		t.Error("markRunning while running = true, want false")
	}
	e.clearRunning("s1")
	if !e.markRunning("s1") {
		t.Error("markRunning after clear = false, want true")
	}
}

func TestEngineStartStopIdempotent(t *testing.T) {
	s := newTestStore(t)
	e := NewEngine(s, nil, time.Hour, discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e.Start(ctx)
	e.Stop()
	e.Stop()
}
