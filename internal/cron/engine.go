// Package cron runs project schedules. A sweep loop queries enabled
// schedules, dispatches the due ones to task-kind executors, and records
// every run as a schedule log.
package cron

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/maxclaw/internal/store"
	"github.com/maxclaw/internal/types"
)

// DefaultSweepInterval is how often the engine looks for due schedules.
const DefaultSweepInterval = 60 * time.Second

// parser accepts standard five-field expressions, minute through day-of-week.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Validate reports whether expr parses as a five-field cron expression.
func Validate(expr string) bool {
	_, err := parser.Parse(expr)
	return err == nil
}

// NextRun returns the first occurrence of expr strictly after from.
func NextRun(expr string, from time.Time) (time.Time, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return time.Time{}, types.NewValidation("invalid cron expression %q: %v", expr, err)
	}
	return sched.Next(from), nil
}

// Notifier receives schedule outcomes. Delivery failures never fail the run;
// the engine only logs them.
type Notifier interface {
	ScheduleResult(project *types.Project, scheduleName string, success bool, detail string) error
}

// Engine sweeps the schedule table and dispatches due schedules to their
// executors. Executions run asynchronously; a schedule never overlaps itself.
type Engine struct {
	store    *store.Store
	notifier Notifier
	logger   *log.Logger

	interval  time.Duration
	immediate bool

	mu        sync.Mutex
	executors map[types.TaskKind]Executor
	running   map[string]struct{}

	stopOnce sync.Once
	stop     chan struct{}
	done     sync.WaitGroup
}

// NewEngine builds an engine with no executors bound. Interval 0 keeps the
// default sweep period but runs the first sweep immediately.
func NewEngine(st *store.Store, notifier Notifier, interval time.Duration, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	immediate := interval <= 0
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Engine{
		store:     st,
		notifier:  notifier,
		logger:    logger,
		interval:  interval,
		immediate: immediate,
		executors: make(map[types.TaskKind]Executor),
		running:   make(map[string]struct{}),
		stop:      make(chan struct{}),
	}
}

// Bind routes a task kind to an executor. Rebinding replaces the previous
// executor.
func (e *Engine) Bind(kind types.TaskKind, exec Executor) {
	e.mu.Lock()
	e.executors[kind] = exec
	e.mu.Unlock()
}

func (e *Engine) executor(kind types.TaskKind) (Executor, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	exec, ok := e.executors[kind]
	return exec, ok
}

// Start launches the sweep loop. Stop or ctx cancellation ends it.
func (e *Engine) Start(ctx context.Context) {
	e.done.Add(1)
	go e.loop(ctx)
	e.logger.Printf("[CRON] Engine started (sweep every %s)", e.interval)
}

// Stop halts the sweep loop and waits for in-flight executions. Idempotent.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
	e.done.Wait()
	e.logger.Printf("[CRON] Engine stopped")
}

func (e *Engine) loop(ctx context.Context) {
	defer e.done.Done()
	if e.immediate {
		e.sweep(ctx)
	}
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case <-ticker.C:
			e.sweep(ctx)
		}
	}
}

// sweep dispatches every due schedule. Due means enabled with no recorded
// next run, or one at or before now.
func (e *Engine) sweep(ctx context.Context) {
	scheds, err := e.store.ListEnabledSchedules()
	if err != nil {
		e.logger.Printf("[CRON] list schedules: %v", err)
		return
	}
	now := time.Now()
	for _, sched := range scheds {
		if sched.NextRunAt != nil && sched.NextRunAt.After(now) {
			continue
		}
		if !e.markRunning(sched.ID) {
			continue
		}
		e.done.Add(1)
		go func(sched *types.Schedule) {
			defer e.done.Done()
			defer e.clearRunning(sched.ID)
			e.execute(ctx, sched)
		}(sched)
	}
}

// execute runs one schedule end to end: open a log, run the executor, close
// the log, advance the schedule, notify.
func (e *Engine) execute(ctx context.Context, sched *types.Schedule) {
	startedAt := time.Now()
	logEntry := &types.ScheduleLog{ScheduleID: sched.ID, Status: types.LogRunning, StartedAt: startedAt}
	if err := e.store.CreateScheduleLog(logEntry); err != nil {
		e.logger.Printf("[CRON] open log for schedule %s: %v", sched.ID, err)
		return
	}

	var project *types.Project
	if p, err := e.store.GetProject(sched.ProjectID); err == nil {
		project = p
	} else {
		e.logger.Printf("[CRON] project %s for schedule %s: %v", sched.ProjectID, sched.Name, err)
	}

	res := e.run(ctx, sched, project)

	status := types.LogCompleted
	if !res.Success {
		status = types.LogFailed
	}
	elapsed := time.Since(startedAt)
	if err := e.store.CloseScheduleLog(logEntry.ID, status, res.Output, res.Error, elapsed); err != nil {
		e.logger.Printf("[CRON] close log for schedule %s: %v", sched.Name, err)
	}

	// The schedule advances even on failure; a permanently-due schedule
	// would be re-dispatched every sweep.
	e.advance(sched, startedAt)

	detail := res.Output
	if !res.Success {
		detail = res.Error
	}
	if e.notifier != nil {
		if err := e.notifier.ScheduleResult(project, sched.Name, res.Success, detail); err != nil {
			e.logger.Printf("[CRON] notify result for schedule %s: %v", sched.Name, err)
		}
	}
	e.logger.Printf("[CRON] Schedule %s finished (%s, %dms)", sched.Name, status, elapsed.Milliseconds())
}

// run invokes the bound executor and times it. A kind with no executor is a
// failed run.
func (e *Engine) run(ctx context.Context, sched *types.Schedule, project *types.Project) Result {
	exec, ok := e.executor(sched.TaskKind)
	if !ok {
		return Result{Error: fmt.Sprintf("no executor for task kind %q", sched.TaskKind)}
	}
	started := time.Now()
	res := exec.Execute(ctx, sched, project)
	res.DurationMillis = time.Since(started).Milliseconds()
	return res
}

// advance moves the schedule past this run: last run, run count, next
// occurrence.
func (e *Engine) advance(sched *types.Schedule, startedAt time.Time) {
	var next *time.Time
	if n, err := NextRun(sched.CronExpression, time.Now()); err == nil {
		next = &n
	} else {
		e.logger.Printf("[CRON] next run for schedule %s: %v", sched.Name, err)
	}
	if err := e.store.MarkScheduleRun(sched.ID, startedAt, next); err != nil {
		e.logger.Printf("[CRON] mark run for schedule %s: %v", sched.Name, err)
	}
}

func (e *Engine) markRunning(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.running[id]; busy {
		return false
	}
	e.running[id] = struct{}{}
	return true
}

func (e *Engine) clearRunning(id string) {
	e.mu.Lock()
	delete(e.running, id)
	e.mu.Unlock()
}
