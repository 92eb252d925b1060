package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/maxclaw/internal/bus"
	"github.com/maxclaw/internal/store"
	"github.com/maxclaw/internal/types"
)

// Bus topics published by the manager
const (
	TopicSessionStarted = "session:started"
	TopicSessionEnded   = "session:ended"
)

// LifecycleEvent is the payload for session:started and session:ended
type LifecycleEvent struct {
	SessionID string              `json:"sessionId"`
	ProjectID string              `json:"projectId"`
	Status    types.SessionStatus `json:"status"`
}

// Manager owns the session lifecycle: admission, spawning, supervision,
// termination, and the start-request queue.
type Manager struct {
	store   *store.Store
	pool    *Pool
	queue   *Queue
	spawner Spawner
	bus     *bus.Bus
	logger  *log.Logger

	mu      sync.Mutex
	unowned map[string]struct{} // recovered sessions this daemon did not spawn
	queued  map[string]string   // session ID -> originating queue item ID
}

// NewManager wires the session subsystem. The queue may be nil when
// queueing is disabled.
func NewManager(st *store.Store, pool *Pool, queue *Queue, spawner Spawner, b *bus.Bus, logger *log.Logger) *Manager {
	return &Manager{
		store:   st,
		pool:    pool,
		queue:   queue,
		spawner: spawner,
		bus:     b,
		logger:  logger,
		unowned: make(map[string]struct{}),
		queued:  make(map[string]string),
	}
}

// Start launches a coding session for a project. The project may be given
// by ID or name. Fails when the project already has an active session or
// the pool is at capacity.
func (m *Manager) Start(projectIDOrName string, opts types.StartOptions) (*types.Session, error) {
	project, err := m.store.ResolveProject(projectIDOrName)
	if err != nil {
		return nil, err
	}

	existing, err := m.store.ActiveSessionForProject(project.ID)
	if err != nil && !types.IsNotFound(err) {
		return nil, err
	}
	if existing != nil {
		return nil, types.NewConflict("session for project %s already exists", project.Name)
	}

	if adm := m.pool.Admit(project.ID); !adm.Allowed {
		return nil, types.NewConflict("session for project %s rejected: %s", project.Name, adm.Reason)
	}

	sess := &types.Session{ProjectID: project.ID}
	if err := m.store.CreateSession(sess); err != nil {
		return nil, err
	}
	if err := m.pool.Allocate(sess); err != nil {
		m.endQuietly(sess.ID)
		return nil, err
	}

	// Children outlive the RPC that started them; the daemon stops them
	// explicitly on shutdown.
	child, err := m.spawner.Spawn(context.Background(), sess, project, opts)
	if err != nil {
		m.releaseQuietly(sess.ID)
		m.endQuietly(sess.ID)
		return nil, err
	}

	sess.OSProcessID = child.PID
	m.pool.SetProcessID(sess.ID, child.PID)
	if err := m.store.SetSessionProcessID(sess.ID, child.PID); err != nil {
		m.logger.Printf("[SESSIONS] record pid %d for session %s: %v", child.PID, sess.ID, err)
	}
	if err := m.store.TouchProject(project.ID); err != nil {
		m.logger.Printf("[SESSIONS] touch project %s: %v", project.ID, err)
	}

	m.appendActivity(project.ID, sess.ID, types.ActivityStart, map[string]string{"project": project.Name})
	m.publishLifecycle(TopicSessionStarted, sess.ID, project.ID, types.SessionActive)

	go m.watch(sess.ID, project, child)

	m.logger.Printf("[SESSIONS] Started session %s for project %s (pid %d)", sess.ID, project.Name, child.PID)
	return sess, nil
}

// Stop terminates an active session. The terminal record is written first
// so a racing exit waiter observes the session as already ended.
func (m *Manager) Stop(sessionID string) error {
	sess, err := m.store.GetSession(sessionID)
	if err != nil {
		return err
	}
	if sess.Status != types.SessionActive {
		return types.NewConflict("session %s is not active (status %s)", sessionID, sess.Status)
	}

	// A user-initiated stop is a forced termination, not a graceful
	// exit, so the session lands in interrupted.
	if err := m.store.EndSession(sessionID, types.SessionInterrupted, time.Now().UTC()); err != nil {
		if types.IsConflict(err) {
			// the exit waiter finished it between the read and the write
			return nil
		}
		return err
	}

	if sess.OSProcessID > 0 && !m.isUnowned(sessionID) {
		if err := m.spawner.Stop(sess.OSProcessID); err != nil {
			m.logger.Printf("[SESSIONS] stop pid %d: %v", sess.OSProcessID, err)
		}
	}

	m.releaseQuietly(sessionID)
	m.completeQueueItem(sessionID)
	m.appendActivity(sess.ProjectID, sessionID, types.ActivityComplete, map[string]string{"stoppedBy": "user"})
	m.publishLifecycle(TopicSessionEnded, sessionID, sess.ProjectID, types.SessionInterrupted)
	m.logger.Printf("[SESSIONS] Stopped session %s", sessionID)

	m.pumpQueue()
	return nil
}

// Status returns the persisted session record
func (m *Manager) Status(sessionID string) (*types.Session, error) {
	return m.store.GetSession(sessionID)
}

// List returns snapshots of the active sessions, oldest first
func (m *Manager) List() []*types.Session {
	return m.pool.Sessions()
}

// Resume starts a session for the given project, or for the project of the
// most recent session when no project is given.
func (m *Manager) Resume(projectIDOrName string, opts types.StartOptions) (*types.Session, error) {
	if projectIDOrName != "" {
		return m.Start(projectIDOrName, opts)
	}
	sessions, err := m.store.ListSessions("", "")
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, types.NewNotFound("no sessions to resume")
	}
	return m.Start(sessions[0].ProjectID, opts)
}

// Enqueue queues a start request for later execution. The project must
// exist; priority 0 takes the default.
func (m *Manager) Enqueue(projectIDOrName string, priority int, opts types.StartOptions) (*QueueItem, error) {
	if m.queue == nil {
		return nil, types.NewValidation("session queue is disabled")
	}
	project, err := m.store.ResolveProject(projectIDOrName)
	if err != nil {
		return nil, err
	}
	item, err := m.queue.Enqueue(project.ID, project.Name, priority, opts)
	if err != nil {
		return nil, err
	}
	m.logger.Printf("[SESSIONS] Queued start for %s at position %d", project.Name, item.Position)
	m.pumpQueue()
	if refreshed, ok := m.queue.Get(item.ID); ok {
		return refreshed, nil
	}
	return item, nil
}

// CancelQueued removes a queued start request
func (m *Manager) CancelQueued(itemID string) error {
	if m.queue == nil {
		return types.NewValidation("session queue is disabled")
	}
	return m.queue.Cancel(itemID)
}

// QueueItems returns the pending queue snapshots
func (m *Manager) QueueItems() []*QueueItem {
	if m.queue == nil {
		return nil
	}
	return m.queue.Items()
}

// QueueHistory returns processed queue snapshots, newest first
func (m *Manager) QueueHistory() []*QueueItem {
	if m.queue == nil {
		return nil
	}
	return m.queue.History()
}

// StopAll terminates every owned session during daemon shutdown. Unowned
// sessions are left running and stay active for the next recovery.
func (m *Manager) StopAll() {
	for _, sess := range m.pool.Sessions() {
		if m.isUnowned(sess.ID) {
			m.releaseQuietly(sess.ID)
			continue
		}
		if sess.OSProcessID > 0 {
			if err := m.spawner.Stop(sess.OSProcessID); err != nil {
				m.logger.Printf("[SESSIONS] stop pid %d: %v", sess.OSProcessID, err)
			}
		}
		if err := m.store.EndSession(sess.ID, types.SessionInterrupted, time.Now().UTC()); err != nil && !types.IsConflict(err) {
			m.logger.Printf("[SESSIONS] end session %s: %v", sess.ID, err)
		}
		m.releaseQuietly(sess.ID)
		m.publishLifecycle(TopicSessionEnded, sess.ID, sess.ProjectID, types.SessionInterrupted)
	}
}

// watch waits for the child to exit on its own and settles the session.
// When Stop or shutdown already wrote the terminal record the EndSession
// conflict tells us everything is settled.
func (m *Manager) watch(sessionID string, project *types.Project, child *Child) {
	err := <-child.Done

	status := types.SessionCompleted
	details := map[string]string{"project": project.Name}
	if err != nil {
		status = types.SessionInterrupted
		details["error"] = err.Error()
	}

	if endErr := m.store.EndSession(sessionID, status, time.Now().UTC()); endErr != nil {
		if !types.IsConflict(endErr) && !types.IsNotFound(endErr) {
			m.logger.Printf("[SESSIONS] end session %s: %v", sessionID, endErr)
		}
		return
	}

	m.releaseQuietly(sessionID)
	m.completeQueueItem(sessionID)
	m.appendActivity(project.ID, sessionID, types.ActivityComplete, details)
	m.publishLifecycle(TopicSessionEnded, sessionID, project.ID, status)
	m.logger.Printf("[SESSIONS] Session %s for %s exited (%s)", sessionID, project.Name, status)

	m.pumpQueue()
}

// pumpQueue starts queued requests while the head of the queue fits. A head
// whose project is busy blocks the queue; order stays deterministic.
func (m *Manager) pumpQueue() {
	if m.queue == nil {
		return
	}
	for {
		items := m.queue.Items()
		if len(items) == 0 {
			return
		}
		head := items[0]
		if adm := m.pool.Admit(head.ProjectID); !adm.Allowed {
			return
		}
		if _, err := m.store.ActiveSessionForProject(head.ProjectID); err == nil {
			return
		}

		item := m.queue.Dequeue()
		if item == nil {
			return
		}
		sess, err := m.Start(item.ProjectID, item.Options)
		if err != nil {
			m.logger.Printf("[SESSIONS] queued start for %s failed: %v", item.ProjectName, err)
			if cerr := m.queue.Complete(item.ID); cerr != nil {
				m.logger.Printf("[SESSIONS] settle queue item %s: %v", item.ID, cerr)
			}
			continue
		}
		m.trackQueueItem(sess.ID, item.ID)
	}
}

func (m *Manager) markUnowned(sessionID string) {
	m.mu.Lock()
	m.unowned[sessionID] = struct{}{}
	m.mu.Unlock()
}

func (m *Manager) isUnowned(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.unowned[sessionID]
	return ok
}

func (m *Manager) trackQueueItem(sessionID, itemID string) {
	m.mu.Lock()
	m.queued[sessionID] = itemID
	m.mu.Unlock()
}

// completeQueueItem settles the queue history entry for a session that was
// started from the queue.
func (m *Manager) completeQueueItem(sessionID string) {
	m.mu.Lock()
	itemID, ok := m.queued[sessionID]
	if ok {
		delete(m.queued, sessionID)
	}
	m.mu.Unlock()
	if !ok || m.queue == nil {
		return
	}
	if err := m.queue.Complete(itemID); err != nil {
		m.logger.Printf("[SESSIONS] settle queue item %s: %v", itemID, err)
	}
}

func (m *Manager) endQuietly(sessionID string) {
	if err := m.store.EndSession(sessionID, types.SessionInterrupted, time.Now().UTC()); err != nil && !types.IsConflict(err) {
		m.logger.Printf("[SESSIONS] end session %s: %v", sessionID, err)
	}
}

func (m *Manager) releaseQuietly(sessionID string) {
	if err := m.pool.Release(sessionID); err != nil && !types.IsNotFound(err) {
		m.logger.Printf("[SESSIONS] release session %s: %v", sessionID, err)
	}
}

func (m *Manager) appendActivity(projectID, sessionID string, kind types.ActivityKind, details map[string]string) {
	err := m.store.AppendActivity(&types.Activity{
		ProjectID: projectID,
		SessionID: sessionID,
		Kind:      kind,
		Details:   details,
	})
	if err != nil {
		m.logger.Printf("[SESSIONS] append %s activity: %v", kind, err)
	}
}

func (m *Manager) publishLifecycle(topic, sessionID, projectID string, status types.SessionStatus) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(topic, bus.NewMessage(bus.MessageNotification, "session-manager", LifecycleEvent{
		SessionID: sessionID,
		ProjectID: projectID,
		Status:    status,
	}))
}
