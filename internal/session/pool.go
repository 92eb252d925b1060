package session

import (
	"log"
	"sort"
	"sync"

	"github.com/maxclaw/internal/bus"
	"github.com/maxclaw/internal/types"
)

// Pool limit defaults
const (
	DefaultMaxGlobalConcurrent = 5
	DefaultMaxPerProject       = 2
)

// Bus topics published by the pool
const (
	TopicSessionAllocated = "session:allocated"
	TopicSessionReleased  = "session:released"
)

// Reject reasons returned by Admit
const (
	RejectGlobalLimit     = "global limit"
	RejectPerProjectLimit = "per-project limit"
)

// PoolConfig caps concurrent sessions. SessionTimeoutMillis is carried for
// callers but not enforced by the pool.
type PoolConfig struct {
	MaxGlobalConcurrent    int
	MaxPerProject          int
	SessionTimeoutMillis   int
	QueueEnabled           bool
	ResourceMonitorEnabled bool
}

// Admission is the outcome of an admit check
type Admission struct {
	Allowed                bool   `json:"allowed"`
	Reason                 string `json:"reason,omitempty"`
	SuggestedQueuePosition int    `json:"suggestedQueuePosition,omitempty"`
}

// PoolEvent is the payload for session:allocated and session:released
type PoolEvent struct {
	SessionID string `json:"sessionId"`
	ProjectID string `json:"projectId"`
}

// Pool tracks active sessions and enforces global and per-project limits
type Pool struct {
	cfg    PoolConfig
	queue  *Queue // optional, consulted for suggested positions
	bus    *bus.Bus
	logger *log.Logger

	mu        sync.RWMutex
	byID      map[string]*types.Session
	byProject map[string]map[string]struct{}
}

// NewPool creates a pool; zero limits take the defaults. The queue may be
// nil when queueing is disabled.
func NewPool(cfg PoolConfig, queue *Queue, b *bus.Bus, logger *log.Logger) *Pool {
	if cfg.MaxGlobalConcurrent <= 0 {
		cfg.MaxGlobalConcurrent = DefaultMaxGlobalConcurrent
	}
	if cfg.MaxPerProject <= 0 {
		cfg.MaxPerProject = DefaultMaxPerProject
	}
	return &Pool{
		cfg:       cfg,
		queue:     queue,
		bus:       b,
		logger:    logger,
		byID:      make(map[string]*types.Session),
		byProject: make(map[string]map[string]struct{}),
	}
}

// SetLimits retunes the concurrency caps, for config reloads. Zero or
// negative values keep the defaults. Sessions already allocated are never
// evicted; the new limits apply to future admissions.
func (p *Pool) SetLimits(maxGlobal, maxPerProject int) {
	if maxGlobal <= 0 {
		maxGlobal = DefaultMaxGlobalConcurrent
	}
	if maxPerProject <= 0 {
		maxPerProject = DefaultMaxPerProject
	}
	p.mu.Lock()
	p.cfg.MaxGlobalConcurrent = maxGlobal
	p.cfg.MaxPerProject = maxPerProject
	p.mu.Unlock()
}

// Admit checks whether a new session for the project would fit. The global
// limit is checked before the per-project limit.
func (p *Pool) Admit(projectID string) Admission {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.admitLocked(projectID)
}

func (p *Pool) admitLocked(projectID string) Admission {
	if len(p.byID) >= p.cfg.MaxGlobalConcurrent {
		return p.reject(RejectGlobalLimit)
	}
	if len(p.byProject[projectID]) >= p.cfg.MaxPerProject {
		return p.reject(RejectPerProjectLimit)
	}
	return Admission{Allowed: true}
}

func (p *Pool) reject(reason string) Admission {
	adm := Admission{Reason: reason}
	if p.cfg.QueueEnabled && p.queue != nil {
		adm.SuggestedQueuePosition = p.queue.Len() + 1
	}
	return adm
}

// Allocate re-checks admission and records a snapshot of the session. The
// admit check and the insert happen under one lock so concurrent allocations
// cannot exceed the limits.
func (p *Pool) Allocate(sess *types.Session) error {
	p.mu.Lock()
	adm := p.admitLocked(sess.ProjectID)
	if !adm.Allowed {
		p.mu.Unlock()
		return types.NewConflict("session pool rejected project %s: %s", sess.ProjectID, adm.Reason)
	}
	snap := *sess
	p.byID[sess.ID] = &snap
	set, ok := p.byProject[sess.ProjectID]
	if !ok {
		set = make(map[string]struct{})
		p.byProject[sess.ProjectID] = set
	}
	set[sess.ID] = struct{}{}
	p.mu.Unlock()

	p.publish(TopicSessionAllocated, sess)
	return nil
}

// SetProcessID records the spawned child's pid on the pooled snapshot
func (p *Pool) SetProcessID(sessionID string, pid int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sess, ok := p.byID[sessionID]; ok {
		sess.OSProcessID = pid
	}
}

// Release drops the session from the pool and prunes empty project sets
func (p *Pool) Release(sessionID string) error {
	p.mu.Lock()
	sess, ok := p.byID[sessionID]
	if !ok {
		p.mu.Unlock()
		return types.NewNotFound("session %s not in pool", sessionID)
	}
	delete(p.byID, sessionID)
	if set, ok := p.byProject[sess.ProjectID]; ok {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(p.byProject, sess.ProjectID)
		}
	}
	p.mu.Unlock()

	p.publish(TopicSessionReleased, sess)
	return nil
}

// Get returns the pooled session by ID
func (p *Pool) Get(sessionID string) (*types.Session, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	sess, ok := p.byID[sessionID]
	if !ok {
		return nil, false
	}
	snap := *sess
	return &snap, true
}

// Sessions returns snapshots of all pooled sessions, oldest first
func (p *Pool) Sessions() []*types.Session {
	p.mu.RLock()
	result := make([]*types.Session, 0, len(p.byID))
	for _, sess := range p.byID {
		snap := *sess
		result = append(result, &snap)
	}
	p.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartedAt.Equal(result[j].StartedAt) {
			return result[i].StartedAt.Before(result[j].StartedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

// Count returns the number of pooled sessions
func (p *Pool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byID)
}

// CountForProject returns the number of pooled sessions for one project
func (p *Pool) CountForProject(projectID string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byProject[projectID])
}

// publish emits a pool event outside the pool lock so subscribers may call
// back into the pool.
func (p *Pool) publish(topic string, sess *types.Session) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(topic, bus.NewMessage(bus.MessageNotification, "session-pool", PoolEvent{
		SessionID: sess.ID,
		ProjectID: sess.ProjectID,
	}))
}
