package session

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maxclaw/internal/types"
)

// Queue capacity defaults
const (
	DefaultQueueCapacity = 100
	DefaultHistorySize   = 50
	DefaultQueuePriority = 3
)

// QueueItemStatus is the lifecycle state of a queued start request
type QueueItemStatus string

const (
	QueueStatusQueued    QueueItemStatus = "queued"
	QueueStatusRunning   QueueItemStatus = "running"
	QueueStatusCancelled QueueItemStatus = "cancelled"
	QueueStatusCompleted QueueItemStatus = "completed"
)

// QueueItem is a pending session start request. Items live only in memory;
// they are not persisted across daemon restarts.
type QueueItem struct {
	ID          string             `json:"id"`
	ProjectID   string             `json:"projectId"`
	ProjectName string             `json:"projectName"`
	RequestedAt time.Time          `json:"requestedAt"`
	Priority    int                `json:"priority"`
	Options     types.StartOptions `json:"options"`
	Status      QueueItemStatus    `json:"status"`
	Position    int                `json:"position"`
}

// Queue is a thread-safe priority queue of session start requests. Lower
// priority number dequeues first; ties fall back to FIFO on RequestedAt.
// Processed items (dequeued or cancelled) move to a bounded history ring.
type Queue struct {
	mu       sync.RWMutex
	items    []*QueueItem
	index    map[string]*QueueItem // ID -> queued item
	history  []*QueueItem          // oldest first, evicted from the front
	capacity int
	histCap  int
}

// NewQueue creates a queue; zero capacities take the defaults
func NewQueue(capacity, historySize int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Queue{
		items:    make([]*QueueItem, 0),
		index:    make(map[string]*QueueItem),
		capacity: capacity,
		histCap:  historySize,
	}
}

// Enqueue adds a start request for a project. A zero priority takes the
// default; values outside 1..5 are rejected. Returns the queued item
// snapshot including its position.
func (q *Queue) Enqueue(projectID, projectName string, priority int, options types.StartOptions) (*QueueItem, error) {
	if priority == 0 {
		priority = DefaultQueuePriority
	}
	if priority < 1 || priority > 5 {
		return nil, types.NewValidation("queue priority must be 1..5, got %d", priority)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		return nil, types.NewConflict("session queue is full (capacity %d)", q.capacity)
	}

	item := &QueueItem{
		ID:          uuid.NewString(),
		ProjectID:   projectID,
		ProjectName: projectName,
		RequestedAt: time.Now().UTC(),
		Priority:    priority,
		Options:     options,
		Status:      QueueStatusQueued,
	}
	q.items = append(q.items, item)
	q.index[item.ID] = item
	q.sortLocked()
	q.recomputePositionsLocked()

	snap := *item
	return &snap, nil
}

// Dequeue removes and returns the most urgent item, or nil when empty. The
// item transitions to running and is recorded in the history ring.
func (q *Queue) Dequeue() *QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}

	item := q.items[0]
	q.items = q.items[1:]
	delete(q.index, item.ID)
	item.Status = QueueStatusRunning
	item.Position = 0
	q.pushHistoryLocked(item)
	q.recomputePositionsLocked()

	snap := *item
	return &snap
}

// Cancel removes a queued item by ID and records it as cancelled
func (q *Queue) Cancel(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.index[id]
	if !ok {
		return types.NewNotFound("queue item %s not found", id)
	}
	delete(q.index, id)
	for i, it := range q.items {
		if it.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			break
		}
	}
	item.Status = QueueStatusCancelled
	item.Position = 0
	q.pushHistoryLocked(item)
	q.recomputePositionsLocked()
	return nil
}

// Complete marks a previously dequeued item as completed in the history
func (q *Queue) Complete(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, it := range q.history {
		if it.ID == id {
			it.Status = QueueStatusCompleted
			return nil
		}
	}
	return types.NewNotFound("queue item %s not in history", id)
}

// Get returns a snapshot of a queued item by ID
func (q *Queue) Get(id string) (*QueueItem, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	item, ok := q.index[id]
	if !ok {
		return nil, false
	}
	snap := *item
	return &snap, true
}

// Items returns queued item snapshots in dequeue order
func (q *Queue) Items() []*QueueItem {
	q.mu.RLock()
	defer q.mu.RUnlock()

	result := make([]*QueueItem, len(q.items))
	for i, it := range q.items {
		snap := *it
		result[i] = &snap
	}
	return result
}

// History returns processed item snapshots, newest first
func (q *Queue) History() []*QueueItem {
	q.mu.RLock()
	defer q.mu.RUnlock()

	result := make([]*QueueItem, len(q.history))
	for i, it := range q.history {
		snap := *it
		result[len(q.history)-1-i] = &snap
	}
	return result
}

// Len returns the number of queued items
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.items)
}

// HistoryLen returns the number of processed items retained
func (q *Queue) HistoryLen() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.history)
}

// pushHistoryLocked appends to the ring, evicting the oldest entry when full
func (q *Queue) pushHistoryLocked(item *QueueItem) {
	q.history = append(q.history, item)
	if len(q.history) > q.histCap {
		q.history = q.history[1:]
	}
}

// sortLocked orders items for dequeue (must hold lock)
func (q *Queue) sortLocked() {
	sort.SliceStable(q.items, func(i, j int) bool {
		// Lower priority number = higher priority
		if q.items[i].Priority != q.items[j].Priority {
			return q.items[i].Priority < q.items[j].Priority
		}
		// Same priority: older requests first (FIFO)
		return q.items[i].RequestedAt.Before(q.items[j].RequestedAt)
	})
}

// recomputePositionsLocked renumbers queued items so reads are O(1)
func (q *Queue) recomputePositionsLocked() {
	for i, it := range q.items {
		it.Position = i + 1
	}
}
