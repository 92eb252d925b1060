package agents

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/maxclaw/internal/bus"
	"github.com/maxclaw/internal/types"
)

// DefaultHeartbeatInterval drives the staleness sweep; an agent silent for
// three intervals is marked offline.
const DefaultHeartbeatInterval = 30 * time.Second

type entry struct {
	agent  Agent
	info   *types.AgentInfo
	subIDs []string
}

// Runtime keeps the agent directory and routes bus traffic to agent
// handlers.
type Runtime struct {
	bus      *bus.Bus
	logger   *log.Logger
	interval time.Duration

	mu      sync.Mutex
	agents  map[string]*entry
	order   []string
	stopped bool
}

// NewRuntime creates a runtime on top of b. interval <= 0 selects the
// default heartbeat interval.
func NewRuntime(b *bus.Bus, interval time.Duration, logger *log.Logger) *Runtime {
	if logger == nil {
		logger = log.Default()
	}
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &Runtime{
		bus:      b,
		logger:   logger,
		interval: interval,
		agents:   make(map[string]*entry),
	}
}

// RegisterAgent subscribes the agent's inbox plus extraTopics and invokes
// Initialize. A failing Initialize unwinds the subscriptions and the
// directory entry.
func (r *Runtime) RegisterAgent(agent Agent, extraTopics ...string) error {
	id := agent.ID()

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return types.NewConflict("agent runtime is shut down")
	}
	if _, exists := r.agents[id]; exists {
		r.mu.Unlock()
		return types.NewConflict("agent %s already registered", id)
	}

	topics := append([]string{InboxTopic(id)}, extraTopics...)
	e := &entry{
		agent: agent,
		info: &types.AgentInfo{
			ID:            id,
			Name:          agent.Name(),
			Status:        types.AgentIdle,
			Subscriptions: topics,
			Capabilities:  agent.Capabilities(),
			RegisteredAt:  time.Now(),
		},
	}
	for _, topic := range topics {
		e.subIDs = append(e.subIDs, r.bus.Subscribe(topic, r.routeTo(id)))
	}
	r.agents[id] = e
	r.order = append(r.order, id)
	r.mu.Unlock()

	if err := agent.Initialize(); err != nil {
		r.mu.Lock()
		for _, subID := range e.subIDs {
			r.bus.Unsubscribe(subID)
		}
		delete(r.agents, id)
		for i, oid := range r.order {
			if oid == id {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
		r.mu.Unlock()
		return types.NewOperational(err, "initialize agent %s", id)
	}

	r.logger.Printf("[AGENTS] Registered %s (%s), topics %v", id, agent.Name(), topics)
	return nil
}

// routeTo builds the bus handler delivering to one agent
func (r *Runtime) routeTo(id string) bus.Handler {
	return func(msg *bus.Message) error {
		r.mu.Lock()
		e, ok := r.agents[id]
		if !ok {
			r.mu.Unlock()
			return nil
		}
		agent := e.agent
		e.info.Status = types.AgentBusy
		r.mu.Unlock()

		result, err := agent.HandleMessage(msg)

		r.mu.Lock()
		if e, ok := r.agents[id]; ok {
			if err != nil {
				e.info.Status = types.AgentError
			} else {
				e.info.Status = types.AgentIdle
			}
		}
		r.mu.Unlock()

		if err != nil {
			if msg.CorrelationID != "" {
				errReply := bus.NewMessage(bus.MessageError, id, err.Error())
				errReply.CorrelationID = msg.CorrelationID
				r.bus.Publish(bus.ReplyTopic(msg.CorrelationID), errReply)
			}
			return err
		}
		if msg.CorrelationID != "" {
			r.bus.Reply(msg, id, result)
		}
		return nil
	}
}

// UnregisterAgent shuts the agent down and removes it from the directory
func (r *Runtime) UnregisterAgent(id string) error {
	r.mu.Lock()
	e, ok := r.agents[id]
	if !ok {
		r.mu.Unlock()
		return types.NewNotFound("agent %s not found", id)
	}
	delete(r.agents, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	if err := e.agent.Shutdown(); err != nil {
		r.logger.Printf("[AGENTS] Shutdown of %s failed: %v", id, err)
	}
	for _, subID := range e.subIDs {
		r.bus.Unsubscribe(subID)
	}
	r.logger.Printf("[AGENTS] Unregistered %s", id)
	return nil
}

// SendMessage routes a payload to the target agent's inbox. Queries wait
// for the correlated reply; every other type is fire-and-forget and
// returns nil.
func (r *Runtime) SendMessage(targetID string, payload interface{}, sender string, msgType bus.MessageType) *SendResult {
	r.mu.Lock()
	_, ok := r.agents[targetID]
	r.mu.Unlock()
	if !ok {
		return &SendResult{Success: false, Error: "not found"}
	}

	msg := bus.NewMessage(msgType, sender, payload)
	msg.Receiver = targetID

	if msgType != bus.MessageQuery {
		r.bus.Publish(InboxTopic(targetID), msg)
		return nil
	}

	start := time.Now()
	reply, err := r.bus.Request(InboxTopic(targetID), msg, 0)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		return &SendResult{Success: false, Error: err.Error(), ResponseTime: elapsed}
	}
	if reply.Type == bus.MessageError {
		errText, _ := reply.Payload.(string)
		return &SendResult{Success: false, Error: errText, ResponseTime: elapsed}
	}
	return &SendResult{Success: true, Data: reply.Payload, ResponseTime: elapsed}
}

// Broadcast publishes a notification on a shared topic
func (r *Runtime) Broadcast(topic string, payload interface{}, sender string) {
	r.bus.Publish(topic, bus.NewMessage(bus.MessageNotification, sender, payload))
}

// DiscoverFilter narrows DiscoverAgents; zero values match everything
type DiscoverFilter struct {
	Capability string
	Status     types.AgentStatus
}

// DiscoverAgents returns directory snapshots in registration order
func (r *Runtime) DiscoverAgents(filter DiscoverFilter) []types.AgentInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]types.AgentInfo, 0, len(r.order))
	for _, id := range r.order {
		e := r.agents[id]
		if filter.Status != "" && e.info.Status != filter.Status {
			continue
		}
		if filter.Capability != "" && !hasCapability(e.info.Capabilities, filter.Capability) {
			continue
		}
		out = append(out, *e.info)
	}
	return out
}

func hasCapability(caps []string, want string) bool {
	for _, c := range caps {
		if c == want {
			return true
		}
	}
	return false
}

// Heartbeat records liveness for an agent; an offline agent comes back as
// idle.
func (r *Runtime) Heartbeat(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.agents[id]
	if !ok {
		return types.NewNotFound("agent %s not found", id)
	}
	now := time.Now()
	e.info.LastHeartbeatAt = &now
	if e.info.Status == types.AgentOffline {
		e.info.Status = types.AgentIdle
	}
	return nil
}

// AgentCount reports how many agents are registered
func (r *Runtime) AgentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.agents)
}

// StartHeartbeatMonitor sweeps the directory until ctx is cancelled
func (r *Runtime) StartHeartbeatMonitor(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Printf("[AGENTS] Heartbeat monitor started (interval %s)", r.interval)
	for {
		select {
		case <-ctx.Done():
			r.logger.Printf("[AGENTS] Heartbeat monitor stopping")
			return
		case <-ticker.C:
			r.sweepStale()
		}
	}
}

// sweepStale marks agents offline when their last heartbeat is older than
// three intervals. Agents that never sent one are measured from
// registration.
func (r *Runtime) sweepStale() {
	threshold := 3 * r.interval
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.agents {
		last := e.info.RegisteredAt
		if e.info.LastHeartbeatAt != nil {
			last = *e.info.LastHeartbeatAt
		}
		if now.Sub(last) > threshold && e.info.Status != types.AgentOffline {
			e.info.Status = types.AgentOffline
			r.logger.Printf("[AGENTS] %s marked offline (last seen %s ago)", id, now.Sub(last).Round(time.Second))
		}
	}
}

// Shutdown stops every agent in reverse registration order, drops all
// subscriptions and clears the directory. Safe to call more than once.
func (r *Runtime) Shutdown() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	entries := make([]*entry, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		entries = append(entries, r.agents[r.order[i]])
	}
	r.agents = make(map[string]*entry)
	r.order = nil
	r.mu.Unlock()

	for _, e := range entries {
		if err := e.agent.Shutdown(); err != nil {
			r.logger.Printf("[AGENTS] Shutdown of %s failed: %v", e.info.ID, err)
		}
		for _, subID := range e.subIDs {
			r.bus.Unsubscribe(subID)
		}
	}
	r.logger.Printf("[AGENTS] Runtime shut down (%d agents stopped)", len(entries))
}
