package agents

import (
	"github.com/maxclaw/internal/bus"
)

// Agent is an in-process worker attached to the runtime. HandleMessage
// runs on the publisher's goroutine; long work should move off it.
type Agent interface {
	ID() string
	Name() string
	Capabilities() []string
	Initialize() error
	HandleMessage(msg *bus.Message) (interface{}, error)
	Shutdown() error
}

// SendResult is the outcome of a correlated send
type SendResult struct {
	Success      bool        `json:"success"`
	Data         interface{} `json:"data,omitempty"`
	Error        string      `json:"error,omitempty"`
	ResponseTime int64       `json:"responseTime"`
}

// InboxTopic is the private topic every registered agent listens on
func InboxTopic(agentID string) string {
	return "agent:" + agentID + ":inbox"
}
