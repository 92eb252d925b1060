package nats

import (
	"log"
	"strings"

	"github.com/maxclaw/internal/bus"
)

// SubjectPrefix namespaces every republished event.
const SubjectPrefix = "maxclaw.events."

// SubjectFor maps a bus topic to its NATS subject: colons become dots
// under the maxclaw.events prefix.
func SubjectFor(topic string) string {
	return SubjectPrefix + strings.ReplaceAll(topic, ":", ".")
}

// Bridge owns an embedded broker plus a client and mirrors every bus
// event onto it. Traffic flows one way, bus to broker; external tools
// observe, they do not inject.
type Bridge struct {
	bus    *bus.Bus
	server *EmbeddedServer
	client *Client
	logger *log.Logger
	subID  string
}

func NewBridge(b *bus.Bus, port int, logger *log.Logger) *Bridge {
	return &Bridge{
		bus:    b,
		server: NewEmbeddedServer(port, logger),
		logger: logger,
	}
}

// Start boots the broker, connects the republishing client and begins
// mirroring bus traffic.
func (br *Bridge) Start() error {
	if err := br.server.Start(); err != nil {
		return err
	}
	client, err := NewClient(br.server.URL(), br.logger)
	if err != nil {
		br.server.Shutdown()
		return err
	}
	br.client = client

	br.subID = br.bus.Subscribe("#", func(msg *bus.Message) error {
		// Correlated replies are request plumbing, not events.
		if strings.HasPrefix(msg.Topic, "reply:") {
			return nil
		}
		if err := br.client.PublishJSON(SubjectFor(msg.Topic), msg); err != nil {
			br.logger.Printf("[NATS] republish %s failed: %v", msg.Topic, err)
		}
		return nil
	})
	br.logger.Printf("[NATS] bridge mirroring bus events to %s*", SubjectPrefix)
	return nil
}

// URL exposes the broker address for external subscribers.
func (br *Bridge) URL() string {
	return br.server.URL()
}

// Stop detaches from the bus and winds the broker down. Safe to call
// twice or when Start failed.
func (br *Bridge) Stop() {
	if br.subID != "" {
		br.bus.Unsubscribe(br.subID)
		br.subID = ""
	}
	if br.client != nil {
		br.client.Close()
		br.client = nil
	}
	br.server.Shutdown()
}
