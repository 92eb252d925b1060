package bus

import (
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maxclaw/internal/types"
)

// DefaultRequestTimeout bounds Request when the caller passes no timeout
const DefaultRequestTimeout = 30 * time.Second

// ErrTimeout is returned when a request sees no reply in time
var ErrTimeout = errors.New("request timed out")

// Handler receives a published message. A returned error is logged and
// does not stop delivery to later subscribers.
type Handler func(msg *Message) error

// subscription pairs a topic pattern with its handler; order of creation
// is delivery order.
type subscription struct {
	id      string
	pattern string
	handler Handler
}

// Bus is an in-process topic bus. Publish delivers synchronously to every
// matching subscriber in subscription order. Patterns split topics on ":";
// "*" matches exactly one segment and "#" matches any number of trailing
// or embedded segments, including none.
type Bus struct {
	mu      sync.Mutex
	subs    []*subscription
	pending map[string]chan *Message
	logger  *log.Logger
}

// New creates an empty bus
func New(logger *log.Logger) *Bus {
	if logger == nil {
		logger = log.Default()
	}
	return &Bus{
		pending: make(map[string]chan *Message),
		logger:  logger,
	}
}

// Subscribe registers a handler for a topic or pattern and returns the
// subscription id.
func (b *Bus) Subscribe(pattern string, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscription{
		id:      uuid.NewString(),
		pattern: pattern,
		handler: handler,
	}
	b.subs = append(b.subs, sub)
	return sub.id
}

// Unsubscribe removes a subscription by id. Unknown ids are ignored.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subs {
		if sub.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// SubscriptionCount reports how many subscriptions are registered
func (b *Bus) SubscriptionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Publish stamps the message with the topic and delivers it to every
// matching subscriber, in subscription order, on the caller's goroutine.
// A failing handler is logged and skipped over.
func (b *Bus) Publish(topic string, msg *Message) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	msg.Topic = topic

	b.mu.Lock()
	matched := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if MatchTopic(sub.pattern, topic) {
			matched = append(matched, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range matched {
		if err := sub.handler(msg); err != nil {
			b.logger.Printf("[BUS] handler for %s failed on %s: %v", sub.pattern, topic, err)
		}
	}

	// Replies route to the waiting request, if any is still registered.
	if cid, ok := strings.CutPrefix(topic, "reply:"); ok {
		b.mu.Lock()
		ch, waiting := b.pending[cid]
		if waiting {
			delete(b.pending, cid)
		}
		b.mu.Unlock()
		if waiting {
			ch <- msg
		}
	}
}

// Request publishes msg on topic and waits for the first reply published
// to reply:{correlationId}. On timeout the correlation entry is dropped so
// a late reply is discarded.
func (b *Bus) Request(topic string, msg *Message, timeout time.Duration) (*Message, error) {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	if msg.CorrelationID == "" {
		msg.CorrelationID = uuid.NewString()
	}

	ch := make(chan *Message, 1)
	b.mu.Lock()
	b.pending[msg.CorrelationID] = ch
	b.mu.Unlock()

	b.Publish(topic, msg)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case reply := <-ch:
		return reply, nil
	case <-timer.C:
		b.mu.Lock()
		delete(b.pending, msg.CorrelationID)
		b.mu.Unlock()
		return nil, types.NewTransient(ErrTimeout, "no reply on %s within %s", topic, timeout)
	}
}

// Reply publishes a response correlated to req. No-op when req carries no
// correlation id.
func (b *Bus) Reply(req *Message, sender string, payload interface{}) {
	if req.CorrelationID == "" {
		return
	}
	resp := NewMessage(MessageResponse, sender, payload)
	resp.Receiver = req.Sender
	resp.CorrelationID = req.CorrelationID
	b.Publish(ReplyTopic(req.CorrelationID), resp)
}

// MatchTopic reports whether a ":"-separated topic matches the pattern
func MatchTopic(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	return matchSegments(strings.Split(pattern, ":"), strings.Split(topic, ":"))
}

func matchSegments(pat, seg []string) bool {
	if len(pat) == 0 {
		return len(seg) == 0
	}
	switch pat[0] {
	case "#":
		if matchSegments(pat[1:], seg) {
			return true
		}
		if len(seg) == 0 {
			return false
		}
		return matchSegments(pat, seg[1:])
	case "*":
		return len(seg) > 0 && matchSegments(pat[1:], seg[1:])
	default:
		return len(seg) > 0 && pat[0] == seg[0] && matchSegments(pat[1:], seg[1:])
	}
}
