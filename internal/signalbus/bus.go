// Package signalbus implements the outbound-only, best-effort signal bus
// described in spec §6: "Emit (topic, type, payload)". Delivery never blocks
// the caller — a slow or absent subscriber drops signals rather than stalling
// the Manager. Grounded on the teacher's in-process broadcast idiom
// (channel-per-subscriber fan-out) generalized to topic-scoped subscriptions,
// with an optional bridge onto a real NATS connection for cross-process
// fan-out (github.com/nats-io/nats.go), used directly rather than through any
// bespoke client wrapper.
package signalbus

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/nats-io/nats.go"
)

// Topic is one of the two outbound topics spec §6 names.
type Topic string

const (
	TopicTrust Topic = "trust"
	TopicAgent Topic = "agent"
)

// Signal is one emitted message: (topic, type, payload).
type Signal struct {
	Topic   Topic                  `json:"topic"`
	Type    string                 `json:"type"`
	Payload map[string]interface{} `json:"payload"`
}

// subscriberBufferSize bounds the per-subscriber channel; a full channel
// means the subscriber is too slow and further signals to it are dropped
// rather than blocking the publisher (spec §5: "strictly best-effort").
const subscriberBufferSize = 256

// Bus is an in-process publish/subscribe hub. The zero value is not usable;
// use New.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Topic]map[int]chan Signal
	nextID      int

	logger *log.Logger

	nc           *nats.Conn
	natsSubjectFn func(Signal) string
}

// Option configures a Bus at construction time.
type Option func(*Bus)

// WithLogger overrides the default stderr logger.
func WithLogger(l *log.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// WithNATSBridge mirrors every published signal onto a NATS connection under
// subject "arbor.<topic>.<type>" (or whatever subjectFn returns), best-effort.
// A nil conn disables the bridge.
func WithNATSBridge(nc *nats.Conn, subjectFn func(Signal) string) Option {
	return func(b *Bus) {
		b.nc = nc
		if subjectFn == nil {
			subjectFn = func(s Signal) string { return "arbor." + string(s.Topic) + "." + s.Type }
		}
		b.natsSubjectFn = subjectFn
	}
}

// New builds a Bus with no subscribers and no NATS bridge by default.
func New(opts ...Option) *Bus {
	b := &Bus{
		subscribers: make(map[Topic]map[int]chan Signal),
		logger:      log.New(log.Writer(), "[SIGNAL-BUS] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a new subscriber on a topic and returns the channel to
// read signals from plus an Unsubscribe func. The channel is closed by
// Unsubscribe; callers must not close it themselves.
func (b *Bus) Subscribe(topic Topic) (<-chan Signal, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Signal, subscriberBufferSize)
	id := b.nextID
	b.nextID++
	if b.subscribers[topic] == nil {
		b.subscribers[topic] = make(map[int]chan Signal)
	}
	b.subscribers[topic][id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if m, ok := b.subscribers[topic]; ok {
			if c, ok := m[id]; ok {
				delete(m, id)
				close(c)
			}
		}
	}
	return ch, unsubscribe
}

// Publish emits a signal to every subscriber on its topic, plus the NATS
// bridge if configured. Never blocks: a full subscriber channel drops the
// signal and logs a warning instead of stalling the publisher.
func (b *Bus) Publish(topic Topic, eventType string, payload map[string]interface{}) {
	sig := Signal{Topic: topic, Type: eventType, Payload: payload}

	b.mu.RLock()
	subs := b.subscribers[topic]
	chans := make([]chan Signal, 0, len(subs))
	for _, ch := range subs {
		chans = append(chans, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chans {
		select {
		case ch <- sig:
		default:
			b.logger.Printf("dropped signal: topic=%s type=%s (subscriber buffer full)", topic, eventType)
		}
	}

	b.publishNATS(sig)
}

func (b *Bus) publishNATS(sig Signal) {
	if b.nc == nil {
		return
	}
	data, err := json.Marshal(sig)
	if err != nil {
		b.logger.Printf("nats bridge: marshal failed: %v", err)
		return
	}
	subject := b.natsSubjectFn(sig)
	if err := b.nc.Publish(subject, data); err != nil {
		b.logger.Printf("nats bridge: publish to %s failed: %v", subject, err)
	}
}

// Close unsubscribes everyone and drains the bus. It does not close the NATS
// connection, which the caller owns.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, subs := range b.subscribers {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
		}
		delete(b.subscribers, topic)
	}
}
