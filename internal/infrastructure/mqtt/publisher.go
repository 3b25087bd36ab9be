package mqtt

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-mbus/internal/resource"
)

// DefaultPublishBuffer is the event queue length used when a non-positive
// buffer is passed to NewResourcePublisher.
const DefaultPublishBuffer = 256

// Publisher is the part of Client that ResourcePublisher needs.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// ResourceMessage is the JSON body published for each resource event.
type ResourceMessage struct {
	Event        resource.EventKind `json:"event"`
	ResourceType string             `json:"resource_type"`
	ResourceID   string             `json:"resource_id"`
	OwnerID      string             `json:"owner_id"`
	Status       resource.Status    `json:"status"`
	Timestamp    time.Time          `json:"timestamp"`
	Resource     any                `json:"resource"`
}

type outgoing struct {
	topic   string
	payload []byte
}

// ResourcePublisher is a resource.Notifier that publishes every event to
// Topics.ResourceEvent. Notify marshals and enqueues; a single goroutine
// publishes in enqueue order. When the queue is full the event is dropped
// and counted.
type ResourcePublisher struct {
	pub    Publisher
	qos    byte
	logger Logger

	mu     sync.RWMutex
	closed bool
	queue  chan outgoing
	done   chan struct{}

	dropped atomic.Uint64
	sent    atomic.Uint64
}

// NewResourcePublisher starts the publishing goroutine. Call Close to
// flush and stop it.
func NewResourcePublisher(pub Publisher, qos byte, buffer int) *ResourcePublisher {
	if buffer <= 0 {
		buffer = DefaultPublishBuffer
	}
	p := &ResourcePublisher{
		pub:    pub,
		qos:    qos,
		logger: noopLogger{},
		queue:  make(chan outgoing, buffer),
		done:   make(chan struct{}),
	}
	go p.loop()
	return p
}

// SetLogger sets the logger for dropped events and publish failures.
func (p *ResourcePublisher) SetLogger(logger Logger) {
	if logger == nil {
		return
	}
	p.mu.Lock()
	p.logger = logger
	p.mu.Unlock()
}

func (p *ResourcePublisher) getLogger() Logger {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.logger
}

// Notify implements resource.Notifier. It never blocks.
func (p *ResourcePublisher) Notify(e resource.Event) {
	payload, err := json.Marshal(ResourceMessage{
		Event:        e.Kind,
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
		OwnerID:      e.OwnerID,
		Status:       e.Status,
		Timestamp:    time.Now().UTC(),
		Resource:     e.Snapshot,
	})
	if err != nil {
		p.getLogger().Error("marshalling resource event failed", "resource_id", e.ResourceID, "error", err)
		return
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}

	select {
	case p.queue <- outgoing{topic: Topics{}.ResourceEvent(e.ResourceType, e.ResourceID), payload: payload}:
	default:
		p.dropped.Add(1)
		p.logger.Warn("resource event queue full, dropping event",
			"resource_id", e.ResourceID,
			"event", string(e.Kind),
		)
	}
}

func (p *ResourcePublisher) loop() {
	defer close(p.done)
	for msg := range p.queue {
		if err := p.pub.Publish(msg.topic, msg.payload, p.qos, false); err != nil {
			p.getLogger().Warn("publishing resource event failed", "topic", msg.topic, "error", err)
			continue
		}
		p.sent.Add(1)
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (p *ResourcePublisher) Dropped() uint64 {
	return p.dropped.Load()
}

// Sent returns how many events were published successfully.
func (p *ResourcePublisher) Sent() uint64 {
	return p.sent.Load()
}

// Close stops accepting events, publishes what is queued and returns once
// the goroutine has exited. Safe to call more than once.
func (p *ResourcePublisher) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	<-p.done
}
