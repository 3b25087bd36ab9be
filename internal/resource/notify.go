package resource

import "time"

// EventKind says what happened to a resource.
type EventKind string

const (
	EventCreated  EventKind = "created"
	EventProgress EventKind = "progress"
	EventFinished EventKind = "finished"
	EventRemoved  EventKind = "removed"
)

// Event describes one state change. Snapshot holds the Snapshot[R] value
// taken at the moment of the change and is safe to marshal. CompletedAt is
// zero while the resource is RUNNING.
type Event struct {
	Kind         EventKind
	ResourceType string
	ResourceID   string
	OwnerID      string
	Status       Status
	CreatedAt    time.Time
	CompletedAt  time.Time
	Snapshot     any
}

// Notifier receives resource events.
//
// Notify is called while the resource is locked so that events for one
// resource arrive in mutation order. Implementations must not block, must
// not fail, and must not call back into the resource.
type Notifier interface {
	Notify(event Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Event)

// Notify calls f.
func (f NotifierFunc) Notify(e Event) { f(e) }

// NopNotifier drops every event.
type NopNotifier struct{}

// Notify does nothing.
func (NopNotifier) Notify(Event) {}

// MultiNotifier fans an event out to each notifier in order.
type MultiNotifier []Notifier

// Notify forwards e to every non-nil notifier.
func (m MultiNotifier) Notify(e Event) {
	for _, n := range m {
		if n != nil {
			n.Notify(e)
		}
	}
}
