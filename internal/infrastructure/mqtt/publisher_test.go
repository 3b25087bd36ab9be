package mqtt

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/nerrad567/gray-logic-mbus/internal/resource"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type memPublisher struct {
	mu    sync.Mutex
	msgs  []published
	err   error
	block chan struct{}
}

func (p *memPublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{topic: topic, qos: qos, retained: retained, payload: payload})
	return nil
}

func (p *memPublisher) all() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.msgs...)
}

func event(kind resource.EventKind, id string, status resource.Status) resource.Event {
	return resource.Event{
		Kind:         kind,
		ResourceType: "MBUS",
		ResourceID:   id,
		OwnerID:      "usr-1",
		Status:       status,
		CreatedAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Snapshot:     map[string]string{"id": id},
	}
}

func TestResourcePublisher_PublishesInOrder(t *testing.T) {
	mem := &memPublisher{}
	pub := NewResourcePublisher(mem, 1, 8)

	pub.Notify(event(resource.EventCreated, "r1", resource.StatusRunning))
	pub.Notify(event(resource.EventProgress, "r1", resource.StatusRunning))
	pub.Notify(event(resource.EventFinished, "r1", resource.StatusSuccess))
	pub.Close()

	msgs := mem.all()
	if len(msgs) != 3 {
		t.Fatalf("published %d, want 3", len(msgs))
	}
	wantKinds := []resource.EventKind{resource.EventCreated, resource.EventProgress, resource.EventFinished}
	for i, m := range msgs {
		if m.topic != "graylogic/core/resource/MBUS/r1" || m.qos != 1 || m.retained {
			t.Errorf("msg[%d] = %+v", i, m)
		}
		var body ResourceMessage
		if err := json.Unmarshal(m.payload, &body); err != nil {
			t.Fatalf("msg[%d] payload: %v", i, err)
		}
		if body.Event != wantKinds[i] || body.ResourceID != "r1" || body.OwnerID != "usr-1" {
			t.Errorf("msg[%d] body = %+v", i, body)
		}
	}
	if pub.Sent() != 3 || pub.Dropped() != 0 {
		t.Errorf("sent=%d dropped=%d", pub.Sent(), pub.Dropped())
	}
}

func TestResourcePublisher_DropsWhenFull(t *testing.T) {
	mem := &memPublisher{block: make(chan struct{})}
	pub := NewResourcePublisher(mem, 0, 1)
	logs := &logRecorder{}
	pub.SetLogger(logs)

	// One in flight (blocked), one queued, the rest dropped.
	for i := 0; i < 5; i++ {
		pub.Notify(event(resource.EventProgress, "r1", resource.StatusRunning))
		time.Sleep(time.Millisecond)
	}

	if pub.Dropped() == 0 {
		t.Error("Dropped() = 0, want some events dropped")
	}
	if _, warns := logs.counts(); warns == 0 {
		t.Error("no warning logged for dropped events")
	}

	close(mem.block)
	pub.Close()

	if got := pub.Sent() + pub.Dropped(); got != 5 {
		t.Errorf("sent+dropped = %d, want 5", got)
	}
}

func TestResourcePublisher_PublishErrorLogged(t *testing.T) {
	mem := &memPublisher{err: errors.New("mqtt: client not connected")}
	pub := NewResourcePublisher(mem, 1, 4)
	logs := &logRecorder{}
	pub.SetLogger(logs)

	pub.Notify(event(resource.EventCreated, "r1", resource.StatusRunning))
	pub.Close()

	if _, warns := logs.counts(); warns != 1 {
		t.Errorf("warnings = %d, want 1", warns)
	}
	if pub.Sent() != 0 {
		t.Errorf("Sent() = %d, want 0", pub.Sent())
	}
}

func TestResourcePublisher_NotifyAfterClose(t *testing.T) {
	mem := &memPublisher{}
	pub := NewResourcePublisher(mem, 1, 4)
	pub.Close()
	pub.Close()

	pub.Notify(event(resource.EventCreated, "r1", resource.StatusRunning))
	if len(mem.all()) != 0 {
		t.Error("event published after Close")
	}
}

func TestResourcePublisher_WithClient(t *testing.T) {
	client, fp := newFakeClient()
	pub := NewResourcePublisher(client, client.QoS(), 4)

	pub.Notify(event(resource.EventRemoved, "r9", resource.StatusCancelled))
	pub.Close()

	sent := fp.sent()
	if len(sent) != 1 || sent[0].topic != "graylogic/core/resource/MBUS/r9" {
		t.Errorf("sent = %+v", sent)
	}
}
