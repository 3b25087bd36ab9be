package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-mbus/internal/auth"
	"github.com/nerrad567/gray-logic-mbus/internal/bridges/mbus"
	"github.com/nerrad567/gray-logic-mbus/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-mbus/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-mbus/internal/resource"
)

// fakeClient registers a connectionless client subscribed to channels.
func fakeClient(hub *Hub, userID string, role auth.Role, channels ...string) *WSClient {
	c := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
		userID:        userID,
		role:          role,
	}
	for _, ch := range channels {
		c.subscriptions[ch] = struct{}{}
	}
	hub.Register(c)
	return c
}

func received(c *WSClient) []WSMessage {
	var out []WSMessage
	for {
		select {
		case data := <-c.send:
			var msg WSMessage
			if err := json.Unmarshal(data, &msg); err == nil {
				out = append(out, msg)
			}
		default:
			return out
		}
	}
}

func TestHubNotify_Visibility(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, logging.Discard())
	channel := ResourceChannel(mbus.ResourceType)

	owner := fakeClient(hub, "usr-alice", auth.RoleUser, channel)
	admin := fakeClient(hub, "usr-root", auth.RoleAdmin, channel)
	other := fakeClient(hub, "usr-bob", auth.RoleUser, channel)
	unsubscribed := fakeClient(hub, "usr-alice", auth.RoleUser)
	wrongChannel := fakeClient(hub, "usr-alice", auth.RoleUser, ResourceChannel("OTHER"))

	hub.Notify(resource.Event{
		Kind:         resource.EventCreated,
		ResourceType: mbus.ResourceType,
		ResourceID:   "scan-1",
		OwnerID:      "usr-alice",
		Status:       resource.StatusRunning,
		Snapshot:     map[string]string{"id": "scan-1"},
	})

	for name, c := range map[string]*WSClient{"owner": owner, "admin": admin} {
		msgs := received(c)
		if len(msgs) != 1 {
			t.Fatalf("%s received %d messages, want 1", name, len(msgs))
		}
		if msgs[0].Type != WSTypeEvent || msgs[0].EventType != channel {
			t.Errorf("%s message = %+v", name, msgs[0])
		}
		payload, _ := msgs[0].Payload.(map[string]any)
		if payload["action"] != string(resource.EventCreated) {
			t.Errorf("%s payload = %v", name, msgs[0].Payload)
		}
	}
	for name, c := range map[string]*WSClient{"other": other, "unsubscribed": unsubscribed, "wrong channel": wrongChannel} {
		if msgs := received(c); len(msgs) != 0 {
			t.Errorf("%s received %d messages, want 0", name, len(msgs))
		}
	}
}

func TestHub_UnregisterClosesOnce(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, logging.Discard())
	c := fakeClient(hub, "usr-alice", auth.RoleUser)

	hub.Unregister(c)
	hub.Unregister(c)

	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount = %d", hub.ClientCount())
	}
	if _, ok := <-c.send; ok {
		t.Error("send channel still open")
	}
	// Sending after close is absorbed.
	c.trySend([]byte("late"))
}

func TestWSClient_SubscribeMessages(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, logging.Discard())
	c := fakeClient(hub, "usr-alice", auth.RoleUser)
	channel := ResourceChannel(mbus.ResourceType)

	c.handleMessage([]byte(`{"type":"subscribe","id":"1","payload":{"channels":["` + channel + `"]}}`))
	if !c.isSubscribed(channel) {
		t.Fatal("not subscribed after subscribe message")
	}
	c.handleMessage([]byte(`{"type":"ping","id":"2"}`))
	c.handleMessage([]byte(`{"type":"unsubscribe","id":"3","payload":{"channels":["` + channel + `"]}}`))
	if c.isSubscribed(channel) {
		t.Error("still subscribed after unsubscribe message")
	}
	c.handleMessage([]byte(`{"type":"shout"}`))
	c.handleMessage([]byte(`not json`))

	var types []string
	for _, m := range received(c) {
		types = append(types, m.Type)
	}
	want := []string{WSTypeResponse, WSTypePong, WSTypeResponse, WSTypeError, WSTypeError}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Errorf("reply types = %v, want %v", types, want)
	}
}

func TestWebSocket_ScanEventsEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.handler)
	t.Cleanup(ts.Close)

	rec := env.do(t, http.MethodPost, "/api/v1/auth/ws-ticket", "alice", "")
	wantStatus(t, rec, http.StatusOK)
	ticket := decodeBody[struct {
		Ticket string `json:"ticket"`
	}](t, rec).Ticket

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws?ticket=" + ticket
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	//nolint:errcheck // test deadline
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	channel := ResourceChannel(mbus.ResourceType)
	if err := conn.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: []string{channel}},
	}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	var ack WSMessage
	if err := conn.ReadJSON(&ack); err != nil || ack.Type != WSTypeResponse || ack.ID != "sub-1" {
		t.Fatalf("subscribe ack = %+v, err %v", ack, err)
	}

	snap := env.createScan(t, "alice")

	for {
		var msg struct {
			Type      string `json:"type"`
			EventType string `json:"event_type"`
			Payload   struct {
				Action   resource.EventKind `json:"action"`
				Resource scanSnapshot       `json:"resource"`
			} `json:"payload"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("no created event: %v", err)
		}
		if msg.EventType != channel {
			t.Fatalf("event on channel %q", msg.EventType)
		}
		if msg.Payload.Action == resource.EventCreated {
			if msg.Payload.Resource.ID != snap.ID || msg.Payload.Resource.OwnerID != env.ids["alice"] {
				t.Errorf("resource = %+v", msg.Payload.Resource)
			}
			return
		}
	}
}
