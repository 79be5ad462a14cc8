package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"

	"github.com/xelth-com/dairysync/internal/events"
	"github.com/xelth-com/dairysync/internal/models"
)

func startHub(t *testing.T) (*Hub, *events.Bus, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	bus := events.NewBus()
	hub := NewHub()
	go hub.Run(ctx, bus.Subscribe(64))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, models.Principal{ID: "u1", Username: "meena"}, w, r)
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		bus.Close()
	})
	return hub, bus, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, hub *Hub, url string) *gorilla.Conn {
	t.Helper()
	before := hub.ClientCount()
	conn, _, err := gorilla.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() <= before {
		if time.Now().After(deadline) {
			t.Fatal("Client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func readEvent(t *testing.T, conn *gorilla.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	var msg map[string]interface{}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Invalid JSON %q: %v", data, err)
	}
	return msg
}

func TestHub_BroadcastsBusEvents(t *testing.T) {
	hub, bus, url := startHub(t)
	a := dial(t, hub, url)
	b := dial(t, hub, url)

	bus.Publish(events.DataChange("farmers", events.ActionCreated, map[string]string{"_id": "f1"}))

	for _, conn := range []*gorilla.Conn{a, b} {
		msg := readEvent(t, conn)
		if msg["type"] != events.TypeDataChange || msg["collection"] != "farmers" || msg["action"] != events.ActionCreated {
			t.Errorf("Unexpected event: %v", msg)
		}
	}
}

func TestHub_SubscribeFilters(t *testing.T) {
	hub, bus, url := startHub(t)
	conn := dial(t, hub, url)

	sub := ControlMessage{Type: MsgSubscribe, MsgID: "m1", Collections: []string{"milkData"}}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if ack := readEvent(t, conn); ack["type"] != "ACK" || ack["msgId"] != "m1" {
		t.Fatalf("Expected ACK, got %v", ack)
	}

	bus.Publish(events.DataChange("farmers", events.ActionCreated, nil))
	bus.Publish(events.DataSync("milkData", true))

	msg := readEvent(t, conn)
	if msg["type"] != events.TypeDataSync || msg["collection"] != "milkData" || msg["online"] != true {
		t.Errorf("Expected only the milkData event, got %v", msg)
	}
}

func TestHub_DisconnectUnregisters(t *testing.T) {
	hub, _, url := startHub(t)
	conn := dial(t, hub, url)
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("Client was not unregistered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
