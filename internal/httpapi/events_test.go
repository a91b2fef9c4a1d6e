package httpapi

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"tilestream/internal/tileservice"
	"tilestream/pkg/types"
)

func TestEventHub_BroadcastsToWebsocketClients(t *testing.T) {
	hub := NewHub()
	defer hub.Close()
	SetEventHub(hub)
	defer SetEventHub(nil)
	srv := httptest.NewServer(NewMux(newMock()))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil { t.Fatalf("dial: %v", err) }
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == 0 {
		if time.Now().After(deadline) { t.Fatalf("client never registered") }
		time.Sleep(10 * time.Millisecond)
	}
	hub.Publish(tileservice.Event{Name: tileservice.EventIngestDone, ImageID: "img", Fields: map[string]any{"tiles": 85}})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil { t.Fatalf("read: %v", err) }
	var msg types.EventMessage
	if err := json.Unmarshal(data, &msg); err != nil { t.Fatalf("json: %v", err) }
	if msg.Name != "ingest_done" || msg.ImageID != "img" || msg.Fields["tiles"] != float64(85) {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestEventHub_SlowClientDropsInsteadOfBlocking(t *testing.T) {
	hub := NewHub()
	c := &eventClient{send: make(chan []byte, 1)}
	hub.clients[c] = struct{}{}
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			hub.Publish(tileservice.Event{Name: "x"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Publish blocked on a full client")
	}
	if len(c.send) != 1 { t.Fatalf("buffered=%d", len(c.send)) }
}

func TestEventHub_NotMountedWithoutHub(t *testing.T) {
	SetEventHub(nil)
	w := httptest.NewRecorder()
	NewMux(newMock()).ServeHTTP(w, httptest.NewRequest("GET", "/events", nil))
	if w.Code != 404 { t.Fatalf("status=%d", w.Code) }
}
