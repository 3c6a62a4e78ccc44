package trade

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestWSHubBroadcast(t *testing.T) {
	hub := NewWSHub()
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn := dialHub(t, srv)
	defer conn.Close()

	received := make(chan WSMessage, 1)
	go func() {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg WSMessage
			if json.Unmarshal(data, &msg) == nil && msg.Type == "order_committed" {
				received <- msg
				return
			}
		}
	}()

	// Registration runs through the hub loop; keep broadcasting until the
	// message comes back or the deadline passes.
	for i := 0; i < 50; i++ {
		hub.Broadcast(WSMessage{
			Type:     "order_committed",
			MarketID: "m1",
			PriceYes: "0.54",
			PriceNo:  "0.46",
		})
		select {
		case msg := <-received:
			if msg.MarketID != "m1" || msg.PriceYes != "0.54" {
				t.Errorf("unexpected message: %+v", msg)
			}
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
	t.Fatal("broadcast never reached the client")
}

func TestWSHubBroadcastAfterDisconnect(t *testing.T) {
	hub := NewWSHub()
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn := dialHub(t, srv)
	conn.Close()

	// Broadcasting to a closed client must evict it without blocking or
	// panicking, including while other clients' read pumps are running.
	other := dialHub(t, srv)
	defer other.Close()
	for i := 0; i < 10; i++ {
		hub.Broadcast(WSMessage{Type: "order_committed", MarketID: "m1"})
		time.Sleep(10 * time.Millisecond)
	}
}
