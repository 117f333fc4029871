package transport

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/room4-2/livebridge/messages"

	"github.com/gorilla/websocket"
)

// dial starts a server that wraps its side of the connection and returns both ends
func dial(t *testing.T, opts Options) (*WebSocket, *websocket.Conn) {
	t.Helper()

	serverSide := make(chan *WebSocket, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade() error = %v", err)
			return
		}
		serverSide <- New(conn, opts)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	select {
	case ws := <-serverSide:
		t.Cleanup(func() { _ = ws.Close() })
		return ws, client
	case <-time.After(2 * time.Second):
		t.Fatalf("server never accepted the connection")
		return nil, nil
	}
}

func TestWebSocketReadMessage(t *testing.T) {
	ws, client := dial(t, Options{})

	_ = client.WriteMessage(websocket.TextMessage, []byte(`{"type":"start","voice":"Kore"}`))
	_ = client.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3, 4})
	_ = client.WriteMessage(websocket.TextMessage, []byte(`{"type":`))
	_ = client.WriteMessage(websocket.TextMessage, []byte(`{"type":"stop"}`))

	msg, err := ws.ReadMessage()
	if start, ok := msg.(messages.Start); err != nil || !ok || start.Voice != "Kore" {
		t.Fatalf("ReadMessage() = %#v, %v; want start Kore", msg, err)
	}

	msg, err = ws.ReadMessage()
	if chunk, ok := msg.(messages.AudioChunk); err != nil || !ok || len(chunk.PCM) != 4 {
		t.Fatalf("ReadMessage() = %#v, %v; want binary audio chunk", msg, err)
	}

	_, err = ws.ReadMessage()
	var parseErr *messages.ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("ReadMessage() error = %v, want ParseError", err)
	}

	msg, err = ws.ReadMessage()
	if _, ok := msg.(messages.Stop); err != nil || !ok {
		t.Fatalf("ReadMessage() after bad frame = %#v, %v; want stop", msg, err)
	}
}

func TestWebSocketWriteAndClose(t *testing.T) {
	ws, client := dial(t, Options{WriteTimeout: time.Second})

	if err := ws.WriteMessage(messages.NewConnectedMessage("Kore")); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	messageType, data, err := client.ReadMessage()
	if err != nil || messageType != websocket.TextMessage {
		t.Fatalf("client ReadMessage() = %d, %v", messageType, err)
	}
	if !strings.Contains(string(data), `"type":"connected"`) || !strings.Contains(string(data), `"voice":"Kore"`) {
		t.Fatalf("client got %s", data)
	}

	if err := ws.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	_ = ws.Close()

	_, _, err = client.ReadMessage()
	if !IsNormalClose(err) {
		t.Fatalf("client ReadMessage() after Close error = %v, want normal close", err)
	}
	if _, err := ws.ReadMessage(); err == nil {
		t.Fatalf("ReadMessage() after Close error = nil")
	}
}

func TestWebSocketKeepAlivePings(t *testing.T) {
	_, client := dial(t, Options{KeepAlive: 20 * time.Millisecond, WriteTimeout: time.Second})

	pinged := make(chan struct{}, 1)
	client.SetPingHandler(func(string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return nil
	})
	// Control frames are only processed while reading
	go func() {
		for {
			if _, _, err := client.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatalf("no keepalive ping received")
	}
}
