package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/room4-2/livebridge/audio"
	"github.com/room4-2/livebridge/config"
	"github.com/room4-2/livebridge/gemini"
	"github.com/room4-2/livebridge/messages"
	"github.com/room4-2/livebridge/observability"
	"github.com/room4-2/livebridge/session"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
)

type stubUpstream struct {
	events chan gemini.Event

	mu     sync.Mutex
	frames int
	closed chan struct{}
	once   sync.Once
}

func (u *stubUpstream) SendAudio(context.Context, audio.Frame) error {
	u.mu.Lock()
	u.frames++
	u.mu.Unlock()
	return nil
}

func (u *stubUpstream) SendControl(context.Context, gemini.Control) error { return nil }

func (u *stubUpstream) SendToolResponse(context.Context, []gemini.ToolResponse) error { return nil }

func (u *stubUpstream) NextEvent(ctx context.Context) (gemini.Event, error) {
	select {
	case ev := <-u.events:
		return ev, nil
	case <-u.closed:
		return gemini.Event{}, gemini.ErrSessionClosed
	case <-ctx.Done():
		return gemini.Event{}, ctx.Err()
	}
}

func (u *stubUpstream) Close() error {
	u.once.Do(func() { close(u.closed) })
	return nil
}

func (u *stubUpstream) frameCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.frames
}

type stubDialer struct {
	upstream *stubUpstream
}

func (d stubDialer) Open(context.Context, gemini.Config) (session.Upstream, error) {
	return d.upstream, nil
}

func newTestServer(t *testing.T, maxSessions int) (*Server, *stubUpstream, *httptest.Server) {
	t.Helper()
	cfg := &config.Config{
		Host:           "127.0.0.1",
		Port:           8080,
		MaxSessions:    maxSessions,
		SessionTimeout: time.Minute,
		AllowedOrigins: []string{"*"},
	}
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics("livebridge", reg)

	up := &stubUpstream{events: make(chan gemini.Event, 8), closed: make(chan struct{})}
	mgr := session.NewManager(cfg, stubDialer{upstream: up}, session.Options{
		Base:         gemini.DefaultConfig(),
		DrainTimeout: 200 * time.Millisecond,
		Metrics:      metrics,
	})

	s := NewServerWebsocket(cfg, mgr, reg, nil)
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return s, up, ts
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readServerMessage(t *testing.T, conn *websocket.Conn) messages.ServerMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	var msg messages.ServerMessage
	if err := sonic.Unmarshal(data, &msg); err != nil {
		t.Fatalf("bad server message %s: %v", data, err)
	}
	return msg
}

func TestHealth(t *testing.T) {
	_, _, ts := newTestServer(t, 4)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if got := strings.TrimSpace(string(body)); got != `{"sessions":0,"status":"ok"}` && got != `{"status":"ok","sessions":0}` {
		t.Fatalf("body = %s", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, _, ts := newTestServer(t, 4)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "livebridge_active_sessions") {
		t.Fatalf("metrics output missing livebridge_active_sessions:\n%s", body)
	}
}

func TestWebSocketSessionRoundTrip(t *testing.T) {
	s, up, ts := newTestServer(t, 4)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"start","voice":"Kore"}`))
	if msg := readServerMessage(t, conn); msg.Type != messages.TypeConnected || msg.Voice != "Kore" {
		t.Fatalf("first message = %+v, want connected Kore", msg)
	}

	_ = conn.WriteMessage(websocket.BinaryMessage, []byte{1, 0, 2, 0})
	waitFor(t, "binary frame upstream", func() bool { return up.frameCount() == 1 })

	up.events <- gemini.Event{Kind: gemini.EventAudio, Turn: 1, Audio: audio.NewFrame([]byte{9, 9}, audio.OutputSampleRate, audio.Mono)}
	msg := readServerMessage(t, conn)
	if msg.Type != messages.TypeAudioResponse || msg.Data != "CQk=" {
		t.Fatalf("message = %+v, want audio_response CQk=", msg)
	}

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	waitFor(t, "session removal", func() bool { return s.sessionManager.Count() == 0 })
}

func TestWebSocketRejectsOverCapacity(t *testing.T) {
	s, _, ts := newTestServer(t, 1)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	first, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer first.Close()
	waitFor(t, "first session", func() bool { return s.sessionManager.Count() == 1 })

	second, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("second Dial() error = %v", err)
	}
	defer second.Close()

	msg := readServerMessage(t, second)
	if msg.Type != messages.TypeError || msg.Code != messages.ErrCodeRateLimited {
		t.Fatalf("message = %+v, want RATE_LIMITED error", msg)
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://app.example.com"})
	cases := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://app.example.com", true},
		{"https://evil.example.com", false},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if tc.origin != "" {
			r.Header.Set("Origin", tc.origin)
		}
		if got := check(r); got != tc.want {
			t.Fatalf("origin %q allowed = %v, want %v", tc.origin, got, tc.want)
		}
	}

	if !originChecker([]string{"*"})(httptest.NewRequest(http.MethodGet, "/ws", nil)) {
		t.Fatalf("wildcard rejected a request")
	}
}
