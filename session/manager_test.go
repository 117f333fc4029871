package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/room4-2/livebridge/config"
	"github.com/room4-2/livebridge/messages"

	"github.com/google/uuid"
)

func testManager(maxSessions int, timeout time.Duration) *Manager {
	cfg := &config.Config{MaxSessions: maxSessions, SessionTimeout: timeout}
	return NewManager(cfg, &fakeDialer{upstream: newFakeUpstream()}, testBridgeOptions())
}

func TestManagerCreateSession(t *testing.T) {
	m := testManager(2, time.Minute)

	b, err := m.CreateSession(context.Background(), newFakeTransport())
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if _, err := uuid.Parse(b.ID); err != nil {
		t.Fatalf("session ID %q is not a uuid: %v", b.ID, err)
	}
	if got, ok := m.GetSession(b.ID); !ok || got != b {
		t.Fatalf("GetSession(%s) = %v, %v", b.ID, got, ok)
	}
	if b.State() != StateIdle {
		t.Fatalf("new session state = %s, want idle", b.State())
	}
	if m.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", m.Count())
	}
}

func TestManagerMaxSessions(t *testing.T) {
	m := testManager(1, time.Minute)

	if _, err := m.CreateSession(context.Background(), newFakeTransport()); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if _, err := m.CreateSession(context.Background(), newFakeTransport()); !errors.Is(err, ErrMaxSessions) {
		t.Fatalf("CreateSession() over limit error = %v, want ErrMaxSessions", err)
	}
}

func TestManagerRemoveSessionStopsBridge(t *testing.T) {
	m := testManager(4, time.Minute)
	tr := newFakeTransport()
	b, _ := m.CreateSession(context.Background(), tr)
	errCh := runBridge(t, b)

	tr.send(messages.Start{Voice: "Kore"})
	waitFor(t, "active", func() bool { return b.State() == StateActive })

	m.RemoveSession(context.Background(), b.ID)
	m.RemoveSession(context.Background(), b.ID)

	if err := waitRun(t, errCh); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if m.Count() != 0 {
		t.Fatalf("Count() = %d, want 0", m.Count())
	}
}

func TestManagerCleanupInactiveSessions(t *testing.T) {
	m := testManager(4, 200*time.Millisecond)
	stale, _ := m.CreateSession(context.Background(), newFakeTransport())
	time.Sleep(300 * time.Millisecond)
	fresh, _ := m.CreateSession(context.Background(), newFakeTransport())

	if n := m.CleanupInactiveSessions(context.Background()); n != 1 {
		t.Fatalf("CleanupInactiveSessions() = %d, want 1", n)
	}
	if _, ok := m.GetSession(stale.ID); ok {
		t.Fatalf("inactive session still registered")
	}
	if _, ok := m.GetSession(fresh.ID); !ok {
		t.Fatalf("fresh session was removed")
	}
}

func TestManagerShutdown(t *testing.T) {
	m := testManager(4, time.Minute)

	var runs []<-chan error
	for i := 0; i < 3; i++ {
		b, err := m.CreateSession(context.Background(), newFakeTransport())
		if err != nil {
			t.Fatalf("CreateSession() error = %v", err)
		}
		runs = append(runs, runBridge(t, b))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	m.Shutdown(ctx)

	if ctx.Err() != nil {
		t.Fatalf("Shutdown() waited until the deadline")
	}
	for _, errCh := range runs {
		if err := waitRun(t, errCh); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	}
	if m.Count() != 0 {
		t.Fatalf("Count() = %d after Shutdown, want 0", m.Count())
	}
}

func TestManagerRunsWithoutRedis(t *testing.T) {
	cases := []struct {
		name, url string
	}{
		{name: "disabled", url: ""},
		{name: "unreachable", url: "127.0.0.1:1"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &config.Config{MaxSessions: 2, SessionTimeout: time.Minute, RedisURL: tc.url}
			m := NewManager(cfg, &fakeDialer{upstream: newFakeUpstream()}, testBridgeOptions())
			if m.redis != nil {
				t.Fatalf("redis client kept for %q, want in-memory only", tc.url)
			}

			tr := newFakeTransport()
			b, err := m.CreateSession(context.Background(), tr)
			if err != nil {
				t.Fatalf("CreateSession() error = %v", err)
			}
			errCh := runBridge(t, b)
			tr.send(messages.Start{Voice: "Kore"})
			waitFor(t, "active", func() bool { return b.State() == StateActive })

			m.RemoveSession(context.Background(), b.ID)
			if err := waitRun(t, errCh); err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if m.Count() != 0 {
				t.Fatalf("Count() = %d, want 0", m.Count())
			}
		})
	}
}
