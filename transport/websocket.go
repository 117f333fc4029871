package transport

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/room4-2/livebridge/messages"

	"github.com/gorilla/websocket"
)

const (
	defaultReadLimit    = 512 * 1024 // 512KB max message
	defaultWriteTimeout = 10 * time.Second
)

// Options tunes a client connection
type Options struct {
	ReadLimit    int64
	KeepAlive    time.Duration // ping period; zero disables pings and read deadlines
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

// WebSocket adapts a gorilla connection to the bridge: text frames carry JSON
// messages and binary frames carry raw PCM audio. One goroutine may read and
// one may write at a time; Close is safe from anywhere.
type WebSocket struct {
	conn *websocket.Conn
	opts Options

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// New wraps conn and starts the keepalive loop
func New(conn *websocket.Conn, opts Options) *WebSocket {
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = defaultReadLimit
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ws := &WebSocket{
		conn: conn,
		opts: opts,
		done: make(chan struct{}),
	}

	conn.SetReadLimit(opts.ReadLimit)
	if opts.KeepAlive > 0 {
		// A client that misses two pings is gone
		readTimeout := 2 * opts.KeepAlive
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(readTimeout))
		})
		go ws.keepAlive()
	}
	return ws
}

// ReadMessage returns the next client message. Malformed JSON yields a
// *messages.ParseError and the connection stays usable.
func (ws *WebSocket) ReadMessage() (messages.ClientMessage, error) {
	for {
		messageType, data, err := ws.conn.ReadMessage()
		if err != nil {
			return nil, err
		}

		switch messageType {
		case websocket.BinaryMessage:
			if len(data) == 0 {
				continue
			}
			return messages.AudioChunk{PCM: data}, nil
		case websocket.TextMessage:
			return messages.ParseClientMessage(data)
		}
	}
}

// WriteMessage sends msg as a JSON text frame
func (ws *WebSocket) WriteMessage(msg *messages.ServerMessage) error {
	data, err := messages.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", msg.Type, err)
	}

	_ = ws.conn.SetWriteDeadline(time.Now().Add(ws.opts.WriteTimeout))
	return ws.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame and closes the connection. Safe to call more than once.
func (ws *WebSocket) Close() error {
	ws.closeOnce.Do(func() {
		close(ws.done)
		_ = ws.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(ws.opts.WriteTimeout),
		)
		ws.closeErr = ws.conn.Close()
	})
	return ws.closeErr
}

func (ws *WebSocket) keepAlive() {
	ticker := time.NewTicker(ws.opts.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ws.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(ws.opts.WriteTimeout)
			if err := ws.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				ws.opts.Logger.Debug("keepalive ping failed", "error", err)
				return
			}
		}
	}
}

// IsNormalClose reports whether err is the peer closing the connection politely
func IsNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}
