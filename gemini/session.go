package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/room4-2/livebridge/audio"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"
)

// liveConn is the part of *genai.Session a Session drives
type liveConn interface {
	SendRealtimeInput(input genai.LiveRealtimeInput) error
	SendClientContent(input genai.LiveClientContentInput) error
	SendToolResponse(input genai.LiveToolResponseInput) error
	Receive() (*genai.LiveServerMessage, error)
	Close() error
}

type outgoingKind int

const (
	outgoingAudio outgoingKind = iota
	outgoingControl
	outgoingToolResponse
)

type outgoing struct {
	kind      outgoingKind
	frame     audio.Frame
	control   Control
	responses []ToolResponse
}

// Session is one live conversation with Gemini.
// Writes go through a bounded queue drained by a single sender goroutine;
// server messages are read by a single receiver goroutine into an ordered stream.
type Session struct {
	live   liveConn
	cfg    Config
	logger *slog.Logger

	sendCh      chan outgoing
	sendTimeout time.Duration
	events      chan Event

	turn uint64 // owned by readLoop

	mu        sync.Mutex
	err       error // terminal error, reported by NextEvent after the stream ends
	closeCh   chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newSession(live liveConn, cfg Config, opts Options) *Session {
	opts = opts.withDefaults()
	s := &Session{
		live:        live,
		cfg:         cfg,
		logger:      opts.Logger,
		sendCh:      make(chan outgoing, opts.SendQueueSize),
		sendTimeout: opts.SendTimeout,
		events:      make(chan Event, opts.SendQueueSize),
		turn:        1,
		closeCh:     make(chan struct{}),
	}
	go s.sendLoop()
	go s.readLoop()
	return s
}

// Config returns the configuration the session was opened with
func (s *Session) Config() Config { return s.cfg }

// SendAudio queues a frame for Gemini. It waits at most the send timeout
// for room in the queue.
func (s *Session) SendAudio(ctx context.Context, frame audio.Frame) error {
	return s.enqueue(ctx, outgoing{kind: outgoingAudio, frame: frame})
}

// SendControl queues an end-of-turn or text signal behind any pending audio
func (s *Session) SendControl(ctx context.Context, control Control) error {
	return s.enqueue(ctx, outgoing{kind: outgoingControl, control: control})
}

// SendToolResponse queues function call responses
func (s *Session) SendToolResponse(ctx context.Context, responses []ToolResponse) error {
	if len(responses) == 0 {
		return nil
	}
	return s.enqueue(ctx, outgoing{kind: outgoingToolResponse, responses: responses})
}

func (s *Session) enqueue(ctx context.Context, item outgoing) error {
	select {
	case <-s.closeCh:
		return errSendClosed()
	default:
	}

	select {
	case s.sendCh <- item:
		return nil
	default:
	}

	timer := time.NewTimer(s.sendTimeout)
	defer timer.Stop()

	select {
	case s.sendCh <- item:
		return nil
	case <-s.closeCh:
		return errSendClosed()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return &SendError{Kind: SendQueueFull, Err: fmt.Errorf("send queue full (%d items)", cap(s.sendCh))}
	}
}

// NextEvent blocks until the next server event. After the stream has ended it
// returns ErrSessionClosed, or the terminal error if Gemini failed.
func (s *Session) NextEvent(ctx context.Context) (Event, error) {
	select {
	case ev, ok := <-s.events:
		if !ok {
			return Event{}, s.terminalErr()
		}
		return ev, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Close terminates the Gemini connection. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.closeCh)
		s.closeErr = s.live.Close()
	})
	return s.closeErr
}

func (s *Session) isClosed() bool {
	select {
	case <-s.closeCh:
		return true
	default:
		return false
	}
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	_ = s.Close()
}

func (s *Session) terminalErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	return ErrSessionClosed
}

func (s *Session) sendLoop() {
	for {
		select {
		case <-s.closeCh:
			return
		case item := <-s.sendCh:
			if err := s.send(item); err != nil {
				if s.isClosed() {
					return
				}
				s.logger.Error("gemini send failed", "error", err)
				s.fail(fmt.Errorf("gemini send: %w", err))
				return
			}
		}
	}
}

func (s *Session) send(item outgoing) error {
	switch item.kind {
	case outgoingAudio:
		err := s.live.SendRealtimeInput(genai.LiveRealtimeInput{
			Media: &genai.Blob{
				MIMEType: item.frame.MIMEType(),
				Data:     item.frame.Bytes(),
			},
		})
		if err == nil {
			s.logger.Debug("sent audio to Gemini", "bytes", item.frame.Len())
		}
		return err

	case outgoingControl:
		switch item.control.Kind {
		case ControlEndOfTurn:
			// Signal that the audio stream has ended so Gemini answers what it heard
			return s.live.SendRealtimeInput(genai.LiveRealtimeInput{AudioStreamEnd: true})
		case ControlText:
			return s.live.SendClientContent(genai.LiveClientContentInput{
				Turns: []*genai.Content{
					{Role: "user", Parts: []*genai.Part{{Text: item.control.Text}}},
				},
				TurnComplete: genai.Ptr(true),
			})
		default:
			return nil
		}

	case outgoingToolResponse:
		responses := make([]*genai.FunctionResponse, 0, len(item.responses))
		for _, r := range item.responses {
			responses = append(responses, &genai.FunctionResponse{
				ID:       r.ID,
				Name:     r.Name,
				Response: r.Response,
			})
		}
		return s.live.SendToolResponse(genai.LiveToolResponseInput{FunctionResponses: responses})
	}
	return nil
}

func (s *Session) readLoop() {
	defer close(s.events)

	for {
		resp, err := s.live.Receive()
		if err != nil {
			if s.isClosed() {
				return
			}
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.logger.Error("gemini receive failed", "error", err)
				s.fail(fmt.Errorf("gemini receive: %w", err))
			} else {
				s.logger.Info("gemini closed the session")
				_ = s.Close()
			}
			return
		}

		for _, ev := range s.translate(resp) {
			select {
			case s.events <- ev:
			case <-s.closeCh:
				return
			}
		}
	}
}

// translate turns one server message into events, advancing the turn counter
func (s *Session) translate(resp *genai.LiveServerMessage) []Event {
	if resp == nil {
		return nil
	}

	var out []Event
	if resp.SetupComplete != nil {
		s.logger.Debug("gemini setup complete")
	}

	if resp.ToolCall != nil && len(resp.ToolCall.FunctionCalls) > 0 {
		calls := make([]ToolCall, 0, len(resp.ToolCall.FunctionCalls))
		for _, fc := range resp.ToolCall.FunctionCalls {
			if fc == nil {
				continue
			}
			calls = append(calls, ToolCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
		out = append(out, Event{Kind: EventToolCall, Turn: s.turn, ToolCalls: calls})
	}

	if sc := resp.ServerContent; sc != nil {
		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part == nil || part.Thought {
					continue
				}
				if part.InlineData != nil && len(part.InlineData.Data) > 0 {
					frame := audio.NewFrame(part.InlineData.Data, s.cfg.OutputSampleRate, audio.Mono)
					out = append(out, Event{Kind: EventAudio, Turn: s.turn, Audio: frame})
				}
				if part.Text != "" {
					out = append(out, Event{Kind: EventText, Turn: s.turn, Text: part.Text})
				}
			}
		}
		if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
			out = append(out, Event{Kind: EventInputTranscription, Turn: s.turn, Text: sc.InputTranscription.Text})
		}
		if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
			out = append(out, Event{Kind: EventOutputTranscription, Turn: s.turn, Text: sc.OutputTranscription.Text})
		}
		if sc.Interrupted {
			out = append(out, Event{Kind: EventInterrupted, Turn: s.turn})
			s.turn++
		}
		if sc.TurnComplete {
			out = append(out, Event{Kind: EventTurnComplete, Turn: s.turn})
			s.turn++
		}
	}

	if resp.GoAway != nil {
		s.logger.Warn("gemini will close the session soon")
		out = append(out, Event{Kind: EventGoAway, Turn: s.turn})
	}
	return out
}

// IsSessionClosed reports whether err means the session is gone for good
func IsSessionClosed(err error) bool {
	return errors.Is(err, ErrSessionClosed)
}
