package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/room4-2/livebridge/audio"
	"github.com/room4-2/livebridge/functions"
	"github.com/room4-2/livebridge/gemini"
	"github.com/room4-2/livebridge/messages"
	"github.com/room4-2/livebridge/observability"
	"github.com/room4-2/livebridge/transport"
)

const (
	defaultOutboxSize   = 256
	defaultDrainTimeout = 2 * time.Second
)

// Transport is the client side of a bridge
type Transport interface {
	// ReadMessage blocks for the next client message. A *messages.ParseError
	// is not fatal; any other error means the client is gone.
	ReadMessage() (messages.ClientMessage, error)
	WriteMessage(msg *messages.ServerMessage) error
	Close() error
}

// Upstream is an open Gemini Live session
type Upstream interface {
	SendAudio(ctx context.Context, frame audio.Frame) error
	SendControl(ctx context.Context, control gemini.Control) error
	SendToolResponse(ctx context.Context, responses []gemini.ToolResponse) error
	NextEvent(ctx context.Context) (gemini.Event, error)
	Close() error
}

// Dialer opens upstream sessions
type Dialer interface {
	Open(ctx context.Context, cfg gemini.Config) (Upstream, error)
}

// GeminiDialer opens sessions with a shared gemini.Client
type GeminiDialer struct {
	Client *gemini.Client
}

func (d GeminiDialer) Open(ctx context.Context, cfg gemini.Config) (Upstream, error) {
	s, err := d.Client.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Options configures a Bridge
type Options struct {
	Base          gemini.Config // copied per session; the voice is set on start
	DefaultVoice  string
	OutboxSize    int
	DrainTimeout  time.Duration // how long teardown waits for queued messages to reach the client
	Logger        *slog.Logger
	Metrics       *observability.Metrics
	OnStateChange func(id string, state TurnState)
}

func (o Options) withDefaults() Options {
	if o.OutboxSize <= 0 {
		o.OutboxSize = defaultOutboxSize
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = defaultDrainTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// ResolveVoice picks the voice for a session: the client's choice, else the
// configured default, else Aoede.
func ResolveVoice(requested, configured string) string {
	if v := strings.TrimSpace(requested); v != "" {
		return v
	}
	if v := strings.TrimSpace(configured); v != "" {
		return v
	}
	return gemini.FallbackVoice
}

// Bridge relays one conversation between a client transport and Gemini.
//
// Three goroutines run per bridge: readPump feeds client messages upstream,
// upstreamPump turns Gemini events into client messages, and writePump drains
// the outbox onto the transport. Cancelling the bridge context stops all of them.
type Bridge struct {
	ID        string
	CreatedAt time.Time

	transport Transport
	dialer    Dialer
	opts      Options
	logger    *slog.Logger
	metrics   *observability.Metrics
	outbox    *Outbox

	mu              sync.Mutex
	state           TurnState
	voice           string
	upstream        Upstream
	interruptedTurn uint64 // output events at or before this turn are stale
	lastActivity    time.Time
	err             error

	cancel       context.CancelFunc
	pumps        sync.WaitGroup
	upstreamOnce sync.Once
	failOnce     sync.Once
	stopOnce     sync.Once
	stopCh       chan struct{}
	done         chan struct{}
}

// NewBridge creates an idle bridge. Nothing happens until Run.
func NewBridge(id string, tr Transport, dialer Dialer, opts Options) *Bridge {
	opts = opts.withDefaults()
	now := time.Now()
	return &Bridge{
		ID:           id,
		CreatedAt:    now,
		transport:    tr,
		dialer:       dialer,
		opts:         opts,
		logger:       opts.Logger.With("session", shortID(id)),
		metrics:      opts.Metrics,
		outbox:       NewOutbox(opts.OutboxSize),
		state:        StateIdle,
		lastActivity: now,
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Run relays until the client leaves, the upstream fails, ctx is cancelled or
// Close is called. It returns nil when the session ended normally and the
// fatal error otherwise.
func (b *Bridge) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	b.mu.Lock()
	b.cancel = cancel
	b.mu.Unlock()

	b.metrics.SessionOpened()
	b.logger.Info("session started")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		b.writePump(ctx)
	}()

	b.pumps.Add(1)
	go func() {
		defer b.pumps.Done()
		b.readPump(ctx)
	}()

	select {
	case <-ctx.Done():
	case <-b.stopCh:
		cancel()
	}

	b.teardown(writerDone)

	err := b.Err()
	b.metrics.SessionClosed(time.Since(b.CreatedAt))
	if err != nil {
		b.logger.Warn("session closed with error", "error", err)
	} else {
		b.logger.Info("session closed")
	}
	return err
}

// teardown runs after the bridge context is cancelled
func (b *Bridge) teardown(writerDone <-chan struct{}) {
	b.setState(StateClosing)

	b.closeUpstream()

	// Let the writer flush what is queued, including a final error message
	b.outbox.Close()
	select {
	case <-writerDone:
	case <-time.After(b.opts.DrainTimeout):
		b.logger.Warn("outbox not drained before close", "pending", b.outbox.Len())
	}

	if err := b.transport.Close(); err != nil {
		b.logger.Debug("transport close", "error", err)
	}
	<-writerDone
	b.pumps.Wait()

	b.setState(StateClosed)
	close(b.done)
}

// Close asks a running bridge to stop. Safe to call more than once.
func (b *Bridge) Close() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Done is closed once the bridge has fully stopped
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

// Err returns the error that ended the session, if any
func (b *Bridge) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// State returns the current turn state
func (b *Bridge) State() TurnState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Voice returns the negotiated voice, empty before start
func (b *Bridge) Voice() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.voice
}

// LastActivity returns when a message last crossed the bridge
func (b *Bridge) LastActivity() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastActivity
}

func (b *Bridge) touch() {
	b.mu.Lock()
	b.lastActivity = time.Now()
	b.mu.Unlock()
}

func (b *Bridge) setState(state TurnState) {
	b.mu.Lock()
	if b.state == state {
		b.mu.Unlock()
		return
	}
	b.state = state
	b.mu.Unlock()
	b.stateChanged(state)
}

func (b *Bridge) stateChanged(state TurnState) {
	b.logger.Debug("state changed", "state", state)
	if b.opts.OnStateChange != nil {
		b.opts.OnStateChange(b.ID, state)
	}
}

func (b *Bridge) currentUpstream() Upstream {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.upstream
}

// closeUpstream closes the upstream handle exactly once
func (b *Bridge) closeUpstream() {
	b.upstreamOnce.Do(func() {
		up := b.currentUpstream()
		if up == nil {
			return
		}
		if err := up.Close(); err != nil {
			b.logger.Debug("upstream close", "error", err)
		}
	})
}

// fail records a session-fatal error, tells the client and stops the bridge
func (b *Bridge) fail(code string, err error) {
	b.failOnce.Do(func() {
		b.mu.Lock()
		b.err = err
		cancel := b.cancel
		b.mu.Unlock()

		b.logger.Error("session failed", "code", code, "error", err)
		b.metrics.Event("failed")

		pushCtx, pushCancel := context.WithTimeout(context.Background(), b.opts.DrainTimeout)
		defer pushCancel()
		_ = b.outbox.Push(pushCtx, messages.NewErrorMessage(code, err.Error()))

		if cancel != nil {
			cancel()
		}
	})
}

// push queues a message for the client. It only fails once the bridge is stopping.
func (b *Bridge) push(ctx context.Context, msg *messages.ServerMessage) bool {
	if err := b.outbox.Push(ctx, msg); err != nil {
		return false
	}
	return true
}

func (b *Bridge) pushError(ctx context.Context, code, detail string) {
	b.push(ctx, messages.NewErrorMessage(code, detail))
}

// start opens the upstream session with the resolved voice
func (b *Bridge) start(ctx context.Context, requested string) error {
	voice := ResolveVoice(requested, b.opts.DefaultVoice)
	cfg := b.opts.Base.WithVoice(voice)

	b.logger.Info("opening upstream", "voice", voice)
	started := time.Now()
	up, err := b.dialer.Open(ctx, cfg)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.metrics.UpstreamError(connectErrorKind(err))
		b.fail(messages.ErrCodeSessionFailed, fmt.Errorf("open upstream: %w", err))
		return err
	}
	b.metrics.ObserveConnectLatency(time.Since(started))

	b.mu.Lock()
	if b.state >= StateClosing {
		b.mu.Unlock()
		_ = up.Close()
		return context.Canceled
	}
	b.upstream = up
	b.voice = voice
	b.state = StateActive
	b.mu.Unlock()
	b.stateChanged(StateActive)
	b.metrics.Event("started")

	b.push(ctx, messages.NewConnectedMessage(voice))

	b.pumps.Add(1)
	go func() {
		defer b.pumps.Done()
		b.upstreamPump(ctx, up)
	}()
	return nil
}

// readPump handles everything the client sends
func (b *Bridge) readPump(ctx context.Context) {
	defer b.cancelBridge()

	for {
		msg, err := b.transport.ReadMessage()
		if err != nil {
			var parseErr *messages.ParseError
			if errors.As(err, &parseErr) {
				b.logger.Warn("invalid client message", "error", err)
				b.metrics.Message("in", "invalid")
				b.pushError(ctx, messages.ErrCodeInvalidMessage, parseErr.Error())
				continue
			}
			switch {
			case ctx.Err() != nil:
			case transport.IsNormalClose(err):
				b.logger.Info("client disconnected")
			default:
				b.logger.Info("client connection lost", "error", err)
			}
			return
		}

		b.touch()
		b.metrics.Message("in", messages.TypeOf(msg))

		if !b.handleClientMessage(ctx, msg) {
			return
		}
	}
}

func (b *Bridge) cancelBridge() {
	b.mu.Lock()
	cancel := b.cancel
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// handleClientMessage returns false when the bridge should stop
func (b *Bridge) handleClientMessage(ctx context.Context, msg messages.ClientMessage) bool {
	switch m := msg.(type) {
	case messages.Start:
		if b.State().started() {
			b.logger.Warn("duplicate start ignored", "voice", m.Voice)
			b.pushError(ctx, messages.ErrCodeDuplicateStart, "session already started with voice "+b.Voice())
			return true
		}
		return b.start(ctx, m.Voice) == nil

	case messages.AudioChunk:
		if !b.State().started() {
			if err := b.start(ctx, ""); err != nil {
				return false
			}
		}
		return b.forwardAudio(ctx, m)

	case messages.EndOfTurn:
		up := b.currentUpstream()
		if up == nil {
			b.logger.Debug("end_of_turn before start ignored")
			return true
		}
		return b.handleSendErr(ctx, up.SendControl(ctx, gemini.Control{Kind: gemini.ControlEndOfTurn}), "end of turn")

	case messages.TextInput:
		if !b.State().started() {
			if err := b.start(ctx, ""); err != nil {
				return false
			}
		}
		up := b.currentUpstream()
		return b.handleSendErr(ctx, up.SendControl(ctx, gemini.Control{Kind: gemini.ControlText, Text: m.Text}), "text")

	case messages.Stop:
		b.logger.Info("client requested stop")
		return false

	case messages.Unknown:
		b.logger.Warn("unknown message type ignored", "type", m.Type)
		return true
	}
	return true
}

func (b *Bridge) forwardAudio(ctx context.Context, chunk messages.AudioChunk) bool {
	var frame audio.Frame
	if chunk.PCM != nil {
		frame = audio.NewFrame(chunk.PCM, audio.InputSampleRate, audio.Mono)
	} else {
		decoded, err := audio.Decode(chunk.Data, audio.InputSampleRate, audio.Mono)
		if err != nil {
			b.logger.Warn("dropping undecodable audio chunk", "error", err)
			b.metrics.FrameDropped("invalid_audio")
			b.pushError(ctx, messages.ErrCodeInvalidAudio, err.Error())
			return true
		}
		frame = decoded
	}
	if frame.Empty() {
		return true
	}

	up := b.currentUpstream()
	return b.handleSendErr(ctx, up.SendAudio(ctx, frame), "audio")
}

// handleSendErr applies the send error rules and returns false if the bridge must stop
func (b *Bridge) handleSendErr(ctx context.Context, err error, what string) bool {
	if err == nil {
		return true
	}
	if ctx.Err() != nil {
		return false
	}

	var sendErr *gemini.SendError
	switch {
	case gemini.IsSessionClosed(err):
		b.metrics.UpstreamError("closed")
		b.fail(messages.ErrCodeUpstreamClosed, fmt.Errorf("send %s: %w", what, err))
		return false
	case errors.As(err, &sendErr) && sendErr.Kind == gemini.SendQueueFull:
		b.logger.Warn("upstream send queue full, dropping", "what", what)
		b.metrics.FrameDropped("queue_full")
		return true
	default:
		b.logger.Warn("upstream send failed", "what", what, "error", err)
		b.metrics.UpstreamError("send")
		return true
	}
}

// writePump is the only writer on the transport. It drains the outbox in order
// and returns once the outbox is closed and empty.
func (b *Bridge) writePump(ctx context.Context) {
	for {
		msg, ok := b.outbox.Pop()
		if !ok {
			return
		}
		if err := b.transport.WriteMessage(msg); err != nil {
			if ctx.Err() == nil {
				b.logger.Info("client write failed", "error", err)
			}
			b.cancelBridge()
			return
		}
		b.metrics.Message("out", msg.Type)
	}
}

// upstreamPump handles everything Gemini sends
func (b *Bridge) upstreamPump(ctx context.Context, up Upstream) {
	for {
		ev, err := up.NextEvent(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if gemini.IsSessionClosed(err) {
				b.fail(messages.ErrCodeUpstreamClosed, errors.New("gemini closed the session"))
			} else {
				b.metrics.UpstreamError("receive")
				b.fail(messages.ErrCodeGeminiError, err)
			}
			return
		}

		b.touch()
		b.handleEvent(ctx, up, ev)
	}
}

func (b *Bridge) handleEvent(ctx context.Context, up Upstream, ev gemini.Event) {
	switch ev.Kind {
	case gemini.EventInputTranscription:
		// The user's own words are never stale
		b.push(ctx, messages.NewTranscriptionMessage(ev.Text))
		return

	case gemini.EventInterrupted:
		b.interrupt(ctx, ev.Turn)
		return

	case gemini.EventToolCall:
		b.handleToolCalls(ctx, up, ev)
		return

	case gemini.EventGoAway:
		b.logger.Warn("gemini is about to close the session")
		return
	}

	if b.stale(ev.Turn) {
		if ev.Kind == gemini.EventAudio {
			b.metrics.FrameDropped("interrupted")
		}
		b.logger.Debug("dropping stale output", "kind", ev.Kind, "turn", ev.Turn)
		return
	}

	switch ev.Kind {
	case gemini.EventAudio:
		b.push(ctx, messages.NewAudioResponseMessage(audio.Encode(ev.Audio)))
	case gemini.EventText:
		b.push(ctx, messages.NewTranscriptionMessage(ev.Text))
	case gemini.EventOutputTranscription:
		b.push(ctx, messages.NewAITranscriptionMessage(ev.Text))
	case gemini.EventTurnComplete:
		b.logger.Debug("turn complete", "turn", ev.Turn)
		b.push(ctx, messages.NewTurnCompleteMessage())
	}
}

// interrupt drops queued model audio and tells the client the model stopped
func (b *Bridge) interrupt(ctx context.Context, turn uint64) {
	b.mu.Lock()
	if turn > b.interruptedTurn {
		b.interruptedTurn = turn
	}
	changed := b.state == StateActive
	if changed {
		b.state = StateInterrupted
	}
	b.mu.Unlock()
	if changed {
		b.stateChanged(StateInterrupted)
	}

	purged := b.outbox.PurgeAudio()
	for i := 0; i < purged; i++ {
		b.metrics.FrameDropped("interrupted")
	}
	b.metrics.Event("interrupted")
	b.logger.Info("interrupted by user", "turn", turn, "purged", purged)

	b.push(ctx, messages.NewInterruptedMessage())
}

// stale reports whether an output event belongs to an interrupted turn.
// The first event of a newer turn ends the interruption.
func (b *Bridge) stale(turn uint64) bool {
	b.mu.Lock()
	if turn <= b.interruptedTurn {
		b.mu.Unlock()
		return true
	}
	resumed := b.state == StateInterrupted
	if resumed {
		b.state = StateActive
	}
	b.mu.Unlock()
	if resumed {
		b.stateChanged(StateActive)
	}
	return false
}

// before reports whether turn is at or before the last interruption. Unlike
// stale it never changes the state.
func (b *Bridge) before(turn uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return turn <= b.interruptedTurn
}

// handleToolCalls answers every call so Gemini never waits on us, and shows
// the client the calls that belong to the current turn.
func (b *Bridge) handleToolCalls(ctx context.Context, up Upstream, ev gemini.Event) {
	fresh := !b.before(ev.Turn)
	for _, call := range ev.ToolCalls {
		b.logger.Info("function call", "name", call.Name, "id", call.ID)
		if fresh {
			b.push(ctx, messages.NewToolCallMessage(call.Name, call.Args))
		}
	}

	responses := functions.Respond(ev.ToolCalls)
	b.handleSendErr(ctx, up.SendToolResponse(ctx, responses), "tool response")
}

func connectErrorKind(err error) string {
	var connectErr *gemini.ConnectError
	if errors.As(err, &connectErr) {
		return "connect_" + connectErr.Kind.String()
	}
	return "connect"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
