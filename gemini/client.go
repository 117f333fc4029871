package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/genai"
)

const (
	defaultConnectTimeout = 15 * time.Second
	defaultSendQueueSize  = 64
	defaultSendTimeout    = 50 * time.Millisecond
)

// Options tunes how sessions are opened and fed
type Options struct {
	ConnectTimeout time.Duration // bound on Open; exceeding it is ConnectUnavailable
	SendQueueSize  int           // frames buffered per session before SendAudio waits
	SendTimeout    time.Duration // how long SendAudio waits on a full queue
	Logger         *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = defaultConnectTimeout
	}
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = defaultSendQueueSize
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = defaultSendTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Client opens Gemini Live sessions. One Client is shared by every bridge.
type Client struct {
	genai *genai.Client
	opts  Options
}

// NewClient initializes the GenAI client
func NewClient(ctx context.Context, apiKey string, opts Options) (*Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1alpha"}, // proactivity is v1alpha only
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &Client{genai: client, opts: opts.withDefaults()}, nil
}

// Open establishes a Live session for cfg
func (c *Client) Open(ctx context.Context, cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &ConnectError{Kind: ConnectInvalidConfig, Err: err}
	}

	connectCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	started := time.Now()
	live, err := c.genai.Live.Connect(connectCtx, cfg.modelPath(), cfg.liveConfig())
	if err != nil {
		return nil, classifyConnectError(err)
	}

	c.opts.Logger.Info("connected to Gemini Live",
		"model", cfg.Model,
		"voice", cfg.Voice,
		"elapsed", time.Since(started))
	return newSession(live, cfg, c.opts), nil
}
