package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/room4-2/livebridge/gemini"
)

func main() {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		slog.Error("GEMINI_API_KEY not set")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := gemini.NewClient(ctx, apiKey, gemini.Options{})
	if err != nil {
		slog.Error("failed to create client", "error", err)
		os.Exit(1)
	}

	// No tools for this test
	cfg := gemini.DefaultConfig()
	cfg.SystemPrompt = "You are a helpful assistant. Keep responses brief."

	session, err := client.Open(ctx, cfg)
	if err != nil {
		slog.Error("failed to open session", "error", err)
		os.Exit(1)
	}
	defer session.Close()

	// Send a text message
	err = session.SendControl(ctx, gemini.Control{Kind: gemini.ControlText, Text: "Hello! Say hi back in one sentence."})
	if err != nil {
		slog.Error("failed to send text", "error", err)
		os.Exit(1)
	}

	slog.Info("waiting for response")
	for {
		ev, err := session.NextEvent(ctx)
		if err != nil {
			if !errors.Is(err, context.DeadlineExceeded) {
				slog.Error("session ended", "error", err)
			}
			return
		}

		switch ev.Kind {
		case gemini.EventAudio:
			slog.Info("received audio", "bytes", ev.Audio.Len(), "duration", ev.Audio.Duration())
		case gemini.EventText, gemini.EventOutputTranscription:
			slog.Info("received text", "text", ev.Text)
		case gemini.EventTurnComplete:
			slog.Info("turn complete")
			return
		}
	}
}
