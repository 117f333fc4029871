package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/room4-2/livebridge/messages"
)

func TestOutboxKeepsOrder(t *testing.T) {
	ob := NewOutbox(4)
	ctx := context.Background()

	_ = ob.Push(ctx, messages.NewTranscriptionMessage("a"))
	_ = ob.Push(ctx, messages.NewAudioResponseMessage("AAAA"))
	_ = ob.Push(ctx, messages.NewTurnCompleteMessage())

	want := []string{messages.TypeTranscription, messages.TypeAudioResponse, messages.TypeTurnComplete}
	for i, typ := range want {
		msg, ok := ob.Pop()
		if !ok || msg.Type != typ {
			t.Fatalf("Pop() #%d = %+v, %v; want %s", i, msg, ok, typ)
		}
	}
}

func TestOutboxPushBlocksWhenFull(t *testing.T) {
	ob := NewOutbox(1)
	ctx := context.Background()
	if err := ob.Push(ctx, messages.NewTurnCompleteMessage()); err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	pushed := make(chan error, 1)
	go func() { pushed <- ob.Push(ctx, messages.NewInterruptedMessage()) }()

	select {
	case err := <-pushed:
		t.Fatalf("Push() on a full outbox returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	if _, ok := ob.Pop(); !ok {
		t.Fatalf("Pop() ok = false")
	}
	select {
	case err := <-pushed:
		if err != nil {
			t.Fatalf("Push() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Push() still blocked after Pop")
	}
	if ob.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", ob.Len())
	}
}

func TestOutboxPushHonoursContext(t *testing.T) {
	ob := NewOutbox(1)
	_ = ob.Push(context.Background(), messages.NewTurnCompleteMessage())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := ob.Push(ctx, messages.NewTurnCompleteMessage()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Push() error = %v, want deadline exceeded", err)
	}
}

func TestOutboxPurgeAudio(t *testing.T) {
	ob := NewOutbox(8)
	ctx := context.Background()
	_ = ob.Push(ctx, messages.NewAudioResponseMessage("AQ=="))
	_ = ob.Push(ctx, messages.NewAITranscriptionMessage("hi"))
	_ = ob.Push(ctx, messages.NewAudioResponseMessage("Ag=="))
	_ = ob.Push(ctx, messages.NewTurnCompleteMessage())

	if n := ob.PurgeAudio(); n != 2 {
		t.Fatalf("PurgeAudio() = %d, want 2", n)
	}
	if ob.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", ob.Len())
	}
	first, _ := ob.Pop()
	second, _ := ob.Pop()
	if first.Type != messages.TypeAITranscription || second.Type != messages.TypeTurnComplete {
		t.Fatalf("after purge = %s, %s", first.Type, second.Type)
	}
}

func TestOutboxCloseDrains(t *testing.T) {
	ob := NewOutbox(4)
	ctx := context.Background()
	_ = ob.Push(ctx, messages.NewErrorMessage(messages.ErrCodeGeminiError, "boom"))
	ob.Close()
	ob.Close()

	if err := ob.Push(ctx, messages.NewTurnCompleteMessage()); !errors.Is(err, ErrOutboxClosed) {
		t.Fatalf("Push() after Close error = %v, want ErrOutboxClosed", err)
	}
	msg, ok := ob.Pop()
	if !ok || msg.Type != messages.TypeError {
		t.Fatalf("Pop() after Close = %+v, %v; want queued error", msg, ok)
	}
	if _, ok := ob.Pop(); ok {
		t.Fatalf("Pop() on closed empty outbox ok = true")
	}
}

func TestOutboxCloseWakesPop(t *testing.T) {
	ob := NewOutbox(2)
	done := make(chan bool, 1)
	go func() {
		_, ok := ob.Pop()
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	ob.Close()
	select {
	case ok := <-done:
		if ok {
			t.Fatalf("Pop() ok = true on closed empty outbox")
		}
	case <-time.After(time.Second):
		t.Fatalf("Pop() not woken by Close")
	}
}
