package session

import (
	"context"
	"errors"
	"sync"

	"github.com/room4-2/livebridge/messages"
)

// ErrOutboxClosed is returned when pushing to a closed outbox
var ErrOutboxClosed = errors.New("outbox closed")

// Outbox is the ordered queue of messages waiting to be written to the client.
// Push blocks while the outbox is full, so control messages are never dropped;
// queued audio can be purged when the user interrupts.
type Outbox struct {
	items   []*messages.ServerMessage
	maxSize int
	closed  bool

	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  chan struct{} // signalled whenever room is made
}

// NewOutbox creates an outbox holding at most maxSize messages
func NewOutbox(maxSize int) *Outbox {
	if maxSize <= 0 {
		maxSize = 1
	}
	ob := &Outbox{
		items:   make([]*messages.ServerMessage, 0, maxSize),
		maxSize: maxSize,
		notFull: make(chan struct{}),
	}
	ob.notEmpty = sync.NewCond(&ob.mu)
	return ob
}

// Push appends msg, waiting for room if the outbox is full
func (ob *Outbox) Push(ctx context.Context, msg *messages.ServerMessage) error {
	ob.mu.Lock()
	for {
		if ob.closed {
			ob.mu.Unlock()
			return ErrOutboxClosed
		}
		if len(ob.items) < ob.maxSize {
			break
		}
		wait := ob.notFull
		ob.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
		ob.mu.Lock()
	}

	ob.items = append(ob.items, msg)
	ob.notEmpty.Signal()
	ob.mu.Unlock()
	return nil
}

// Pop removes the oldest message, blocking until one is queued.
// After Close it keeps returning queued messages, then reports ok=false.
func (ob *Outbox) Pop() (*messages.ServerMessage, bool) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	for len(ob.items) == 0 && !ob.closed {
		ob.notEmpty.Wait()
	}
	if len(ob.items) == 0 {
		return nil, false
	}

	msg := ob.items[0]
	ob.items[0] = nil
	ob.items = ob.items[1:]
	ob.signalRoom()
	return msg, true
}

// PurgeAudio drops every queued audio_response and returns how many were removed
func (ob *Outbox) PurgeAudio() int {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	kept := make([]*messages.ServerMessage, 0, ob.maxSize)
	for _, msg := range ob.items {
		if !msg.IsAudio() {
			kept = append(kept, msg)
		}
	}
	purged := len(ob.items) - len(kept)
	ob.items = kept
	if purged > 0 {
		ob.signalRoom()
	}
	return purged
}

// Close stops accepting messages. Already queued messages can still be popped.
func (ob *Outbox) Close() {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	if ob.closed {
		return
	}
	ob.closed = true
	ob.notEmpty.Broadcast()
	ob.signalRoom()
}

// Len returns the number of queued messages
func (ob *Outbox) Len() int {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	return len(ob.items)
}

// signalRoom wakes every blocked Push. Caller holds mu.
func (ob *Outbox) signalRoom() {
	close(ob.notFull)
	ob.notFull = make(chan struct{})
}
