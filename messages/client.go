package messages

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// Client message types
const (
	TypeStart       = "start"
	TypeAudioChunk  = "audio_chunk"
	TypeEndOfTurn   = "end_of_turn"
	TypeTextMessage = "text_message"
	TypeStop        = "stop"

	// TypeUnknown labels every message type we don't handle
	TypeUnknown = "unknown"
)

// ClientMessage is one parsed message from the frontend client.
// Concrete types: Start, AudioChunk, EndOfTurn, TextInput, Stop, Unknown.
type ClientMessage interface {
	clientMessage()
}

// Start opens the upstream session. Voice is empty when the client did not pick one.
type Start struct {
	Voice string
}

// AudioChunk carries 16kHz mono PCM16 audio, base64 in Data or raw in PCM
// when the client sent a binary websocket frame.
type AudioChunk struct {
	Data      string
	Timestamp int64
	PCM       []byte
}

// EndOfTurn tells Gemini the user stopped talking
type EndOfTurn struct{}

// TextInput is a typed user turn
type TextInput struct {
	Text string
}

// Stop ends the session from the client side
type Stop struct{}

// Unknown is any message type we don't handle. It is ignored, not fatal.
type Unknown struct {
	Type string
}

func (Start) clientMessage()      {}
func (AudioChunk) clientMessage() {}
func (EndOfTurn) clientMessage()  {}
func (TextInput) clientMessage()  {}
func (Stop) clientMessage()       {}
func (Unknown) clientMessage()    {}

// ParseError is returned for frames that are not valid JSON messages.
// The session keeps running; the client gets an error event.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return "invalid client message: " + e.Err.Error() }

func (e *ParseError) Unwrap() error { return e.Err }

// wireClientMessage is the union of every client field
type wireClientMessage struct {
	Type      string `json:"type"`
	Voice     string `json:"voice,omitempty"`
	Data      string `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Text      string `json:"text,omitempty"`
}

// ParseClientMessage decodes a JSON text frame from the client
func ParseClientMessage(raw []byte) (ClientMessage, error) {
	var wire wireClientMessage
	if err := sonic.Unmarshal(raw, &wire); err != nil {
		return nil, &ParseError{Err: err}
	}

	switch wire.Type {
	case TypeStart:
		return Start{Voice: wire.Voice}, nil
	case TypeAudioChunk:
		return AudioChunk{Data: wire.Data, Timestamp: wire.Timestamp}, nil
	case TypeEndOfTurn:
		return EndOfTurn{}, nil
	case TypeTextMessage:
		if wire.Text == "" {
			return nil, &ParseError{Err: fmt.Errorf("%s without text", TypeTextMessage)}
		}
		return TextInput{Text: wire.Text}, nil
	case TypeStop:
		return Stop{}, nil
	case "":
		return nil, &ParseError{Err: fmt.Errorf("missing type field")}
	default:
		return Unknown{Type: wire.Type}, nil
	}
}

// TypeOf returns the wire type of a parsed message (for logs and metrics).
// Unhandled types all map to TypeUnknown so client input never becomes a label.
func TypeOf(msg ClientMessage) string {
	switch msg.(type) {
	case Start:
		return TypeStart
	case AudioChunk:
		return TypeAudioChunk
	case EndOfTurn:
		return TypeEndOfTurn
	case TextInput:
		return TypeTextMessage
	case Stop:
		return TypeStop
	case Unknown:
		return TypeUnknown
	default:
		return "invalid"
	}
}
