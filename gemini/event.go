package gemini

import "github.com/room4-2/livebridge/audio"

// EventKind tags what a server event carries
type EventKind int

const (
	EventAudio EventKind = iota + 1
	EventText
	EventInputTranscription
	EventOutputTranscription
	EventTurnComplete
	EventInterrupted
	EventToolCall
	EventGoAway
)

func (k EventKind) String() string {
	switch k {
	case EventAudio:
		return "audio"
	case EventText:
		return "text"
	case EventInputTranscription:
		return "input_transcription"
	case EventOutputTranscription:
		return "output_transcription"
	case EventTurnComplete:
		return "turn_complete"
	case EventInterrupted:
		return "interrupted"
	case EventToolCall:
		return "tool_call"
	case EventGoAway:
		return "go_away"
	default:
		return "unknown"
	}
}

// Event is one server-originated item, in the order Gemini sent it.
// Turn numbers start at 1 and move forward after every turn-complete or
// interrupted signal, so output of an interrupted turn can be told apart
// from output of the next one.
type Event struct {
	Kind      EventKind
	Turn      uint64
	Audio     audio.Frame
	Text      string
	ToolCalls []ToolCall
}

// ToolCall is a function call requested by the model
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolResponse answers a ToolCall
type ToolResponse struct {
	ID       string
	Name     string
	Response map[string]any
}

// ControlKind tags a client control signal
type ControlKind int

const (
	ControlEndOfTurn ControlKind = iota + 1
	ControlText
)

// Control is a non-audio signal sent upstream
type Control struct {
	Kind ControlKind
	Text string
}
