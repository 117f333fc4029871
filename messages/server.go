package messages

import "github.com/bytedance/sonic"

// Error codes
const (
	ErrCodeInvalidMessage = "INVALID_MESSAGE"
	ErrCodeInvalidAudio   = "INVALID_AUDIO"
	ErrCodeDuplicateStart = "DUPLICATE_START"
	ErrCodeGeminiError    = "GEMINI_ERROR"
	ErrCodeSessionFailed  = "SESSION_FAILED"
	ErrCodeUpstreamClosed = "UPSTREAM_CLOSED"
	ErrCodeRateLimited    = "RATE_LIMITED"
)

// Server message types
const (
	TypeConnected       = "connected"
	TypeAudioResponse   = "audio_response"
	TypeTranscription   = "transcription"
	TypeAITranscription = "ai_transcription"
	TypeTurnComplete    = "turn_complete"
	TypeInterrupted     = "interrupted"
	TypeToolCall        = "tool_call"
	TypeError           = "error"
)

// ServerMessage represents a message sent to frontend client
type ServerMessage struct {
	Type    string         `json:"type"`
	Message string         `json:"message,omitempty"`
	Voice   string         `json:"voice,omitempty"`
	Data    string         `json:"data,omitempty"` // Base64-encoded PCM16 24kHz mono
	Text    string         `json:"text,omitempty"`
	Tool    string         `json:"tool,omitempty"`
	Args    map[string]any `json:"args,omitempty"`
	Code    string         `json:"code,omitempty"`
	Detail  string         `json:"detail,omitempty"`
}

// IsAudio reports whether the message carries model audio
func (m *ServerMessage) IsAudio() bool {
	return m.Type == TypeAudioResponse
}

// Encode serializes a message for a websocket text frame
func Encode(msg *ServerMessage) ([]byte, error) {
	return sonic.Marshal(msg)
}

// NewConnectedMessage confirms the upstream session is live
func NewConnectedMessage(voice string) *ServerMessage {
	return &ServerMessage{
		Type:    TypeConnected,
		Message: "Successfully connected to Gemini",
		Voice:   voice,
	}
}

// NewAudioResponseMessage creates an audio response message
func NewAudioResponseMessage(data string) *ServerMessage {
	return &ServerMessage{Type: TypeAudioResponse, Data: data}
}

// NewTranscriptionMessage carries model text or the user's transcribed speech
func NewTranscriptionMessage(text string) *ServerMessage {
	return &ServerMessage{Type: TypeTranscription, Text: text}
}

// NewAITranscriptionMessage carries the transcript of the model's spoken output
func NewAITranscriptionMessage(text string) *ServerMessage {
	return &ServerMessage{Type: TypeAITranscription, Text: text}
}

func NewTurnCompleteMessage() *ServerMessage {
	return &ServerMessage{Type: TypeTurnComplete}
}

func NewInterruptedMessage() *ServerMessage {
	return &ServerMessage{Type: TypeInterrupted}
}

// NewToolCallMessage tells the client which tool the model invoked
func NewToolCallMessage(tool string, args map[string]any) *ServerMessage {
	return &ServerMessage{Type: TypeToolCall, Tool: tool, Args: args}
}

// NewErrorMessage creates an error message
func NewErrorMessage(code, detail string) *ServerMessage {
	return &ServerMessage{Type: TypeError, Code: code, Detail: detail}
}
