package gemini

import (
	"errors"
	"fmt"
	"strings"

	"github.com/room4-2/livebridge/audio"

	"google.golang.org/genai"
)

const (
	// DefaultModel is the native-audio Live model
	DefaultModel = "gemini-2.5-flash-native-audio-preview-12-2025"

	// FallbackVoice is used when neither the client nor the config picks a voice.
	// Available voices include: Puck, Charon, Kore, Fenrir, Aoede, Leda, Orus, Zephyr
	FallbackVoice = "Aoede"
)

// Config is the per-session Live configuration. Response modality is always audio.
// Build it once and copy it; never mutate a Config that a session is using.
type Config struct {
	Model            string
	Voice            string
	SystemPrompt     string
	InputSampleRate  int
	OutputSampleRate int
	Thinking         bool
	ThinkingBudget   int32
	Transcription    bool // input + output audio transcription
	ProactiveAudio   bool
	Tools            []*genai.Tool
}

// DefaultConfig returns the configuration used when nothing is overridden
func DefaultConfig() Config {
	return Config{
		Model:            DefaultModel,
		Voice:            FallbackVoice,
		InputSampleRate:  audio.InputSampleRate,
		OutputSampleRate: audio.OutputSampleRate,
		ThinkingBudget:   1024,
		Transcription:    true,
	}
}

// WithVoice returns a copy of c using the given voice
func (c Config) WithVoice(voice string) Config {
	c.Voice = voice
	return c
}

// Validate checks the config before anything is dialed
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Model) == "" {
		errs = append(errs, errors.New("model name is empty"))
	}
	if strings.TrimSpace(c.Voice) == "" {
		errs = append(errs, errors.New("voice name is empty"))
	}
	if c.InputSampleRate <= 0 {
		errs = append(errs, fmt.Errorf("invalid input sample rate %d", c.InputSampleRate))
	}
	if c.OutputSampleRate <= 0 {
		errs = append(errs, fmt.Errorf("invalid output sample rate %d", c.OutputSampleRate))
	}
	if c.Thinking && c.ThinkingBudget < 0 {
		errs = append(errs, fmt.Errorf("invalid thinking budget %d", c.ThinkingBudget))
	}
	return errors.Join(errs...)
}

// modelPath returns the model name in the "models/..." form the Live API expects
func (c Config) modelPath() string {
	if strings.HasPrefix(c.Model, "models/") {
		return c.Model
	}
	return "models/" + c.Model
}

// liveConfig translates the session config into the SDK's connect config
func (c Config) liveConfig() *genai.LiveConnectConfig {
	lc := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		Tools:              c.Tools,
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{
					VoiceName: c.Voice,
				},
			},
		},
	}

	if c.SystemPrompt != "" {
		lc.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: c.SystemPrompt}},
		}
	}
	if c.Transcription {
		lc.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
		lc.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	if c.ProactiveAudio {
		lc.Proactivity = &genai.ProactivityConfig{ProactiveAudio: genai.Ptr(true)}
	}
	if c.Thinking {
		lc.ThinkingConfig = &genai.ThinkingConfig{
			IncludeThoughts: true,
			ThinkingBudget:  genai.Ptr(c.ThinkingBudget),
		}
	}
	return lc
}
