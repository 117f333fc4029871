package audio

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

// Sample rates used on each side of the bridge
const (
	InputSampleRate  = 16000 // client microphone -> Gemini
	OutputSampleRate = 24000 // Gemini speech -> client
	Mono             = 1

	bytesPerSample = 2 // PCM16 little-endian
)

// ErrInvalidEncoding is wrapped by DecodeError when the payload is not valid base64
var ErrInvalidEncoding = errors.New("invalid audio encoding")

// DecodeError reports a payload that could not be turned into a frame.
// It is a per-frame error: the frame is dropped and the session continues.
type DecodeError struct {
	Size int // length of the rejected payload
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode audio payload (%d chars): %v", e.Size, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Frame is a chunk of raw PCM16 audio plus its format.
// A frame is never mutated after construction; whoever holds it owns it.
type Frame struct {
	pcm        []byte
	SampleRate int
	Channels   int
}

// NewFrame wraps raw PCM bytes. The caller hands over ownership of pcm.
func NewFrame(pcm []byte, sampleRate, channels int) Frame {
	return Frame{pcm: pcm, SampleRate: sampleRate, Channels: channels}
}

// Bytes returns the raw PCM payload. Treat it as read-only.
func (f Frame) Bytes() []byte { return f.pcm }

// Len returns the payload size in bytes
func (f Frame) Len() int { return len(f.pcm) }

// Empty reports whether the frame carries no audio
func (f Frame) Empty() bool { return len(f.pcm) == 0 }

// Duration returns the playback length of the frame
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(f.pcm) / (bytesPerSample * f.Channels)
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// MIMEType returns the Gemini blob type, e.g. "audio/pcm;rate=16000"
func (f Frame) MIMEType() string {
	return fmt.Sprintf("audio/pcm;rate=%d", f.SampleRate)
}

// Equal reports whether two frames carry the same audio in the same format
func (f Frame) Equal(other Frame) bool {
	return f.SampleRate == other.SampleRate &&
		f.Channels == other.Channels &&
		bytes.Equal(f.pcm, other.pcm)
}

// Decode turns a base64 wire payload into a frame
func Decode(text string, sampleRate, channels int) (Frame, error) {
	pcm, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return Frame{}, &DecodeError{Size: len(text), Err: fmt.Errorf("%w: %v", ErrInvalidEncoding, err)}
	}
	return NewFrame(pcm, sampleRate, channels), nil
}

// Encode turns a frame into its base64 wire payload
func Encode(f Frame) string {
	return base64.StdEncoding.EncodeToString(f.pcm)
}
