package main

import (
	"flag"
	"io"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"time"

	"github.com/room4-2/livebridge/audio"
	"github.com/room4-2/livebridge/messages"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

// clientMessage is what the bridge accepts
type clientMessage struct {
	Type      string `json:"type"`
	Voice     string `json:"voice,omitempty"`
	Data      string `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// AudioPlayer streams audio via sox
type AudioPlayer struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	mu     sync.Mutex
	closed bool
}

func NewAudioPlayer() *AudioPlayer {
	cmd := exec.Command("sox",
		"-t", "raw",
		"-r", "24000",
		"-b", "16",
		"-c", "1",
		"-e", "signed-integer",
		"-",
		"-d",
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		log.Println("sox stdin error:", err)
		return nil
	}

	if err := cmd.Start(); err != nil {
		log.Println("sox start error:", err)
		return nil
	}

	return &AudioPlayer{cmd: cmd, stdin: stdin}
}

func (p *AudioPlayer) Play(audioData []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.stdin == nil {
		return
	}
	p.stdin.Write(audioData)
}

func (p *AudioPlayer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	if p.stdin != nil {
		p.stdin.Close()
	}
	if p.cmd != nil && p.cmd.Process != nil {
		p.cmd.Wait()
	}
}

func main() {
	// Flags
	serverURL := flag.String("server", "ws://localhost:8080/ws", "WebSocket server URL")
	audioFile := flag.String("file", "examples/user.pcm", "Audio file to send (16kHz mono PCM16 or WAV)")
	voice := flag.String("voice", "", "Voice to request (empty uses the server default)")
	binary := flag.Bool("binary", false, "Send audio as binary frames instead of JSON audio_chunk messages")
	flag.Parse()

	log.Printf("🔌 Connecting to %s...", *serverURL)

	// Connect to server
	conn, _, err := websocket.DefaultDialer.Dial(*serverURL, nil)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	log.Println("✅ Connected!")

	// Setup audio player
	player := NewAudioPlayer()
	if player == nil {
		log.Fatal("Failed to create audio player (is sox installed?)")
	}
	defer player.Close()

	// Handle interrupt
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	done := make(chan struct{})
	connected := make(chan struct{})
	var connectedOnce sync.Once

	// Read responses from server
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				log.Println("Read error:", err)
				return
			}

			var msg messages.ServerMessage
			if err := sonic.Unmarshal(data, &msg); err != nil {
				log.Println("Parse error:", err)
				continue
			}

			switch msg.Type {
			case messages.TypeConnected:
				log.Printf("📊 %s (voice %s)", msg.Message, msg.Voice)
				connectedOnce.Do(func() { close(connected) })

			case messages.TypeAudioResponse:
				frame, err := audio.Decode(msg.Data, audio.OutputSampleRate, audio.Mono)
				if err == nil {
					log.Printf("🔊 Playing audio: %d bytes", frame.Len())
					player.Play(frame.Bytes())
				}

			case messages.TypeTranscription:
				log.Printf("💬 %s", msg.Text)

			case messages.TypeAITranscription:
				log.Printf("📝 Gemini: %s", msg.Text)

			case messages.TypeToolCall:
				log.Printf("🔧 Tool call: %s %v", msg.Tool, msg.Args)

			case messages.TypeInterrupted:
				log.Println("✋ Interrupted")

			case messages.TypeTurnComplete:
				log.Println("--- Turn complete ---")

			case messages.TypeError:
				log.Printf("❌ Error %s: %s", msg.Code, msg.Detail)
			}
		}
	}()

	if err := sendJSON(conn, clientMessage{Type: messages.TypeStart, Voice: *voice}); err != nil {
		log.Fatalf("Failed to send start: %v", err)
	}

	// Wait for connected status
	select {
	case <-connected:
	case <-done:
		log.Fatal("Connection closed before the session started")
	case <-time.After(15 * time.Second):
		log.Fatal("Timed out waiting for the session to start")
	}

	// Load and send audio file
	log.Printf("📤 Sending audio file: %s", *audioFile)

	audioData, err := loadAudioFile(*audioFile)
	if err != nil {
		log.Fatalf("Failed to load audio: %v", err)
	}

	// Send audio in chunks (simulating real-time streaming)
	chunkSize := 3200 // 100ms at 16kHz
	for i := 0; i < len(audioData); i += chunkSize {
		end := i + chunkSize
		if end > len(audioData) {
			end = len(audioData)
		}
		chunk := audioData[i:end]

		if *binary {
			err = conn.WriteMessage(websocket.BinaryMessage, chunk)
		} else {
			frame := audio.NewFrame(chunk, audio.InputSampleRate, audio.Mono)
			err = sendJSON(conn, clientMessage{
				Type:      messages.TypeAudioChunk,
				Data:      audio.Encode(frame),
				Timestamp: time.Now().UnixMilli(),
			})
		}
		if err != nil {
			log.Printf("Send error: %v", err)
			break
		}

		log.Printf("📤 Sent chunk %d/%d (%d bytes)", i/chunkSize+1, (len(audioData)+chunkSize-1)/chunkSize, len(chunk))

		// Simulate real-time streaming pace
		time.Sleep(100 * time.Millisecond)
	}

	if err := sendJSON(conn, clientMessage{Type: messages.TypeEndOfTurn}); err != nil {
		log.Printf("Send error: %v", err)
	}

	log.Println("✅ Audio sent, waiting for response...")

	// Wait for response or interrupt
	select {
	case <-done:
		log.Println("Connection closed")
	case <-interrupt:
		log.Println("\n👋 Interrupted, closing...")
		_ = sendJSON(conn, clientMessage{Type: messages.TypeStop})
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	case <-time.After(30 * time.Second):
		log.Println("⏰ Timeout waiting for response")
	}
}

func sendJSON(conn *websocket.Conn, msg clientMessage) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// loadAudioFile loads PCM or WAV file and returns raw PCM bytes
func loadAudioFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Check if it's a WAV file (starts with "RIFF")
	if len(data) > 44 && string(data[0:4]) == "RIFF" {
		// Skip WAV header (44 bytes for standard WAV)
		log.Println("📁 Detected WAV file, skipping header")
		return data[44:], nil
	}

	// Assume raw PCM
	log.Println("📁 Detected raw PCM file")
	return data, nil
}
