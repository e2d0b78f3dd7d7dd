package httpserver

import (
	"context"
	"encoding/base64"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/prepvox/prepvox/internal/audio"
	"github.com/prepvox/prepvox/internal/config"
	"github.com/prepvox/prepvox/internal/interview"
	"github.com/prepvox/prepvox/internal/live"
)

type scriptedStream struct {
	events chan live.ServerEvent

	mu     sync.Mutex
	frames []audio.Frame
	closed bool
}

func (s *scriptedStream) Events() <-chan live.ServerEvent { return s.events }

func (s *scriptedStream) SendFrame(f audio.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
	return nil
}

func (s *scriptedStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		close(s.events)
		s.closed = true
	}
	return nil
}

func (s *scriptedStream) frameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// dialBridge spins up the full server and opens the interview socket.
func dialBridge(t *testing.T, stream *scriptedStream, sessions *fakeSessions) *websocket.Conn {
	t.Helper()

	srv := New(config.Config{FrontendURL: "http://localhost:3000", DefaultRole: "software engineering"}, Deps{
		Sessions: sessions,
		Connect: func(role string) interview.Connector {
			if role != "backend engineering" {
				t.Errorf("connector got role %q", role)
			}
			return interview.ConnectorFunc(func(context.Context) (interview.Stream, error) {
				return stream, nil
			})
		},
	})
	ts := httptest.NewServer(srv.Echo)
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/interview"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readUntil reads frames until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) serverMessage {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		var msg serverMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %q message: %v", msgType, err)
		}
		if msg.Type == msgType {
			return msg
		}
	}
}

func TestBridgeFullInterview(t *testing.T) {
	stream := &scriptedStream{events: make(chan live.ServerEvent, 16)}
	sessions := &fakeSessions{}
	conn := dialBridge(t, stream, sessions)

	if err := conn.WriteJSON(clientMessage{Type: "start", Role: "backend engineering"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	status := readUntil(t, conn, "status")
	if status.State != "connecting" {
		t.Fatalf("first status = %q, want connecting", status.State)
	}
	status = readUntil(t, conn, "status")
	if status.State != "active" {
		t.Fatalf("second status = %q, want active", status.State)
	}
	if status.SessionID == "" {
		t.Fatal("active status has no session id")
	}

	// Microphone frames flow to the model stream.
	if err := conn.WriteJSON(clientMessage{Type: "audio", Data: "aGVsbG8="}); err != nil {
		t.Fatalf("audio: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for stream.frameCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("microphone frame never reached the stream")
		}
		time.Sleep(time.Millisecond)
	}

	// A model turn produces a transcript frame and an audio frame.
	pcm := make([]byte, 2*audio.OutputSampleRate/10) // 100ms
	stream.events <- live.ServerEvent{
		OutputTranscription: "Tell me about yourself.",
		TurnComplete:        true,
		Audio:               pcm,
	}
	entry := readUntil(t, conn, "transcript")
	if entry.Speaker != "Interviewer" || entry.Text != "Tell me about yourself." {
		t.Fatalf("transcript = %+v", entry)
	}
	audioMsg := readUntil(t, conn, "audio")
	if audioMsg.Duration != 0.1 {
		t.Fatalf("audio duration = %v, want 0.1", audioMsg.Duration)
	}
	decoded, err := base64.StdEncoding.DecodeString(audioMsg.Data)
	if err != nil {
		t.Fatalf("audio payload not base64: %v", err)
	}
	if len(decoded) != len(pcm) {
		t.Fatalf("audio payload %d bytes, want %d", len(decoded), len(pcm))
	}

	// Stop ends the session and the transcript gets persisted.
	if err := conn.WriteJSON(clientMessage{Type: "stop"}); err != nil {
		t.Fatalf("stop: %v", err)
	}
	activeID := status.SessionID
	status = readUntil(t, conn, "status")
	if status.State != "ended" {
		t.Fatalf("final status = %q, want ended", status.State)
	}
	if status.SessionID != activeID {
		t.Fatalf("ended status session id = %q, want %q", status.SessionID, activeID)
	}

	deadline = time.Now().Add(3 * time.Second)
	for len(sessions.saved()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("session was never persisted")
		}
		time.Sleep(10 * time.Millisecond)
	}
	rec := sessions.saved()[0]
	if len(rec.Transcription) != 1 || rec.Metrics.QuestionsAsked != 1 {
		t.Fatalf("persisted record = %+v", rec)
	}
}

func TestBridgeMicDenied(t *testing.T) {
	stream := &scriptedStream{events: make(chan live.ServerEvent, 16)}
	sessions := &fakeSessions{}
	conn := dialBridge(t, stream, sessions)

	if err := conn.WriteJSON(clientMessage{Type: "start", Role: "backend engineering"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	readUntil(t, conn, "status") // connecting
	readUntil(t, conn, "status") // active

	if err := conn.WriteJSON(clientMessage{Type: "mic_denied"}); err != nil {
		t.Fatalf("mic_denied: %v", err)
	}
	status := readUntil(t, conn, "status")
	if status.State != "error" {
		t.Fatalf("status = %q, want error", status.State)
	}
	errMsg := readUntil(t, conn, "error")
	if !strings.Contains(errMsg.Message, "microphone") {
		t.Fatalf("error message = %q", errMsg.Message)
	}

	time.Sleep(50 * time.Millisecond)
	if len(sessions.saved()) != 0 {
		t.Fatal("denied session was persisted")
	}
}

func TestBridgeUnknownMessageType(t *testing.T) {
	stream := &scriptedStream{events: make(chan live.ServerEvent, 16)}
	conn := dialBridge(t, stream, &fakeSessions{})

	if err := conn.WriteJSON(clientMessage{Type: "bogus"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	errMsg := readUntil(t, conn, "error")
	if !strings.Contains(errMsg.Message, "unknown message type") {
		t.Fatalf("error message = %q", errMsg.Message)
	}
}
