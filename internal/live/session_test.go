package live

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/prepvox/prepvox/internal/audio"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// fakeLiveServer accepts one session: it validates the setup handshake,
// replies setupComplete, then runs script against the connection.
func fakeLiveServer(t *testing.T, script func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") == "" {
			http.Error(w, "missing key", http.StatusUnauthorized)
			return
		}
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		var setup setupMessage
		if err := conn.ReadJSON(&setup); err != nil {
			t.Errorf("read setup: %v", err)
			return
		}
		if !strings.HasPrefix(setup.Setup.Model, "models/") {
			t.Errorf("model not normalized: %q", setup.Setup.Model)
		}
		if got := setup.Setup.GenerationConfig.ResponseModalities; len(got) != 1 || got[0] != "AUDIO" {
			t.Errorf("response modalities = %v", got)
		}
		_ = conn.WriteJSON(map[string]any{"setupComplete": map[string]any{}})
		if script != nil {
			script(conn)
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testClient(srv *httptest.Server) *Client {
	return NewClient(Config{
		APIKey:            "test-key",
		Model:             "gemini-2.5-flash-native-audio-preview-09-2025",
		Voice:             "Zephyr",
		SystemInstruction: "You are an interviewer.",
		Endpoint:          wsURL(srv),
	})
}

func TestConnect_HandshakeAndEvents(t *testing.T) {
	srv := fakeLiveServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteJSON(map[string]any{"serverContent": map[string]any{
			"outputTranscription": map[string]any{"text": "Welcome"},
		}})
		_ = conn.WriteJSON(map[string]any{"serverContent": map[string]any{"turnComplete": true}})
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	})
	defer srv.Close()

	s, err := testClient(srv).Connect(context.Background())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Close()

	var got []ServerEvent
	for ev := range s.Events() {
		got = append(got, ev)
	}
	if len(got) < 3 {
		t.Fatalf("expected fragment + turn + closed, got %d events: %+v", len(got), got)
	}
	if got[0].OutputTranscription != "Welcome" {
		t.Fatalf("first event = %+v", got[0])
	}
	if !got[1].TurnComplete {
		t.Fatalf("second event = %+v", got[1])
	}
	if !got[len(got)-1].Closed {
		t.Fatalf("last event not closed: %+v", got[len(got)-1])
	}
	if s.Err() != nil {
		t.Fatalf("graceful close produced error: %v", s.Err())
	}
}

func TestConnect_MissingConfig(t *testing.T) {
	if _, err := NewClient(Config{Model: "m"}).Connect(context.Background()); err == nil {
		t.Fatalf("expected error without api key")
	}
	if _, err := NewClient(Config{APIKey: "k"}).Connect(context.Background()); err == nil {
		t.Fatalf("expected error without model")
	}
}

func TestConnect_RemoteErrorOnSetup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var setup setupMessage
		_ = conn.ReadJSON(&setup)
		_ = conn.WriteJSON(map[string]any{"error": map[string]any{
			"code": 3, "message": "bad model", "status": "INVALID_ARGUMENT",
		}})
	}))
	defer srv.Close()

	if _, err := testClient(srv).Connect(context.Background()); err == nil {
		t.Fatalf("expected connect to surface remote setup error")
	}
}

func TestSendFrame_DeliveredAndRejectedAfterClose(t *testing.T) {
	frames := make(chan realtimeInputMessage, 1)
	srv := fakeLiveServer(t, func(conn *websocket.Conn) {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg realtimeInputMessage
		if err := json.Unmarshal(data, &msg); err == nil {
			frames <- msg
		}
		// Hold the connection open until the client closes.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	s, err := testClient(srv).Connect(context.Background())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	frame := audio.EncodeFrame([]float32{0.1, -0.1, 0.2})
	if err := s.SendFrame(frame); err != nil {
		t.Fatalf("send frame: %v", err)
	}
	select {
	case msg := <-frames:
		chunks := msg.RealtimeInput.MediaChunks
		if len(chunks) != 1 || chunks[0].MIMEType != audio.InputMIMEType || chunks[0].Data != frame.Data {
			t.Fatalf("unexpected frame on the wire: %+v", chunks)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("frame never reached the server")
	}

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.SendFrame(frame); err == nil {
		t.Fatalf("expected send after close to fail")
	}
}

func TestEmit_TerminalEventSurvivesFullBuffer(t *testing.T) {
	s := &Session{events: make(chan ServerEvent, 2)}
	s.emit(ServerEvent{OutputTranscription: "a"})
	s.emit(ServerEvent{OutputTranscription: "b"})
	// The buffer is full: a content event gets dropped.
	s.emit(ServerEvent{OutputTranscription: "overflow"})

	delivered := make(chan struct{})
	go func() {
		s.emit(ServerEvent{Closed: true})
		close(delivered)
	}()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-s.events:
			if ev.Closed {
				select {
				case <-delivered:
				case <-deadline:
					t.Fatal("emit did not return after delivering the terminal event")
				}
				return
			}
			if ev.OutputTranscription == "overflow" {
				t.Fatal("overflow event was not dropped")
			}
		case <-deadline:
			t.Fatal("terminal event never delivered despite full buffer")
		}
	}
}

func TestClose_Idempotent(t *testing.T) {
	srv := fakeLiveServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	s, err := testClient(srv).Connect(context.Background())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := s.Close(); err != nil {
			t.Fatalf("close %d: %v", i, err)
		}
	}
}
