package httpserver

import (
	"encoding/base64"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/prepvox/prepvox/internal/audio"
	"github.com/prepvox/prepvox/internal/interview"
	"github.com/prepvox/prepvox/internal/transcript"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin: func(r *http.Request) bool {
		// Allow any origin for demo use; restrict in production
		return true
	},
}

// clientMessage is one inbound frame on the interview socket.
// Types: "start", "audio", "stop", "mic_denied".
type clientMessage struct {
	Type string `json:"type"`
	// start
	Role string `json:"role,omitempty"`
	// audio: base64 16 kHz PCM from the microphone
	Data string `json:"data,omitempty"`
}

// serverMessage is one outbound frame on the interview socket.
// Types: "status", "transcript", "audio", "notice", "error".
type serverMessage struct {
	Type      string    `json:"type"`
	State     string    `json:"state,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	Speaker   string    `json:"speaker,omitempty"`
	Text      string    `json:"text,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
	// audio: base64 24 kHz PCM plus its slot on the playback timeline
	Data     string  `json:"data,omitempty"`
	StartAt  float64 `json:"startAt,omitempty"`
	Duration float64 `json:"duration,omitempty"`
	Message  string  `json:"message,omitempty"`
}

// bridge pumps one browser connection into one interview session. Writes
// to the socket are serialized; reads stay on the handler goroutine.
type bridge struct {
	server *Server
	conn   *websocket.Conn

	writeMu sync.Mutex

	mu       sync.Mutex
	sess     *interview.Session
	activeAt time.Time
}

func (s *Server) handleInterviewSocket(c echo.Context) error {
	conn, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		c.Logger().Errorf("ws upgrade error: %v", err)
		return nil
	}
	defer func() { _ = conn.Close() }()

	b := &bridge{server: s, conn: conn}
	b.run(c)
	return nil
}

func (b *bridge) run(c echo.Context) {
	for {
		var msg clientMessage
		if err := b.conn.ReadJSON(&msg); err != nil {
			// Socket gone: end gracefully so the transcript is saved.
			b.mu.Lock()
			sess := b.sess
			b.mu.Unlock()
			if sess != nil {
				sess.End()
			}
			return
		}

		switch msg.Type {
		case "start":
			b.handleStart(c, msg.Role)
		case "audio":
			b.mu.Lock()
			sess := b.sess
			b.mu.Unlock()
			if sess != nil {
				sess.ForwardAudio(msg.Data)
				if m := b.server.deps.Metrics; m != nil {
					m.FramesForwarded.Inc()
				}
			}
		case "stop":
			b.mu.Lock()
			sess := b.sess
			b.mu.Unlock()
			if sess != nil {
				sess.End()
			}
		case "mic_denied":
			b.mu.Lock()
			sess := b.sess
			b.mu.Unlock()
			if sess != nil {
				sess.MicDenied()
			}
		default:
			b.send(serverMessage{Type: "error", Message: "unknown message type: " + msg.Type})
		}
	}
}

func (b *bridge) handleStart(c echo.Context, role string) {
	if role == "" {
		role = b.server.cfg.DefaultRole
	}

	b.mu.Lock()
	if b.sess != nil && (b.sess.State() == interview.StateConnecting || b.sess.State() == interview.StateActive) {
		b.mu.Unlock()
		b.send(serverMessage{Type: "error", Message: "session already in progress"})
		return
	}

	var recorder interview.Recorder
	if b.server.deps.Sessions != nil {
		recorder = b.server.deps.Sessions
	}
	sess := interview.NewSession(b.server.deps.Connect(role), recorder, interview.Callbacks{
		OnState:      b.onState,
		OnTranscript: b.onTranscript,
		OnAudio:      b.onAudio,
		OnNotice:     func(msg string) { b.send(serverMessage{Type: "notice", Message: msg}) },
		OnError:      func(err error) { b.send(serverMessage{Type: "error", Message: err.Error()}) },
		OnAudioDropped: func(error) {
			if m := b.server.deps.Metrics; m != nil {
				m.PayloadsDropped.Inc()
			}
		},
		OnSaveError: func(error) {
			if m := b.server.deps.Metrics; m != nil {
				m.SaveFailures.Inc()
			}
		},
	})
	b.sess = sess
	b.mu.Unlock()

	// Connect without blocking the read loop; a mic_denied frame may
	// arrive while the handshake is in flight.
	go func() {
		if err := sess.Start(c.Request().Context()); err != nil {
			c.Logger().Errorf("interview start: %v", err)
		}
	}()
}

func (b *bridge) onState(st interview.State) {
	b.mu.Lock()
	var sessionID string
	if b.sess != nil {
		sessionID = b.sess.SessionID()
	}
	if m := b.server.deps.Metrics; m != nil {
		switch st {
		case interview.StateActive:
			b.activeAt = time.Now()
			m.RecordSessionStarted()
		case interview.StateEnded:
			if !b.activeAt.IsZero() {
				m.RecordSessionEnded(time.Since(b.activeAt).Seconds())
				b.activeAt = time.Time{}
			}
		case interview.StateError:
			if !b.activeAt.IsZero() {
				m.RecordSessionFailed()
				b.activeAt = time.Time{}
			}
		}
	}
	b.mu.Unlock()

	b.send(serverMessage{Type: "status", State: string(st), SessionID: sessionID})
}

func (b *bridge) onTranscript(e transcript.Entry) {
	if m := b.server.deps.Metrics; m != nil {
		m.RecordEntryCommitted(string(e.Speaker))
	}
	b.send(serverMessage{
		Type:      "transcript",
		Speaker:   string(e.Speaker),
		Text:      e.Text,
		Timestamp: e.Timestamp,
	})
}

func (b *bridge) onAudio(u audio.Unit) {
	if m := b.server.deps.Metrics; m != nil {
		m.UnitsScheduled.Inc()
	}
	b.send(serverMessage{
		Type:     "audio",
		Data:     base64.StdEncoding.EncodeToString(audio.FloatToPCM16(u.Samples)),
		StartAt:  u.StartAt.Seconds(),
		Duration: u.Duration.Seconds(),
	})
}

func (b *bridge) send(msg serverMessage) {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	_ = b.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_ = b.conn.WriteJSON(msg)
}
