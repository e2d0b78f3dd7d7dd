// Package live implements the bidirectional streaming session with the
// Gemini Live API: connect with a configuration payload, stream base64
// PCM microphone frames out, and read interleaved transcription, audio
// and turn events back.
package live

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/prepvox/prepvox/internal/audio"
)

const (
	defaultEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	connectTimeout = 15 * time.Second
	writeTimeout   = 10 * time.Second
)

// Config parameterizes one live session.
type Config struct {
	APIKey            string
	Model             string
	Voice             string
	SystemInstruction string

	// Endpoint overrides the remote websocket URL. Empty means the
	// production Gemini endpoint.
	Endpoint string
}

// Client dials live sessions.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
}

// NewClient constructs a live client for the given configuration.
func NewClient(cfg Config) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	return &Client{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: connectTimeout},
	}
}

// setupMessage is the connect handshake payload.
type setupMessage struct {
	Setup setupPayload `json:"setup"`
}

type setupPayload struct {
	Model                    string           `json:"model"`
	GenerationConfig         generationConfig `json:"generationConfig"`
	SystemInstruction        *systemContent   `json:"systemInstruction,omitempty"`
	InputAudioTranscription  struct{}         `json:"inputAudioTranscription"`
	OutputAudioTranscription struct{}         `json:"outputAudioTranscription"`
}

type generationConfig struct {
	ResponseModalities []string     `json:"responseModalities"`
	SpeechConfig       speechConfig `json:"speechConfig"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoice `json:"prebuiltVoiceConfig"`
}

type prebuiltVoice struct {
	VoiceName string `json:"voiceName"`
}

type systemContent struct {
	Parts []contentPart `json:"parts"`
}

// realtimeInputMessage carries one outbound audio frame.
type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []audio.Frame `json:"mediaChunks"`
}

// Session is one open live websocket session. Events are delivered on a
// buffered channel fed by a single read loop; the channel closes when the
// session ends for any reason.
type Session struct {
	conn   *websocket.Conn
	events chan ServerEvent
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool

	errMu sync.Mutex
	err   error
}

// Connect dials the remote endpoint and performs the setup handshake. The
// context bounds the dial; an explicit timeout applies when the context
// carries no deadline.
func (c *Client) Connect(ctx context.Context) (*Session, error) {
	if c.cfg.APIKey == "" {
		return nil, fmt.Errorf("live: api key missing")
	}
	if c.cfg.Model == "" {
		return nil, fmt.Errorf("live: model missing")
	}

	u, err := url.Parse(c.cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("live: bad endpoint: %w", err)
	}
	q := u.Query()
	q.Set("key", c.cfg.APIKey)
	u.RawQuery = q.Encode()

	dialCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, connectTimeout)
		defer cancel()
	}

	conn, resp, err := c.dialer.DialContext(dialCtx, u.String(), http.Header{})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("live: dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("live: dial failed: %w", err)
	}

	setup := setupMessage{Setup: setupPayload{
		Model: modelPath(c.cfg.Model),
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: speechConfig{
				VoiceConfig: voiceConfig{PrebuiltVoiceConfig: prebuiltVoice{VoiceName: c.cfg.Voice}},
			},
		},
	}}
	if c.cfg.SystemInstruction != "" {
		setup.Setup.SystemInstruction = &systemContent{Parts: []contentPart{{Text: c.cfg.SystemInstruction}}}
	}
	if err := conn.WriteJSON(setup); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("live: send setup: %w", err)
	}

	// The first frame acknowledges setup before any content flows.
	_ = conn.SetReadDeadline(time.Now().Add(connectTimeout))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("live: read setup ack: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	first, err := parseServerEvent(payload)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if first.Err != nil {
		_ = conn.Close()
		return nil, first.Err
	}

	s := &Session{
		conn:   conn,
		events: make(chan ServerEvent, 256),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// modelPath normalizes a bare model id to the models/ resource name.
func modelPath(model string) string {
	if strings.HasPrefix(model, "models/") {
		return model
	}
	return "models/" + model
}

// Events yields inbound server events in arrival order.
func (s *Session) Events() <-chan ServerEvent { return s.events }

// SendFrame transmits one encoded audio frame. Each call is independent
// and best-effort: callers drop the frame on error and keep capturing.
func (s *Session) SendFrame(f audio.Frame) error {
	if s.closed.Load() {
		return fmt.Errorf("live: session is closed")
	}
	msg := realtimeInputMessage{RealtimeInput: realtimeInput{MediaChunks: []audio.Frame{f}}}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(msg)
}

// Close shuts the session down: a best-effort close frame, then the
// underlying connection. Safe to call repeatedly; it waits for the read
// loop to drain.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(2*time.Second))
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
	<-s.done
	return nil
}

// Err returns the terminal session error, if any, once the session ends.
func (s *Session) Err() error {
	<-s.done
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Session) setErr(err error) {
	if err == nil {
		return
	}
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *Session) readLoop() {
	defer close(s.done)
	defer close(s.events)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.emit(ServerEvent{Closed: true})
				return
			}
			s.setErr(err)
			s.emit(ServerEvent{Err: err})
			return
		}

		ev, perr := parseServerEvent(data)
		if perr != nil {
			// A frame we cannot decode at all is logged and skipped; the
			// stream itself stays healthy.
			log.Printf("live: %v", perr)
			continue
		}
		if ev.Err != nil {
			s.setErr(ev.Err)
		}
		if ev.Empty() {
			continue
		}
		s.emit(ev)
		if ev.Err != nil || ev.Closed {
			return
		}
	}
}

func (s *Session) emit(ev ServerEvent) {
	if ev.Err != nil || ev.Closed {
		// A terminal event must reach the consumer even under
		// backpressure; the read loop exits right after it.
		s.events <- ev
		return
	}
	select {
	case s.events <- ev:
	default:
		// Do not deadlock the read loop if the consumer stalls.
		log.Printf("live: dropping event, consumer not keeping up")
	}
}
