package interview

import (
	"context"
	"time"

	"github.com/prepvox/prepvox/internal/audio"
	"github.com/prepvox/prepvox/internal/live"
	"github.com/prepvox/prepvox/internal/transcript"
)

// State is the lifecycle of one voice interview session.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateActive     State = "active"
	StateEnded      State = "ended"
	StateError      State = "error"
)

// Stream is the open bidirectional session with the remote model.
type Stream interface {
	Events() <-chan live.ServerEvent
	SendFrame(f audio.Frame) error
	Close() error
}

// Connector dials a new Stream. *live.Client satisfies it through
// ConnectorFunc.
type Connector interface {
	Connect(ctx context.Context) (Stream, error)
}

// ConnectorFunc adapts a dial function to Connector.
type ConnectorFunc func(ctx context.Context) (Stream, error)

func (f ConnectorFunc) Connect(ctx context.Context) (Stream, error) { return f(ctx) }

// Metrics is the derived summary of one finished session.
type Metrics struct {
	StartTime      time.Time `json:"startTime"`
	EndTime        time.Time `json:"endTime"`
	TotalDuration  float64   `json:"totalDuration"`
	QuestionsAsked int       `json:"questionsAsked"`
	AnswersGiven   int       `json:"answersGiven"`
}

// Record is what the recorder persists for one finished session.
type Record struct {
	SessionID     string             `json:"sessionId"`
	Transcription []transcript.Entry `json:"transcription"`
	Metrics       Metrics            `json:"metrics"`
}

// Recorder durably stores a finished session. Failures are non-fatal:
// logged and surfaced as a notice, never retried.
type Recorder interface {
	SaveVoiceSession(ctx context.Context, rec Record) error
}

// Callbacks surface session activity to the caller (the client bridge).
// Every field is optional.
type Callbacks struct {
	// OnState fires on every state transition.
	OnState func(state State)
	// OnTranscript fires once per committed transcript entry.
	OnTranscript func(e transcript.Entry)
	// OnAudio fires for each scheduled playback unit, carrying its exact
	// start offset on the output clock.
	OnAudio func(u audio.Unit)
	// OnNotice carries non-fatal, user-visible notifications.
	OnNotice func(msg string)
	// OnError carries the fatal session error on the Error transition.
	OnError func(err error)
	// OnAudioDropped fires when a malformed audio payload is discarded.
	OnAudioDropped func(err error)
	// OnSaveError fires when persisting the finished session fails.
	OnSaveError func(err error)
}
