package live

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/prepvox/prepvox/internal/audio"
)

// ServerEvent is the strict internal representation of one inbound server
// message, parsed once at the websocket boundary. The facets are
// independent, not mutually exclusive: a single event may carry a
// transcription fragment, an audio payload, and a turn-complete flag all
// at once, and every applicable facet must be acted on.
type ServerEvent struct {
	// InputTranscription is a partial transcript fragment of the user's
	// microphone audio.
	InputTranscription string
	// OutputTranscription is a partial transcript fragment of the model's
	// spoken reply.
	OutputTranscription string
	// TurnComplete marks the end of one conversational turn.
	TurnComplete bool
	// Audio is a decoded inline PCM payload from the model turn.
	Audio []byte
	// Interrupted reports that the model's turn was cut short by new input.
	Interrupted bool
	// Err carries a remote-reported session error. Fatal.
	Err error
	// Closed reports that the remote closed the session.
	Closed bool
}

// serverMessage mirrors the wire shape of BidiGenerateContent responses.
type serverMessage struct {
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	ServerContent *serverContent `json:"serverContent,omitempty"`
	Error         *serverError   `json:"error,omitempty"`
	GoAway        *struct{}      `json:"goAway,omitempty"`
}

type serverContent struct {
	ModelTurn           *modelTurn     `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type modelTurn struct {
	Parts []contentPart `json:"parts"`
}

type contentPart struct {
	InlineData *inlineData `json:"inlineData,omitempty"`
	Text       string      `json:"text,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type transcription struct {
	Text string `json:"text"`
}

type serverError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func (e *serverError) Error() string {
	return fmt.Sprintf("live: remote error %s (code %d): %s", e.Status, e.Code, e.Message)
}

// parseServerEvent decodes one inbound frame. A malformed audio payload is
// logged and dropped without failing the event: the surviving facets still
// apply and the session continues.
func parseServerEvent(data []byte) (ServerEvent, error) {
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ServerEvent{}, fmt.Errorf("live: decode server frame: %w", err)
	}

	var ev ServerEvent
	if msg.Error != nil {
		ev.Err = msg.Error
		return ev, nil
	}
	if msg.GoAway != nil {
		ev.Closed = true
		return ev, nil
	}
	sc := msg.ServerContent
	if sc == nil {
		return ev, nil
	}

	if sc.InputTranscription != nil {
		ev.InputTranscription = sc.InputTranscription.Text
	}
	if sc.OutputTranscription != nil {
		ev.OutputTranscription = sc.OutputTranscription.Text
	}
	ev.TurnComplete = sc.TurnComplete
	ev.Interrupted = sc.Interrupted

	if sc.ModelTurn != nil && len(sc.ModelTurn.Parts) > 0 {
		if inline := sc.ModelTurn.Parts[0].InlineData; inline != nil && inline.Data != "" {
			raw, err := audio.DecodePayload(inline.Data)
			if err != nil {
				log.Printf("live: dropping malformed audio payload: %v", err)
			} else {
				ev.Audio = raw
			}
		}
	}
	return ev, nil
}

// Empty reports whether the event carries no actionable facet.
func (e ServerEvent) Empty() bool {
	return e.InputTranscription == "" && e.OutputTranscription == "" &&
		!e.TurnComplete && len(e.Audio) == 0 && !e.Interrupted &&
		e.Err == nil && !e.Closed
}
