// Package transcript accumulates streamed transcription fragments and turns
// them into a finalized, ordered interview transcript.
package transcript

import (
	"strings"
	"time"
)

// Speaker identifies who produced an utterance.
type Speaker string

const (
	SpeakerUser        Speaker = "You"
	SpeakerInterviewer Speaker = "Interviewer"
)

// Entry is one finalized utterance. Entries are immutable once committed.
type Entry struct {
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Assembler holds one pending buffer per speaker and the committed,
// append-only transcript. Partial fragments never leave the assembler;
// only committed entries are exposed. The assembler is not safe for
// concurrent use: the session coordinator owns it and touches it from a
// single event loop.
type Assembler struct {
	pendingInput  strings.Builder
	pendingOutput strings.Builder

	entries   []Entry
	questions int
	answers   int

	now func() time.Time
}

// NewAssembler returns an empty assembler.
func NewAssembler() *Assembler {
	return &Assembler{now: time.Now}
}

// AppendInput appends a partial input-transcription fragment (the user).
func (a *Assembler) AppendInput(text string) {
	a.pendingInput.WriteString(text)
}

// AppendOutput appends a partial output-transcription fragment (the model).
func (a *Assembler) AppendOutput(text string) {
	a.pendingOutput.WriteString(text)
}

// CompleteTurn finalizes the current turn: each non-empty pending buffer
// becomes one committed entry (user first), counters advance, and both
// buffers are cleared regardless of content.
func (a *Assembler) CompleteTurn() {
	userText := strings.TrimSpace(a.pendingInput.String())
	modelText := strings.TrimSpace(a.pendingOutput.String())

	if userText != "" {
		a.commit(SpeakerUser, userText)
		a.answers++
	}
	if modelText != "" {
		a.commit(SpeakerInterviewer, modelText)
		a.questions++
	}

	a.pendingInput.Reset()
	a.pendingOutput.Reset()
}

func (a *Assembler) commit(speaker Speaker, text string) {
	a.entries = append(a.entries, Entry{Speaker: speaker, Text: text, Timestamp: a.now()})
}

// Entries returns a copy of the committed transcript in commit order.
func (a *Assembler) Entries() []Entry {
	out := make([]Entry, len(a.entries))
	copy(out, a.entries)
	return out
}

// Questions reports how many interviewer utterances were committed.
func (a *Assembler) Questions() int { return a.questions }

// Answers reports how many user utterances were committed.
func (a *Assembler) Answers() int { return a.answers }

// PendingEmpty reports whether both pending buffers are empty.
func (a *Assembler) PendingEmpty() bool {
	return a.pendingInput.Len() == 0 && a.pendingOutput.Len() == 0
}

// Reset drops all pending and committed state for a fresh session.
func (a *Assembler) Reset() {
	a.pendingInput.Reset()
	a.pendingOutput.Reset()
	a.entries = nil
	a.questions = 0
	a.answers = 0
}
