// Package interview coordinates one real-time voice interview: it owns the
// live session transport, routes inbound server events to the transcript
// assembler and playback scheduler, and hands the finished transcript to
// the recorder. All shared session state is owned by a single event loop;
// producers only enqueue.
package interview

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/prepvox/prepvox/internal/audio"
	"github.com/prepvox/prepvox/internal/live"
	"github.com/prepvox/prepvox/internal/transcript"
)

var (
	// ErrSessionActive is returned by Start while a session is already
	// connecting or active.
	ErrSessionActive = errors.New("interview: session already in progress")
	// ErrPermissionDenied reports that the client refused microphone access.
	ErrPermissionDenied = errors.New("interview: microphone permission denied")
)

// defaultSaveDelay lets in-flight commits settle before persistence runs.
const defaultSaveDelay = time.Second

// Session is the coordinator for voice interviews. A Session is
// restartable: every Start fully reinitializes state, and at most one
// run is live at a time.
type Session struct {
	connector Connector
	recorder  Recorder
	cb        Callbacks

	// SaveDelay is the deliberate pause between the Ended transition and
	// the asynchronous persistence call.
	SaveDelay time.Duration

	newClock func() audio.Clock

	mu     sync.Mutex
	state  State
	gen    int
	run    *run
	lastID string
}

// run bundles the resources owned by one session start. They are
// invalidated together at cleanup so late callbacks find nothing to
// operate on.
type run struct {
	id        string
	stream    Stream
	assembler *transcript.Assembler
	sched     *audio.Scheduler
	startTime time.Time
	endTime   time.Time
	cleaned   bool
	saved     bool
}

// NewSession constructs an idle coordinator.
func NewSession(connector Connector, recorder Recorder, cb Callbacks) *Session {
	return &Session{
		connector: connector,
		recorder:  recorder,
		cb:        cb,
		SaveDelay: defaultSaveDelay,
		newClock:  func() audio.Clock { return audio.NewSessionClock() },
		state:     StateIdle,
	}
}

// sinkFunc adapts the OnAudio callback to the scheduler's sink.
type sinkFunc func(u audio.Unit)

func (f sinkFunc) Play(u audio.Unit) { f(u) }

// Start connects to the remote model and begins the session. It blocks
// until the connect handshake resolves. Starting while a session is
// connecting or active fails with ErrSessionActive.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateConnecting || s.state == StateActive {
		s.mu.Unlock()
		return ErrSessionActive
	}
	s.gen++
	gen := s.gen
	s.state = StateConnecting
	s.run = nil
	s.lastID = ""
	s.mu.Unlock()
	s.emitState(StateConnecting)

	stream, err := s.connector.Connect(ctx)
	if err != nil {
		s.mu.Lock()
		if s.gen == gen {
			s.state = StateError
		}
		s.mu.Unlock()
		s.emitState(StateError)
		werr := fmt.Errorf("interview: connect: %w", err)
		if s.cb.OnError != nil {
			s.cb.OnError(werr)
		}
		return werr
	}

	s.mu.Lock()
	if s.gen != gen || s.state != StateConnecting {
		// The session was torn down while the handshake was in flight
		// (e.g. microphone denial reported by the client).
		s.mu.Unlock()
		go closeStream(stream)
		return fmt.Errorf("interview: session aborted during connect")
	}
	r := &run{
		id:        newSessionID(),
		stream:    stream,
		assembler: transcript.NewAssembler(),
		startTime: time.Now(),
	}
	var onAudio sinkFunc = func(u audio.Unit) {
		if s.cb.OnAudio != nil {
			s.cb.OnAudio(u)
		}
	}
	r.sched = audio.NewScheduler(s.newClock(), onAudio, audio.OutputSampleRate)
	s.run = r
	s.lastID = r.id
	s.state = StateActive
	s.mu.Unlock()
	s.emitState(StateActive)

	go s.loop(r)
	return nil
}

// loop is the single consumer of inbound server events. Ordering within
// one event is fixed; ordering across events is arrival order.
func (s *Session) loop(r *run) {
	for ev := range r.stream.Events() {
		s.apply(r, ev)
	}
	// The channel can close without a terminal event reaching us. That
	// still ends the session; finish is a no-op if a terminal facet or
	// End already ran.
	s.finish(r, true)
}

// apply acts on every facet an event carries, in order: input fragment,
// output fragment, turn commit, audio payload, then terminal facets.
func (s *Session) apply(r *run, ev live.ServerEvent) {
	s.mu.Lock()
	if r.cleaned {
		// Event raced with teardown; its resources are gone.
		s.mu.Unlock()
		return
	}

	if ev.InputTranscription != "" {
		r.assembler.AppendInput(ev.InputTranscription)
	}
	if ev.OutputTranscription != "" {
		r.assembler.AppendOutput(ev.OutputTranscription)
	}

	var committed []transcript.Entry
	if ev.TurnComplete {
		before := len(r.assembler.Entries())
		r.assembler.CompleteTurn()
		committed = r.assembler.Entries()[before:]
	}
	sched := r.sched
	s.mu.Unlock()

	for _, e := range committed {
		log.Printf("interview: [%s] %s", e.Speaker, e.Text)
		if s.cb.OnTranscript != nil {
			s.cb.OnTranscript(e)
		}
	}

	if len(ev.Audio) > 0 {
		if _, err := sched.Enqueue(ev.Audio); err != nil {
			// Malformed payloads do not abort the session.
			log.Printf("interview: audio payload dropped: %v", err)
			if s.cb.OnAudioDropped != nil {
				s.cb.OnAudioDropped(err)
			}
		}
	}
	if ev.Interrupted {
		log.Printf("interview: model turn interrupted")
	}

	if ev.Err != nil {
		s.fail(r, fmt.Errorf("interview: remote session error: %w", ev.Err))
		return
	}
	if ev.Closed {
		s.finish(r, true)
	}
}

// ForwardAudio sends one already-encoded base64 PCM frame to the model.
// Best-effort: outside the active state frames are dropped, and a send
// failure is logged without halting capture.
func (s *Session) ForwardAudio(data string) {
	s.sendFrame(audio.Frame{Data: data, MIMEType: audio.InputMIMEType})
}

// SendAudio converts float samples in [-1, 1] to the wire format and
// sends them as one frame.
func (s *Session) SendAudio(samples []float32) {
	s.sendFrame(audio.EncodeFrame(samples))
}

func (s *Session) sendFrame(f audio.Frame) {
	s.mu.Lock()
	var stream Stream
	if s.state == StateActive && s.run != nil && !s.run.cleaned {
		stream = s.run.stream
	}
	s.mu.Unlock()
	if stream == nil {
		return
	}
	if err := stream.SendFrame(f); err != nil {
		log.Printf("interview: frame dropped: %v", err)
	}
}

// End gracefully terminates the active session, releasing all resources
// and scheduling persistence of the finished transcript.
func (s *Session) End() {
	s.mu.Lock()
	r := s.run
	if s.state != StateActive || r == nil {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.finish(r, true)
}

// MicDenied reports that the client could not acquire the microphone.
// Fatal: the session transitions to Error and every resource is released,
// even when the connect handshake is still in flight.
func (s *Session) MicDenied() {
	s.mu.Lock()
	r := s.run
	if r == nil {
		// Still connecting; poison the in-flight start.
		if s.state == StateConnecting {
			s.state = StateError
			s.mu.Unlock()
			s.emitState(StateError)
			if s.cb.OnError != nil {
				s.cb.OnError(ErrPermissionDenied)
			}
			return
		}
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.fail(r, ErrPermissionDenied)
}

// fail moves the session to Error and runs the cleanup path. Persistence
// is never triggered from here.
func (s *Session) fail(r *run, err error) {
	s.mu.Lock()
	if r.cleaned {
		s.mu.Unlock()
		return
	}
	s.state = StateError
	r.endTime = time.Now()
	s.cleanupLocked(r)
	s.mu.Unlock()

	log.Printf("interview: session %s failed: %v", r.id, err)
	s.emitState(StateError)
	if s.cb.OnError != nil {
		s.cb.OnError(err)
	}
}

// finish moves the session to Ended, releases resources, and (for a
// graceful end) schedules the asynchronous persistence call.
func (s *Session) finish(r *run, persist bool) {
	s.mu.Lock()
	if r.cleaned {
		s.mu.Unlock()
		return
	}
	if s.state == StateError {
		// A remote close after a failure does not resurrect the session.
		s.cleanupLocked(r)
		s.mu.Unlock()
		return
	}
	s.state = StateEnded
	r.endTime = time.Now()
	rec := s.recordLocked(r)
	shouldSave := persist && !r.saved
	if shouldSave {
		r.saved = true
	}
	s.cleanupLocked(r)
	delay := s.SaveDelay
	s.mu.Unlock()

	s.emitState(StateEnded)
	if shouldSave && s.recorder != nil {
		time.AfterFunc(delay, func() { s.save(rec) })
	}
}

// cleanupLocked releases every resource owned by the run exactly once:
// in-flight playback units are force-stopped, the remote handle is closed
// best-effort, and the run is detached so late callbacks find nothing.
func (s *Session) cleanupLocked(r *run) {
	if r.cleaned {
		return
	}
	r.cleaned = true
	r.sched.Stop()
	go closeStream(r.stream)
	if s.run == r {
		s.run = nil
	}
}

func closeStream(st Stream) {
	if err := st.Close(); err != nil {
		log.Printf("interview: closing remote session: %v", err)
	}
}

func (s *Session) save(rec Record) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.recorder.SaveVoiceSession(ctx, rec); err != nil {
		log.Printf("interview: saving session %s: %v", rec.SessionID, err)
		if s.cb.OnSaveError != nil {
			s.cb.OnSaveError(err)
		}
		if s.cb.OnNotice != nil {
			s.cb.OnNotice("Failed to save interview session")
		}
		return
	}
	log.Printf("interview: session %s saved (%d entries)", rec.SessionID, len(rec.Transcription))
	if s.cb.OnNotice != nil {
		s.cb.OnNotice("Interview session saved")
	}
}

// recordLocked snapshots the finished session for persistence.
func (s *Session) recordLocked(r *run) Record {
	end := r.endTime
	if end.IsZero() {
		end = time.Now()
	}
	return Record{
		SessionID:     r.id,
		Transcription: r.assembler.Entries(),
		Metrics: Metrics{
			StartTime:      r.startTime,
			EndTime:        end,
			TotalDuration:  end.Sub(r.startTime).Seconds(),
			QuestionsAsked: r.assembler.Questions(),
			AnswersGiven:   r.assembler.Answers(),
		},
	}
}

// State reports the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SessionID returns the current run's id. After a run ends it keeps
// returning that run's id until the next Start, so terminal state
// notifications can still be correlated.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run != nil {
		return s.run.id
	}
	return s.lastID
}

func (s *Session) emitState(st State) {
	if s.cb.OnState != nil {
		s.cb.OnState(st)
	}
}

func newSessionID() string {
	return "session_" + strconv.FormatInt(time.Now().UnixMilli(), 10)
}
