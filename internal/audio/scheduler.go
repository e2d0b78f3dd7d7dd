package audio

import (
	"sync"
	"time"
)

// Clock is the monotonic virtual output clock playback is scheduled
// against. Zero is the moment the session's output stream opened.
type Clock interface {
	Now() time.Duration
}

// SessionClock is a Clock anchored at a wall-clock instant.
type SessionClock struct {
	start time.Time
}

// NewSessionClock returns a clock whose zero point is now.
func NewSessionClock() *SessionClock {
	return &SessionClock{start: time.Now()}
}

func (c *SessionClock) Now() time.Duration { return time.Since(c.start) }

// Unit is one decoded, scheduled chunk of output audio. StartAt is its
// exact start offset on the virtual clock.
type Unit struct {
	Samples  []float32
	StartAt  time.Duration
	Duration time.Duration
}

// Sink receives scheduled units for delivery (e.g. forwarding to the
// client's speaker leg). Play must not block the scheduler.
type Sink interface {
	Play(u Unit)
}

// Scheduler queues model audio for gapless, strictly ordered playback.
// A monotonic cursor tracks where the next unit must begin: never in the
// past, never before the previous unit ends. Network arrival jitter
// therefore trades into added latency, not overlap or gaps.
type Scheduler struct {
	clock      Clock
	sink       Sink
	sampleRate int

	mu        sync.Mutex
	nextStart time.Duration
	active    map[*Unit]*time.Timer
	stopped   bool
}

// NewScheduler constructs a scheduler for 16-bit mono PCM at sampleRate.
func NewScheduler(clock Clock, sink Sink, sampleRate int) *Scheduler {
	return &Scheduler{
		clock:      clock,
		sink:       sink,
		sampleRate: sampleRate,
		active:     map[*Unit]*time.Timer{},
	}
}

// Enqueue decodes raw 16-bit LE PCM, schedules it at the cursor, and
// advances the cursor by the buffer's duration. The unit is delivered to
// the sink immediately with its scheduled start; a completion timer
// removes it from the active set when playback finishes.
func (s *Scheduler) Enqueue(pcm []byte) (Unit, error) {
	samples, err := PCM16ToFloat(pcm)
	if err != nil {
		return Unit{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return Unit{}, nil
	}

	if now := s.clock.Now(); s.nextStart < now {
		s.nextStart = now
	}
	u := &Unit{
		Samples:  samples,
		StartAt:  s.nextStart,
		Duration: PCMDuration(len(pcm), s.sampleRate),
	}
	s.nextStart += u.Duration

	endsIn := s.nextStart - s.clock.Now()
	s.active[u] = time.AfterFunc(endsIn, func() { s.release(u) })

	if s.sink != nil {
		s.sink.Play(*u)
	}
	return *u, nil
}

func (s *Scheduler) release(u *Unit) {
	s.mu.Lock()
	delete(s.active, u)
	s.mu.Unlock()
}

// NextStart exposes the current cursor position.
func (s *Scheduler) NextStart() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}

// ActiveCount reports how many units are scheduled or playing.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Stop force-stops every in-flight unit, clears the active set, and
// resets the cursor. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	for u, timer := range s.active {
		timer.Stop()
		delete(s.active, u)
	}
	s.nextStart = 0
}
