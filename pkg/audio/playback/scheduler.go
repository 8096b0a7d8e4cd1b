package playback

import (
	"log/slog"
	"sync"
	"time"

	"github.com/parleyvoice/parley/pkg/audio"
)

// Default scheduling parameters.
const (
	// defaultMaxUnitSamples caps the size of one scheduled unit. Larger
	// frames are split so that interruption latency is bounded by the unit
	// length (~320ms at 24kHz) rather than by however much audio the server
	// delivered in one burst.
	defaultMaxUnitSamples = 7680

	// defaultInitialDelay is the fixed lead added when starting a fresh
	// schedule, absorbing network jitter on the first few chunks.
	defaultInitialDelay = 100 * time.Millisecond

	// defaultLookAhead bounds how far past the output clock the cursor may
	// schedule. Frames beyond the window stay queued until a later tick.
	defaultLookAhead = 1 * time.Second

	// defaultMaxDrift is the cursor-ahead-of-clock threshold beyond which the
	// cursor snaps back to now. Prevents runaway scheduling when the output
	// clock stalls and then the queue bursts.
	defaultMaxDrift = 2 * time.Second

	// defaultSeamFade is the linear fade applied at unit boundaries to keep
	// chunk seams click-free.
	defaultSeamFade = 3 * time.Millisecond

	// defaultTickInterval drives the periodic tick while frames remain queued.
	defaultTickInterval = 100 * time.Millisecond
)

// State describes the scheduler's position in its lifecycle.
type State int

const (
	// StateIdle means nothing is queued or playing.
	StateIdle State = iota

	// StatePlaying means frames are queued or scheduled on the output clock.
	StatePlaying

	// StateInterrupted means playback was hard-cut by a barge-in. The
	// scheduler stays silent until the next Push, which begins a new response.
	StateInterrupted
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StateInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Config holds tuning knobs for a [Scheduler]. Zero-value fields are replaced
// with defaults by [NewScheduler].
type Config struct {
	// MaxUnitSamples caps the sample count of a single scheduled unit.
	MaxUnitSamples int

	// InitialDelay is the lead added to the cursor when a fresh schedule starts.
	InitialDelay time.Duration

	// LookAhead bounds how far ahead of the output clock units are scheduled.
	LookAhead time.Duration

	// MaxDrift is the threshold beyond which the cursor snaps back to the
	// output clock.
	MaxDrift time.Duration

	// SeamFade is the linear fade-in/fade-out length at unit boundaries.
	SeamFade time.Duration

	// TickInterval is the period of the internal timer that re-runs the
	// scheduling pass while frames remain queued.
	TickInterval time.Duration

	// OnScheduled, if set, is invoked for every unit placed on the output
	// clock with its lead time (unit start minus clock now). The callback
	// must not call back into the Scheduler.
	OnScheduled func(lead time.Duration)
}

func (c Config) withDefaults() Config {
	if c.MaxUnitSamples <= 0 {
		c.MaxUnitSamples = defaultMaxUnitSamples
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = defaultInitialDelay
	}
	if c.LookAhead <= 0 {
		c.LookAhead = defaultLookAhead
	}
	if c.MaxDrift <= 0 {
		c.MaxDrift = defaultMaxDrift
	}
	if c.SeamFade <= 0 {
		c.SeamFade = defaultSeamFade
	}
	if c.TickInterval <= 0 {
		c.TickInterval = defaultTickInterval
	}
	return c
}

// Scheduler converts arriving audio frames into glitch-free playback against
// the output clock. Frames are queued FIFO, split into bounded units, and
// scheduled back-to-back: each unit starts at or after the previous unit's
// end, never overlapping.
//
// All methods are safe for concurrent use and non-blocking; the scheduling
// pass itself is guarded against re-entrant execution so concurrent callers
// cannot double-schedule the same queue contents.
type Scheduler struct {
	out Output
	cfg Config

	mu      sync.Mutex
	state   State
	queue   []audio.Frame
	cursor  time.Duration
	ticking bool
	pending []scheduled
	timer   *time.Timer
	closed  bool

	// resp identifies the current response. A barge-in bumps it, and so does
	// the fresh anchor in Push after an interruption, so a scheduling pass can
	// tell whether the unit it just placed still belongs to the response it
	// was popped from.
	resp uint64
}

// scheduled pairs a unit handle with its window on the output clock so that
// finished units can be pruned and unstarted ones cancelled on interrupt.
type scheduled struct {
	unit  Unit
	start time.Duration
	end   time.Duration
}

// NewScheduler creates a Scheduler that plays into out. Zero-value config
// fields get defaults.
func NewScheduler(out Output, cfg Config) *Scheduler {
	return &Scheduler{
		out: out,
		cfg: cfg.withDefaults(),
	}
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// QueuedDuration returns how much audio is queued or scheduled but not yet
// played, measured on the output clock.
func (s *Scheduler) QueuedDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	var queued time.Duration
	for _, f := range s.queue {
		queued += f.Duration()
	}
	if ahead := s.cursor - s.out.Now(); ahead > 0 && s.state == StatePlaying {
		queued += ahead
	}
	return queued
}

// Push appends a frame to the playback queue and runs a scheduling pass.
//
// If the scheduler is idle the cursor is anchored at now + InitialDelay and
// playback begins. If it was interrupted, the push is the start of a brand-new
// response: stale state is discarded, gain is restored, and the cursor is
// re-anchored — nothing scheduled before the interruption can play.
func (s *Scheduler) Push(frame audio.Frame) {
	if frame.Empty() {
		return
	}

	// The output device may be in a suspended power state between responses.
	if err := s.out.Resume(); err != nil {
		slog.Warn("playback: output resume failed", "err", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	switch s.state {
	case StateInterrupted:
		s.queue = s.queue[:0]
		s.pending = nil
		s.resp++
		s.out.SetGain(1)
		s.cursor = s.out.Now() + s.cfg.InitialDelay
		s.state = StatePlaying
	case StateIdle:
		s.cursor = s.out.Now() + s.cfg.InitialDelay
		s.state = StatePlaying
	}

	s.queue = append(s.queue, s.split(frame)...)
	s.mu.Unlock()

	s.Tick()
}

// split cuts a frame into units of at most MaxUnitSamples samples.
func (s *Scheduler) split(frame audio.Frame) []audio.Frame {
	max := s.cfg.MaxUnitSamples
	if len(frame.Samples) <= max {
		return []audio.Frame{frame}
	}
	parts := make([]audio.Frame, 0, (len(frame.Samples)+max-1)/max)
	for off := 0; off < len(frame.Samples); off += max {
		end := off + max
		if end > len(frame.Samples) {
			end = len(frame.Samples)
		}
		parts = append(parts, audio.Frame{
			Samples:    frame.Samples[off:end],
			SampleRate: frame.SampleRate,
		})
	}
	return parts
}

// Tick runs one scheduling pass: it moves frames from the queue onto the
// output clock while the cursor is inside the look-ahead window. Safe to call
// at any time; a pass already in progress makes concurrent calls no-ops so
// the same queue contents can never be scheduled twice.
func (s *Scheduler) Tick() {
	s.mu.Lock()
	if s.ticking || s.closed {
		s.mu.Unlock()
		return
	}
	s.ticking = true

	for s.state == StatePlaying && len(s.queue) > 0 {
		now := s.out.Now()

		// Drift correction: a stalled output clock followed by a queue burst
		// would otherwise push the cursor arbitrarily far ahead.
		if s.cursor-now > s.cfg.MaxDrift {
			slog.Debug("playback: cursor drift exceeded, snapping to clock",
				"cursor", s.cursor, "now", now)
			s.cursor = now
		}

		if s.cursor >= now+s.cfg.LookAhead {
			break
		}

		frame := s.queue[0]
		s.queue = s.queue[1:]

		start := s.cursor
		if start < now {
			start = now
		}
		samples := s.fadeCopy(frame)
		end := start + frame.Duration()
		resp := s.resp

		// PlayAt may touch the device; do not hold the lock across it. The
		// ticking flag keeps the pass exclusive while the lock is released.
		s.mu.Unlock()
		unit, err := s.out.PlayAt(start, samples, frame.SampleRate)
		s.mu.Lock()

		if err != nil {
			slog.Warn("playback: schedule unit failed, dropping frame",
				"err", err, "samples", len(samples))
			continue
		}

		// While the lock was released an interrupt may have ended this
		// response — and a new push may already have started the next one,
		// putting the state back to playing. The response counter is the only
		// reliable witness: when it moved, the unit just scheduled belongs to
		// the old response and must neither play nor advance the fresh cursor.
		if s.state != StatePlaying || s.resp != resp {
			unit.Cancel()
			continue
		}

		s.pending = append(s.pending, scheduled{unit: unit, start: start, end: end})
		s.cursor = end

		if s.cfg.OnScheduled != nil {
			s.cfg.OnScheduled(start - now)
		}
	}

	s.prunePendingLocked()

	// Everything scheduled has played out and nothing is queued: back to idle.
	if s.state == StatePlaying && len(s.queue) == 0 && s.out.Now() >= s.cursor {
		s.state = StateIdle
	}

	s.armTimerLocked()
	s.ticking = false
	s.mu.Unlock()
}

// prunePendingLocked drops handles for units whose window has fully elapsed.
func (s *Scheduler) prunePendingLocked() {
	now := s.out.Now()
	kept := s.pending[:0]
	for _, p := range s.pending {
		if p.end > now {
			kept = append(kept, p)
		}
	}
	s.pending = kept
}

// armTimerLocked keeps the periodic tick running while playback is live.
func (s *Scheduler) armTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.state != StatePlaying || s.closed {
		return
	}
	s.timer = time.AfterFunc(s.cfg.TickInterval, s.Tick)
}

// fadeCopy returns a copy of the frame's samples with a short linear fade-in
// and fade-out applied so unit seams do not click. Frames are immutable, so
// the fade always operates on a copy.
func (s *Scheduler) fadeCopy(frame audio.Frame) []float32 {
	samples := make([]float32, len(frame.Samples))
	copy(samples, frame.Samples)

	fade := int(int64(frame.SampleRate) * int64(s.cfg.SeamFade) / int64(time.Second))
	if fade <= 0 {
		return samples
	}
	if fade > len(samples)/2 {
		fade = len(samples) / 2
	}
	for i := 0; i < fade; i++ {
		g := float32(i+1) / float32(fade+1)
		samples[i] *= g
		samples[len(samples)-1-i] *= g
	}
	return samples
}

// Interrupt hard-cuts playback for a barge-in. The output gain drops to zero
// before anything else — a fade would be too slow and overlapping audio is
// worse than a click — then all queued frames are discarded and every
// scheduled-but-unstarted unit is cancelled. Playback does not resume until
// the next Push delivers a genuinely new response.
func (s *Scheduler) Interrupt() {
	s.out.SetGain(0)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	s.queue = s.queue[:0]
	for _, p := range s.pending {
		p.unit.Cancel()
	}
	s.pending = nil
	s.resp++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.state = StateInterrupted
}

// Close stops the scheduler permanently: pending units are cancelled and all
// further Push and Tick calls are no-ops. Idempotent.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true

	s.queue = nil
	for _, p := range s.pending {
		p.unit.Cancel()
	}
	s.pending = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.state = StateIdle
}
