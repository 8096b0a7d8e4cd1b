// Package playback implements the streaming audio playback scheduler.
//
// Synthesized audio arrives from the network in bursts, so playback cannot be
// driven by arrival timing. The [Scheduler] instead maintains its own
// monotonically advancing cursor on the output clock and keeps a bounded
// look-ahead window of scheduled units, splitting large frames, fading unit
// seams to avoid clicks, and self-correcting when the cursor drifts from the
// hardware clock. Barge-in is a hard cut: gain drops to zero immediately and
// every queued or scheduled-but-unstarted unit is discarded.
//
// The scheduler talks to the audio hardware only through the [Output]
// interface so that tests can substitute a fake clock and inspect exactly
// what would have been played.
package playback

import "time"

// Output is the scheduler's view of the audio output device. Implementations
// own the hardware clock; the scheduler only observes it via Now and submits
// start-time-stamped units via PlayAt — it never blocks waiting on the clock.
//
// Implementations must be safe for concurrent use.
type Output interface {
	// Now returns the current position on the output clock. It must be
	// monotonically non-decreasing.
	Now() time.Duration

	// PlayAt schedules samples to begin playing when the output clock reaches
	// start. Samples already late by the time the device sees them are played
	// immediately. The returned handle cancels the unit if it has not started
	// yet; cancelling a playing or finished unit is a no-op.
	PlayAt(start time.Duration, samples []float32, sampleRate int) (Unit, error)

	// SetGain sets the output gain applied to all playing and future units.
	// 0 is silence, 1 is unity. Takes effect on the next rendered sample.
	SetGain(gain float32)

	// Resume wakes the device from a suspended power state. Idempotent and
	// cheap when the device is already running.
	Resume() error
}

// Unit is a handle to one scheduled playback unit.
type Unit interface {
	// Cancel discards the unit if it has not started playing yet.
	Cancel()
}
