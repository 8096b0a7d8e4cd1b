// Package mock provides a test double for the playback.Output interface with
// a manually advanced clock and full inspection of scheduled units.
package mock

import (
	"sync"
	"time"

	"github.com/parleyvoice/parley/pkg/audio/playback"
)

// Compile-time assertion that Output satisfies the playback.Output interface.
var _ playback.Output = (*Output)(nil)

// ScheduledUnit records one PlayAt call.
type ScheduledUnit struct {
	Start      time.Duration
	Samples    []float32
	SampleRate int

	mu        sync.Mutex
	cancelled bool
}

// Duration returns the unit's playback duration.
func (u *ScheduledUnit) Duration() time.Duration {
	if u.SampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(len(u.Samples)) * int64(time.Second) / int64(u.SampleRate))
}

// Cancel implements playback.Unit.
func (u *ScheduledUnit) Cancel() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.cancelled = true
}

// Cancelled reports whether Cancel was called on this unit.
func (u *ScheduledUnit) Cancelled() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.cancelled
}

// Output is a fake playback device. The clock only moves when the test calls
// Advance or SetNow, making scheduling behavior fully deterministic.
type Output struct {
	// PlayAtErr, when non-nil, is returned by every PlayAt call.
	PlayAtErr error

	mu          sync.Mutex
	now         time.Duration
	units       []*ScheduledUnit
	gainHistory []float32
	resumeCalls int
	ResumeErr   error
}

// Now implements playback.Output.
func (o *Output) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

// Advance moves the fake clock forward by d.
func (o *Output) Advance(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now += d
}

// SetNow sets the fake clock to an absolute position.
func (o *Output) SetNow(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now = d
}

// PlayAt implements playback.Output, recording the unit.
func (o *Output) PlayAt(start time.Duration, samples []float32, sampleRate int) (playback.Unit, error) {
	if o.PlayAtErr != nil {
		return nil, o.PlayAtErr
	}
	u := &ScheduledUnit{Start: start, Samples: samples, SampleRate: sampleRate}
	o.mu.Lock()
	o.units = append(o.units, u)
	o.mu.Unlock()
	return u, nil
}

// SetGain implements playback.Output, recording every gain change.
func (o *Output) SetGain(gain float32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.gainHistory = append(o.gainHistory, gain)
}

// Resume implements playback.Output.
func (o *Output) Resume() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resumeCalls++
	return o.ResumeErr
}

// Units returns a snapshot of all units scheduled so far, in PlayAt order.
func (o *Output) Units() []*ScheduledUnit {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*ScheduledUnit(nil), o.units...)
}

// Gain returns the most recently set gain, or 1 if SetGain was never called.
func (o *Output) Gain() float32 {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.gainHistory) == 0 {
		return 1
	}
	return o.gainHistory[len(o.gainHistory)-1]
}

// GainHistory returns every gain value set, in order.
func (o *Output) GainHistory() []float32 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]float32(nil), o.gainHistory...)
}

// ResumeCalls returns how many times Resume was invoked.
func (o *Output) ResumeCalls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.resumeCalls
}
