package playback

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/parleyvoice/parley/pkg/audio"
)

var _ Output = (*Device)(nil)

// Device is an Output backed by the default system playback device. The
// output clock is the number of samples the callback has consumed, so Now
// advances exactly at the device's pace regardless of wall-clock jitter.
//
// The device opens lazily on the first Resume and mixes all scheduled units
// inside the PortAudio callback.
type Device struct {
	sampleRate int

	mu      sync.Mutex
	stream  *portaudio.Stream
	running bool
	clock   int64 // samples consumed by the callback
	gain    float32
	units   []*deviceUnit // sorted by start sample
	closed  bool
}

// deviceUnit is one span of samples pinned to an absolute start sample.
type deviceUnit struct {
	dev       *Device
	start     int64
	samples   []float32
	cancelled bool
}

// Cancel drops the unit. Samples already consumed by the callback are gone;
// everything else is silenced.
func (u *deviceUnit) Cancel() {
	u.dev.mu.Lock()
	u.cancelled = true
	u.dev.mu.Unlock()
}

// NewDevice creates a playback device producing mono audio at the given
// sample rate. The device stays closed until the first Resume.
func NewDevice(sampleRate int) (*Device, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("playback: invalid sample rate %d", sampleRate)
	}
	return &Device{sampleRate: sampleRate, gain: 1}, nil
}

// Now returns the current position of the output clock.
func (d *Device) Now() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return time.Duration(d.clock) * time.Second / time.Duration(d.sampleRate)
}

// PlayAt pins samples to an absolute start time on the output clock.
func (d *Device) PlayAt(start time.Duration, samples []float32, sampleRate int) (Unit, error) {
	if sampleRate != d.sampleRate {
		return nil, &audio.DeviceError{
			Op:  "play",
			Err: fmt.Errorf("sample rate %d does not match device rate %d", sampleRate, d.sampleRate),
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, &audio.DeviceError{Op: "play", Err: fmt.Errorf("device closed")}
	}

	u := &deviceUnit{
		dev:     d,
		start:   int64(start) * int64(d.sampleRate) / int64(time.Second),
		samples: samples,
	}
	idx := sort.Search(len(d.units), func(i int) bool { return d.units[i].start > u.start })
	d.units = append(d.units, nil)
	copy(d.units[idx+1:], d.units[idx:])
	d.units[idx] = u
	return u, nil
}

// SetGain sets the master gain applied in the mixing callback. Takes effect
// on the next callback buffer.
func (d *Device) SetGain(gain float32) {
	d.mu.Lock()
	d.gain = gain
	d.mu.Unlock()
}

// Resume opens and starts the underlying stream if it is not running.
func (d *Device) Resume() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return &audio.DeviceError{Op: "resume", Err: fmt.Errorf("device closed")}
	}
	if d.running {
		return nil
	}

	if d.stream == nil {
		if err := portaudio.Initialize(); err != nil {
			return &audio.DeviceError{Op: "initialize", Err: err}
		}
		stream, err := portaudio.OpenDefaultStream(0, 1, float64(d.sampleRate), 0, d.mix)
		if err != nil {
			portaudio.Terminate()
			return &audio.DeviceError{Op: "open", Err: err}
		}
		d.stream = stream
	}

	if err := d.stream.Start(); err != nil {
		return &audio.DeviceError{Op: "start", Err: err}
	}
	d.running = true
	return nil
}

// mix is the PortAudio callback. It mixes every live unit overlapping the
// buffer into out and advances the clock.
func (d *Device) mix(out []float32) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := range out {
		out[i] = 0
	}

	bufStart := d.clock
	bufEnd := bufStart + int64(len(out))

	live := d.units[:0]
	for _, u := range d.units {
		if u.cancelled {
			continue
		}
		uEnd := u.start + int64(len(u.samples))
		if uEnd <= bufStart {
			// fully played
			continue
		}
		if u.start < bufEnd {
			from := max(u.start, bufStart)
			to := min(uEnd, bufEnd)
			for s := from; s < to; s++ {
				out[s-bufStart] += u.samples[s-u.start] * d.gain
			}
		}
		live = append(live, u)
	}
	// Zero the tail so dropped units are not resurrected by reuse.
	for i := len(live); i < len(d.units); i++ {
		d.units[i] = nil
	}
	d.units = live

	d.clock += int64(len(out))
}

// Close stops the stream and releases the device. Idempotent.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	stream := d.stream
	d.stream = nil
	d.running = false
	d.units = nil
	d.mu.Unlock()

	if stream == nil {
		return nil
	}
	if err := stream.Abort(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return &audio.DeviceError{Op: "abort", Err: err}
	}
	if err := stream.Close(); err != nil {
		portaudio.Terminate()
		return &audio.DeviceError{Op: "close", Err: err}
	}
	if err := portaudio.Terminate(); err != nil {
		return &audio.DeviceError{Op: "terminate", Err: err}
	}
	return nil
}
