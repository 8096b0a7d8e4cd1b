// Package audio defines the core audio types shared across the Parley
// pipeline and the PCM wire codec used at the session boundary.
//
// Frames flow through the system as normalized float32 samples. The remote
// speech service exchanges raw little-endian signed 16-bit PCM; the codec in
// pcm.go converts at the boundary in both directions.
package audio

import "time"

// Frame is an immutable buffer of normalized float samples plus the sample
// rate it was produced at. A Frame is created once (by DecodePCM16 or by the
// capture stream) and owned by exactly one consumer until it is played or
// discarded; nothing mutates Samples after construction.
type Frame struct {
	// Samples holds mono samples in the range [-1.0, 1.0].
	Samples []float32

	// SampleRate in Hz (16000 for outbound capture, 24000 for inbound
	// synthesized audio).
	SampleRate int
}

// Duration returns the playback duration of the frame at its sample rate.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(len(f.Samples)) * int64(time.Second) / int64(f.SampleRate))
}

// Empty reports whether the frame carries no samples.
func (f Frame) Empty() bool { return len(f.Samples) == 0 }

// DeviceError indicates that an audio input or output device is unavailable
// (no permission, no hardware, backend failure). It is fatal to the operation
// that hit it and is surfaced to the caller rather than retried.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return "audio: device: " + e.Op + ": " + e.Err.Error()
}

func (e *DeviceError) Unwrap() error { return e.Err }
