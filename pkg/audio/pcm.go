package audio

import (
	"fmt"
	"math"
)

// CodecError indicates malformed PCM bytes at the session boundary. Frames
// that fail to decode are dropped by the caller; a CodecError never tears
// down a session.
type CodecError struct {
	Reason string
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("audio: codec: %s", e.Reason)
}

// DecodePCM16 interprets b as consecutive little-endian signed 16-bit mono
// samples and returns a Frame of normalized floats (sample / 32768).
//
// An odd-length input has an undefined trailing sample and is rejected with a
// *CodecError rather than silently truncated — a half sample means the stream
// is corrupt and truncation would desynchronize every following frame.
func DecodePCM16(b []byte, sampleRate int) (Frame, error) {
	if len(b)%2 != 0 {
		return Frame{}, &CodecError{Reason: fmt.Sprintf("odd PCM byte count %d", len(b))}
	}
	if sampleRate <= 0 {
		return Frame{}, &CodecError{Reason: fmt.Sprintf("invalid sample rate %d", sampleRate)}
	}

	samples := make([]float32, len(b)/2)
	for i := range samples {
		s := int16(b[i*2]) | int16(b[i*2+1])<<8
		samples[i] = float32(s) / 32768.0
	}
	return Frame{Samples: samples, SampleRate: sampleRate}, nil
}

// EncodePCM16 is the inverse mapping: each sample is clamped to [-1.0, 1.0],
// scaled to the int16 range and rounded to nearest, then written out as
// little-endian bytes.
func EncodePCM16(f Frame) []byte {
	out := make([]byte, len(f.Samples)*2)
	for i, v := range f.Samples {
		if v > 1.0 {
			v = 1.0
		} else if v < -1.0 {
			v = -1.0
		}
		s := int16(math.Round(float64(v) * 32767.0))
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}
