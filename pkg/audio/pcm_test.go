package audio

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestDecodePCM16(t *testing.T) {
	t.Parallel()

	t.Run("maps known samples to normalized floats", func(t *testing.T) {
		// 0, +16384 (0.5), -16384 (-0.5), -32768 (-1.0) as s16le.
		b := []byte{
			0x00, 0x00,
			0x00, 0x40,
			0x00, 0xC0,
			0x00, 0x80,
		}
		f, err := DecodePCM16(b, 24000)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := []float32{0, 0.5, -0.5, -1.0}
		if len(f.Samples) != len(want) {
			t.Fatalf("expected %d samples, got %d", len(want), len(f.Samples))
		}
		for i, w := range want {
			if f.Samples[i] != w {
				t.Errorf("sample %d: expected %f, got %f", i, w, f.Samples[i])
			}
		}
		if f.SampleRate != 24000 {
			t.Errorf("expected sample rate 24000, got %d", f.SampleRate)
		}
	})

	t.Run("rejects odd-length input", func(t *testing.T) {
		_, err := DecodePCM16([]byte{0x01, 0x02, 0x03}, 24000)
		if err == nil {
			t.Fatal("expected error for odd byte count, got nil")
		}
		var ce *CodecError
		if !errors.As(err, &ce) {
			t.Fatalf("expected *CodecError, got %T", err)
		}
	})

	t.Run("rejects invalid sample rate", func(t *testing.T) {
		_, err := DecodePCM16([]byte{0x00, 0x00}, 0)
		var ce *CodecError
		if !errors.As(err, &ce) {
			t.Fatalf("expected *CodecError, got %v", err)
		}
	})

	t.Run("empty input yields empty frame", func(t *testing.T) {
		f, err := DecodePCM16(nil, 16000)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !f.Empty() {
			t.Error("expected empty frame")
		}
	})
}

func TestEncodePCM16(t *testing.T) {
	t.Parallel()

	t.Run("clamps out-of-range samples", func(t *testing.T) {
		f := Frame{Samples: []float32{2.0, -3.5}, SampleRate: 16000}
		b := EncodePCM16(f)
		if len(b) != 4 {
			t.Fatalf("expected 4 bytes, got %d", len(b))
		}
		hi := int16(b[0]) | int16(b[1])<<8
		lo := int16(b[2]) | int16(b[3])<<8
		if hi != 32767 {
			t.Errorf("expected clamp to 32767, got %d", hi)
		}
		if lo != -32767 {
			t.Errorf("expected clamp to -32767, got %d", lo)
		}
	})

	t.Run("rounds to nearest", func(t *testing.T) {
		// 0.5 * 32767 = 16383.5 → rounds to 16384.
		f := Frame{Samples: []float32{0.5}, SampleRate: 16000}
		b := EncodePCM16(f)
		got := int16(b[0]) | int16(b[1])<<8
		if got != 16384 {
			t.Errorf("expected 16384, got %d", got)
		}
	})

	t.Run("roundtrip stays within one quantization step", func(t *testing.T) {
		orig := Frame{Samples: []float32{0, 0.25, -0.25, 0.9999, -1.0}, SampleRate: 16000}
		decoded, err := DecodePCM16(EncodePCM16(orig), 16000)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for i := range orig.Samples {
			diff := math.Abs(float64(orig.Samples[i] - decoded.Samples[i]))
			if diff > 1.0/32768.0 {
				t.Errorf("sample %d drifted by %f", i, diff)
			}
		}
	})
}

func TestFrameDuration(t *testing.T) {
	t.Parallel()

	f := Frame{Samples: make([]float32, 7680), SampleRate: 24000}
	if got, want := f.Duration(), 320*time.Millisecond; got != want {
		t.Errorf("expected %v, got %v", want, got)
	}

	if (Frame{}).Duration() != 0 {
		t.Error("expected zero duration for zero-rate frame")
	}
}
