// Package capture owns the microphone device. It opens the default input via
// PortAudio, decimates the native hardware rate down to the target rate with
// block averaging, frames the result into fixed-size blocks for the session,
// and publishes a smoothed volume signal for UI feedback and speech gating.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"
	"golang.org/x/sync/singleflight"

	"github.com/parleyvoice/parley/pkg/audio"
)

// errStreamStopped is returned by Start on a stream that was already stopped.
var errStreamStopped = errors.New("stream already stopped")

// Default capture parameters.
const (
	defaultTargetRate   = 16000
	defaultFrameSamples = 2048
	defaultVolumeWindow = 50
	defaultDeviceBuffer = 1024
)

// Config holds tuning knobs for a [Stream]. Zero-value fields are replaced
// with defaults by [New].
type Config struct {
	// TargetRate is the sample rate frames are emitted at.
	TargetRate int

	// FrameSamples is the fixed size of emitted frames, in samples at TargetRate.
	FrameSamples int

	// VolumeWindow is the moving-average window of the volume signal, in samples.
	VolumeWindow int

	// DeviceBuffer is the per-read buffer size requested from the device.
	DeviceBuffer int
}

func (c Config) withDefaults() Config {
	if c.TargetRate <= 0 {
		c.TargetRate = defaultTargetRate
	}
	if c.FrameSamples <= 0 {
		c.FrameSamples = defaultFrameSamples
	}
	if c.VolumeWindow <= 0 {
		c.VolumeWindow = defaultVolumeWindow
	}
	if c.DeviceBuffer <= 0 {
		c.DeviceBuffer = defaultDeviceBuffer
	}
	return c
}

// Stream captures microphone audio and emits fixed-size frames at the target
// rate plus a smoothed volume signal. The input device is owned exclusively
// while started.
//
// All methods are safe for concurrent use. Concurrent Start calls collapse
// into one device acquisition and share its result; Stop awaits any in-flight
// Start before releasing resources so a freshly granted device handle cannot
// leak. A Stream is single-use: once stopped, its channels are closed and a
// new Stream must be created to capture again.
type Stream struct {
	cfg Config

	flight singleflight.Group

	mu      sync.Mutex
	started bool
	stopped bool
	stream  *portaudio.Stream
	cancel  context.CancelFunc
	done    chan struct{}

	frames chan audio.Frame
	volume chan float64
}

// New creates a capture Stream. Zero-value config fields get defaults.
// The device is not touched until [Stream.Start].
func New(cfg Config) *Stream {
	return &Stream{
		cfg:    cfg.withDefaults(),
		frames: make(chan audio.Frame, 16),
		volume: make(chan float64, 16),
	}
}

// Frames returns the channel of captured fixed-size frames at the target
// rate. The channel is closed when the stream stops.
func (s *Stream) Frames() <-chan audio.Frame { return s.frames }

// Volume returns the smoothed volume signal, one value per captured block,
// in [0, 1]. The channel is closed when the stream stops.
func (s *Stream) Volume() <-chan float64 { return s.volume }

// Start acquires the microphone and begins emitting frames. A second call
// while one is pending joins the in-flight acquisition and returns the same
// result rather than requesting the device twice. Returns *audio.DeviceError
// if no device is available or the stream was already stopped.
func (s *Stream) Start(ctx context.Context) error {
	_, err, _ := s.flight.Do("start", func() (any, error) {
		return nil, s.open(ctx)
	})
	return err
}

func (s *Stream) open(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		// The frames and volume channels are closed; reopening the device
		// would panic the read loop on its first send.
		s.mu.Unlock()
		return &audio.DeviceError{Op: "start", Err: errStreamStopped}
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := portaudio.Initialize(); err != nil {
		return &audio.DeviceError{Op: "initialize", Err: err}
	}

	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		_ = portaudio.Terminate()
		return &audio.DeviceError{Op: "default input device", Err: err}
	}

	// Echo cancellation, noise suppression and auto gain are applied by the
	// OS audio driver where supported; PortAudio exposes the processed mix.
	deviceRate := int(dev.DefaultSampleRate)
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(deviceRate),
		FramesPerBuffer: s.cfg.DeviceBuffer,
	}

	buf := make([]float32, s.cfg.DeviceBuffer)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		_ = portaudio.Terminate()
		return &audio.DeviceError{Op: fmt.Sprintf("open stream (%s)", dev.Name), Err: err}
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return &audio.DeviceError{Op: "start stream", Err: err}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	s.started = true
	s.stream = stream
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	slog.Info("capture started",
		"device", dev.Name,
		"device_rate", deviceRate,
		"target_rate", s.cfg.TargetRate,
	)

	go s.readLoop(loopCtx, stream, buf, deviceRate, done)
	return nil
}

// readLoop pulls device blocks, decimates, meters, and frames them. It owns
// the frames and volume channels and closes both on exit.
func (s *Stream) readLoop(ctx context.Context, stream *portaudio.Stream, buf []float32, deviceRate int, done chan struct{}) {
	defer close(done)
	defer close(s.frames)
	defer close(s.volume)

	dec := NewDecimator(deviceRate, s.cfg.TargetRate)
	meter := NewMeter(s.cfg.VolumeWindow)
	pending := make([]float32, 0, s.cfg.FrameSamples*2)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := stream.Read(); err != nil {
			if ctx.Err() == nil {
				slog.Warn("capture read error", "err", err)
			}
			return
		}

		block := dec.Process(buf)
		if len(block) == 0 {
			continue
		}

		// Volume feedback is best-effort; stale values are dropped.
		select {
		case s.volume <- meter.Add(block):
		default:
		}

		pending = append(pending, block...)
		for len(pending) >= s.cfg.FrameSamples {
			frame := audio.Frame{
				Samples:    append([]float32(nil), pending[:s.cfg.FrameSamples]...),
				SampleRate: s.cfg.TargetRate,
			}
			pending = pending[s.cfg.FrameSamples:]

			select {
			case s.frames <- frame:
			case <-ctx.Done():
				return
			default:
				slog.Debug("capture frame buffer full, dropping frame")
			}
		}
	}
}

// Stop tears down the device and internal state. Safe to call while Start is
// still in flight: it awaits the in-flight result first. Idempotent.
func (s *Stream) Stop() {
	// Joining the singleflight key awaits an in-flight Start; when nothing is
	// in flight this is an immediate no-op.
	_, _, _ = s.flight.Do("start", func() (any, error) { return nil, nil })

	s.mu.Lock()
	s.stopped = true
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	stream := s.stream
	done := s.done
	s.cancel = nil
	s.stream = nil
	s.done = nil
	s.mu.Unlock()

	cancel()
	_ = stream.Abort()
	<-done
	_ = stream.Close()
	_ = portaudio.Terminate()

	slog.Info("capture stopped")
}
