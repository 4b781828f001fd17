// Package native implements the root package's Capturer and Player on real
// audio hardware: malgo (miniaudio) for the microphone, oto for the speaker.
// It is what terminal apps plug into SessionOptions; server-side code keeps
// using its own implementations.
package native

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/novasonic-go/novasonic"
)

// Mic captures microphone audio and emits fixed-size PCM16LE mono frames in
// capture order. The DSP flags in CaptureConfig (echo cancellation, noise
// suppression, auto gain) are advisory and ignored here; miniaudio exposes no
// tuning for them.
type Mic struct {
	cfg novasonic.CaptureConfig

	mu      sync.Mutex
	actx    *malgo.AllocatedContext
	device  *malgo.Device
	frames  chan []byte
	rest    []byte
	done    chan struct{}
	started bool
}

var _ novasonic.Capturer = (*Mic)(nil)

// NewMic returns an unstarted microphone. Zero config fields take the root
// package defaults (16 kHz, 20 ms frames).
func NewMic(cfg novasonic.CaptureConfig) *Mic {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = novasonic.DefaultCaptureRate
	}
	if cfg.FrameMS <= 0 {
		cfg.FrameMS = novasonic.DefaultFrameMS
	}
	return &Mic{cfg: cfg}
}

// Start opens the capture device and begins emitting frames. The channel
// closes when the mic stops. If the consumer stalls past the channel buffer,
// the oldest queued frame is dropped to keep latency bounded.
func (m *Mic) Start(ctx context.Context) (<-chan []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil, errors.New("native: mic already started")
	}

	actx, err := malgo.InitContext(nil, malgo.ContextConfig{ThreadPriority: malgo.ThreadPriorityRealtime}, nil)
	if err != nil {
		return nil, fmt.Errorf("native: init audio context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(m.cfg.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = uint32(m.cfg.FrameMS)

	frameBytes := novasonic.PCM16BytesFor(m.cfg.FrameMS, m.cfg.SampleRate)

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInputSamples []byte, _ uint32) {
			m.push(pInputSamples, frameBytes)
		},
	}

	device, err := malgo.InitDevice(actx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = actx.Uninit()
		actx.Free()
		return nil, fmt.Errorf("native: init capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = actx.Uninit()
		actx.Free()
		return nil, fmt.Errorf("native: start capture device: %w", err)
	}

	m.actx = actx
	m.device = device
	m.frames = make(chan []byte, 64)
	m.rest = nil
	m.done = make(chan struct{})
	m.started = true

	go func(done chan struct{}) {
		select {
		case <-ctx.Done():
			_ = m.Stop()
		case <-done:
		}
	}(m.done)

	return m.frames, nil
}

// push accumulates device callbacks and emits exact frames. It runs on the
// audio thread and must never block.
func (m *Mic) push(data []byte, frameBytes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}

	m.rest = append(m.rest, data...)
	for len(m.rest) >= frameBytes {
		frame := make([]byte, frameBytes)
		copy(frame, m.rest[:frameBytes])
		m.rest = m.rest[frameBytes:]

		select {
		case m.frames <- frame:
		default:
			select {
			case <-m.frames:
			default:
			}
			select {
			case m.frames <- frame:
			default:
			}
		}
	}
}

// Stop halts capture and releases the device. It is idempotent; hardware
// handles are released by the time it returns, and the frame channel closes.
func (m *Mic) Stop() error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = false
	device := m.device
	actx := m.actx
	frames := m.frames
	done := m.done
	m.device = nil
	m.actx = nil
	m.frames = nil
	m.rest = nil
	m.mu.Unlock()

	close(done)
	_ = device.Stop()
	device.Uninit()
	_ = actx.Uninit()
	actx.Free()
	close(frames)
	return nil
}
