package native

import (
	"testing"

	"github.com/novasonic-go/novasonic"
)

func seq(start, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(start + i)
	}
	return out
}

func TestNewMic_Defaults(t *testing.T) {
	m := NewMic(novasonic.CaptureConfig{})
	if m.cfg.SampleRate != novasonic.DefaultCaptureRate {
		t.Errorf("SampleRate = %d, want %d", m.cfg.SampleRate, novasonic.DefaultCaptureRate)
	}
	if m.cfg.FrameMS != novasonic.DefaultFrameMS {
		t.Errorf("FrameMS = %d, want %d", m.cfg.FrameMS, novasonic.DefaultFrameMS)
	}
}

func TestNewMic_PreservesExplicit(t *testing.T) {
	m := NewMic(novasonic.CaptureConfig{SampleRate: 8000, FrameMS: 40})
	if m.cfg.SampleRate != 8000 {
		t.Errorf("SampleRate = %d, want 8000", m.cfg.SampleRate)
	}
	if m.cfg.FrameMS != 40 {
		t.Errorf("FrameMS = %d, want 40", m.cfg.FrameMS)
	}
}

func TestMic_PushFraming(t *testing.T) {
	m := &Mic{frames: make(chan []byte, 8), started: true}

	// 50 bytes against 32-byte frames: one frame out, 18 held back.
	m.push(seq(0, 50), 32)
	if got := len(m.frames); got != 1 {
		t.Fatalf("Expected 1 frame, got %d", got)
	}
	frame := <-m.frames
	if len(frame) != 32 {
		t.Errorf("Frame length = %d, want 32", len(frame))
	}
	if frame[0] != 0 || frame[31] != 31 {
		t.Errorf("Frame content wrong: first=%d last=%d", frame[0], frame[31])
	}

	// 46 more: 18 held + 46 = 64, exactly two frames, nothing held.
	m.push(seq(50, 46), 32)
	if got := len(m.frames); got != 2 {
		t.Fatalf("Expected 2 frames, got %d", got)
	}
	second := <-m.frames
	if second[0] != 32 {
		t.Errorf("Second frame starts at %d, want 32", second[0])
	}
	third := <-m.frames
	if third[0] != 64 {
		t.Errorf("Third frame starts at %d, want 64", third[0])
	}
	if len(m.rest) != 0 {
		t.Errorf("Expected empty remainder, got %d bytes", len(m.rest))
	}
}

func TestMic_PushDropsOldestWhenFull(t *testing.T) {
	m := &Mic{frames: make(chan []byte, 2), started: true}

	// Four 2-byte frames into a 2-slot channel: the two oldest are dropped.
	m.push(seq(0, 8), 2)
	if got := len(m.frames); got != 2 {
		t.Fatalf("Expected 2 queued frames, got %d", got)
	}
	first := <-m.frames
	if first[0] != 4 {
		t.Errorf("Oldest surviving frame starts at %d, want 4", first[0])
	}
	second := <-m.frames
	if second[0] != 6 {
		t.Errorf("Newest frame starts at %d, want 6", second[0])
	}
}

func TestMic_PushAfterStopIsNoOp(t *testing.T) {
	m := &Mic{frames: make(chan []byte, 2)}
	m.push([]byte{1, 2, 3, 4}, 2)
	if len(m.frames) != 0 {
		t.Error("Push on a stopped mic must not emit frames")
	}
}

func TestMic_StopUnstarted(t *testing.T) {
	m := NewMic(novasonic.CaptureConfig{})
	if err := m.Stop(); err != nil {
		t.Errorf("Stop on unstarted mic: %v", err)
	}
	if err := m.Stop(); err != nil {
		t.Errorf("Second stop: %v", err)
	}
}
