package native

import (
	"sync"
	"testing"
)

func newTestSpeaker() *Speaker {
	s := &Speaker{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func TestSpeaker_ReadDrainsBuffer(t *testing.T) {
	s := newTestSpeaker()
	s.buf = []byte{1, 2, 3, 4}

	p := make([]byte, 8)
	n, err := s.Read(p)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if n != 4 {
		t.Fatalf("Read = %d bytes, want 4", n)
	}
	for i := 0; i < 4; i++ {
		if p[i] != byte(i+1) {
			t.Errorf("p[%d] = %d, want %d", i, p[i], i+1)
		}
	}
	if len(s.buf) != 0 {
		t.Errorf("Buffer not drained: %d bytes left", len(s.buf))
	}
}

func TestSpeaker_ReadSilenceAfterClose(t *testing.T) {
	s := newTestSpeaker()
	s.closed = true

	p := []byte{9, 9, 9, 9}
	n, err := s.Read(p)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if n != 4 {
		t.Fatalf("Read = %d bytes, want 4", n)
	}
	for i, b := range p {
		if b != 0 {
			t.Errorf("p[%d] = %d, want silence", i, b)
		}
	}
}

func TestSpeaker_FlushClearsBuffer(t *testing.T) {
	s := newTestSpeaker()
	s.buf = []byte{1, 2, 3, 4}

	s.Flush()
	if len(s.buf) != 0 {
		t.Errorf("Flush left %d bytes buffered", len(s.buf))
	}
}

func TestSpeaker_CloseIdempotent(t *testing.T) {
	s := newTestSpeaker()
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Second close failed: %v", err)
	}

	// Enqueue after close is a no-op and must not touch the device.
	s.Enqueue([]byte{1, 2})
	if len(s.buf) != 0 {
		t.Error("Enqueue after close must not buffer audio")
	}
}
