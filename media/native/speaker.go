package native

import (
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/novasonic-go/novasonic"
)

// SpeakerConfig configures the playback device.
type SpeakerConfig struct {
	// SampleRate of the PCM16 stream. Default: DefaultPlaybackRate.
	SampleRate int

	// BufferMS is the device buffer duration. Smaller is lower latency,
	// larger is safer against glitches. Default: 100 ms.
	BufferMS int
}

// Speaker plays assistant audio through the default output device. The
// underlying audio context is process-wide, so a process holds at most one
// Speaker.
type Speaker struct {
	otoCtx *oto.Context

	mu      sync.Mutex
	cond    *sync.Cond
	player  *oto.Player
	buf     []byte
	playing bool
	closed  bool
}

var _ novasonic.Player = (*Speaker)(nil)

// NewSpeaker opens the output device and blocks until it is ready.
func NewSpeaker(cfg SpeakerConfig) (*Speaker, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = novasonic.DefaultPlaybackRate
	}
	if cfg.BufferMS <= 0 {
		cfg.BufferMS = 100
	}

	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   cfg.SampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   time.Duration(cfg.BufferMS) * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("native: init playback device: %w", err)
	}
	<-ready

	s := &Speaker{otoCtx: otoCtx}
	s.cond = sync.NewCond(&s.mu)
	return s, nil
}

// Enqueue appends PCM16 audio for playback. The device player starts on the
// first enqueue after creation or a flush.
func (s *Speaker) Enqueue(pcmLE []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || len(pcmLE) == 0 {
		return
	}
	s.buf = append(s.buf, pcmLE...)

	if !s.playing {
		s.playing = true
		s.player = s.otoCtx.NewPlayer(s)
		s.player.Play()
	}
	s.cond.Signal()
}

// Read feeds the device player. It blocks until audio is buffered; after
// Close it returns silence so the device drains instead of glitching.
func (s *Speaker) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.buf) == 0 && !s.closed {
		s.cond.Wait()
	}
	if s.closed && len(s.buf) == 0 {
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}

	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

// Flush discards buffered audio and tears the current player down, so audio
// the device already buffered is not heard. The next Enqueue starts fresh.
func (s *Speaker) Flush() {
	s.mu.Lock()
	s.buf = nil

	if s.player != nil && s.playing {
		s.playing = false
		player := s.player
		s.player = nil
		s.cond.Broadcast()
		s.mu.Unlock()

		// Pause cuts playback now; Reset drops what the device holds.
		player.Pause()
		player.Reset()
		_ = player.Close()
		return
	}
	s.mu.Unlock()
}

// Close stops playback and releases the player. Idempotent.
func (s *Speaker) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cond.Broadcast()
	player := s.player
	s.player = nil
	s.mu.Unlock()

	if player != nil {
		return player.Close()
	}
	return nil
}
