package novasonic

import (
	"context"
	"sync"
)

// Capturer produces microphone audio as raw PCM16 little-endian frames.
// Start is called once per session; the returned channel yields one capture
// frame at a time and closes when the capturer stops. Implementations must
// stop producing when ctx is canceled.
//
// The session forwards every frame it receives while capture is unpaused;
// it never drops or batches frames, and it never gates them on loudness.
type Capturer interface {
	Start(ctx context.Context) (<-chan []byte, error)
	Stop() error
}

// Player consumes assistant audio for playback. Enqueue must not block the
// session's dispatch path. Flush discards everything buffered but not yet
// played, which is how barge-in cuts the assistant off mid-sentence. Close
// releases the device.
type Player interface {
	Enqueue(pcmLE []byte)
	Flush()
	Close() error
}

// PlaybackConfig configures playback buffering behavior.
type PlaybackConfig struct {
	// MinBufferMS is the minimum audio to buffer before emitting the first
	// chunk. This prevents glitches when the first synthesis chunk is
	// small. Default: 50ms. Set to 0 to disable pre-buffering.
	MinBufferMS int

	// ChannelSize is the buffer size for the chunks channel. Default: 20.
	ChannelSize int

	// SampleRate of the PCM16 stream. Default: DefaultPlaybackRate.
	SampleRate int
}

// DefaultPlaybackConfig returns the default playback configuration.
func DefaultPlaybackConfig() PlaybackConfig {
	return PlaybackConfig{
		MinBufferMS: 50,
		ChannelSize: 20,
		SampleRate:  DefaultPlaybackRate,
	}
}

// PlaybackQueue is a Player that buffers assistant audio and hands it to a
// consumer over channels. It handles pre-buffering and flush signaling so
// device code can focus on just playing bytes.
//
// Usage:
//
//	q := NewPlaybackQueue(DefaultPlaybackConfig())
//	for {
//	    select {
//	    case chunk := <-q.Chunks():
//	        device.Write(chunk)
//	    case <-q.Flushed():
//	        device.Clear()
//	    }
//	}
type PlaybackQueue struct {
	config PlaybackConfig

	chunks chan []byte
	flush  chan struct{}

	mu          sync.Mutex
	buffer      []byte
	bufferReady bool
	closed      bool
}

var _ Player = (*PlaybackQueue)(nil)

// NewPlaybackQueue creates a PlaybackQueue with the given configuration.
// Zero-valued fields take their defaults.
func NewPlaybackQueue(config PlaybackConfig) *PlaybackQueue {
	if config.MinBufferMS == 0 && config.ChannelSize == 0 && config.SampleRate == 0 {
		config = DefaultPlaybackConfig()
	}
	if config.ChannelSize == 0 {
		config.ChannelSize = 20
	}
	if config.SampleRate == 0 {
		config.SampleRate = DefaultPlaybackRate
	}

	return &PlaybackQueue{
		config: config,
		chunks: make(chan []byte, config.ChannelSize),
		flush:  make(chan struct{}, 1),
	}
}

// Chunks returns a channel that emits audio chunks ready for playback.
// Audio is pre-buffered according to MinBufferMS before the first chunk is
// emitted. After each flush, pre-buffering resets for the next utterance.
func (q *PlaybackQueue) Chunks() <-chan []byte {
	return q.chunks
}

// Flushed returns a channel that signals when the consumer should clear its
// device buffer. This fires on barge-in, when audio already queued must not
// be heard.
func (q *PlaybackQueue) Flushed() <-chan struct{} {
	return q.flush
}

// HandleAudio is a convenience method that consumes the queue in a
// goroutine. It calls onChunk for each audio chunk and onFlush when queued
// audio should be discarded. Returns immediately; processing happens in the
// background until Close.
func (q *PlaybackQueue) HandleAudio(onChunk func([]byte), onFlush func()) {
	go func() {
		for {
			select {
			case chunk, ok := <-q.chunks:
				if !ok {
					return
				}
				if onChunk != nil {
					onChunk(chunk)
				}
			case _, ok := <-q.flush:
				if !ok {
					return
				}
				if onFlush != nil {
					onFlush()
				}
			}
		}
	}()
}

// Enqueue adds decoded PCM16 audio to the queue. It never blocks: if the
// chunks channel is full the data is held back and re-emitted with the next
// enqueue.
func (q *PlaybackQueue) Enqueue(pcmLE []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.buffer = append(q.buffer, pcmLE...)

	// At 16-bit mono: bytes = sampleRate * 2 * (ms / 1000)
	minBytes := (q.config.SampleRate * 2 * q.config.MinBufferMS) / 1000

	if !q.bufferReady && len(q.buffer) >= minBytes {
		q.bufferReady = true
	}

	if q.bufferReady && len(q.buffer) > 0 {
		chunk := q.buffer
		q.buffer = nil
		select {
		case q.chunks <- chunk:
		default:
			// Channel full; hold the data for the next enqueue.
			q.buffer = chunk
		}
	}
}

// Flush discards all buffered audio, drains pending chunks, and signals the
// consumer once. Pre-buffering resets for the next utterance.
func (q *PlaybackQueue) Flush() {
	q.mu.Lock()

	if q.closed {
		q.mu.Unlock()
		return
	}

	q.buffer = nil
	q.bufferReady = false
	q.mu.Unlock()

	// Drain any chunks already handed to the channel.
	for {
		select {
		case <-q.chunks:
		default:
			goto done
		}
	}
done:

	select {
	case q.flush <- struct{}{}:
	default:
		// A flush signal is already pending.
	}
}

// Close closes the queue's channels. Enqueue and Flush become no-ops.
func (q *PlaybackQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	close(q.chunks)
	close(q.flush)
	return nil
}
