package novasonic

import (
	"bytes"
	"sync"
	"testing"
	"time"
)

func TestDefaultPlaybackConfig(t *testing.T) {
	config := DefaultPlaybackConfig()
	if config.MinBufferMS != 50 {
		t.Errorf("MinBufferMS = %d, want 50", config.MinBufferMS)
	}
	if config.ChannelSize != 20 {
		t.Errorf("ChannelSize = %d, want 20", config.ChannelSize)
	}
	if config.SampleRate != DefaultPlaybackRate {
		t.Errorf("SampleRate = %d, want %d", config.SampleRate, DefaultPlaybackRate)
	}
}

func TestPlaybackQueue_PreBuffering(t *testing.T) {
	// 10ms at 24kHz mono PCM16 = 480 bytes before the first chunk emits.
	q := NewPlaybackQueue(PlaybackConfig{MinBufferMS: 10, ChannelSize: 4, SampleRate: 24000})
	defer q.Close()

	q.Enqueue(make([]byte, 200))
	select {
	case chunk := <-q.Chunks():
		t.Fatalf("chunk emitted before pre-buffer filled: %d bytes", len(chunk))
	case <-time.After(50 * time.Millisecond):
	}

	q.Enqueue(make([]byte, 300))
	select {
	case chunk := <-q.Chunks():
		if len(chunk) != 500 {
			t.Errorf("first chunk = %d bytes, want 500", len(chunk))
		}
	case <-time.After(time.Second):
		t.Fatal("chunk never emitted after pre-buffer filled")
	}

	// Once ready, subsequent enqueues emit immediately.
	q.Enqueue([]byte{1, 2})
	select {
	case chunk := <-q.Chunks():
		if !bytes.Equal(chunk, []byte{1, 2}) {
			t.Errorf("second chunk = %v", chunk)
		}
	case <-time.After(time.Second):
		t.Fatal("second chunk never emitted")
	}
}

func TestPlaybackQueue_NoPreBuffering(t *testing.T) {
	q := NewPlaybackQueue(PlaybackConfig{MinBufferMS: 0, ChannelSize: 4, SampleRate: 24000})
	defer q.Close()

	q.Enqueue([]byte{1, 0})
	select {
	case chunk := <-q.Chunks():
		if !bytes.Equal(chunk, []byte{1, 0}) {
			t.Errorf("chunk = %v", chunk)
		}
	case <-time.After(time.Second):
		t.Fatal("chunk never emitted with pre-buffering disabled")
	}
}

func TestPlaybackQueue_EnqueueNeverBlocks(t *testing.T) {
	q := NewPlaybackQueue(PlaybackConfig{MinBufferMS: 0, ChannelSize: 1, SampleRate: 24000})
	defer q.Close()

	done := make(chan struct{})
	go func() {
		// Nobody is draining; a blocking Enqueue would hang here.
		for i := 0; i < 50; i++ {
			q.Enqueue(make([]byte, 64))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Enqueue blocked with a full channel")
	}
}

func TestPlaybackQueue_HeldDataReEmitted(t *testing.T) {
	q := NewPlaybackQueue(PlaybackConfig{MinBufferMS: 0, ChannelSize: 1, SampleRate: 24000})
	defer q.Close()

	q.Enqueue([]byte{1, 0}) // fills the channel
	q.Enqueue([]byte{2, 0}) // held back: channel full

	first := <-q.Chunks()
	if !bytes.Equal(first, []byte{1, 0}) {
		t.Fatalf("first chunk = %v", first)
	}

	// The held data rides out with the next enqueue.
	q.Enqueue([]byte{3, 0})
	second := <-q.Chunks()
	if !bytes.Equal(second, []byte{2, 0, 3, 0}) {
		t.Errorf("second chunk = %v, want held+new", second)
	}
}

func TestPlaybackQueue_Flush(t *testing.T) {
	q := NewPlaybackQueue(PlaybackConfig{MinBufferMS: 0, ChannelSize: 4, SampleRate: 24000})
	defer q.Close()

	q.Enqueue([]byte{1, 0})
	q.Enqueue([]byte{2, 0})
	q.Flush()

	// Queued chunks are drained and exactly one flush signal is pending.
	select {
	case chunk := <-q.Chunks():
		t.Fatalf("chunk survived flush: %v", chunk)
	default:
	}
	select {
	case <-q.Flushed():
	case <-time.After(time.Second):
		t.Fatal("flush signal never arrived")
	}

	// A second flush in a row does not stack signals.
	q.Flush()
	q.Flush()
	<-q.Flushed()
	select {
	case <-q.Flushed():
		t.Fatal("flush signals stacked")
	default:
	}
}

func TestPlaybackQueue_FlushResetsPreBuffer(t *testing.T) {
	// 10ms at 24kHz = 480 bytes.
	q := NewPlaybackQueue(PlaybackConfig{MinBufferMS: 10, ChannelSize: 4, SampleRate: 24000})
	defer q.Close()

	q.Enqueue(make([]byte, 480))
	<-q.Chunks()
	q.Flush()
	<-q.Flushed()

	// After a flush the next utterance pre-buffers again.
	q.Enqueue(make([]byte, 100))
	select {
	case chunk := <-q.Chunks():
		t.Fatalf("chunk emitted before re-buffering: %d bytes", len(chunk))
	case <-time.After(50 * time.Millisecond):
	}

	q.Enqueue(make([]byte, 380))
	select {
	case <-q.Chunks():
	case <-time.After(time.Second):
		t.Fatal("chunk never emitted after re-buffering")
	}
}

func TestPlaybackQueue_Close(t *testing.T) {
	q := NewPlaybackQueue(DefaultPlaybackConfig())

	if err := q.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}

	// Enqueue and Flush after Close are no-ops, not panics.
	q.Enqueue([]byte{1, 0})
	q.Flush()

	if _, ok := <-q.Chunks(); ok {
		t.Error("chunks channel should be closed")
	}
	if _, ok := <-q.Flushed(); ok {
		t.Error("flush channel should be closed")
	}
}

func TestPlaybackQueue_HandleAudio(t *testing.T) {
	q := NewPlaybackQueue(PlaybackConfig{MinBufferMS: 0, ChannelSize: 4, SampleRate: 24000})

	var mu sync.Mutex
	var chunks [][]byte
	flushes := 0

	q.HandleAudio(func(chunk []byte) {
		mu.Lock()
		chunks = append(chunks, chunk)
		mu.Unlock()
	}, func() {
		mu.Lock()
		flushes++
		mu.Unlock()
	})

	q.Enqueue([]byte{1, 0})
	q.Enqueue([]byte{2, 0})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(chunks) == 2
	}, "chunks never reached the handler")

	q.Flush()
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return flushes == 1
	}, "flush never reached the handler")

	_ = q.Close()
}
