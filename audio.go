package novasonic

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Audio constants for the speech-to-speech wire format.
// Capture and playback rates are negotiated at prompt start; these are the
// service defaults.
const (
	// DefaultCaptureRate is the microphone sample rate (16kHz).
	DefaultCaptureRate = 16000

	// DefaultPlaybackRate is the assistant audio sample rate (24kHz).
	DefaultPlaybackRate = 24000

	// DefaultFrameMS is the capture frame duration. Every frame is sent as
	// one audioInput event with no batching.
	DefaultFrameMS = 20

	// maxChunkBytes caps a single audio payload (1MB).
	maxChunkBytes = 1024 * 1024
)

// PCM16BytesFor calculates the number of bytes needed for PCM16 audio of given duration.
// Formula: (milliseconds * sampleRate * 2 bytes per sample) / 1000
func PCM16BytesFor(ms int, sampleRate int) int { return (ms * sampleRate * 2) / 1000 }

// PCM16DurationMS is the inverse of PCM16BytesFor.
func PCM16DurationMS(n int, sampleRate int) int {
	if sampleRate <= 0 {
		return 0
	}
	return (n * 1000) / (sampleRate * 2)
}

// EncodeAudioChunk converts a 16-bit little-endian PCM buffer to the base64
// text form carried by audioInput events. The buffer must contain whole
// samples and stay under the 1MB payload cap.
func EncodeAudioChunk(pcmLE []byte) (string, error) {
	if len(pcmLE) == 0 {
		return "", nil
	}
	if len(pcmLE)%2 != 0 {
		return "", errors.New("PCM16 data must have even number of bytes")
	}
	if len(pcmLE) > maxChunkBytes {
		return "", fmt.Errorf("PCM data too large (%d bytes), maximum is %d bytes", len(pcmLE), maxChunkBytes)
	}
	return base64.StdEncoding.EncodeToString(pcmLE), nil
}

// DecodeAudioChunk converts a base64 audioOutput payload back to raw PCM16
// little-endian bytes.
func DecodeAudioChunk(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode audio chunk: %w", err)
	}
	if len(b)%2 != 0 {
		return nil, errors.New("decoded PCM16 data has odd length")
	}
	return b, nil
}

// PCM16ToFloat32 converts little-endian PCM16 bytes to normalized float
// samples in [-1, 1].
func PCM16ToFloat32(pcmLE []byte) []float32 {
	out := make([]float32, len(pcmLE)/2)
	for i := range out {
		s := int16(binary.LittleEndian.Uint16(pcmLE[i*2:]))
		out[i] = float32(s) / 32768.0
	}
	return out
}

// Float32ToPCM16 converts normalized float samples to little-endian PCM16
// bytes, clamping anything outside [-1, 1]. The scale matches
// PCM16ToFloat32 so a decode/encode cycle reproduces the original bytes.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, f := range samples {
		if f > 1 {
			f = 1
		} else if f < -1 {
			f = -1
		}
		s := int32(f * 32768.0)
		if s > math.MaxInt16 {
			s = math.MaxInt16
		} else if s < math.MinInt16 {
			s = math.MinInt16
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s)))
	}
	return out
}

// RMS computes the root-mean-square amplitude of a PCM16 buffer, normalized
// to [0, 1]. It backs the speaking/silent indicator only; transmission is
// never gated on it.
func RMS(pcmLE []byte) float64 {
	n := len(pcmLE) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcmLE[i*2:]))) / 32768.0
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// AudioAssembler collects streaming audioOutput chunks and reassembles them
// into complete PCM buffers, keyed by content id. Use this to save a full
// assistant reply, e.g. as a WAV file.
type AudioAssembler struct{ data map[string][]byte }

// NewAudioAssembler creates a new AudioAssembler instance.
func NewAudioAssembler() *AudioAssembler { return &AudioAssembler{data: make(map[string][]byte)} }

// OnChunk processes an AudioOutput event by decoding and appending its payload.
// Call this from your AudioOutput event handler.
func (a *AudioAssembler) OnChunk(e AudioOutput) error {
	b, err := DecodeAudioChunk(e.Content)
	if err != nil {
		return err
	}
	a.data[e.ContentID] = append(a.data[e.ContentID], b...)
	return nil
}

// Take retrieves and removes the accumulated PCM for a content id.
// Call this when the matching AUDIO contentEnd arrives.
func (a *AudioAssembler) Take(contentID string) []byte {
	buf := a.data[contentID]
	delete(a.data, contentID)
	return buf
}

// WAVFromPCM16Mono converts raw PCM16 audio data to a complete WAV file.
// This is useful for saving audio responses to disk or streaming to audio players.
// The input should be 16-bit little-endian PCM data (mono channel).
func WAVFromPCM16Mono(pcm []byte, sampleRate int) []byte {
	blockAlign := uint16(2)
	byteRate := uint32(sampleRate) * uint32(blockAlign)
	dataLen := uint32(len(pcm))
	riffLen := 36 + dataLen
	out := make([]byte, 44+len(pcm))

	// RIFF header
	copy(out[0:], []byte("RIFF"))
	binary.LittleEndian.PutUint32(out[4:], riffLen)
	copy(out[8:], []byte("WAVE"))

	// Format chunk
	copy(out[12:], []byte("fmt "))
	binary.LittleEndian.PutUint32(out[16:], 16) // fmt chunk size
	binary.LittleEndian.PutUint16(out[20:], 1)  // audio format (PCM)
	binary.LittleEndian.PutUint16(out[22:], 1)  // num channels (mono)
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], byteRate)
	binary.LittleEndian.PutUint16(out[32:], blockAlign)
	binary.LittleEndian.PutUint16(out[34:], 16) // bits per sample
	// Data chunk
	copy(out[36:], []byte("data"))
	binary.LittleEndian.PutUint32(out[40:], dataLen)
	copy(out[44:], pcm)
	return out
}
