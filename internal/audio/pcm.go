package audio

import (
	"fmt"
	"sync"
	"time"
)

// Format describes raw PCM audio parameters
type Format struct {
	SampleRate  int // samples per second
	Channels    int
	SampleWidth int // bytes per sample
}

// BytesPerSecond returns the PCM data rate for this format
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * f.SampleWidth
}

// FrameSize returns the number of bytes in one sample frame
func (f Format) FrameSize() int {
	return f.Channels * f.SampleWidth
}

// DurationOf returns the playback duration of n bytes of PCM in this format
func (f Format) DurationOf(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(float64(n) / float64(bps) * float64(time.Second))
}

// BytesFor returns the number of PCM bytes spanning d, aligned down to a frame
func (f Format) BytesFor(d time.Duration) int {
	n := int(d.Seconds() * float64(f.BytesPerSecond()))
	return n - n%f.FrameSize()
}

// PCMBuffer accumulates decoded PCM audio for a live session. It tracks the
// playback duration of its contents and supports trimming to a tail span so a
// sliding transcription window can retain overlap across utterance boundaries.
type PCMBuffer struct {
	format Format
	data   []byte

	mu sync.Mutex
}

// NewPCMBuffer creates an empty PCM buffer for the given format
func NewPCMBuffer(format Format) *PCMBuffer {
	return &PCMBuffer{
		format: format,
		data:   make([]byte, 0, format.BytesPerSecond()*2),
	}
}

// Format returns the buffer's PCM format
func (b *PCMBuffer) Format() Format {
	return b.format
}

// Append adds decoded PCM bytes to the buffer
func (b *PCMBuffer) Append(pcm []byte) error {
	if len(pcm)%b.format.FrameSize() != 0 {
		return fmt.Errorf("pcm data not frame aligned: %d bytes with frame size %d",
			len(pcm), b.format.FrameSize())
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = append(b.data, pcm...)
	return nil
}

// Bytes returns a copy of the buffered PCM
func (b *PCMBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

// Len returns the buffered PCM size in bytes
func (b *PCMBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Duration returns the playback duration of the buffered PCM
func (b *PCMBuffer) Duration() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.format.DurationOf(len(b.data))
}

// TrimToTail discards all but the last keep span of audio. The retained
// bytes stay frame aligned. A zero or negative keep empties the buffer.
func (b *PCMBuffer) TrimToTail(keep time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	keepBytes := b.format.BytesFor(keep)
	if keepBytes <= 0 {
		b.data = b.data[:0]
		return
	}
	if keepBytes >= len(b.data) {
		return
	}

	copy(b.data, b.data[len(b.data)-keepBytes:])
	b.data = b.data[:keepBytes]
}

// Reset discards all buffered PCM
func (b *PCMBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = b.data[:0]
}
