package audio

import (
	"sync"
	"time"
)

// EnvelopeBuffer accumulates compressed container bytes (WebM/Opus) streamed
// by a live client. Compressed containers carry their header at the start, so
// the buffer is always decoded from byte zero; callers track how much PCM a
// previous decode produced to find the new tail.
type EnvelopeBuffer struct {
	data         []byte
	pendingBytes int       // bytes appended since the last decode
	lastDecode   time.Time // zero until the first append
	now          func() time.Time

	mu sync.Mutex
}

// NewEnvelopeBuffer creates an empty envelope buffer.
func NewEnvelopeBuffer() *EnvelopeBuffer {
	return &EnvelopeBuffer{
		data: make([]byte, 0, 64*1024),
		now:  time.Now,
	}
}

// Append adds a compressed chunk to the buffer.
func (b *EnvelopeBuffer) Append(chunk []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.lastDecode.IsZero() {
		b.lastDecode = b.now()
	}
	b.data = append(b.data, chunk...)
	b.pendingBytes += len(chunk)
}

// ReadyToDecode reports whether enough compressed data has accumulated since
// the last decode, or enough time has passed with some data pending. Either
// condition alone is sufficient.
func (b *EnvelopeBuffer) ReadyToDecode(minBytes int, forceTimeout time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pendingBytes == 0 {
		return false
	}
	if b.pendingBytes >= minBytes {
		return true
	}
	return b.now().Sub(b.lastDecode) >= forceTimeout
}

// HasPending reports whether any compressed bytes arrived since the last decode.
func (b *EnvelopeBuffer) HasPending() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pendingBytes > 0
}

// Bytes returns a copy of the full accumulated envelope.
func (b *EnvelopeBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

// Len returns the total accumulated envelope size in bytes.
func (b *EnvelopeBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// MarkDecoded resets the pending counter and decode clock after a decode pass.
func (b *EnvelopeBuffer) MarkDecoded() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pendingBytes = 0
	b.lastDecode = b.now()
}

// Reset discards all accumulated data.
func (b *EnvelopeBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = b.data[:0]
	b.pendingBytes = 0
	b.lastDecode = time.Time{}
}
