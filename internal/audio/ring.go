package audio

import (
	"sync"
)

const (
	DefaultStaleSeconds     = 25.0
	DefaultStaleKeepSeconds = 5.0
)

// RingBuffer holds a bounded, growing window of recent mono samples. Once the
// stored audio exceeds maxSeconds, the oldest minSeconds are dropped and the
// buffer offset (seconds discarded since stream start) advances by minSeconds.
//
// All reads return copies so recognition never observes a buffer that is
// mutated mid-call.
type RingBuffer struct {
	mu      sync.Mutex
	samples []float32
	offset  float64
	trims   int

	rate        int
	maxSamples  int
	dropSamples int
	minSeconds  float64

	staleSamples int
	keepSeconds  float64

	notify chan struct{}
}

func NewRingBuffer(sampleRate int, maxSeconds, minSeconds float64) *RingBuffer {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &RingBuffer{
		samples:      make([]float32, 0, int(maxSeconds*float64(sampleRate))),
		rate:         sampleRate,
		maxSamples:   int(maxSeconds * float64(sampleRate)),
		dropSamples:  int(minSeconds * float64(sampleRate)),
		minSeconds:   minSeconds,
		staleSamples: int(DefaultStaleSeconds * float64(sampleRate)),
		keepSeconds:  DefaultStaleKeepSeconds,
		notify:       make(chan struct{}, 1),
	}
}

// SetStaleClip overrides the thresholds used by ClipIfStale.
func (b *RingBuffer) SetStaleClip(staleSeconds, keepSeconds float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.staleSamples = int(staleSeconds * float64(b.rate))
	b.keepSeconds = keepSeconds
}

// Append adds a block of samples, trimming the head while the buffer is over
// capacity.
func (b *RingBuffer) Append(block []float32) {
	if len(block) == 0 {
		return
	}
	b.mu.Lock()
	b.samples = append(b.samples, block...)
	for b.maxSamples > 0 && len(b.samples) > b.maxSamples && b.dropSamples > 0 {
		drop := b.dropSamples
		if drop > len(b.samples) {
			drop = len(b.samples)
		}
		b.samples = append(b.samples[:0], b.samples[drop:]...)
		b.offset += b.minSeconds
		b.trims++
	}
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func (b *RingBuffer) startIndex(timestampOffset float64) int {
	start := int((timestampOffset - b.offset) * float64(b.rate))
	if start < 0 {
		return 0
	}
	if start > len(b.samples) {
		return len(b.samples)
	}
	return start
}

// WindowForProcessing copies every sample from timestampOffset onward and
// returns it with its duration in seconds.
func (b *RingBuffer) WindowForProcessing(timestampOffset float64) ([]float32, float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	start := b.startIndex(timestampOffset)
	out := make([]float32, len(b.samples)-start)
	copy(out, b.samples[start:])
	return out, float64(len(out)) / float64(b.rate)
}

// ClipIfStale forces timestampOffset forward when the un-recognized tail is
// longer than the stale threshold, keeping only the most recent keepSeconds.
// Audio skipped this way is never transcribed.
func (b *RingBuffer) ClipIfStale(timestampOffset float64) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.staleSamples <= 0 {
		return timestampOffset
	}
	if len(b.samples)-b.startIndex(timestampOffset) <= b.staleSamples {
		return timestampOffset
	}
	duration := float64(len(b.samples)) / float64(b.rate)
	clipped := b.offset + duration - b.keepSeconds
	if clipped < b.offset {
		clipped = b.offset
	}
	if clipped < timestampOffset {
		return timestampOffset
	}
	return clipped
}

// Notify fires (coalesced) after every non-empty Append.
func (b *RingBuffer) Notify() <-chan struct{} {
	return b.notify
}

// Offset returns the seconds of audio discarded from the head.
func (b *RingBuffer) Offset() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.offset
}

// Duration returns the seconds of audio currently stored.
func (b *RingBuffer) Duration() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return float64(len(b.samples)) / float64(b.rate)
}

func (b *RingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}

// Trims returns how many times the head has been dropped.
func (b *RingBuffer) Trims() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.trims
}

func (b *RingBuffer) SampleRate() int { return b.rate }
