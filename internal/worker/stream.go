package worker

import (
	"bytes"
	"sync"
	"time"

	"github.com/smi-gateway/smi/internal/jobtype"
)

// FrameBuffer accumulates raw bytes from a streaming worker (e.g. a
// TTS model emitting PCM in small increments) and flushes them as
// BYTES frames on a size/time schedule, rather than one frame per
// write call: a buffered-writer-with-flush-loop over typed byte
// frames instead of raw stdout/stderr text chunks.
type FrameBuffer struct {
	emit func(Frame)

	mu     sync.Mutex
	buf    bytes.Buffer
	ticker *time.Ticker
	done   chan struct{}
}

const (
	frameMaxChunk   = 32 * 1024
	frameFlushEvery = 100 * time.Millisecond
	frameMinFlush   = 512
)

// NewFrameBuffer creates a FrameBuffer that calls emit for each
// flushed chunk and starts its background flush loop.
func NewFrameBuffer(emit func(Frame)) *FrameBuffer {
	b := &FrameBuffer{emit: emit, done: make(chan struct{})}
	b.ticker = time.NewTicker(frameFlushEvery)
	go b.flushLoop()
	return b
}

// Write appends data, flushing in frameMaxChunk-sized pieces once the
// buffer grows past that size.
func (b *FrameBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n, err := b.buf.Write(p)
	if err != nil {
		return n, err
	}
	for b.buf.Len() >= frameMaxChunk {
		b.emitLocked(frameMaxChunk)
	}
	return n, nil
}

// Flush sends any buffered bytes regardless of size.
func (b *FrameBuffer) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.buf.Len() > 0 {
		n := b.buf.Len()
		if n > frameMaxChunk {
			n = frameMaxChunk
		}
		b.emitLocked(n)
	}
}

// Close stops the flush loop and flushes remaining bytes.
func (b *FrameBuffer) Close() {
	close(b.done)
	b.ticker.Stop()
	b.Flush()
}

func (b *FrameBuffer) flushLoop() {
	for {
		select {
		case <-b.done:
			return
		case <-b.ticker.C:
			b.mu.Lock()
			if b.buf.Len() >= frameMinFlush {
				b.emitLocked(b.buf.Len())
			}
			b.mu.Unlock()
		}
	}
}

func (b *FrameBuffer) emitLocked(n int) {
	data := make([]byte, n)
	copy(data, b.buf.Next(n))
	b.emit(Frame{Type: jobtype.FrameBytes, Bytes: data})
}
