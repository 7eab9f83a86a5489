// Package framebuffer accumulates resampled PCM samples between send passes
// on the carrier→AI path and drains whole Opus-frame-sized chunks, per
// SPEC_FULL.md §4.3. It is the only allocation on the hot send path that
// scales with input, and keeps that allocation pool-backed.
package framebuffer

import "sync"

// FrameSamples is the Opus frame size this buffer drains in units of.
const FrameSamples = 480

var framePool = sync.Pool{
	New: func() interface{} {
		buf := make([]float32, FrameSamples)
		return &buf
	},
}

func getFrame() *[]float32 {
	return framePool.Get().(*[]float32)
}

// PutFrame returns a frame slice obtained from Drain back to the pool once
// the caller is done with it (e.g. after Opus-encoding it). Optional: the
// caller may also just let it be garbage collected.
func PutFrame(f []float32) {
	if cap(f) != FrameSamples {
		return
	}
	f = f[:FrameSamples]
	framePool.Put(&f)
}

// Buffer holds residual PCM samples. Owned exclusively by the carrier→AI
// pump; not safe for concurrent use (SPEC_FULL.md §5).
type Buffer struct {
	residual []float32
}

// New returns an empty Buffer with headroom for one frame's worth of
// residual samples.
func New() *Buffer {
	return &Buffer{residual: make([]float32, 0, FrameSamples)}
}

// Push appends samples to the residual buffer.
func (b *Buffer) Push(samples []float32) {
	b.residual = append(b.residual, samples...)
}

// Drain yields zero or more complete FrameSamples-sized frames, each backed
// by a pool-allocated slice, and leaves a residual strictly shorter than
// FrameSamples. Callers should return each frame to the pool via PutFrame
// once consumed.
func (b *Buffer) Drain() [][]float32 {
	var frames [][]float32
	for len(b.residual) >= FrameSamples {
		fp := getFrame()
		copy(*fp, b.residual[:FrameSamples])
		frames = append(frames, *fp)
		b.residual = b.residual[FrameSamples:]
	}
	// Compact the residual so the backing array doesn't grow unbounded
	// across many Push/Drain cycles.
	if len(b.residual) > 0 {
		compacted := make([]float32, len(b.residual), FrameSamples)
		copy(compacted, b.residual)
		b.residual = compacted
	} else {
		b.residual = b.residual[:0]
	}
	return frames
}

// Residual returns the current residual length, for tests and invariant
// assertions (SPEC_FULL.md §8: len(residual) < 480 after every Drain).
func (b *Buffer) Residual() int {
	return len(b.residual)
}
