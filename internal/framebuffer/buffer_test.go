package framebuffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer_DrainProducesWholeFramesAndBoundedResidual(t *testing.T) {
	b := New()
	b.Push(make([]float32, 1000))
	frames := b.Drain()
	assert.Len(t, frames, 2) // 1000 / 480 = 2 whole frames
	for _, f := range frames {
		assert.Len(t, f, FrameSamples)
	}
	assert.Less(t, b.Residual(), FrameSamples)
	assert.Equal(t, 1000-2*FrameSamples, b.Residual())
}

func TestBuffer_DrainAcrossMultiplePushes(t *testing.T) {
	b := New()
	for i := 0; i < 10; i++ {
		b.Push(make([]float32, 100))
		frames := b.Drain()
		assert.Less(t, b.Residual(), FrameSamples)
		for _, f := range frames {
			assert.Len(t, f, FrameSamples)
		}
	}
	// 10 * 100 = 1000 total samples pushed, 2 frames drained total.
	assert.Equal(t, 1000-2*FrameSamples, b.Residual())
}

func TestBuffer_EmptyDrainIsNoop(t *testing.T) {
	b := New()
	frames := b.Drain()
	assert.Empty(t, frames)
	assert.Equal(t, 0, b.Residual())
}

func TestPutFrame_RoundTripsThroughPool(t *testing.T) {
	b := New()
	b.Push(make([]float32, FrameSamples))
	frames := b.Drain()
	require.Len(t, frames, 1)
	PutFrame(frames[0])
	fp := getFrame()
	require.Len(t, *fp, FrameSamples)
}

func BenchmarkBuffer_PushDrain(b *testing.B) {
	buf := New()
	chunk := make([]float32, 160)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.Push(chunk)
		frames := buf.Drain()
		for _, f := range frames {
			PutFrame(f)
		}
	}
}
