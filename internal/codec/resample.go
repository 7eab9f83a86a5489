package codec

import (
	goaudioresampler "github.com/tphakala/go-audio-resampler"
)

// SampleRate enumerates the two rates this gateway ever resamples between.
type SampleRate int

const (
	SampleRate8kHz  SampleRate = 8000
	SampleRate24kHz SampleRate = 24000
)

// Resampler converts PCM float32 samples between sample rates. Implementations
// must satisfy: Resample(x, r, r) == x (identity, no copy required by the
// caller but no resampling work done either).
type Resampler interface {
	Resample(samples []float32, from, to SampleRate) ([]float32, error)
}

// polyphaseResampler wraps the teacher's high-quality resampler dependency,
// configured for "very-high" SoX-equivalent quality per SPEC_FULL.md §4.1.
// Mirrors the injection shape of
// internal/channel/telephony/internal/base/base.go's
// internal_audio_resampler.GetResampler(logger) call, but as a small local
// adapter rather than a shared platform singleton.
type polyphaseResampler struct {
	quality goaudioresampler.Quality
}

// NewResampler builds the production Resampler, backed by
// github.com/tphakala/go-audio-resampler at its highest quality setting.
func NewResampler() Resampler {
	return &polyphaseResampler{quality: goaudioresampler.QualityVeryHigh}
}

func (r *polyphaseResampler) Resample(samples []float32, from, to SampleRate) ([]float32, error) {
	if from == to || len(samples) == 0 {
		return samples, nil
	}
	return goaudioresampler.Resample(samples, int(from), int(to), r.quality)
}

// MuLaw8kToPCM24k is the carrier→AI transcoding pipeline step: µ-law bytes
// at 8kHz to float32 PCM at 24kHz.
func MuLaw8kToPCM24k(r Resampler, mulaw []byte) ([]float32, error) {
	pcm8k := MuLawDecode(mulaw)
	return r.Resample(pcm8k, SampleRate8kHz, SampleRate24kHz)
}

// PCM24kToMuLaw8k is the AI→carrier transcoding pipeline step: float32 PCM
// at 24kHz to µ-law bytes at 8kHz.
func PCM24kToMuLaw8k(r Resampler, pcm24k []float32) ([]byte, error) {
	pcm8k, err := r.Resample(pcm24k, SampleRate24kHz, SampleRate8kHz)
	if err != nil {
		return nil, err
	}
	return MuLawEncode(pcm8k), nil
}
