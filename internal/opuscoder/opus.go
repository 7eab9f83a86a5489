// Package opuscoder wraps gopkg.in/hraban/opus.v2 for the 24kHz mono,
// 20ms-frame VOIP-class coding this gateway needs on the AI side of the
// bridge, per SPEC_FULL.md §4.2.
package opuscoder

import (
	"fmt"

	"gopkg.in/hraban/opus.v2"
)

const (
	SampleRate      = 24000
	Channels        = 1
	FrameSamples    = 480 // 20ms at 24kHz
	MaxPacketBytes  = 4000
)

// Codec is the encode/decode surface the bridge pumps depend on. *Coder
// implements it; tests substitute a fake to avoid exercising the cgo Opus
// library.
type Codec interface {
	Encode(frame []float32) ([]byte, error)
	Decode(packet []byte) ([]float32, error)
}

// Coder lazily owns one encoder and one decoder for the life of a call.
// Not safe for concurrent use: SPEC_FULL.md §5 assigns each Coder to
// exactly one pump.
type Coder struct {
	enc *opus.Encoder
	dec *opus.Decoder
}

// New constructs a Coder with no underlying encoder/decoder yet; they are
// built lazily on first Encode/Decode call, matching SPEC_FULL.md §4.2's
// "lazily constructed on first use" requirement.
func New() *Coder {
	return &Coder{}
}

func (c *Coder) encoder() (*opus.Encoder, error) {
	if c.enc != nil {
		return c.enc, nil
	}
	enc, err := opus.NewEncoder(SampleRate, Channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("opus: new encoder: %w", err)
	}
	c.enc = enc
	return c.enc, nil
}

func (c *Coder) decoder() (*opus.Decoder, error) {
	if c.dec != nil {
		return c.dec, nil
	}
	dec, err := opus.NewDecoder(SampleRate, Channels)
	if err != nil {
		return nil, fmt.Errorf("opus: new decoder: %w", err)
	}
	c.dec = dec
	return c.dec, nil
}

// Encode takes exactly one 480-sample (20ms) frame and returns a packet. A
// failure from the underlying library is returned as an error; callers
// must log and drop per SPEC_FULL.md §7 (EncodeFailure), never retry.
func (c *Coder) Encode(frame []float32) ([]byte, error) {
	if len(frame) != FrameSamples {
		return nil, fmt.Errorf("opus: encode requires exactly %d samples, got %d", FrameSamples, len(frame))
	}
	enc, err := c.encoder()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, MaxPacketBytes)
	n, err := enc.EncodeFloat32(frame, buf)
	if err != nil {
		return nil, fmt.Errorf("opus: encode: %w", err)
	}
	return buf[:n], nil
}

// Decode takes one Opus packet and returns up to 480 decoded samples. A
// failure from the underlying library is returned as an error; callers
// must log and drop per SPEC_FULL.md §7 (MediaDecodeFailure).
func (c *Coder) Decode(packet []byte) ([]float32, error) {
	dec, err := c.decoder()
	if err != nil {
		return nil, err
	}
	out := make([]float32, FrameSamples)
	n, err := dec.DecodeFloat32(packet, out)
	if err != nil {
		return nil, fmt.Errorf("opus: decode: %w", err)
	}
	return out[:n], nil
}
