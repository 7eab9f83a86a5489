// Package bridge implements the two concurrent pumps of SPEC_FULL.md §4.6:
// carrier->AI (JSON media frames -> decode -> resample -> encode -> binary
// audio) and AI->carrier (binary frames dispatched by type -> decode ->
// resample -> encode -> JSON media frames), racing to first completion per
// §5's concurrency model. This mirrors the teacher's
// internal/channel/webrtc/streamer.go runGrpcReader/runOutputWriter pair,
// generalized from gRPC+WebRTC framing to the carrier/AI WebSocket
// protocols this spec defines.
package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/fluentvoice/gateway/internal/bridgeerr"
	"github.com/fluentvoice/gateway/internal/callsession"
	"github.com/fluentvoice/gateway/internal/codec"
	"github.com/fluentvoice/gateway/internal/framebuffer"
	"github.com/fluentvoice/gateway/internal/logging"
)

// Bridge owns both pumps for a single call. CarrierConn and AIConn are each
// read and written by exactly one pump (SPEC_FULL.md §5); no locking is
// needed on either connection.
type Bridge struct {
	Call       *callsession.Call
	CarrierConn *websocket.Conn
	AIConn     *websocket.Conn
	Resampler  codec.Resampler
	Logger     logging.Logger
}

// Run spawns both pumps and blocks until the first one exits (normally or
// with an error), then cancels the other and waits for it to return. The
// returned error is whichever pump exited first; a clean shutdown returns
// nil.
func (b *Bridge) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		name string
		err  error
	}
	done := make(chan result, 2)

	// Each pump only notices cancellation at the top of its loop, before
	// the blocking ReadMessage() call (SPEC_FULL.md §5: "the cancelled
	// pump must exit its next suspension point and return promptly"). A
	// pump parked in ReadMessage() would otherwise never wake up on its
	// own, so closing its connection on ctx.Done() is what actually
	// unblocks it.
	go func() { <-ctx.Done(); b.CarrierConn.Close() }()
	go func() { <-ctx.Done(); b.AIConn.Close() }()

	go func() { done <- result{"carrier->ai", b.runCarrierToAI(ctx)} }()
	go func() { done <- result{"ai->carrier", b.runAIToCarrier(ctx)} }()

	first := <-done
	b.Call.MarkClosing()
	cancel()
	<-done // wait for the cancelled pump to exit before returning

	if b.Logger != nil {
		b.Logger.Infow("bridge: call ended", "conversation_id", b.Call.ConversationID, "first_exit", first.name)
	}
	return first.err
}

// runCarrierToAI is the carrier->AI pump: SPEC_FULL.md §4.6.
func (b *Bridge) runCarrierToAI(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		msgType, data, err := b.CarrierConn.ReadMessage()
		if err != nil {
			return bridgeerr.ErrStreamClosed
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var env carrierEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			b.logWarn("carrier: malformed json envelope, dropping", "error", err)
			continue
		}

		switch env.Event {
		case eventStart:
			b.Call.SetStreamSid(env.Start.StreamSid)
		case eventMedia:
			if err := b.handleCarrierMedia(env.Media.Payload); err != nil {
				b.logWarn("carrier: media frame dropped", "error", err)
			}
		case eventStop:
			return nil
		default:
			// connected, mark, and anything else: ignore.
		}
	}
}

func (b *Bridge) handleCarrierMedia(payloadB64 string) error {
	mulawBytes, err := base64.StdEncoding.DecodeString(payloadB64)
	if err != nil {
		return err
	}

	pcm24k, err := codec.MuLaw8kToPCM24k(b.Resampler, mulawBytes)
	if err != nil {
		return err
	}

	b.Call.Residual.Push(pcm24k)
	frames := b.Call.Residual.Drain()
	for _, frame := range frames {
		packet, err := b.Call.Encoder.Encode(frame)
		framebuffer.PutFrame(frame)
		if err != nil {
			b.logWarn("opus encode failed, dropping frame", "error", err)
			continue
		}
		out := make([]byte, 1+len(packet))
		out[0] = aiFrameOpusAudio
		copy(out[1:], packet)
		if err := b.AIConn.WriteMessage(websocket.BinaryMessage, out); err != nil {
			return err
		}
	}
	return nil
}

// runAIToCarrier is the AI->carrier pump: SPEC_FULL.md §4.6.
func (b *Bridge) runAIToCarrier(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		msgType, data, err := b.AIConn.ReadMessage()
		if err != nil {
			return bridgeerr.ErrStreamClosed
		}
		if msgType != websocket.BinaryMessage || len(data) == 0 {
			continue
		}

		kind, payload := data[0], data[1:]
		switch kind {
		case aiFrameHandshake:
			// duplicate handshake; ignore.
		case aiFrameOpusAudio:
			if len(payload) == 0 {
				continue
			}
			if err := b.handleAIAudio(payload); err != nil {
				b.logWarn("ai: audio frame dropped", "error", err)
			}
		case aiFrameTextToken:
			if len(payload) == 0 {
				continue
			}
			b.Call.Transcript.AddToken(decodeUTF8Lenient(payload))
		case aiFrameEndTurn:
			b.Call.Transcript.EndTurn()
		default:
			b.logWarn("ai: unknown frame kind, ignoring", "kind", kind)
		}
	}
}

func (b *Bridge) handleAIAudio(opusPacket []byte) error {
	streamSid := b.Call.StreamSid()
	pcm24k, err := b.Call.Decoder.Decode(opusPacket)
	if err != nil {
		return err
	}
	if streamSid == "" {
		// No start envelope observed yet: suppress outbound audio
		// (SPEC_FULL.md §4.6 edge-case policy) but don't treat this as
		// an error.
		return nil
	}

	mulaw, err := codec.PCM24kToMuLaw8k(b.Resampler, pcm24k)
	if err != nil {
		return err
	}

	env := outboundMediaEnvelope{
		Event:     eventMedia,
		StreamSid: streamSid,
		Media:     outboundMediaBody{Payload: base64.StdEncoding.EncodeToString(mulaw)},
	}
	out, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.CarrierConn.WriteMessage(websocket.TextMessage, out)
}

func (b *Bridge) logWarn(msg string, kv ...interface{}) {
	if b.Logger != nil {
		b.Logger.Warnw(msg, kv...)
	}
}

// decodeUTF8Lenient decodes payload as UTF-8, replacing invalid sequences
// with U+FFFD, per SPEC_FULL.md §8 boundary behavior.
func decodeUTF8Lenient(payload []byte) string {
	return strings.ToValidUTF8(string(payload), "�")
}
