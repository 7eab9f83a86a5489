// Package callsession implements the per-call state machine of
// SPEC_FULL.md §4.5: caller normalization, user/conversation provisioning,
// memory-probe prompt composition, and the AI WebSocket handshake. The two
// bridge pumps themselves live in internal/bridge, which operates on the
// Call this package constructs.
package callsession

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fluentvoice/gateway/internal/bridgeerr"
	"github.com/fluentvoice/gateway/internal/codec"
	"github.com/fluentvoice/gateway/internal/framebuffer"
	"github.com/fluentvoice/gateway/internal/logging"
	"github.com/fluentvoice/gateway/internal/memory"
	"github.com/fluentvoice/gateway/internal/opuscoder"
	"github.com/fluentvoice/gateway/internal/phone"
	"github.com/fluentvoice/gateway/internal/transcript"
)

const (
	// MemoryProbeQuery is the fixed probe used at call start, intentional:
	// no user utterance exists yet (SPEC_FULL.md §4.5 step 3).
	MemoryProbeQuery = "voice conversation"

	defaultBasePrompt = "You are a helpful, friendly AI assistant having a voice conversation. Be natural and conversational."

	handshakeByte = 0x00
)

// Call is the per-call state described in SPEC_FULL.md §3. Fields here are
// mutated only by the owning session task and the two bridge pumps; see
// SPEC_FULL.md §5 for the single-writer invariants each field follows.
type Call struct {
	CallerE164     string
	UserID         string
	ConversationID string

	// streamSid is written once (on carrier "start") and read by the
	// AI->carrier pump; an atomic value gives the single publish/consume
	// relationship SPEC_FULL.md §5 calls for without a mutex.
	streamSid atomic.Value // string

	VoicePrompt string
	TextPrompt  string

	Encoder opuscoder.Codec // owned by carrier->AI pump
	Decoder opuscoder.Codec // owned by AI->carrier pump

	Residual   *framebuffer.Buffer // owned by carrier->AI pump exclusively
	Transcript *transcript.Capture // written by AI->carrier pump only

	closing atomic.Bool
}

// SetStreamSid publishes the carrier-assigned stream id. Safe to call once;
// later calls are ignored (the id is immutable for the life of the call
// per SPEC_FULL.md §3).
func (c *Call) SetStreamSid(sid string) {
	c.streamSid.CompareAndSwap(nil, sid)
}

// StreamSid returns the published stream id, or "" if "start" has not
// arrived yet.
func (c *Call) StreamSid() string {
	v, _ := c.streamSid.Load().(string)
	return v
}

// MarkClosing sets the closing flag; idempotent.
func (c *Call) MarkClosing() { c.closing.Store(true) }

// Closing reports whether the session has begun shutting down.
func (c *Call) Closing() bool { return c.closing.Load() }

// Config controls call-session construction.
type Config struct {
	AIWebSocketBaseURL string
	VoicePromptDefault string
	TextPromptDefault  string
	MemoryProbeK       int
	HandshakeTimeout   time.Duration
}

// Session owns the external collaborators needed to stand up a Call:
// the memory store and the AI WebSocket dialer.
type Session struct {
	cfg    Config
	store  memory.Store
	logger logging.Logger
	dialer *websocket.Dialer
}

// New builds a Session bound to the given memory store.
func New(cfg Config, store memory.Store, logger logging.Logger) *Session {
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	return &Session{
		cfg:    cfg,
		store:  store,
		logger: logger,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
	}
}

// Establish runs SPEC_FULL.md §4.5 steps 1-6: normalizes the caller,
// provisions user/conversation, composes the prompt, dials the AI
// WebSocket, and waits for the handshake byte. It returns the constructed
// Call and the open AI connection, or an error classified per §7
// (ConnectFailure / HandshakeFailure).
func (s *Session) Establish(ctx context.Context, rawCaller string) (*Call, *websocket.Conn, error) {
	caller := phone.NormalizeE164(rawCaller)

	userID, err := s.store.GetOrCreateUser(ctx, caller)
	if err != nil {
		return nil, nil, fmt.Errorf("callsession: get or create user: %w", err)
	}
	conversationID, err := s.store.CreateConversation(ctx, userID, "voice", "")
	if err != nil {
		return nil, nil, fmt.Errorf("callsession: create conversation: %w", err)
	}

	k := s.cfg.MemoryProbeK
	if k <= 0 {
		k = 10
	}
	memories, err := s.store.SemanticSearch(ctx, userID, MemoryProbeQuery, k)
	if err != nil {
		s.logger.Warnw("callsession: memory probe failed, proceeding without memories", "error", err)
		memories = nil
	}

	textPrompt := ComposePrompt(firstNonEmpty(s.cfg.TextPromptDefault, defaultBasePrompt), memories)
	voicePrompt := firstNonEmpty(s.cfg.VoicePromptDefault, "default")

	conn, err := s.dial(ctx, voicePrompt, textPrompt)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", bridgeerr.ErrConnectFailure, err)
	}

	if err := s.awaitHandshake(conn); err != nil {
		conn.Close()
		return nil, nil, err
	}

	call := &Call{
		CallerE164:     caller,
		UserID:         userID,
		ConversationID: conversationID,
		VoicePrompt:    voicePrompt,
		TextPrompt:     textPrompt,
		Encoder:        opuscoder.New(),
		Decoder:        opuscoder.New(),
		Residual:       framebuffer.New(),
		Transcript:     transcript.New(),
	}
	return call, conn, nil
}

func (s *Session) dial(ctx context.Context, voicePrompt, textPrompt string) (*websocket.Conn, error) {
	u, err := url.Parse(s.cfg.AIWebSocketBaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse ai websocket base url: %w", err)
	}
	q := u.Query()
	q.Set("voice_prompt", voicePrompt)
	q.Set("text_prompt", textPrompt)
	u.RawQuery = q.Encode()

	conn, _, err := s.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (s *Session) awaitHandshake(conn *websocket.Conn) error {
	msgType, payload, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("%w: %v", bridgeerr.ErrHandshakeFailure, err)
	}
	if msgType != websocket.BinaryMessage || len(payload) == 0 || payload[0] != handshakeByte {
		return fmt.Errorf("%w: unexpected first message", bridgeerr.ErrHandshakeFailure)
	}
	return nil
}

// ComposePrompt renders the base instruction optionally followed by a
// rendered memories block, per SPEC_FULL.md §4.5 step 3-4.
func ComposePrompt(base string, memories []memory.SearchResult) string {
	if len(memories) == 0 {
		return base
	}
	var sb strings.Builder
	sb.WriteString(base)
	sb.WriteString("\n\n")
	sb.WriteString(RenderMemories(memories))
	return sb.String()
}

// RenderMemories renders memory records as the "<memories>...</memories>"
// block described in SPEC_FULL.md §4.5.
func RenderMemories(memories []memory.SearchResult) string {
	var sb strings.Builder
	sb.WriteString("<memories>\n")
	for _, m := range memories {
		sb.WriteString("- [")
		sb.WriteString(m.Type)
		sb.WriteString("] ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	sb.WriteString("</memories>")
	return sb.String()
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
