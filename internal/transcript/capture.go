// Package transcript accumulates AI-side text tokens into a turn-structured
// transcript for post-call processing, a direct port of
// original_source/gateway/gateway/voice/transcript.py's TranscriptCapture.
package transcript

import (
	"strings"
	"sync"
)

// Role identifies the speaker of a transcript turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one closed, non-empty segment of the conversation.
type Turn struct {
	Role    Role
	Content string
}

// Capture is written only by the AI→carrier pump and read only by the
// post-call processor after both pumps have terminated (SPEC_FULL.md §5);
// it is still internally mutex-guarded so misuse fails safe rather than
// racing.
type Capture struct {
	mu      sync.Mutex
	tokens  strings.Builder
	current strings.Builder
	turns   []Turn
}

// New returns an empty Capture.
func New() *Capture {
	return &Capture{}
}

// AddToken appends s to both the running token log and the current
// assistant-turn accumulator.
func (c *Capture) AddToken(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens.WriteString(s)
	c.current.WriteString(s)
}

// EndTurn closes the current assistant turn: if non-empty after trimming,
// it is appended to the turns list and the accumulator is cleared.
func (c *Capture) EndTurn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endTurnLocked()
}

func (c *Capture) endTurnLocked() {
	trimmed := strings.TrimSpace(c.current.String())
	if trimmed != "" {
		c.turns = append(c.turns, Turn{Role: RoleAssistant, Content: trimmed})
	}
	c.current.Reset()
}

// AddUserNote appends a user-role turn directly, used by future STT/DTMF
// integrations (SPEC_FULL.md §9 reserves the user role for this).
func (c *Capture) AddUserNote(s string) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = append(c.turns, Turn{Role: RoleUser, Content: trimmed})
}

// Transcript flushes any open assistant turn and returns a copy of all
// closed turns in arrival order.
func (c *Capture) Transcript() []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endTurnLocked()
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// FullText returns the concatenation of every token ever seen, used as a
// fallback when no turn boundaries were ever observed.
func (c *Capture) FullText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens.String()
}
