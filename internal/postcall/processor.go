// Package postcall implements the fire-and-forget processing of
// SPEC_FULL.md §4.7: persist the transcript, extract facts and a summary
// over the LLM, and write memories. It is a direct Go port of
// original_source/gateway/gateway/memory/extraction.py's
// process_conversation, generalized to take its transcript from
// transcript.Capture instead of re-reading persisted messages.
package postcall

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/fluentvoice/gateway/internal/bridgeerr"
	"github.com/fluentvoice/gateway/internal/llmclient"
	"github.com/fluentvoice/gateway/internal/logging"
	"github.com/fluentvoice/gateway/internal/memory"
	"github.com/fluentvoice/gateway/internal/transcript"
)

const (
	factExtractionPrompt = `You are a memory extraction system. Analyze the following conversation and extract discrete facts about the user. Return a JSON array of objects, each with:
- "type": one of "fact", "preference", "action_item"
- "content": a concise statement of the fact (always from user's perspective, e.g. "User's name is Alice")
- "confidence": float 0.0-1.0 indicating how certain this fact is

Only extract facts explicitly stated or strongly implied by the user. Do not infer or speculate.
Return ONLY the JSON array, no other text.

Conversation:
`

	summaryPrompt = `Write a one-paragraph summary of this conversation. Focus on key topics discussed, decisions made, and any commitments. Be concise.

Conversation:
`

	factExtractionSystemPrompt = "You are a precise fact extraction system. Return only valid JSON."
	summarySystemPrompt        = "You are a conversation summarizer."

	sourceChannelVoice = "voice"
)

// extractedFact is one element of the LLM's fact-extraction JSON array.
type extractedFact struct {
	Type       string  `json:"type"`
	Content    string  `json:"content"`
	Confidence float64 `json:"confidence"`
}

// Processor runs SPEC_FULL.md §4.7 against its own DB connection, acquired
// fresh from the pool via memory.Store.Session so a detached task never
// shares the call's connection (SPEC_FULL.md §9).
type Processor struct {
	store  memory.Store
	llm    llmclient.Client
	logger logging.Logger
}

// New builds a Processor. store should be the pool-level Store; Run calls
// store.Session() itself to get a dedicated connection.
func New(store memory.Store, llm llmclient.Client, logger logging.Logger) *Processor {
	return &Processor{store: store, llm: llm, logger: logger}
}

// Run executes post-call processing for one finished call. It never
// returns an error to the caller's call-handling path; any failure is
// logged and wrapped as bridgeerr.PostCallFailure, per §7's
// PostCallFailure disposition ("log with conversation id; do not surface").
// Callers should invoke this in its own goroutine.
func (p *Processor) Run(ctx context.Context, conversationID, userID string, cap *transcript.Capture) {
	p.logger.Infow("postcall: disconnected, starting processing", "conversation_id", conversationID)

	if err := p.run(ctx, conversationID, userID, cap); err != nil {
		pf := &bridgeerr.PostCallFailure{ConversationID: conversationID, Err: err}
		p.logger.Errorw("postcall: processing failed", "conversation_id", conversationID, "error", pf)
	}
}

func (p *Processor) run(ctx context.Context, conversationID, userID string, cap *transcript.Capture) error {
	store := p.store.Session()

	turns := cap.Transcript()
	if len(turns) == 0 {
		fullText := strings.TrimSpace(cap.FullText())
		if fullText == "" {
			return store.EndConversation(ctx, conversationID, "")
		}
		if err := store.AddMessage(ctx, conversationID, string(transcript.RoleAssistant), fullText); err != nil {
			return err
		}
		turns = []transcript.Turn{{Role: transcript.RoleAssistant, Content: fullText}}
	} else {
		for _, t := range turns {
			if err := store.AddMessage(ctx, conversationID, string(t.Role), t.Content); err != nil {
				return err
			}
		}
	}

	renderedTranscript := renderTranscript(turns)

	facts, err := p.extractFacts(ctx, renderedTranscript)
	if err != nil {
		p.logger.Warnw("postcall: fact extraction failed", "conversation_id", conversationID, "error", err)
		facts = nil
	}
	for _, f := range facts {
		content := strings.TrimSpace(f.Content)
		if content == "" {
			continue
		}
		memType := f.Type
		if memType == "" {
			memType = "fact"
		}
		confidence := f.Confidence
		if confidence == 0 {
			confidence = 1.0
		}
		if err := store.StoreMemory(ctx, userID, memType, content, sourceChannelVoice, conversationID, confidence, nil); err != nil {
			p.logger.Warnw("postcall: store fact memory failed", "conversation_id", conversationID, "error", err)
		}
	}

	summary, err := p.extractSummary(ctx, renderedTranscript)
	if err != nil {
		p.logger.Warnw("postcall: summary extraction failed", "conversation_id", conversationID, "error", err)
		summary = ""
	}
	summary = strings.TrimSpace(summary)
	if summary != "" {
		if err := store.StoreMemory(ctx, userID, "summary", summary, sourceChannelVoice, conversationID, 1.0, nil); err != nil {
			p.logger.Warnw("postcall: store summary memory failed", "conversation_id", conversationID, "error", err)
		}
	}

	if err := store.EndConversation(ctx, conversationID, summary); err != nil {
		return err
	}

	p.logger.Infow("postcall: processing complete", "conversation_id", conversationID,
		"facts_count", len(facts), "has_summary", summary != "")
	return nil
}

func (p *Processor) extractFacts(ctx context.Context, renderedTranscript string) ([]extractedFact, error) {
	response, err := p.llm.Chat(ctx, []llmclient.Message{
		{Role: "user", Content: factExtractionPrompt + renderedTranscript},
	}, factExtractionSystemPrompt)
	if err != nil {
		return nil, err
	}

	var facts []extractedFact
	if err := json.Unmarshal([]byte(extractJSONArray(response)), &facts); err != nil {
		p.logger.Warnw("postcall: fact extraction response was not a JSON array, treating as empty", "error", err)
		return nil, nil
	}
	return facts, nil
}

func (p *Processor) extractSummary(ctx context.Context, renderedTranscript string) (string, error) {
	return p.llm.Chat(ctx, []llmclient.Message{
		{Role: "user", Content: summaryPrompt + renderedTranscript},
	}, summarySystemPrompt)
}

// renderTranscript renders turns as "role: content" lines, matching
// original_source's _build_transcript.
func renderTranscript(turns []transcript.Turn) string {
	var sb strings.Builder
	for i, t := range turns {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(string(t.Role))
		sb.WriteString(": ")
		sb.WriteString(t.Content)
	}
	return sb.String()
}

// extractJSONArray trims anything surrounding the first '[' ... last ']'
// span, tolerating an LLM that ignores "return only the array" and wraps
// it in prose or a code fence. Parsing is still lenient per §4.7: a
// non-array or malformed result is treated as empty by the caller.
func extractJSONArray(s string) string {
	start := strings.IndexByte(s, '[')
	end := strings.LastIndexByte(s, ']')
	if start < 0 || end < start {
		return "null"
	}
	return s[start : end+1]
}
