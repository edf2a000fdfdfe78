package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/brightpath/tutorcore/internal/llm"
	"github.com/brightpath/tutorcore/internal/memstore"
	"github.com/brightpath/tutorcore/internal/sessionctx"
)

// sentinelNone is the Reflector's explicit "do not inject" answer.
const sentinelNone = "NONE"

// instructionPrefix wraps Reflector output before it reaches the agent.
const instructionPrefix = "System instruction for the tutor: "

const analyzeSystemPrompt = `You decide whether a tutoring agent should look up long-term memories about the learner to answer well.
Given the learner's latest message and the tutor's previous reply, respond with JSON: {"retrieval_needed": bool, "query": string}.
The query must be a compact search phrase capturing the informational need, not a question.`

var analyzeSchema = &llm.Schema{
	Name:        "retrieval-analysis",
	Description: "Whether memory retrieval is needed and the optimized query",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"retrieval_needed": map[string]any{"type": "boolean"},
			"query":            map[string]any{"type": "string"},
		},
		"required": []any{"retrieval_needed", "query"},
	},
}

// analyzeQuery asks the LLM whether retrieval is needed and for an
// optimized query. Any failure falls back to the raw user text with
// retrieval assumed needed.
func (r *Retriever) analyzeQuery(ctx context.Context, userText, prevAgentText string) (bool, string) {
	ctx = llm.WithPurpose(ctx, "retrieval-analysis")
	resp, err := r.provider.Generate(ctx, llm.Request{
		System: analyzeSystemPrompt,
		Messages: []llm.Message{{
			Role: llm.RoleUser,
			Content: fmt.Sprintf("Tutor previously said: %s\nLearner says: %s",
				orNone(prevAgentText), userText),
		}},
		Schema:    analyzeSchema,
		MaxTokens: 256,
	})
	if err != nil {
		r.log.Debug("query analysis failed, using raw text", zap.Error(err))
		return true, userText
	}

	var parsed struct {
		RetrievalNeeded bool   `json:"retrieval_needed"`
		Query           string `json:"query"`
	}
	if err := json.Unmarshal(resp.Content, &parsed); err != nil || strings.TrimSpace(parsed.Query) == "" {
		return true, userText
	}
	return parsed.RetrievalNeeded, parsed.Query
}

const deepQuerySystemPrompt = `You summarize a stretch of tutoring conversation into one thematic search query.
Respond with JSON: {"query": string}. The query should capture the session's current themes for retrieving related long-term memories about the learner.`

var deepQuerySchema = &llm.Schema{
	Name:        "deep-query",
	Description: "A single thematic query for deep memory retrieval",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string"},
		},
		"required": []any{"query"},
	},
}

// deepQuery synthesizes a thematic query from recent turns. Falls back to
// the concatenated turn text.
func (r *Retriever) deepQuery(ctx context.Context, turns []sessionctx.Turn) string {
	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "%s: %s\n", t.Speaker, t.Text)
	}
	raw := b.String()

	ctx = llm.WithPurpose(ctx, "deep-query")
	resp, err := r.provider.Generate(ctx, llm.Request{
		System:    deepQuerySystemPrompt,
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: raw}},
		Schema:    deepQuerySchema,
		MaxTokens: 256,
	})
	if err != nil {
		r.log.Debug("deep query synthesis failed, using raw turns", zap.Error(err))
		return raw
	}

	var parsed struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(resp.Content, &parsed); err != nil || strings.TrimSpace(parsed.Query) == "" {
		return raw
	}
	return parsed.Query
}

const reflectSystemPrompt = `You advise a tutoring agent mid-conversation. Given retrieved memories about the learner and the recent conversation, either:
- write ONE short natural-language instruction telling the agent how to use the most relevant memory right now, or
- reply with exactly NONE if no memory would genuinely improve the next reply.
Never fabricate memories. Prefer NONE over forced relevance.`

// reflect asks the LLM to turn candidate memories into a single agent
// instruction, or the sentinel. Failures suppress injection.
func (r *Retriever) reflect(ctx context.Context, candidates []memstore.Scored, turns []sessionctx.Turn) (string, bool) {
	var b strings.Builder
	b.WriteString("Retrieved memories:\n")
	for i, c := range candidates {
		fmt.Fprintf(&b, "%d. [%s] %s (importance %.2f)\n", i+1, c.Memory.Category, c.Memory.Text, c.Memory.Importance)
	}
	b.WriteString("\nRecent conversation:\n")
	for _, t := range turns {
		fmt.Fprintf(&b, "%s: %s\n", t.Speaker, t.Text)
	}

	ctx = llm.WithPurpose(ctx, "reflector")
	resp, err := r.provider.Generate(ctx, llm.Request{
		System:    reflectSystemPrompt,
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: b.String()}},
		MaxTokens: 512,
	})
	if err != nil {
		r.log.Debug("reflector failed, suppressing injection", zap.Error(err))
		return "", false
	}

	text := strings.TrimSpace(rawText(resp.Content))
	if text == "" || strings.EqualFold(text, sentinelNone) {
		return "", false
	}
	return instructionPrefix + text, true
}

// rawText unwraps a provider response that may be a JSON string or plain
// text.
func rawText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func orNone(s string) string {
	if s == "" {
		return "(nothing yet)"
	}
	return s
}
