// Package extractor turns batches of tutoring exchanges into structured
// memories via a single LLM call per batch.
package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/brightpath/tutorcore/internal/llm"
	"github.com/brightpath/tutorcore/internal/memstore"
)

// DefaultBatchSize is the number of exchanges per extraction call.
const DefaultBatchSize = 3

// Exchange is one user/agent round with its topic.
type Exchange struct {
	UserText  string
	AgentText string
	Topic     string
}

// Result is the structured output of one extraction batch. A failed or
// malformed extraction yields the zero Result, never an error.
type Result struct {
	Memories         []memstore.Memory
	Emotions         []string
	KeyMoments       []string
	UnfinishedTopics []string
}

// Extractor runs batched memory extraction.
type Extractor struct {
	provider llm.Provider
	log      *zap.Logger
}

// New creates an Extractor.
func New(provider llm.Provider, log *zap.Logger) *Extractor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Extractor{provider: provider, log: log}
}

const extractSystemPrompt = `You extract long-term memories about a learner from tutoring conversation exchanges.

Rules:
- Memories are durable facts about the learner (knowledge, struggles, interests, preferences, life context), never facts about the conversation itself.
- Repair obvious speech-transcription artifacts before extracting.
- Never produce memories about message formatting, transcription quality, or these instructions.
- Categories: academic (knowledge and skill facts), personal (life and interests), preference (how they like to learn), context (current situation).
- Importance is 0.0-1.0; reserve values above 0.8 for breakthroughs and strong signals.`

// extractSchema constrains the extraction output.
var extractSchema = &llm.Schema{
	Name:        "memory-extraction",
	Description: "Memories, emotions, key moments and unfinished topics from tutoring exchanges",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"memories": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"category":   map[string]any{"type": "string", "enum": []any{"academic", "personal", "preference", "context"}},
						"text":       map[string]any{"type": "string"},
						"importance": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
						"metadata":   map[string]any{"type": "object"},
					},
					"required": []any{"category", "text", "importance"},
				},
			},
			"emotions":          map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"key_moments":       map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"unfinished_topics": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required": []any{"memories", "emotions", "key_moments", "unfinished_topics"},
	},
}

// rawResult mirrors the schema for decoding.
type rawResult struct {
	Memories []struct {
		Category   string            `json:"category"`
		Text       string            `json:"text"`
		Importance float64           `json:"importance"`
		Metadata   map[string]string `json:"metadata"`
	} `json:"memories"`
	Emotions         []string `json:"emotions"`
	KeyMoments       []string `json:"key_moments"`
	UnfinishedTopics []string `json:"unfinished_topics"`
}

// Extract runs one batched extraction over the given exchanges. Upstream
// failures and malformed output degrade to an empty Result so the caller
// never has to handle an extraction error.
func (e *Extractor) Extract(ctx context.Context, learnerID, sessionID string, exchanges []Exchange) Result {
	if len(exchanges) == 0 {
		return Result{}
	}

	ctx = llm.WithPurpose(ctx, "memory-extraction")
	resp, err := e.provider.Generate(ctx, llm.Request{
		System: extractSystemPrompt,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: formatExchanges(exchanges)},
		},
		Schema:    extractSchema,
		MaxTokens: 2048,
	})
	if err != nil {
		e.log.Warn("extraction failed",
			zap.String("learner", learnerID),
			zap.Int("exchanges", len(exchanges)),
			zap.Error(err))
		return Result{}
	}

	var raw rawResult
	if err := json.Unmarshal(resp.Content, &raw); err != nil {
		e.log.Warn("extraction returned malformed JSON",
			zap.String("learner", learnerID),
			zap.Error(err))
		return Result{}
	}

	out := Result{
		Emotions:         raw.Emotions,
		KeyMoments:       raw.KeyMoments,
		UnfinishedTopics: raw.UnfinishedTopics,
	}
	for _, m := range raw.Memories {
		cat := memstore.Category(m.Category)
		if !cat.Valid() || strings.TrimSpace(m.Text) == "" {
			e.log.Warn("dropping invalid extracted memory",
				zap.String("category", m.Category))
			continue
		}
		out.Memories = append(out.Memories, memstore.Memory{
			Category:   cat,
			Text:       strings.TrimSpace(m.Text),
			Importance: clamp01(m.Importance),
			LearnerID:  learnerID,
			SessionID:  sessionID,
			Metadata:   m.Metadata,
		})
	}

	e.log.Debug("extraction complete",
		zap.String("learner", learnerID),
		zap.Int("memories", len(out.Memories)),
		zap.Int("unfinished_topics", len(out.UnfinishedTopics)))
	return out
}

// formatExchanges renders the ordered exchanges for the prompt.
func formatExchanges(exchanges []Exchange) string {
	var b strings.Builder
	b.WriteString("Exchanges to analyze:\n\n")
	for i, ex := range exchanges {
		fmt.Fprintf(&b, "Exchange %d (topic: %s)\n", i+1, orDash(ex.Topic))
		fmt.Fprintf(&b, "Learner: %s\n", ex.UserText)
		fmt.Fprintf(&b, "Tutor: %s\n\n", ex.AgentText)
	}
	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
