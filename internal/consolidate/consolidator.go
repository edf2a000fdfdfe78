package consolidate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/brightpath/tutorcore/internal/extractor"
	"github.com/brightpath/tutorcore/internal/llm"
	"github.com/brightpath/tutorcore/internal/memstore"
)

// maxHooks is the number of next-session hooks in the closing cache.
const maxHooks = 3

// openingPollInterval is how often the session-start poll rechecks for a
// late opening artifact.
const openingPollInterval = 200 * time.Millisecond

// sessionAccum is the running consolidation state of one live session.
// Guarded by its own lock: buffer flush and batch extraction are mutually
// exclusive.
type sessionAccum struct {
	mu               sync.Mutex
	learnerID        string
	buffer           []extractor.Exchange
	emotions         []string
	keyMoments       []string
	unfinishedTopics []string
	topicsCovered    []string
	newMemories      int
	summary          string
	goodbye          string
	hooks            []string
}

// Consolidator owns the per-session closing cache and the opening and
// closing artifacts.
type Consolidator struct {
	extractor *extractor.Extractor
	memories  *memstore.Store
	provider  llm.Provider
	dataDir   string
	batchSize int
	log       *zap.Logger

	mu       sync.Mutex
	sessions map[string]*sessionAccum
}

// New creates a Consolidator. batchSize is the exchange count per
// extraction batch.
func New(ex *extractor.Extractor, memories *memstore.Store, provider llm.Provider, dataDir string, batchSize int, log *zap.Logger) *Consolidator {
	if batchSize <= 0 {
		batchSize = extractor.DefaultBatchSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Consolidator{
		extractor: ex,
		memories:  memories,
		provider:  provider,
		dataDir:   dataDir,
		batchSize: batchSize,
		log:       log,
	}
}

func (c *Consolidator) accum(sessionID, learnerID string) *sessionAccum {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.sessions[sessionID]
	if !ok {
		if c.sessions == nil {
			c.sessions = make(map[string]*sessionAccum)
		}
		a = &sessionAccum{learnerID: learnerID}
		c.sessions[sessionID] = a
	}
	return a
}

// AddExchange buffers one completed exchange. Every batchSize exchanges
// the buffer is flushed through the extractor and the closing cache is
// refreshed. Blocking work happens inline; callers schedule AddExchange
// on the worker pool.
func (c *Consolidator) AddExchange(ctx context.Context, sessionID, learnerID string, ex extractor.Exchange) {
	a := c.accum(sessionID, learnerID)
	a.mu.Lock()
	defer a.mu.Unlock()

	a.buffer = append(a.buffer, ex)
	if ex.Topic != "" && !contains(a.topicsCovered, ex.Topic) {
		a.topicsCovered = append(a.topicsCovered, ex.Topic)
	}
	if len(a.buffer) >= c.batchSize {
		c.flushLocked(ctx, sessionID, a)
	}
}

// flushLocked extracts the buffered exchanges and refreshes the running
// closing cache. Caller holds a.mu.
func (c *Consolidator) flushLocked(ctx context.Context, sessionID string, a *sessionAccum) {
	batch := a.buffer
	a.buffer = nil
	if len(batch) == 0 {
		return
	}

	res := c.extractor.Extract(ctx, a.learnerID, sessionID, batch)
	if len(res.Memories) > 0 {
		stats := c.memories.SaveBatch(ctx, res.Memories)
		a.newMemories += stats.New + stats.Updated
	}
	a.emotions = append(a.emotions, res.Emotions...)
	a.keyMoments = append(a.keyMoments, res.KeyMoments...)
	for _, topic := range res.UnfinishedTopics {
		if !contains(a.unfinishedTopics, topic) {
			a.unfinishedTopics = append(a.unfinishedTopics, topic)
		}
	}

	c.updateClosingLocked(ctx, a)
}

const closingSystemPrompt = `You maintain a running wrap-up for a live tutoring session.
Given the session's key moments, emotions and topics, respond with JSON:
{"session_summary": string, "goodbye_message": string, "extra_hooks": [string]}.
The summary is 1-2 sentences for the learner's records. The goodbye is warm and specific. extra_hooks are forward-looking conversation starters for the next session, derived from the key moments; supply exactly as many as requested.`

var closingSchema = &llm.Schema{
	Name:        "closing-cache",
	Description: "Running session summary, goodbye and next-session hooks",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"session_summary": map[string]any{"type": "string"},
			"goodbye_message": map[string]any{"type": "string"},
			"extra_hooks":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required": []any{"session_summary", "goodbye_message", "extra_hooks"},
	},
}

// updateClosingLocked refreshes summary, goodbye and hooks. Actual
// unfinished topics come first; the LLM fills remaining hook slots from
// key moments. LLM failure keeps the previous cache values. Caller holds
// a.mu.
func (c *Consolidator) updateClosingLocked(ctx context.Context, a *sessionAccum) {
	hooks := make([]string, 0, maxHooks)
	for _, t := range a.unfinishedTopics {
		if len(hooks) == maxHooks {
			break
		}
		hooks = append(hooks, t)
	}
	need := maxHooks - len(hooks)

	var b strings.Builder
	fmt.Fprintf(&b, "Key moments: %s\n", strings.Join(a.keyMoments, "; "))
	fmt.Fprintf(&b, "Emotions observed: %s\n", strings.Join(a.emotions, "; "))
	fmt.Fprintf(&b, "Topics covered: %s\n", strings.Join(a.topicsCovered, "; "))
	fmt.Fprintf(&b, "Extra hooks requested: %d\n", need)

	resp, err := c.provider.Generate(llm.WithPurpose(ctx, "closing-cache"), llm.Request{
		System:    closingSystemPrompt,
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: b.String()}},
		Schema:    closingSchema,
		MaxTokens: 512,
	})
	if err != nil {
		c.log.Warn("closing cache update failed", zap.Error(err))
		a.hooks = hooks
		return
	}

	var parsed struct {
		SessionSummary string   `json:"session_summary"`
		GoodbyeMessage string   `json:"goodbye_message"`
		ExtraHooks     []string `json:"extra_hooks"`
	}
	if err := json.Unmarshal(resp.Content, &parsed); err != nil {
		c.log.Warn("closing cache returned malformed JSON", zap.Error(err))
		a.hooks = hooks
		return
	}

	a.summary = parsed.SessionSummary
	a.goodbye = parsed.GoodbyeMessage
	for _, h := range parsed.ExtraHooks {
		if len(hooks) == maxHooks {
			break
		}
		hooks = append(hooks, h)
	}
	a.hooks = hooks
}

// EndSession flushes the remaining exchange buffer, writes the closing
// artifact, and returns it along with the learner id for detached
// opening-artifact generation. Per-session state is dropped even when
// extraction fails.
func (c *Consolidator) EndSession(ctx context.Context, sessionID string) (ClosingArtifact, string) {
	c.mu.Lock()
	a, ok := c.sessions[sessionID]
	delete(c.sessions, sessionID)
	c.mu.Unlock()

	if !ok {
		return ClosingArtifact{SessionID: sessionID, Timestamp: time.Now()}, ""
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	c.flushLocked(ctx, sessionID, a)

	artifact := ClosingArtifact{
		SessionID:        sessionID,
		Timestamp:        time.Now(),
		NewMemories:      a.newMemories,
		EmotionalArc:     a.emotions,
		KeyMoments:       a.keyMoments,
		UnfinishedTopics: a.unfinishedTopics,
		TopicsCovered:    a.topicsCovered,
		SessionSummary:   a.summary,
		GoodbyeMessage:   a.goodbye,
		NextSessionHooks: a.hooks,
	}

	if err := writeArtifact(closingPath(c.dataDir, a.learnerID), artifact); err != nil {
		c.log.Warn("closing artifact write failed",
			zap.String("session", sessionID),
			zap.Error(err))
	}
	return artifact, a.learnerID
}

// Goodbye returns the current goodbye message for a live session, or ""
// if none has been derived yet.
func (c *Consolidator) Goodbye(sessionID string) string {
	c.mu.Lock()
	a, ok := c.sessions[sessionID]
	c.mu.Unlock()
	if !ok {
		return ""
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.goodbye
}

const openingSystemPrompt = `You prepare the opening of a learner's next tutoring session from their last session's record and personal memories.
Respond with JSON: {"welcome_hook": string, "personal_relevance": string, "suggested_opener": string}.
welcome_hook references a concrete achievement or breakthrough from last session.
personal_relevance ties the session to the learner's life using the personal memories and the stated time of day.
suggested_opener is the first thing the tutor could say.`

var openingSchema = &llm.Schema{
	Name:        "opening-artifact",
	Description: "Greeting material for the learner's next session",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"welcome_hook":       map[string]any{"type": "string"},
			"personal_relevance": map[string]any{"type": "string"},
			"suggested_opener":   map[string]any{"type": "string"},
		},
		"required": []any{"welcome_hook", "personal_relevance", "suggested_opener"},
	},
}

// GenerateOpening builds and persists the opening artifact for the
// learner's next session. Designed to run detached after session end.
func (c *Consolidator) GenerateOpening(ctx context.Context, learnerID string, closing ClosingArtifact, now time.Time) error {
	personal, err := c.memories.Search(ctx, learnerID, strings.Join(closing.TopicsCovered, " "),
		memstore.SearchOptions{Category: memstore.CategoryPersonal, TopK: 3})
	if err != nil {
		c.log.Warn("personal memory lookup failed", zap.Error(err))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Time of day for next session: %s\n", timeOfDay(now))
	fmt.Fprintf(&b, "Last session summary: %s\n", closing.SessionSummary)
	fmt.Fprintf(&b, "Key moments: %s\n", strings.Join(closing.KeyMoments, "; "))
	fmt.Fprintf(&b, "Unfinished topics: %s\n", strings.Join(closing.UnfinishedTopics, "; "))
	b.WriteString("Personal memories:\n")
	for _, p := range personal {
		fmt.Fprintf(&b, "- %s\n", p.Memory.Text)
	}

	artifact := OpeningArtifact{
		LastSessionSummary: closing.SessionSummary,
		UnfinishedThreads:  closing.UnfinishedTopics,
		EmotionalStateLast: lastOf(closing.EmotionalArc),
		Timestamp:          time.Now(),
	}

	resp, err := c.provider.Generate(llm.WithPurpose(ctx, "opening-artifact"), llm.Request{
		System:    openingSystemPrompt,
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: b.String()}},
		Schema:    openingSchema,
		MaxTokens: 512,
	})
	if err == nil {
		var parsed struct {
			WelcomeHook       string `json:"welcome_hook"`
			PersonalRelevance string `json:"personal_relevance"`
			SuggestedOpener   string `json:"suggested_opener"`
		}
		if jsonErr := json.Unmarshal(resp.Content, &parsed); jsonErr == nil {
			artifact.WelcomeHook = parsed.WelcomeHook
			artifact.PersonalRelevance = parsed.PersonalRelevance
			artifact.SuggestedOpener = parsed.SuggestedOpener
		}
	} else {
		c.log.Warn("opening generation failed, writing partial artifact", zap.Error(err))
	}

	return writeArtifact(openingPath(c.dataDir, learnerID), artifact)
}

// TakeOpening reads and clears the learner's opening artifact. Returns
// nil when none exists: a taken artifact is indistinguishable from one
// never written.
func (c *Consolidator) TakeOpening(learnerID string) (*OpeningArtifact, error) {
	path := openingPath(c.dataDir, learnerID)
	var artifact OpeningArtifact
	if err := readArtifact(path, &artifact); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if err := os.Remove(path); err != nil {
		c.log.Warn("opening artifact clear failed", zap.Error(err))
	}
	return &artifact, nil
}

// PollOpening waits up to timeout for an opening artifact, covering the
// immediate-restart race where the previous session's detached generation
// has not finished yet.
func (c *Consolidator) PollOpening(ctx context.Context, learnerID string, timeout time.Duration) (*OpeningArtifact, error) {
	deadline := time.Now().Add(timeout)
	for {
		artifact, err := c.TakeOpening(learnerID)
		if err != nil {
			return nil, err
		}
		if artifact != nil {
			return artifact, nil
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(openingPollInterval):
		}
	}
}

func timeOfDay(t time.Time) string {
	switch h := t.Hour(); {
	case h < 5:
		return "late night"
	case h < 12:
		return "morning"
	case h < 17:
		return "afternoon"
	case h < 21:
		return "evening"
	default:
		return "night"
	}
}

func lastOf(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[len(s)-1]
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
