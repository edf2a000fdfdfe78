// Package sessionctx holds the in-memory conversational state of live
// sessions: merged transcript turns, debounce clocks and a bounded
// session cache.
package sessionctx

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Speaker identifies who produced a transcript fragment.
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerTutor Speaker = "tutor"
	SpeakerAgent Speaker = "agent"
)

// Valid reports whether s is a recognized speaker.
func (s Speaker) Valid() bool {
	switch s {
	case SpeakerUser, SpeakerTutor, SpeakerAgent:
		return true
	}
	return false
}

// Turn is one logical conversation turn after merging.
type Turn struct {
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// asrNoise lists transcription tokens stripped from fragments.
var asrNoise = []string{"[noise]", "[inaudible]", "[silence]", "[music]", "[laughter]", "<unk>"}

// Context is the rolling conversational state of one session. All methods
// are safe for concurrent use; a single lock guards every field so callers
// cannot deadlock across context, debounce and history access.
type Context struct {
	SessionID string
	LearnerID string

	mu            sync.Mutex
	turns         []Turn
	lastFragment  string
	lastSpeaker   Speaker
	maxHistory    int
	dirty         bool
	lastRetrieval time.Time
	createdAt     time.Time
}

// NewContext creates a Context bounded to maxHistory turns.
func NewContext(sessionID, learnerID string, maxHistory int) *Context {
	if maxHistory <= 0 {
		maxHistory = 50
	}
	return &Context{
		SessionID:  sessionID,
		LearnerID:  learnerID,
		maxHistory: maxHistory,
		createdAt:  time.Now(),
	}
}

// LastActivity returns the newest turn's timestamp, or the context's
// creation time when no turns have arrived.
func (c *Context) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.turns) == 0 {
		return c.createdAt
	}
	return c.turns[len(c.turns)-1].Timestamp
}

// AppendText folds a transcript fragment into the turn history.
// Consecutive fragments from the same speaker merge into one logical
// turn; an exact duplicate of the previous fragment is dropped, so
// re-delivered chunks do not double the transcript. Returns false when
// the fragment was empty after cleaning or a duplicate.
func (c *Context) AppendText(speaker Speaker, text string, ts time.Time) bool {
	cleaned := CleanFragment(text)
	if cleaned == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.turns) > 0 && c.lastSpeaker == speaker {
		if cleaned == c.lastFragment {
			return false
		}
		last := &c.turns[len(c.turns)-1]
		last.Text = last.Text + " " + cleaned
		last.Timestamp = ts
		c.lastFragment = cleaned
		c.dirty = true
		return true
	}

	c.turns = append(c.turns, Turn{Speaker: speaker, Text: cleaned, Timestamp: ts})
	if len(c.turns) > c.maxHistory {
		c.turns = c.turns[len(c.turns)-c.maxHistory:]
	}
	c.lastSpeaker = speaker
	c.lastFragment = cleaned
	c.dirty = true
	return true
}

// Turns returns a copy of the merged history.
func (c *Context) Turns() []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Recent returns up to n most recent turns, oldest first.
func (c *Context) Recent(n int) []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	start := len(c.turns) - n
	if start < 0 {
		start = 0
	}
	out := make([]Turn, len(c.turns)-start)
	copy(out, c.turns[start:])
	return out
}

// LastText returns the most recent turn text for a speaker, or "".
func (c *Context) LastText(speaker Speaker) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.turns) - 1; i >= 0; i-- {
		if c.turns[i].Speaker == speaker {
			return c.turns[i].Text
		}
	}
	return ""
}

// TurnCount returns the number of logical turns currently held.
func (c *Context) TurnCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.turns)
}

// AllowRetrieval implements the per-session retrieval debounce: it
// reports whether at least window has passed since the last allowed
// retrieval, and if so advances the clock.
func (c *Context) AllowRetrieval(now time.Time, window time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.lastRetrieval.IsZero() && now.Sub(c.lastRetrieval) < window {
		return false
	}
	c.lastRetrieval = now
	return true
}

// Sync writes the transcript to conversations/{session}.json under
// dataDir when it has changed since the last sync.
func (c *Context) Sync(dataDir string) error {
	c.mu.Lock()
	if !c.dirty {
		c.mu.Unlock()
		return nil
	}
	snapshot := struct {
		SessionID string `json:"session_id"`
		LearnerID string `json:"learner_id"`
		Turns     []Turn `json:"turns"`
	}{c.SessionID, c.LearnerID, append([]Turn(nil), c.turns...)}
	c.dirty = false
	c.mu.Unlock()

	dir := filepath.Join(dataDir, "conversations")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create conversations dir: %w", err)
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	path := filepath.Join(dir, c.SessionID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	return nil
}

// CleanFragment collapses whitespace and strips ASR noise tokens.
func CleanFragment(text string) string {
	lower := strings.ToLower(text)
	for _, tok := range asrNoise {
		for {
			i := strings.Index(lower, tok)
			if i < 0 {
				break
			}
			text = text[:i] + text[i+len(tok):]
			lower = lower[:i] + lower[i+len(tok):]
		}
	}
	return strings.Join(strings.Fields(text), " ")
}
