// Package consolidate derives session artifacts: a running closing cache
// during the session, a durable closing artifact at session end, and the
// opening artifact greeting the learner's next session.
package consolidate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/brightpath/tutorcore/internal/memstore"
)

const (
	openingFile = "TA-opening-retrieval.json"
	closingFile = "TA-closing-retrieval.json"
)

// ClosingArtifact captures what a finished session leaves behind.
type ClosingArtifact struct {
	SessionID        string    `json:"session_id"`
	Timestamp        time.Time `json:"timestamp"`
	NewMemories      int       `json:"new_memories"`
	EmotionalArc     []string  `json:"emotional_arc"`
	KeyMoments       []string  `json:"key_moments"`
	UnfinishedTopics []string  `json:"unfinished_topics"`
	TopicsCovered    []string  `json:"topics_covered"`
	SessionSummary   string    `json:"session_summary"`
	GoodbyeMessage   string    `json:"goodbye_message"`
	NextSessionHooks []string  `json:"next_session_hooks"`
}

// OpeningArtifact primes the next session's greeting.
type OpeningArtifact struct {
	WelcomeHook        string    `json:"welcome_hook"`
	LastSessionSummary string    `json:"last_session_summary"`
	UnfinishedThreads  []string  `json:"unfinished_threads"`
	PersonalRelevance  string    `json:"personal_relevance"`
	EmotionalStateLast string    `json:"emotional_state_last"`
	SuggestedOpener    string    `json:"suggested_opener"`
	Timestamp          time.Time `json:"timestamp"`
}

func openingPath(dataDir, learnerID string) string {
	return filepath.Join(memstore.TeachingAssistantDir(dataDir, learnerID), openingFile)
}

func closingPath(dataDir, learnerID string) string {
	return filepath.Join(memstore.TeachingAssistantDir(dataDir, learnerID), closingFile)
}

func writeArtifact(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	return nil
}

func readArtifact(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
