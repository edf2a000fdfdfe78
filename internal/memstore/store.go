package memstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brightpath/tutorcore/internal/config"
	"github.com/brightpath/tutorcore/internal/embedding"
)

// ErrRejected is returned when a candidate text fails the junk or
// minimum-word-count filter and never becomes a memory.
var ErrRejected = errors.New("memory text rejected")

// SaveResult describes what a save did.
type SaveResult int

const (
	// SaveNew means a new vector was inserted.
	SaveNew SaveResult = iota
	// SaveUpdated means an existing near-duplicate was reinforced.
	SaveUpdated
)

// BatchStats summarizes a batch save.
type BatchStats struct {
	Processed int
	New       int
	Updated   int
	Errors    int
}

// Scored is a search hit with its component and final scores.
type Scored struct {
	Memory     Memory
	Similarity float64
	Recency    float64
	Final      float64
}

// SearchOptions narrows a search.
type SearchOptions struct {
	// Category limits the search to one namespace; empty searches all.
	Category Category
	// TopK caps the number of results. Defaults to 10.
	TopK int
	// ExcludeSession drops memories originating in the given session.
	ExcludeSession string
}

// Store persists learner memories as vectors with dedupe-on-write and
// weighted search. Writes for the same learner are serialized so the
// no-two-near-duplicates invariant holds under concurrency.
type Store struct {
	db      *sql.DB
	engine  embedding.Engine
	cfg     config.Memory
	dataDir string
	log     *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a Store. dataDir is the base directory for the
// per-learner JSON mirrors; empty disables mirroring.
func NewStore(db *sql.DB, engine embedding.Engine, cfg config.Memory, dataDir string, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		db:      db,
		engine:  engine,
		cfg:     cfg,
		dataDir: dataDir,
		log:     log,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Ready polls the datastore until it responds or the readiness timeout
// elapses. Two processes initializing the same learner's index at once is
// not an error: creation is idempotent.
func (s *Store) Ready(ctx context.Context) error {
	timeout := time.Duration(s.cfg.IndexReadyTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	deadline := time.Now().Add(timeout)

	for {
		if err := s.db.PingContext(ctx); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("memory store not ready after %s", timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// learnerLock returns the mutex serializing writes for one learner index.
func (s *Store) learnerLock(index string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[index]
	if !ok {
		l = &sync.Mutex{}
		s.locks[index] = l
	}
	return l
}

// Save stores one memory, deduplicating against the learner's category
// namespace. Near-duplicates (cosine at or above the threshold) reinforce
// the existing record instead of inserting: counter increments, last-seen
// advances, text takes the latest phrasing, importance keeps the maximum.
// The original embedding is kept.
func (s *Store) Save(ctx context.Context, m Memory) (SaveResult, error) {
	if !m.Category.Valid() {
		return 0, fmt.Errorf("unknown memory category %q", m.Category)
	}
	if err := s.filter(m.Text); err != nil {
		return 0, err
	}

	vec, err := s.engine.Embed(ctx, m.Text)
	if err != nil {
		return 0, fmt.Errorf("embed memory: %w", err)
	}

	index := IndexName(m.LearnerID)
	lock := s.learnerLock(index)
	lock.Lock()
	defer lock.Unlock()

	nearest, sim, err := s.nearest(ctx, index, m.Category, vec)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	if nearest != nil && sim >= s.cfg.SimilarityThreshold {
		importance := nearest.Importance
		if m.Importance > importance {
			importance = m.Importance
		}
		_, err := s.db.ExecContext(ctx,
			`UPDATE memory_vectors
			 SET counter = counter + 1, last_epoch = ?, text = ?, importance = ?
			 WHERE memory_id = ?`,
			now.Unix(), m.Text, importance, nearest.ID)
		if err != nil {
			return 0, fmt.Errorf("reinforce memory: %w", err)
		}

		s.log.Debug("memory reinforced",
			zap.String("index", index),
			zap.String("category", string(m.Category)),
			zap.String("memory", nearest.ID),
			zap.Float64("similarity", sim))
		s.mirror(ctx, m.LearnerID, m.Category)
		return SaveUpdated, nil
	}

	id := m.ID
	if id == "" {
		id = uuid.NewString()
	}
	embJSON, err := json.Marshal(vec)
	if err != nil {
		return 0, fmt.Errorf("encode embedding: %w", err)
	}
	metaJSON, err := json.Marshal(m.Metadata)
	if err != nil {
		return 0, fmt.Errorf("encode metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO memory_vectors
		 (learner_index, category, memory_id, text, importance, learner_id,
		  session_id, counter, first_epoch, last_epoch, embedding, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?, ?)`,
		index, string(m.Category), id, m.Text, m.Importance, m.LearnerID,
		m.SessionID, now.Unix(), now.Unix(), string(embJSON), string(metaJSON))
	if err != nil {
		return 0, fmt.Errorf("insert memory: %w", err)
	}

	s.log.Debug("memory stored",
		zap.String("index", index),
		zap.String("category", string(m.Category)),
		zap.String("memory", id))
	s.mirror(ctx, m.LearnerID, m.Category)
	return SaveNew, nil
}

// SaveBatch runs each memory through the save policy, continuing past
// per-item failures.
func (s *Store) SaveBatch(ctx context.Context, memories []Memory) BatchStats {
	var stats BatchStats
	for _, m := range memories {
		stats.Processed++
		res, err := s.Save(ctx, m)
		switch {
		case errors.Is(err, ErrRejected):
			stats.Errors++
		case err != nil:
			stats.Errors++
			s.log.Warn("memory save failed",
				zap.String("learner", m.LearnerID),
				zap.String("category", string(m.Category)),
				zap.Error(err))
		case res == SaveNew:
			stats.New++
		default:
			stats.Updated++
		}
	}
	return stats
}

// Search finds the learner's memories most relevant to the query. Each
// candidate is scored as a weighted blend of similarity, recency and
// importance. A failing category does not fail the whole search.
func (s *Store) Search(ctx context.Context, learnerID, query string, opts SearchOptions) ([]Scored, error) {
	topK := opts.TopK
	if topK <= 0 {
		topK = 10
	}

	queryVec, err := s.engine.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	categories := Categories()
	if opts.Category != "" {
		if !opts.Category.Valid() {
			return nil, fmt.Errorf("unknown memory category %q", opts.Category)
		}
		categories = []Category{opts.Category}
	}

	index := IndexName(learnerID)
	now := time.Now()
	var hits []Scored
	for _, cat := range categories {
		records, err := s.namespace(ctx, index, cat)
		if err != nil {
			s.log.Warn("category search failed",
				zap.String("index", index),
				zap.String("category", string(cat)),
				zap.Error(err))
			continue
		}

		for _, rec := range records {
			if opts.ExcludeSession != "" && rec.memory.SessionID == opts.ExcludeSession {
				continue
			}
			sim, err := embedding.CosineSimilarity(queryVec, rec.vector)
			if err != nil {
				continue
			}
			rec.memory.Category = cat
			recency := s.recency(now, rec.memory.LastEpoch, rec.memory.Counter)
			hits = append(hits, Scored{
				Memory:     rec.memory,
				Similarity: sim,
				Recency:    recency,
				Final: s.cfg.SimilarityWeight*sim +
					s.cfg.RecencyWeight*recency +
					s.cfg.ImportanceWeight*rec.memory.Importance,
			})
		}
	}

	sortScored(hits)
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Count returns the number of stored memories for a learner, per category.
func (s *Store) Count(ctx context.Context, learnerID string) (map[Category]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT category, COUNT(*) FROM memory_vectors WHERE learner_index = ? GROUP BY category`,
		IndexName(learnerID))
	if err != nil {
		return nil, fmt.Errorf("count memories: %w", err)
	}
	defer rows.Close()

	out := make(map[Category]int)
	for rows.Next() {
		var cat string
		var n int
		if err := rows.Scan(&cat, &n); err != nil {
			return nil, err
		}
		out[Category(cat)] = n
	}
	return out, rows.Err()
}

// filter rejects junk and too-short texts.
func (s *Store) filter(text string) error {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)
	for _, junk := range s.cfg.JunkWords {
		if lower == junk {
			return fmt.Errorf("%w: junk word %q", ErrRejected, trimmed)
		}
	}
	if len(strings.Fields(trimmed)) < s.cfg.MinWordCount {
		return fmt.Errorf("%w: fewer than %d words", ErrRejected, s.cfg.MinWordCount)
	}
	return nil
}

// recency blends time decay and reinforcement frequency as equal halves.
func (s *Store) recency(now, lastSeen time.Time, counter int) float64 {
	decayHours := s.cfg.RecencyDecayHours
	if decayHours <= 0 {
		decayHours = 24
	}
	hours := now.Sub(lastSeen).Hours()
	if hours < 0 {
		hours = 0
	}
	timePart := 1 / (1 + hours/decayHours)

	maxCounter := s.cfg.MaxCounterForFreq
	if maxCounter <= 0 {
		maxCounter = 10
	}
	freqPart := float64(counter) / float64(maxCounter)
	if freqPart > 1 {
		freqPart = 1
	}

	return 0.5*timePart + 0.5*freqPart
}

type vectorRecord struct {
	memory Memory
	vector []float32
}

// namespace loads all vectors in one learner×category namespace.
func (s *Store) namespace(ctx context.Context, index string, cat Category) ([]vectorRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT memory_id, text, importance, learner_id, session_id, counter,
		        first_epoch, last_epoch, embedding, metadata
		 FROM memory_vectors
		 WHERE learner_index = ? AND category = ?`,
		index, string(cat))
	if err != nil {
		return nil, fmt.Errorf("query namespace: %w", err)
	}
	defer rows.Close()

	var out []vectorRecord
	for rows.Next() {
		var rec vectorRecord
		var first, last int64
		var embJSON string
		var metaJSON sql.NullString
		if err := rows.Scan(&rec.memory.ID, &rec.memory.Text, &rec.memory.Importance,
			&rec.memory.LearnerID, &rec.memory.SessionID, &rec.memory.Counter,
			&first, &last, &embJSON, &metaJSON); err != nil {
			return nil, err
		}
		rec.memory.Category = cat
		rec.memory.FirstEpoch = time.Unix(first, 0)
		rec.memory.LastEpoch = time.Unix(last, 0)
		if err := json.Unmarshal([]byte(embJSON), &rec.vector); err != nil {
			return nil, fmt.Errorf("decode embedding for %s: %w", rec.memory.ID, err)
		}
		if metaJSON.Valid && metaJSON.String != "" && metaJSON.String != "null" {
			if err := json.Unmarshal([]byte(metaJSON.String), &rec.memory.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata for %s: %w", rec.memory.ID, err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// nearest returns the closest stored memory in a namespace, or nil when
// the namespace is empty.
func (s *Store) nearest(ctx context.Context, index string, cat Category, vec []float32) (*Memory, float64, error) {
	records, err := s.namespace(ctx, index, cat)
	if err != nil {
		return nil, 0, err
	}

	var best *Memory
	bestSim := -2.0
	for i := range records {
		sim, err := embedding.CosineSimilarity(vec, records[i].vector)
		if err != nil {
			continue
		}
		if sim > bestSim {
			bestSim = sim
			best = &records[i].memory
		}
	}
	if best == nil {
		return nil, 0, nil
	}
	return best, bestSim, nil
}

// sortScored orders hits by final score descending, tie-broken on id for
// deterministic output.
func sortScored(hits []Scored) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Final != hits[j].Final {
			return hits[i].Final > hits[j].Final
		}
		return hits[i].Memory.ID < hits[j].Memory.ID
	})
}

// mirror rewrites the learner's per-category JSON file. Mirror failures
// are logged, never surfaced: the database remains the source of truth.
func (s *Store) mirror(ctx context.Context, learnerID string, cat Category) {
	if s.dataDir == "" {
		return
	}

	records, err := s.namespace(ctx, IndexName(learnerID), cat)
	if err != nil {
		s.log.Warn("mirror read failed", zap.String("category", string(cat)), zap.Error(err))
		return
	}

	memories := make([]Memory, len(records))
	for i, rec := range records {
		memories[i] = rec.memory
	}

	dir := TeachingAssistantDir(s.dataDir, learnerID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.log.Warn("mirror dir failed", zap.Error(err))
		return
	}

	data, err := json.MarshalIndent(memories, "", "  ")
	if err != nil {
		s.log.Warn("mirror encode failed", zap.Error(err))
		return
	}
	path := filepath.Join(dir, string(cat)+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		s.log.Warn("mirror write failed", zap.String("path", path), zap.Error(err))
	}
}

// TeachingAssistantDir is the per-learner directory holding memory
// mirrors and session artifacts.
func TeachingAssistantDir(dataDir, learnerID string) string {
	return filepath.Join(dataDir, SanitizeLearnerID(learnerID), "memory", "TeachingAssistant")
}
