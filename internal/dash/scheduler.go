package dash

import (
	"go.uber.org/zap"

	"github.com/brightpath/tutorcore/internal/config"
	"github.com/brightpath/tutorcore/internal/learner"
	"github.com/brightpath/tutorcore/internal/questionbank"
	"github.com/brightpath/tutorcore/internal/skillgraph"
)

// Scheduler selects the next question for a learner and applies attempt
// updates. Selection is pure with respect to the state store: it reads
// state but never writes it.
type Scheduler struct {
	graph *skillgraph.Graph
	bank  *questionbank.Index
	store learner.Store
	cfg   config.Dash
	log   *zap.Logger
}

// NewScheduler wires a scheduler over loaded reference data and the
// learner state store.
func NewScheduler(graph *skillgraph.Graph, bank *questionbank.Index, store learner.Store, cfg config.Dash, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{graph: graph, bank: bank, store: store, cfg: cfg, log: log}
}

// Graph exposes the skill graph for callers composing responses.
func (s *Scheduler) Graph() *skillgraph.Graph { return s.graph }

// Bank exposes the question index for callers composing responses.
func (s *Scheduler) Bank() *questionbank.Index { return s.bank }
