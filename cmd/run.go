package cmd

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/brightpath/tutorcore/internal/config"
	"github.com/brightpath/tutorcore/internal/consolidate"
	"github.com/brightpath/tutorcore/internal/dash"
	"github.com/brightpath/tutorcore/internal/embedding"
	"github.com/brightpath/tutorcore/internal/engine"
	"github.com/brightpath/tutorcore/internal/extractor"
	"github.com/brightpath/tutorcore/internal/learner"
	"github.com/brightpath/tutorcore/internal/llm"
	"github.com/brightpath/tutorcore/internal/memstore"
	"github.com/brightpath/tutorcore/internal/pipeline"
	"github.com/brightpath/tutorcore/internal/questionbank"
	"github.com/brightpath/tutorcore/internal/retrieval"
	"github.com/brightpath/tutorcore/internal/sessionctx"
	"github.com/brightpath/tutorcore/internal/skillgraph"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the tutoring backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd)
	},
}

func init() {
	runCmd.Flags().String("skills", "data/skills.json", "Path to the skill graph file")
	runCmd.Flags().String("questions", "data/questions.json", "Path to the question bank file")
}

// runServer builds the full engine and drives the event pipeline until
// interrupted.
func runServer(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	if err := cfg.Validate(log); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(cmd, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Ping(ctx); err != nil {
		return fmt.Errorf("datastore unreachable: %w", err)
	}

	skillsPath, _ := cmd.Flags().GetString("skills")
	questionsPath, _ := cmd.Flags().GetString("questions")
	graph, err := skillgraph.LoadFile(skillsPath)
	if err != nil {
		return err
	}
	bank, err := questionbank.LoadFile(questionsPath)
	if err != nil {
		return err
	}
	log.Info("reference data loaded",
		zap.Int("skills", len(graph.All())),
		zap.Int("questions", bank.Len()))

	llmCfg := llm.ConfigFromEnv()
	if llmCfg.Validate() != nil {
		if discovered, ok := llm.DiscoverConfig(); ok {
			llmCfg = discovered
		}
	}
	if err := llmCfg.Validate(); err != nil {
		return fmt.Errorf("LLM provider: %w", err)
	}
	llmCfg.Retry = retryFromConfig(cfg)
	provider, err := llm.NewProvider(ctx, llmCfg, breakerFromConfig(cfg), log)
	if err != nil {
		return fmt.Errorf("LLM provider: %w", err)
	}

	embedder, err := embedding.NewEngine(ctx, embedding.ConfigFromEnv())
	if err != nil {
		return fmt.Errorf("embedding engine: %w", err)
	}

	memories := memstore.NewStore(st.DB(), embedder, cfg.Memory, cfg.DataDir, log)
	if err := memories.Ready(ctx); err != nil {
		return fmt.Errorf("memory store not ready: %w", err)
	}

	contexts, err := sessionctx.NewManager(cfg.Pipeline.MaxSessions, cfg.Pipeline.MaxHistoryPerSession, cfg.DataDir, log)
	if err != nil {
		return fmt.Errorf("session manager: %w", err)
	}
	pool := pipeline.NewPool(cfg.Pipeline.WorkerPoolSize, log)
	pipe := pipeline.New(pipeline.NewQueue(0), contexts, pool, cfg.Pipeline, log)

	retriever := retrieval.New(provider, memories, cfg.Pipeline, log)
	pipe.Register(retrieval.NewSkill(retriever, pool, cfg.Pipeline.Debounce(), cfg.Pipeline.DeepRetrievalPeriod()))

	consolidator := consolidate.New(extractor.New(provider, log), memories, provider, cfg.DataDir, extractor.DefaultBatchSize, log)
	pipe.Register(consolidate.NewSkill(consolidator, pool))

	eng := engine.New(engine.Deps{
		Scheduler:    dash.NewScheduler(graph, bank, learner.NewSQLStore(st.DB()), cfg.Dash, log),
		Learners:     learner.NewSQLStore(st.DB()),
		Sessions:     st.SessionRepo(),
		Assessments:  st.AssessmentRepo(),
		Contexts:     contexts,
		Pipeline:     pipe,
		Retriever:    retriever,
		Consolidator: consolidator,
		Pool:         pool,
		Config:       cfg,
		Log:          log,
	})

	log.Info("tutorcore running", zap.String("provider", llmCfg.Provider))
	err = eng.Run(ctx)
	contexts.SyncAll()
	return err
}

// retryFromConfig maps the resilience section onto the LLM retry
// decorator. Unset or zero options keep the decorator defaults.
func retryFromConfig(cfg *config.Config) llm.RetryConfig {
	r := llm.DefaultConfig().Retry
	if cfg.Resilience.RetryAttempts > 0 {
		r.MaxAttempts = cfg.Resilience.RetryAttempts
	}
	if cfg.Resilience.RetryDelaySeconds > 0 {
		r.InitialWait = time.Duration(cfg.Resilience.RetryDelaySeconds * float64(time.Second))
	}
	if cfg.Resilience.RetryBackoff > 0 {
		r.Multiplier = cfg.Resilience.RetryBackoff
	}
	return r
}

// breakerFromConfig maps the resilience section onto the LLM circuit
// breaker.
func breakerFromConfig(cfg *config.Config) llm.BreakerConfig {
	b := llm.DefaultBreakerConfig()
	if cfg.Resilience.LLMFailureThreshold > 0 {
		b.FailureThreshold = cfg.Resilience.LLMFailureThreshold
	}
	if cfg.Resilience.LLMRecoveryTimeoutSec > 0 {
		b.RecoveryTimeout = time.Duration(cfg.Resilience.LLMRecoveryTimeoutSec) * time.Second
	}
	return b
}
