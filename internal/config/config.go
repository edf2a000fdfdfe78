// Package config loads runtime configuration from file, environment and
// flags via viper. Every recognized option has a registered default so a
// bare process starts with sane behavior.
package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Memory holds vector-memory tuning options.
type Memory struct {
	SimilarityThreshold  float64  `mapstructure:"similarity_threshold"`
	MinWordCount         int      `mapstructure:"min_word_count"`
	JunkWords            []string `mapstructure:"junk_words"`
	SimilarityWeight     float64  `mapstructure:"similarity_weight"`
	RecencyWeight        float64  `mapstructure:"recency_weight"`
	ImportanceWeight     float64  `mapstructure:"importance_weight"`
	RecencyDecayHours    float64  `mapstructure:"recency_decay_hours"`
	MaxCounterForFreq    int      `mapstructure:"max_counter_for_frequency"`
	IndexReadyTimeoutSec int      `mapstructure:"index_ready_timeout_seconds"`
}

// Dash holds scheduler tuning options.
type Dash struct {
	ProbabilityThreshold float64 `mapstructure:"probability_threshold"`
	LookbackCount        int     `mapstructure:"lookback_count"`
	TimePenaltySeconds   float64 `mapstructure:"time_penalty_seconds"`
}

// Pipeline holds event-pipeline tuning options.
type Pipeline struct {
	BatchSize              int `mapstructure:"batch_size"`
	DebounceSeconds        int `mapstructure:"debounce_seconds"`
	DeepRetrievalPeriodSec int `mapstructure:"deep_retrieval_period_seconds"`
	MaxHistoryPerSession   int `mapstructure:"max_history_per_session"`
	MaxSessions            int `mapstructure:"max_sessions"`
	MaxInjectedIDs         int `mapstructure:"max_injected_ids"`
	WorkerPoolSize         int `mapstructure:"worker_pool_size"`
}

// Resilience holds retry and circuit-breaker options for upstream calls.
type Resilience struct {
	LLMFailureThreshold      int     `mapstructure:"llm_failure_threshold"`
	LLMRecoveryTimeoutSec    int     `mapstructure:"llm_recovery_timeout_seconds"`
	RetryAttempts            int     `mapstructure:"retry_attempts"`
	RetryDelaySeconds        float64 `mapstructure:"retry_delay_seconds"`
	RetryBackoff             float64 `mapstructure:"retry_backoff"`
}

// Config is the full runtime configuration.
type Config struct {
	DataDir    string     `mapstructure:"data_dir"`
	DBPath     string     `mapstructure:"db_path"`
	LogLevel   string     `mapstructure:"log_level"`
	Memory     Memory     `mapstructure:"memory"`
	Dash       Dash       `mapstructure:"dash"`
	Pipeline   Pipeline   `mapstructure:"pipeline"`
	Resilience Resilience `mapstructure:"resilience"`
}

// DefaultJunkWords are single-token replies that never become memories.
var DefaultJunkWords = []string{"y", "yes", "no", "okay", "ok", "yeah", "nope", "yep", "sure", "fine", "k"}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "data")
	v.SetDefault("db_path", "")
	v.SetDefault("log_level", "info")

	v.SetDefault("memory.similarity_threshold", 0.92)
	v.SetDefault("memory.min_word_count", 3)
	v.SetDefault("memory.junk_words", DefaultJunkWords)
	v.SetDefault("memory.similarity_weight", 0.6)
	v.SetDefault("memory.recency_weight", 0.3)
	v.SetDefault("memory.importance_weight", 0.1)
	v.SetDefault("memory.recency_decay_hours", 24.0)
	v.SetDefault("memory.max_counter_for_frequency", 10)
	v.SetDefault("memory.index_ready_timeout_seconds", 300)

	v.SetDefault("dash.probability_threshold", 0.7)
	v.SetDefault("dash.lookback_count", 5)
	v.SetDefault("dash.time_penalty_seconds", 180.0)

	v.SetDefault("pipeline.batch_size", 5)
	v.SetDefault("pipeline.debounce_seconds", 5)
	v.SetDefault("pipeline.deep_retrieval_period_seconds", 180)
	v.SetDefault("pipeline.max_history_per_session", 50)
	v.SetDefault("pipeline.max_sessions", 50)
	v.SetDefault("pipeline.max_injected_ids", 100)
	v.SetDefault("pipeline.worker_pool_size", 4)

	v.SetDefault("resilience.llm_failure_threshold", 5)
	v.SetDefault("resilience.llm_recovery_timeout_seconds", 60)
	v.SetDefault("resilience.retry_attempts", 3)
	v.SetDefault("resilience.retry_delay_seconds", 1.0)
	v.SetDefault("resilience.retry_backoff", 2.0)
}

// Load reads configuration from the given file path (optional), the
// TUTORCORE_* environment, and registered defaults, in that priority order
// top-down. A missing file is only an error when a path was given explicitly.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TUTORCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("tutorcore")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/tutorcore")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errorsAs(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration with only defaults applied.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Unmarshal of pure defaults cannot fail.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Validate checks option ranges. Weight drift warns rather than fails; a
// threshold outside [0,1] is fatal misconfiguration.
func (c *Config) Validate(logger *zap.Logger) error {
	if c.Memory.SimilarityThreshold < 0 || c.Memory.SimilarityThreshold > 1 {
		return fmt.Errorf("memory.similarity_threshold must be in [0,1], got %v", c.Memory.SimilarityThreshold)
	}
	if c.Dash.ProbabilityThreshold <= 0 || c.Dash.ProbabilityThreshold >= 1 {
		return fmt.Errorf("dash.probability_threshold must be in (0,1), got %v", c.Dash.ProbabilityThreshold)
	}
	if c.Pipeline.BatchSize <= 0 {
		return fmt.Errorf("pipeline.batch_size must be > 0, got %d", c.Pipeline.BatchSize)
	}
	if c.Pipeline.MaxSessions <= 0 {
		return fmt.Errorf("pipeline.max_sessions must be > 0, got %d", c.Pipeline.MaxSessions)
	}

	sum := c.Memory.SimilarityWeight + c.Memory.RecencyWeight + c.Memory.ImportanceWeight
	if math.Abs(sum-1.0) > 0.01 && logger != nil {
		logger.Warn("memory weights do not sum to 1.0",
			zap.Float64("similarity", c.Memory.SimilarityWeight),
			zap.Float64("recency", c.Memory.RecencyWeight),
			zap.Float64("importance", c.Memory.ImportanceWeight),
			zap.Float64("sum", sum))
	}
	return nil
}

// Debounce returns the light-retrieval debounce as a duration.
func (p Pipeline) Debounce() time.Duration {
	return time.Duration(p.DebounceSeconds) * time.Second
}

// DeepRetrievalPeriod returns the deep-retrieval timer period.
func (p Pipeline) DeepRetrievalPeriod() time.Duration {
	return time.Duration(p.DeepRetrievalPeriodSec) * time.Second
}

// errorsAs is a tiny wrapper so the viper sentinel check reads cleanly.
func errorsAs(err error, target *viper.ConfigFileNotFoundError) bool {
	if e, ok := err.(viper.ConfigFileNotFoundError); ok {
		*target = e
		return true
	}
	return false
}
