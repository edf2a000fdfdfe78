package llm

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker is rejecting calls.
var ErrCircuitOpen = errors.New("llm circuit open")

// BreakerConfig configures the circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit.
	FailureThreshold int

	// RecoveryTimeout is how long the circuit stays open before a single
	// probe request is allowed through.
	RecoveryTimeout time.Duration
}

// DefaultBreakerConfig returns the standard breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
	}
}

// BreakerProvider is a decorator that stops calling the upstream provider
// after repeated failures, letting it recover instead of piling on.
//
// Closed: calls pass through; consecutive failures are counted.
// Open: calls fail fast with ErrCircuitOpen until RecoveryTimeout passes.
// Half-open: one probe call is allowed; success closes the circuit,
// failure reopens it.
type BreakerProvider struct {
	inner Provider
	cfg   BreakerConfig

	mu       sync.Mutex
	failures int
	openedAt time.Time
	probing  bool
}

// WithBreaker wraps a Provider with a circuit breaker.
func WithBreaker(p Provider, cfg BreakerConfig) Provider {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultBreakerConfig().RecoveryTimeout
	}
	return &BreakerProvider{inner: p, cfg: cfg}
}

func (b *BreakerProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := b.admit(); err != nil {
		return nil, err
	}

	resp, err := b.inner.Generate(ctx, req)
	b.record(err)
	return resp, err
}

func (b *BreakerProvider) ModelID() string {
	return b.inner.ModelID()
}

// admit decides whether a call may proceed.
func (b *BreakerProvider) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failures < b.cfg.FailureThreshold {
		return nil
	}

	if time.Since(b.openedAt) < b.cfg.RecoveryTimeout {
		return ErrCircuitOpen
	}

	// Recovery window elapsed: allow exactly one probe at a time.
	if b.probing {
		return ErrCircuitOpen
	}
	b.probing = true
	return nil
}

// record updates breaker state after a call completes. Context
// cancellation says nothing about upstream health and is not counted.
func (b *BreakerProvider) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false

	if err == nil {
		b.failures = 0
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}

	b.failures++
	if b.failures >= b.cfg.FailureThreshold {
		b.openedAt = time.Now()
	}
}
