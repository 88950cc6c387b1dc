// Package market implements C2 (the market data gateway) and C3 (the price
// cache) against an external liquidity-pool data provider.
package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sonu96/project-athena-sub001/internal/domain"
	"github.com/sonu96/project-athena-sub001/internal/errs"
	"github.com/sonu96/project-athena-sub001/pkg/logger"
)

// Provider is the low-level transport to the external data source. A real
// implementation talks to a DEX aggregator or subgraph; tests supply a fake.
type Provider interface {
	SearchOpportunities(ctx context.Context, minApr, minVolume24h float64, limit int) ([]domain.PoolRef, error)
	GetPoolMetrics(ctx context.Context, poolID string) (domain.PoolMetric, error)
	GetSwapQuote(ctx context.Context, tokenIn, tokenOut string, amountIn float64) (domain.Quote, error)
	GetGasPrice(ctx context.Context, chain string) (domain.GasQuote, error)
}

// retryDelays is the fixed 3-retry exponential backoff schedule from
// spec.md section 4.2.
var retryDelays = []time.Duration{200 * time.Millisecond, 800 * time.Millisecond, 3200 * time.Millisecond}

// bucket is a simple token bucket: permits refill at `refill` per second
// until `capacity` permits are banked.
type bucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	refill   float64 // tokens added per second
	last     time.Time
}

func newBucket(capacity float64, refillPerSecond float64) *bucket {
	return &bucket{tokens: capacity, capacity: capacity, refill: refillPerSecond, last: time.Now()}
}

func (b *bucket) take() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	elapsed := now.Sub(b.last).Seconds()
	b.last = now
	b.tokens += elapsed * b.refill
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Gateway is C2: the rate-limited, retrying market data client. It holds no
// connection of its own and does not reconnect; connection handling is
// whatever the wrapped Provider does.
type Gateway struct {
	provider Provider
	log      zerolog.Logger
	delays   []time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewGateway wraps provider with per-method rate limiting and retry. Each
// method gets its own bucket so a burst of GetPoolMetrics calls cannot starve
// SearchOpportunities, matching the teacher's per-endpoint limiter idiom.
func NewGateway(provider Provider, log zerolog.Logger) *Gateway {
	g := &Gateway{
		provider: provider,
		log:      logger.Scoped(log, "market.gateway"),
		delays:   retryDelays,
		buckets:  make(map[string]*bucket),
	}
	for _, m := range []string{"SearchOpportunities", "GetPoolMetrics", "GetSwapQuote", "GetGasPrice"} {
		g.buckets[m] = newBucket(10, 2) // 10 permits, 2/sec refill — provider-declared limit placeholder
	}
	return g
}

// WithRetryDelays overrides the backoff schedule; used by tests to avoid
// sleeping through the real 200ms/800ms/3.2s schedule.
func (g *Gateway) WithRetryDelays(delays []time.Duration) *Gateway {
	g.delays = delays
	return g
}

func (g *Gateway) allow(method string) bool {
	g.mu.Lock()
	b := g.buckets[method]
	g.mu.Unlock()
	if b == nil {
		return true
	}
	return b.take()
}

// isStructural reports whether err represents a request that will never
// succeed on retry (unknown pool, bad arguments) and should surface
// immediately rather than being retried.
func isStructural(err error) bool {
	return errs.Is(err, errs.Invariant) || errs.Is(err, errs.ConfigError)
}

// withRetry runs op up to 4 times total (1 initial + 3 retries), honoring
// the given backoff schedule, and surfaces structural errors immediately.
func withRetry[T any](ctx context.Context, log zerolog.Logger, op string, delays []time.Duration, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt <= len(delays); attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if isStructural(err) {
			return zero, err
		}
		if attempt == len(delays) {
			break
		}
		delay := delays[attempt]
		log.Debug().Str("op", op).Int("attempt", attempt+1).Dur("delay", delay).Err(err).Msg("retrying after transient failure")
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}
	return zero, errs.New(errs.Transient, op, fmt.Errorf("exhausted retries: %w", lastErr))
}

// SearchOpportunities returns pools meeting the minimum thresholds.
func (g *Gateway) SearchOpportunities(ctx context.Context, minApr, minVolume24h float64, limit int) ([]domain.PoolRef, error) {
	if !g.allow("SearchOpportunities") {
		return nil, errs.New(errs.RateLimited, "market.SearchOpportunities", fmt.Errorf("token bucket exhausted"))
	}
	return withRetry(ctx, g.log, "market.SearchOpportunities", g.delays, func() ([]domain.PoolRef, error) {
		return g.provider.SearchOpportunities(ctx, minApr, minVolume24h, limit)
	})
}

// GetPoolMetrics returns current metrics for one pool.
func (g *Gateway) GetPoolMetrics(ctx context.Context, poolID string) (domain.PoolMetric, error) {
	if !g.allow("GetPoolMetrics") {
		return domain.PoolMetric{}, errs.New(errs.RateLimited, "market.GetPoolMetrics", fmt.Errorf("token bucket exhausted"))
	}
	return withRetry(ctx, g.log, "market.GetPoolMetrics", g.delays, func() (domain.PoolMetric, error) {
		return g.provider.GetPoolMetrics(ctx, poolID)
	})
}

// GetSwapQuote is used by the rebalancer for profitability checks.
func (g *Gateway) GetSwapQuote(ctx context.Context, tokenIn, tokenOut string, amountIn float64) (domain.Quote, error) {
	if !g.allow("GetSwapQuote") {
		return domain.Quote{}, errs.New(errs.RateLimited, "market.GetSwapQuote", fmt.Errorf("token bucket exhausted"))
	}
	return withRetry(ctx, g.log, "market.GetSwapQuote", g.delays, func() (domain.Quote, error) {
		return g.provider.GetSwapQuote(ctx, tokenIn, tokenOut, amountIn)
	})
}

// GetGasPrice returns current gas in native units and USD.
func (g *Gateway) GetGasPrice(ctx context.Context, chain string) (domain.GasQuote, error) {
	if !g.allow("GetGasPrice") {
		return domain.GasQuote{}, errs.New(errs.RateLimited, "market.GetGasPrice", fmt.Errorf("token bucket exhausted"))
	}
	return withRetry(ctx, g.log, "market.GetGasPrice", g.delays, func() (domain.GasQuote, error) {
		return g.provider.GetGasPrice(ctx, chain)
	})
}
