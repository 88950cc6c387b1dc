package market

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sonu96/project-athena-sub001/internal/domain"
)

// Static is a minimal in-process reference Provider: it serves a fixed,
// slowly-drifting set of pools instead of querying a real DEX aggregator or
// subgraph, so a development deployment can exercise the full loop without
// external network access. Production deployments inject a real Provider
// that talks to the chain/subgraph directly; this type is not one.
type Static struct {
	mu    sync.Mutex
	pools map[string]domain.PoolMetric
	start time.Time
}

// NewStatic seeds a small fixed universe of pools. Values drift
// deterministically over time (sine-wave APR, linear TVL growth) so repeated
// observation cycles see *some* movement without depending on any external
// randomness source.
func NewStatic(seed []domain.PoolMetric) *Static {
	pools := make(map[string]domain.PoolMetric, len(seed))
	for _, p := range seed {
		pools[p.PoolID] = p
	}
	return &Static{pools: pools, start: time.Now()}
}

func (s *Static) snapshot(poolID string, base domain.PoolMetric, now time.Time) domain.PoolMetric {
	elapsedHours := now.Sub(s.start).Hours()
	drift := math.Sin(elapsedHours/6) * 2 // +/- 2pp apr drift on a slow cycle

	m := base
	m.AprTotal = base.AprTotal + drift
	m.AprFee = base.AprFee + drift*0.6
	m.AprIncentive = base.AprIncentive + drift*0.4
	m.TVLUSD = base.TVLUSD * (1 + elapsedHours/10000)
	m.Timestamp = now
	return m
}

func (s *Static) SearchOpportunities(_ context.Context, minApr, minVolume24h float64, limit int) ([]domain.PoolRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	refs := make([]domain.PoolRef, 0, len(s.pools))
	for id, base := range s.pools {
		m := s.snapshot(id, base, now)
		if m.AprTotal < minApr || m.Volume24hUSD < minVolume24h {
			continue
		}
		refs = append(refs, domain.PoolRef{
			PoolID: m.PoolID, Pair: m.Pair, Stable: m.Stable,
			AprTotal: m.AprTotal, AprFee: m.AprFee, AprIncentive: m.AprIncentive,
			TVLUSD: m.TVLUSD, Volume24hUSD: m.Volume24hUSD, Timestamp: m.Timestamp,
		})
		if len(refs) >= limit {
			break
		}
	}
	return refs, nil
}

func (s *Static) GetPoolMetrics(_ context.Context, poolID string) (domain.PoolMetric, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	base, ok := s.pools[poolID]
	if !ok {
		return domain.PoolMetric{}, fmt.Errorf("market.Static.GetPoolMetrics: unknown pool %q", poolID)
	}
	return s.snapshot(poolID, base, time.Now()), nil
}

func (s *Static) GetSwapQuote(_ context.Context, tokenIn, tokenOut string, amountIn float64) (domain.Quote, error) {
	return domain.Quote{
		AmountOut:        amountIn * 0.997, // flat 30bps synthetic slippage
		PriceImpact:      0.003,
		Route:            []string{tokenIn, tokenOut},
		EstimatedGasGwei: 0.15,
	}, nil
}

func (s *Static) GetGasPrice(_ context.Context, _ string) (domain.GasQuote, error) {
	return domain.GasQuote{Gwei: 0.1, NativeUSD: 0.0002}, nil
}

var _ Provider = (*Static)(nil)
