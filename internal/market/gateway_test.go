package market

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonu96/project-athena-sub001/internal/domain"
	"github.com/sonu96/project-athena-sub001/internal/errs"
)

var testDelays = []time.Duration{time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond}

type fakeProvider struct {
	poolMetricsCalls int32
	failFirstN       int32
	structuralErr    error
}

func (f *fakeProvider) SearchOpportunities(ctx context.Context, minApr, minVolume24h float64, limit int) ([]domain.PoolRef, error) {
	return []domain.PoolRef{{PoolID: "pool-1", AprTotal: 25}}, nil
}

func (f *fakeProvider) GetPoolMetrics(ctx context.Context, poolID string) (domain.PoolMetric, error) {
	n := atomic.AddInt32(&f.poolMetricsCalls, 1)
	if f.structuralErr != nil {
		return domain.PoolMetric{}, f.structuralErr
	}
	if n <= f.failFirstN {
		return domain.PoolMetric{}, fmt.Errorf("transient upstream hiccup")
	}
	return domain.PoolMetric{PoolID: poolID, AprTotal: 10, AprFee: 6, AprIncentive: 4}, nil
}

func (f *fakeProvider) GetSwapQuote(ctx context.Context, tokenIn, tokenOut string, amountIn float64) (domain.Quote, error) {
	return domain.Quote{AmountOut: amountIn}, nil
}

func (f *fakeProvider) GetGasPrice(ctx context.Context, chain string) (domain.GasQuote, error) {
	return domain.GasQuote{Gwei: 1, NativeUSD: 2000}, nil
}

func TestGatewayRetriesTransientFailures(t *testing.T) {
	p := &fakeProvider{failFirstN: 2}
	g := NewGateway(p, zerolog.Nop()).WithRetryDelays(testDelays)

	metric, err := g.GetPoolMetrics(context.Background(), "pool-1")
	require.NoError(t, err)
	assert.Equal(t, "pool-1", metric.PoolID)
	assert.Equal(t, int32(3), atomic.LoadInt32(&p.poolMetricsCalls))
}

func TestGatewaySurfacesStructuralErrorImmediately(t *testing.T) {
	structural := errs.New(errs.Invariant, "provider.GetPoolMetrics", fmt.Errorf("unknown pool"))
	p := &fakeProvider{structuralErr: structural}
	g := NewGateway(p, zerolog.Nop()).WithRetryDelays(testDelays)

	_, err := g.GetPoolMetrics(context.Background(), "bogus-pool")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Invariant))
	assert.Equal(t, int32(1), atomic.LoadInt32(&p.poolMetricsCalls), "structural errors must not be retried")
}

func TestGatewayExhaustsRetriesAndReturnsTransient(t *testing.T) {
	p := &fakeProvider{failFirstN: 100}
	g := NewGateway(p, zerolog.Nop()).WithRetryDelays(testDelays)

	_, err := g.GetPoolMetrics(context.Background(), "pool-1")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Transient))
	assert.Equal(t, int32(4), atomic.LoadInt32(&p.poolMetricsCalls), "1 initial attempt + 3 retries")
}

func TestGatewayRateLimitsPerMethod(t *testing.T) {
	p := &fakeProvider{}
	g := NewGateway(p, zerolog.Nop())

	var rateLimited int
	for i := 0; i < 50; i++ {
		_, err := g.GetPoolMetrics(context.Background(), "pool-1")
		if errs.Is(err, errs.RateLimited) {
			rateLimited++
		}
	}
	assert.Greater(t, rateLimited, 0, "bucket of 10 permits should eventually reject a burst of 50")
}
