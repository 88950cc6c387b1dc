package executor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonu96/project-athena-sub001/internal/domain"
)

func TestSubmitIsIdempotentPerDecisionID(t *testing.T) {
	var calls int32
	e := NewMemory(func(d domain.Decision) (domain.Outcome, error) {
		atomic.AddInt32(&calls, 1)
		return domain.Outcome{Status: domain.OutcomeExecuted, RealizedNetUSD: 10, ExecutedAt: time.Now()}, nil
	})

	d := domain.Decision{ID: "dec-1", Type: domain.DecisionCompound}

	first, err := e.Submit(context.Background(), d)
	require.NoError(t, err)
	second, err := e.Submit(context.Background(), d)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "execute must run at most once per decision id")
}
