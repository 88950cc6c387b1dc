// Package governor implements C9: the daily cost budget and the
// caution/emergency/shutdown mode ladder that throttles the cognitive loop
// under budget pressure, plus a host resource sample (HostHealthy) that
// reports whether memory and disk usage are within bounds; nothing in the
// repository calls it.
package governor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/sonu96/project-athena-sub001/internal/domain"
	"github.com/sonu96/project-athena-sub001/internal/errs"
	"github.com/sonu96/project-athena-sub001/pkg/logger"
)

// Budget ceilings as a fraction of the daily budget (spec.md section 6/4.9):
// below 33% normal, 33-67% caution, 67-100% emergency, at/above 100% shutdown.
const (
	cautionCeiling   = 0.33
	emergencyCeiling = 0.67
	shutdownCeiling  = 1.00
)

// Governor tracks the day's spend against the configured daily budget and
// derives the current GovernorMode from it, same "escalating block" shape
// as the teacher's layered trade-safety checks.
type Governor struct {
	mu          sync.Mutex
	dailyBudget float64
	day         time.Time
	spentUSD    float64
	log         zerolog.Logger
}

// New builds a Governor against dailyBudget (USD), resetting at UTC midnight.
func New(dailyBudget float64, now time.Time, log zerolog.Logger) *Governor {
	return &Governor{
		dailyBudget: dailyBudget,
		day:         dayOf(now),
		log:         logger.Scoped(log, "governor"),
	}
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (g *Governor) resetIfNewDay(now time.Time) {
	today := dayOf(now)
	if today.After(g.day) {
		g.day = today
		g.spentUSD = 0
	}
}

// CanAfford reports whether charging amountUSD would keep today's spend at
// or below the daily budget.
func (g *Governor) CanAfford(now time.Time, amountUSD float64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetIfNewDay(now)
	return g.spentUSD+amountUSD <= g.dailyBudget
}

// Charge is post-facto accounting (spec.md section 4.9): it always records
// the actual spend, even when doing so pushes the day's total past budget,
// so Mode can reach GovernorShutdown (spec.md scenario S5) instead of only
// ever approaching it asymptotically. The spend is clamped to dailyBudget so
// the ratio never exceeds exactly 1.0. It returns errs.BudgetExceeded when
// the charge pushed spend past the budget, for callers that want to react to
// the overage; CanAfford remains the pre-flight check for deciding whether
// to spend at all.
func (g *Governor) Charge(now time.Time, amountUSD float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetIfNewDay(now)

	g.spentUSD += amountUSD
	overage := g.spentUSD > g.dailyBudget
	if overage {
		g.spentUSD = g.dailyBudget
	}
	if overage {
		return errs.New(errs.BudgetExceeded, "governor.Charge", fmt.Errorf("spend %.2f pushed daily spend past budget %.2f", amountUSD, g.dailyBudget))
	}
	return nil
}

// Mode derives the current GovernorMode from today's spend ratio, applying
// the daily reset first if now has rolled past the tracked day.
func (g *Governor) Mode(now time.Time) domain.GovernorMode {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetIfNewDay(now)
	return g.modeLocked()
}

func (g *Governor) modeLocked() domain.GovernorMode {
	if g.dailyBudget <= 0 {
		return domain.GovernorShutdown
	}
	ratio := g.spentUSD / g.dailyBudget
	switch {
	case ratio >= shutdownCeiling:
		return domain.GovernorShutdown
	case ratio >= emergencyCeiling:
		return domain.GovernorEmergency
	case ratio >= cautionCeiling:
		return domain.GovernorCaution
	default:
		return domain.GovernorNormal
	}
}

// Ledger returns a snapshot of today's budget state, for C10 state queries.
func (g *Governor) Ledger(now time.Time) domain.BudgetLedger {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetIfNewDay(now)
	return domain.BudgetLedger{
		Day:            g.day,
		SpentUSD:       g.spentUSD,
		DailyBudgetUSD: g.dailyBudget,
		Mode:           g.modeLocked(),
	}
}

// HostHealthy samples host memory and disk usage via gopsutil and reports
// whether it is safe to run a maintenance task (profile persistence,
// backup) without risking the process under memory/disk pressure.
func (g *Governor) HostHealthy(ctx context.Context) (bool, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return false, fmt.Errorf("governor.HostHealthy: memory sample: %w", err)
	}
	du, err := disk.UsageWithContext(ctx, "/")
	if err != nil {
		return false, fmt.Errorf("governor.HostHealthy: disk sample: %w", err)
	}

	healthy := vm.UsedPercent < 90.0 && du.UsedPercent < 90.0
	if !healthy {
		g.log.Warn().Float64("mem_used_pct", vm.UsedPercent).Float64("disk_used_pct", du.UsedPercent).Msg("host resource pressure, deferring maintenance")
	}
	return healthy, nil
}
