// Package main is the entry point for the athena-sub001 autonomous liquidity
// management agent. It wires the cognitive loop (observe/remember/analyze/
// strategize/execute/learn) against its collaborators, starts the HTTP
// surface, and runs until told to stop.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/sonu96/project-athena-sub001/internal/clock"
	"github.com/sonu96/project-athena-sub001/internal/cognition"
	"github.com/sonu96/project-athena-sub001/internal/config"
	"github.com/sonu96/project-athena-sub001/internal/domain"
	"github.com/sonu96/project-athena-sub001/internal/errs"
	"github.com/sonu96/project-athena-sub001/internal/events"
	"github.com/sonu96/project-athena-sub001/internal/executor"
	"github.com/sonu96/project-athena-sub001/internal/governor"
	"github.com/sonu96/project-athena-sub001/internal/market"
	"github.com/sonu96/project-athena-sub001/internal/memory"
	"github.com/sonu96/project-athena-sub001/internal/pattern"
	"github.com/sonu96/project-athena-sub001/internal/profile"
	"github.com/sonu96/project-athena-sub001/internal/rebalance"
	"github.com/sonu96/project-athena-sub001/internal/scheduler"
	"github.com/sonu96/project-athena-sub001/internal/server"
	"github.com/sonu96/project-athena-sub001/internal/storage"
	"github.com/sonu96/project-athena-sub001/pkg/logger"
)

// referenceUniverse seeds the in-process market.Static provider for a
// development deployment; production deployments inject a real
// market.Provider talking to a DEX aggregator or subgraph instead.
// Reserves are seeded alongside each pool so market.TVLFromReserves (spec.md
// section 4.3, scenario S6) computes TVL from reserve*price instead of the
// loop ever reading TVLUSD straight off the provider; the TVLUSD values
// below only seed Static's own drift simulation.
var referenceUniverse = []domain.PoolMetric{
	{PoolID: "pool-usdc-weth", Pair: [2]string{"USDC", "WETH"}, AprTotal: 24, AprFee: 14, AprIncentive: 10, TVLUSD: 4_200_000, Volume24hUSD: 950_000,
		Reserves: map[string]float64{"USDC": 2_100_000, "WETH": 700}},
	{PoolID: "pool-usdc-aero", Pair: [2]string{"USDC", "AERO"}, AprTotal: 38, AprFee: 20, AprIncentive: 18, TVLUSD: 1_100_000, Volume24hUSD: 410_000,
		Reserves: map[string]float64{"USDC": 550_000, "AERO": 916_667}},
	{PoolID: "pool-usdc-cbbtc", Pair: [2]string{"USDC", "cbBTC"}, AprTotal: 16, AprFee: 11, AprIncentive: 5, TVLUSD: 6_800_000, Volume24hUSD: 1_250_000,
		Reserves: map[string]float64{"USDC": 3_400_000, "cbBTC": 53.97}},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Error().Err(err).Msg("failed to load configuration")
		os.Exit(errs.ExitCode(err))
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: true})
	logger.SetGlobalLogger(log)
	log.Info().Msg("starting athena-sub001")

	// Storage: one SQLite connection backs DocStore, VectorIndex, and the
	// crash-recovery StateStore.
	dbPath := cfg.DataDir + "/athena.db"
	db, err := storage.Open(dbPath, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to open storage")
		os.Exit(errs.ExitCode(err))
	}
	defer db.Close()

	docStore := storage.NewDocStore(db)
	vectorIndex := storage.NewVectorIndex(db)
	stateStore := storage.NewStateStore(db)

	var archiver *storage.S3Archiver
	if cfg.S3Bucket != "" {
		startupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		archiver, err = storage.NewS3Archiver(startupCtx, cfg.S3Bucket, cfg.S3Region, cfg.S3Endpoint, dbPath, log)
		cancel()
		if err != nil {
			log.Warn().Err(err).Msg("archive bucket configured but client init failed, archiving disabled")
			archiver = nil
		} else {
			log.Info().Str("bucket", cfg.S3Bucket).Msg("state archiving enabled")
		}
	}

	// Market data: a development deployment runs against the in-process
	// reference provider; swap in a real market.Provider for production.
	provider := market.NewStatic(referenceUniverse)
	gateway := market.NewGateway(provider, log)
	priceCache := market.NewPriceCache(cfg, log)

	profiles := profile.NewStore(log)
	mem := memory.NewStore(vectorIndex, docStore, log)
	patterns := pattern.NewEngine(mem, log)

	budget := governor.New(cfg.DailyBudgetUSD, time.Now(), log)

	// LLM narration is optional (spec.md section 4.10): a nil client makes
	// the rebalancer fall back to a templated rationale.
	rebalancer := rebalance.New(rebalance.Thresholds{
		AprImprovementFloor:   cfg.RebalanceAprImprovementFloor,
		ConfidenceFloor:       cfg.ConfidenceFloor,
		CompoundMinValueUSD:   cfg.CompoundMinValueUSD,
		CompoundOptimalGasUSD: cfg.CompoundOptimalGasUSD,
		CompoundAlpha:         cfg.CompoundAlpha,
	}, nil, budget, log)

	// The reference Executor "submits" decisions immediately and
	// deterministically; a production deployment injects a real wallet
	// adapter satisfying the same interface.
	exec := executor.NewMemory(func(d domain.Decision) (domain.Outcome, error) {
		return domain.Outcome{
			DecisionID:     d.ID,
			Status:         domain.OutcomeExecuted,
			RealizedNetUSD: d.PredictedNetUSD24h,
			ExecutedAt:     time.Now(),
		}, nil
	})

	bus := events.NewBus(log)

	loop := cognition.New(cognition.Deps{
		Config:     cfg,
		Clock:      clock.New(),
		Gateway:    gateway,
		PriceCache: priceCache,
		Profiles:   profiles,
		Memory:     mem,
		Patterns:   patterns,
		Rebalancer: rebalancer,
		Budget:     budget,
		Executor:   exec,
		Positions:  stateStore,
		Log:        log,
		OnDecision: bus.EmitDecision,
		OnOutcome:  bus.EmitOutcome,
		OnCycle:    bus.EmitCycle,
	})

	restoreStartupState(context.Background(), stateStore, loop, log)

	sched := scheduler.New(cfg.CyclePeriod, log)
	sched.RegisterTick(cfg.CyclePeriod, loop.Tick)

	if err := sched.RegisterMaintenance("@hourly", "persist_profiles", func(ctx context.Context) error {
		return persistProfiles(ctx, stateStore, profiles)
	}); err != nil {
		log.Warn().Err(err).Msg("failed to register hourly profile persistence")
	}
	if err := sched.RegisterMaintenance("@daily", "prune_memory", func(ctx context.Context) error {
		return mem.Prune(ctx, time.Now(), activePositionRefs(loop))
	}); err != nil {
		log.Warn().Err(err).Msg("failed to register daily memory pruning")
	}
	if archiver != nil {
		if err := sched.RegisterMaintenance("@daily", "archive_state", func(ctx context.Context) error {
			_, err := archiver.Snapshot(ctx)
			if err == nil {
				_ = archiver.Rotate(ctx, 30*24*time.Hour, 7)
			}
			return err
		}); err != nil {
			log.Warn().Err(err).Msg("failed to register daily state archiving")
		}
	}

	srv := server.New(server.Config{
		Log:      log,
		Agent:    loop,
		Patterns: patterns,
		Bus:      bus,
		Port:     cfg.Port,
		DevMode:  cfg.LogLevel == "debug",
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("http server started")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Start(ctx)
	log.Info().Dur("period", cfg.CyclePeriod).Msg("scheduler started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	exitCode := runUntilStoppedOrSignal(ctx, loop, quit, log)

	cancel()
	sched.Stop()
	log.Info().Msg("scheduler stopped")

	persistShutdownState(context.Background(), stateStore, loop, log)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Int("exit_code", exitCode).Msg("athena-sub001 stopped")
	os.Exit(exitCode)
}

// runUntilStoppedOrSignal blocks until either an OS signal arrives (clean
// stop, exit code 0) or the cognitive loop reports it has stopped itself
// (emergency stop or budget shutdown, per errs.ExitCode).
func runUntilStoppedOrSignal(ctx context.Context, loop *cognition.Loop, quit <-chan os.Signal, log zerolog.Logger) int {
	poll := time.NewTicker(1 * time.Second)
	defer poll.Stop()

	for {
		select {
		case <-quit:
			log.Info().Msg("received shutdown signal")
			return 0
		case <-poll.C:
			if loop.Stopped(time.Now()) {
				log.Warn().Msg("cognitive loop self-stopped")
				return errs.ExitCode(errs.New(errs.BudgetExceeded, "main", nil))
			}
		case <-ctx.Done():
			return 0
		}
	}
}

// restoreStartupState loads any persisted AgentState snapshot before the
// loop's first tick, so a restart resumes instead of starting cold in INIT.
// Pool profiles and patterns are not restored; they start empty.
func restoreStartupState(ctx context.Context, stateStore *storage.StateStore, loop *cognition.Loop, log zerolog.Logger) {
	state, ok, err := stateStore.LoadAgentState(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to load persisted agent state, starting cold")
		loop.Load(nil, time.Now())
		return
	}
	if ok {
		loop.Load(&state, time.Now())
		log.Info().Int64("cycle_number", state.CycleNumber).Str("mode", state.Mode.String()).Msg("resumed persisted agent state")
		return
	}
	loop.Load(nil, time.Now())
	log.Info().Msg("no persisted agent state found, starting cold in OBSERVE")
}

// persistShutdownState snapshots the final AgentState on the way out, so the
// next startup can resume from it.
func persistShutdownState(ctx context.Context, stateStore *storage.StateStore, loop *cognition.Loop, log zerolog.Logger) {
	state := loop.State()
	if err := stateStore.SaveAgentState(ctx, state); err != nil {
		log.Error().Err(err).Msg("failed to persist agent state on shutdown")
	}
}

// persistProfiles snapshots every pool profile, run hourly per spec.md
// section 4.1's maintenance schedule.
func persistProfiles(ctx context.Context, stateStore *storage.StateStore, profiles *profile.Store) error {
	for _, p := range profiles.Snapshot() {
		if err := stateStore.SavePoolProfile(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// activePositionRefs reports which pool ids currently have open positions,
// exempting their memories from the daily Prune pass's decay.
func activePositionRefs(loop *cognition.Loop) map[string]bool {
	refs := make(map[string]bool)
	for _, p := range loop.State().Positions {
		refs[p.PoolID] = true
	}
	return refs
}
