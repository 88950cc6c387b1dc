// Package config provides configuration loading for the cognitive loop.
//
// Configuration is loaded from environment variables (with an optional .env
// file) with documented defaults. This mirrors the teacher project's loading
// order: .env file, then environment variables with defaults, with every
// recognized option given an explicit default so the agent is runnable
// out of the box in observation mode.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sonu96/project-athena-sub001/internal/errs"
	"github.com/joho/godotenv"
)

// Config holds the closed set of recognized options from spec.md section 6.
type Config struct {
	DataDir string // base directory for the default SQLite DocStore

	CyclePeriod             time.Duration // cycle_period_seconds, default 300s
	ObservationPeriod       time.Duration // observation_period_hours, default 72h
	MinPatternsToTrade      int           // min_patterns_to_trade, default 8
	ConfidenceFloor         float64       // confidence_floor, default 0.7
	MinAprForMemory         float64       // min_apr_for_memory, default 20 (percentage points)
	MinVolumeForMemory      float64       // min_volume_for_memory, default 100000
	MaxMemoriesPerCycle     int           // max_memories_per_cycle, default 50

	RebalanceAprImprovementFloor float64 // rebalance_apr_improvement_floor, default 5 (pp)
	CompoundMinValueUSD          float64 // compound_min_value_usd, default 50
	CompoundOptimalGasUSD        float64 // compound_optimal_gas_usd, default 30
	CompoundAlpha                float64 // fraction of rewards that must survive gas, default 0.85

	DailyBudgetUSD float64 // daily_budget_usd, default 30

	Stablecoins map[string]struct{} // stablecoins set, default {USDC, USDbC, DAI}
	BaseTokens  []string            // non-stable tokens to prime each cycle via their stable pair, default {WETH, AERO}

	LogLevel string
	Port     int

	S3Bucket   string // optional cold-storage archive bucket; empty disables archiving
	S3Region   string
	S3Endpoint string // custom endpoint for S3-compatible stores (e.g. Cloudflare R2); empty uses AWS
}

// Load reads configuration from the environment (and an optional .env file).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DataDir: getEnv("SENTINEL_DATA_DIR", "./data"),

		CyclePeriod:        time.Duration(getEnvAsInt("CYCLE_PERIOD_SECONDS", 300)) * time.Second,
		ObservationPeriod:  time.Duration(getEnvAsInt("OBSERVATION_PERIOD_HOURS", 72)) * time.Hour,
		MinPatternsToTrade: getEnvAsInt("MIN_PATTERNS_TO_TRADE", 8),
		ConfidenceFloor:    getEnvAsFloat("CONFIDENCE_FLOOR", 0.7),
		MinAprForMemory:    getEnvAsFloat("MIN_APR_FOR_MEMORY", 20),
		MinVolumeForMemory: getEnvAsFloat("MIN_VOLUME_FOR_MEMORY", 100000),
		MaxMemoriesPerCycle: getEnvAsInt("MAX_MEMORIES_PER_CYCLE", 50),

		RebalanceAprImprovementFloor: getEnvAsFloat("REBALANCE_APR_IMPROVEMENT_FLOOR", 5),
		CompoundMinValueUSD:          getEnvAsFloat("COMPOUND_MIN_VALUE_USD", 50),
		CompoundOptimalGasUSD:        getEnvAsFloat("COMPOUND_OPTIMAL_GAS_USD", 30),
		CompoundAlpha:                getEnvAsFloat("COMPOUND_ALPHA", 0.85),

		DailyBudgetUSD: getEnvAsFloat("DAILY_BUDGET_USD", 30),

		Stablecoins: parseStablecoins(getEnv("STABLECOINS", "USDC,USDbC,DAI")),
		BaseTokens:  parseBaseTokens(getEnv("BASE_TOKENS", "WETH,AERO")),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		Port:     getEnvAsInt("PORT", 8090),

		S3Bucket:   getEnv("ARCHIVE_S3_BUCKET", ""),
		S3Region:   getEnv("ARCHIVE_S3_REGION", "us-east-1"),
		S3Endpoint: getEnv("ARCHIVE_S3_ENDPOINT", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks internal consistency of the closed configuration set.
func (c *Config) Validate() error {
	if c.CyclePeriod <= 0 {
		return errs.New(errs.ConfigError, "config.Validate", fmt.Errorf("cycle_period_seconds must be positive"))
	}
	if c.ConfidenceFloor < 0 || c.ConfidenceFloor > 1 {
		return errs.New(errs.ConfigError, "config.Validate", fmt.Errorf("confidence_floor must be in [0,1]"))
	}
	if c.DailyBudgetUSD <= 0 {
		return errs.New(errs.ConfigError, "config.Validate", fmt.Errorf("daily_budget_usd must be positive"))
	}
	if c.MinPatternsToTrade < 0 {
		return errs.New(errs.ConfigError, "config.Validate", fmt.Errorf("min_patterns_to_trade must be >= 0"))
	}
	return nil
}

// IsStablecoin reports whether symbol is configured as a $1 shortcut token.
func (c *Config) IsStablecoin(symbol string) bool {
	_, ok := c.Stablecoins[strings.ToUpper(symbol)]
	return ok
}

func parseStablecoins(csv string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, s := range strings.Split(csv, ",") {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			out[s] = struct{}{}
		}
	}
	return out
}

func parseBaseTokens(csv string) []string {
	var out []string
	for _, s := range strings.Split(csv, ",") {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
