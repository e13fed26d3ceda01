// runonce executes a single execution cycle and exits. It is meant for
// debugging a live deployment: point it at the same database and run one
// tick under the same run lock the daemon uses.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"binance-liq-engine/config"
	"binance-liq-engine/internal/database"
	"binance-liq-engine/internal/events"
	"binance-liq-engine/internal/exchange"
	"binance-liq-engine/internal/execution"
	"binance-liq-engine/internal/logging"
	"binance-liq-engine/internal/orders"
	"binance-liq-engine/internal/position"
	"binance-liq-engine/internal/reconcile"
	"binance-liq-engine/internal/risk"
	"binance-liq-engine/internal/vault"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logging.SetDefault(logging.New(&logging.Config{
		Level:      cfg.LoggingConfig.Level,
		Output:     "stderr",
		Component:  "runonce",
		JSONFormat: false,
	}))
	logger := logging.Default()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	})
	if err != nil {
		logger.Fatal("Database connection failed", "error", err.Error())
	}
	defer db.Close()

	if err := db.RunMigrations(ctx); err != nil {
		logger.Fatal("Migrations failed", "error", err.Error())
	}

	redisState := database.NewRedisState(
		cfg.RedisConfig.Address, cfg.RedisConfig.Password,
		cfg.RedisConfig.DB, cfg.RedisConfig.Enabled,
	)
	defer redisState.Close()

	recorder := events.NewRecorder(db)
	ex, err := buildExchange(ctx, cfg, recorder)
	if err != nil {
		logger.Fatal("Exchange setup failed", "error", err.Error())
	}

	positionMgr := position.NewManager(db, recorder, position.Config{
		MinStopDistancePct: cfg.RiskConfig.MinStopDistancePct,
		DefaultTrailPct:    cfg.TrailingConfig.TrailPct,
	})
	orderMgr := orders.NewManager(db, ex, zerolog.New(os.Stderr).With().Timestamp().Logger())
	stateSvc := risk.NewStateService(db, risk.StateConfig{
		MaxDailyDDPct:      cfg.RiskConfig.MaxDailyDDPct,
		MaxWeeklyDDPct:     cfg.RiskConfig.MaxWeeklyDDPct,
		MaxTradesPerDay:    cfg.RiskConfig.MaxTradesPerDay,
		MaxLosingStreak:    cfg.RiskConfig.MaxLosingStreak,
		StartingEquityUSDT: cfg.RiskConfig.StartingEquityUSDT,
	})

	orch := execution.NewOrchestrator(
		execution.Config{
			Symbol:            cfg.ExecutionConfig.Symbol,
			DecisionStaleness: cfg.ExecutionConfig.DecisionStaleness,
			Trailing: execution.TrailingConfig{
				TrailPct:          cfg.TrailingConfig.TrailPct,
				TightenedTrailPct: cfg.TrailingConfig.TightenedTrailPct,
				LiqZoneProximity:  cfg.TrailingConfig.LiqZoneProximity,
			},
			LiqExitAdverse: cfg.TrailingConfig.LiqExitAdverse,
			DryRun:         cfg.ExecutionConfig.DryRun,
		},
		risk.PolicyConfig{
			MinStopDistancePct: cfg.RiskConfig.MinStopDistancePct,
			MinRewardRisk:      cfg.RiskConfig.MinRewardRisk,
		},
		db, positionMgr, orderMgr, stateSvc, ex, redisState, recorder,
	)

	symbol := cfg.ExecutionConfig.Symbol
	acquired, err := redisState.AcquireRunLock(ctx, symbol, cfg.ExecutionConfig.RunLockTTL)
	if err != nil {
		logger.Fatal("Run lock check failed", "error", err.Error())
	}
	if !acquired {
		logger.Fatal("Run lock held by another instance", "symbol", symbol)
	}
	defer redisState.ReleaseRunLock(ctx, symbol)

	if err := orch.RunCycle(ctx); err != nil {
		logger.Fatal("Cycle failed", "symbol", symbol, "error", err.Error())
	}
	logger.Info("Cycle complete", "symbol", symbol)

	checker := reconcile.NewChecker(reconcile.Config{
		Symbol:     symbol,
		QtyEpsilon: cfg.ReconcileConfig.QtyEpsilon,
	}, db, ex, recorder)
	divergences, err := checker.Run(ctx)
	if err != nil {
		logger.Warn("Reconciliation failed", "error", err.Error())
	} else {
		logger.Info("Reconciliation complete", "divergences", divergences)
	}
}

func buildExchange(ctx context.Context, cfg *config.Config, recorder *events.Recorder) (exchange.Client, error) {
	if cfg.BinanceConfig.MockMode || cfg.ExecutionConfig.DryRun {
		return exchange.NewMockClient(0), nil
	}

	vaultClient, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		return nil, fmt.Errorf("vault client: %w", err)
	}
	keys, err := vaultClient.GetAPIKey(ctx, vault.APIKeyData{
		APIKey:    cfg.BinanceConfig.APIKey,
		SecretKey: cfg.BinanceConfig.SecretKey,
		IsTestnet: cfg.BinanceConfig.TestNet,
	})
	if err != nil {
		return nil, fmt.Errorf("api key resolution: %w", err)
	}
	if keys.APIKey == "" || keys.SecretKey == "" {
		return nil, fmt.Errorf("no exchange API credentials configured")
	}

	binanceClient := exchange.NewBinanceClient(keys.APIKey, keys.SecretKey, keys.IsTestnet)
	retrying := exchange.NewRetryClient(binanceClient,
		cfg.ExecutionConfig.RetryAttempts, cfg.ExecutionConfig.RetryBackoff)
	retrying.OnExhausted = func(op string, err error) {
		recorder.RiskEvent(ctx, events.EventExchangeCallFailed, cfg.ExecutionConfig.Symbol,
			fmt.Sprintf("exchange call %s failed after retries", op),
			map[string]interface{}{"op": op, "error": err.Error()})
	}
	return retrying, nil
}
