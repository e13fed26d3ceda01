package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
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
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logging.SetDefault(logging.New(&logging.Config{
		Level:       cfg.LoggingConfig.Level,
		Output:      cfg.LoggingConfig.Output,
		Component:   "liq-engine",
		JSONFormat:  cfg.LoggingConfig.JSONFormat,
		IncludeFile: cfg.LoggingConfig.IncludeFile,
	}))
	logger := logging.WithComponent("main")

	ctx, cancel := context.WithCancel(context.Background())
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

	ex, stream, err := buildExchange(ctx, cfg, redisState, recorder, logger)
	if err != nil {
		logger.Fatal("Exchange setup failed", "error", err.Error())
	}
	if stream != nil {
		stream.Start()
		defer stream.Stop()
	}

	positionMgr := position.NewManager(db, recorder, position.Config{
		MinStopDistancePct: cfg.RiskConfig.MinStopDistancePct,
		DefaultTrailPct:    cfg.TrailingConfig.TrailPct,
	})
	orderMgr := orders.NewManager(db, ex, zerolog.New(os.Stdout).With().Timestamp().Logger())
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

	if cfg.ReconcileConfig.Enabled {
		checker := reconcile.NewChecker(reconcile.Config{
			Symbol:     cfg.ExecutionConfig.Symbol,
			QtyEpsilon: cfg.ReconcileConfig.QtyEpsilon,
		}, db, ex, recorder)
		go checker.RunLoop(ctx, cfg.ReconcileConfig.Interval)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Execution engine started",
		"symbol", cfg.ExecutionConfig.Symbol,
		"cycle_interval", cfg.ExecutionConfig.CycleInterval.String(),
		"dry_run", cfg.ExecutionConfig.DryRun,
		"mock_mode", cfg.BinanceConfig.MockMode)

	ticker := time.NewTicker(cfg.ExecutionConfig.CycleInterval)
	defer ticker.Stop()

	for {
		select {
		case sig := <-sigCh:
			logger.Info("Shutting down", "signal", sig.String())
			cancel()
			return
		case <-ticker.C:
			runTick(ctx, cfg, orch, redisState, logger)
		}
	}
}

// runTick executes one cycle under the distributed run lock so concurrent
// engine instances never act on the same symbol at once.
func runTick(ctx context.Context, cfg *config.Config, orch *execution.Orchestrator, redisState *database.RedisState, logger *logging.Logger) {
	symbol := cfg.ExecutionConfig.Symbol

	acquired, err := redisState.AcquireRunLock(ctx, symbol, cfg.ExecutionConfig.RunLockTTL)
	if err != nil {
		logger.Warn("Run lock check failed, skipping tick", "error", err.Error())
		return
	}
	if !acquired {
		logger.Debug("Run lock held elsewhere, skipping tick", "symbol", symbol)
		return
	}
	defer func() {
		if err := redisState.ReleaseRunLock(ctx, symbol); err != nil {
			logger.Warn("Run lock release failed", "error", err.Error())
		}
	}()

	tickCtx, cancel := context.WithTimeout(ctx, cfg.ExecutionConfig.CycleInterval)
	defer cancel()

	if err := orch.RunCycle(tickCtx); err != nil {
		logger.Error("Cycle failed", "symbol", symbol, "error", err.Error())
	}
}

// buildExchange resolves API credentials (Vault first, env fallback) and
// assembles the client: mock in mock/dry-run mode, otherwise Binance futures
// wrapped with retries, plus the websocket mark-price stream feeding Redis.
func buildExchange(ctx context.Context, cfg *config.Config, redisState *database.RedisState, recorder *events.Recorder, logger *logging.Logger) (exchange.Client, *exchange.MarkPriceStream, error) {
	if cfg.BinanceConfig.MockMode || cfg.ExecutionConfig.DryRun {
		logger.Info("Using mock exchange client",
			"mock_mode", cfg.BinanceConfig.MockMode, "dry_run", cfg.ExecutionConfig.DryRun)
		return exchange.NewMockClient(0), nil, nil
	}

	vaultClient, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("vault client: %w", err)
	}
	keys, err := vaultClient.GetAPIKey(ctx, vault.APIKeyData{
		APIKey:    cfg.BinanceConfig.APIKey,
		SecretKey: cfg.BinanceConfig.SecretKey,
		IsTestnet: cfg.BinanceConfig.TestNet,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("api key resolution: %w", err)
	}
	if keys.APIKey == "" || keys.SecretKey == "" {
		return nil, nil, fmt.Errorf("no exchange API credentials configured")
	}

	binanceClient := exchange.NewBinanceClient(keys.APIKey, keys.SecretKey, keys.IsTestnet)
	retrying := exchange.NewRetryClient(binanceClient,
		cfg.ExecutionConfig.RetryAttempts, cfg.ExecutionConfig.RetryBackoff)
	retrying.OnExhausted = func(op string, err error) {
		recorder.RiskEvent(ctx, events.EventExchangeCallFailed, cfg.ExecutionConfig.Symbol,
			fmt.Sprintf("exchange call %s failed after retries", op),
			map[string]interface{}{"op": op, "error": err.Error()})
	}

	stream := exchange.NewMarkPriceStream(cfg.ExecutionConfig.Symbol, redisState, keys.IsTestnet)
	return retrying, stream, nil
}
