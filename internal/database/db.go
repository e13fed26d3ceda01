package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDB creates a new database connection
func NewDB(cfg Config) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log.Printf("Successfully connected to PostgreSQL database: %s", cfg.Database)

	return &DB{Pool: pool}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		log.Println("Database connection closed")
	}
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	log.Println("Running database migrations...")

	migrations := []string{
		// Liquidation zones are written by the analytics side; the engine only
		// reads them, but the table must exist for decisions to reference.
		`CREATE TABLE IF NOT EXISTS liquidation_zones (
			id SERIAL PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			side VARCHAR(5) NOT NULL,
			price_level DECIMAL(20, 8) NOT NULL,
			strength INTEGER NOT NULL DEFAULT 0,
			source VARCHAR(50),
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_liq_zones_symbol ON liquidation_zones(symbol)`,

		// Decisions come from the external decision engine
		`CREATE TABLE IF NOT EXISTS decisions (
			id SERIAL PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			action VARCHAR(10) NOT NULL,
			entry_min_price DECIMAL(20, 8),
			entry_max_price DECIMAL(20, 8),
			sl_price DECIMAL(20, 8),
			tp1_price DECIMAL(20, 8),
			tp2_price DECIMAL(20, 8),
			position_size_usdt DECIMAL(20, 8),
			leverage DECIMAL(10, 2),
			risk_level INTEGER NOT NULL DEFAULT 0,
			confidence DECIMAL(10, 4),
			risk_checks_json TEXT,
			position_management_json TEXT,
			liq_tp_zone_id INTEGER REFERENCES liquidation_zones(id) ON DELETE SET NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_symbol_created ON decisions(symbol, created_at DESC)`,

		// Positions: at most one open row per symbol
		`CREATE TABLE IF NOT EXISTS positions (
			id SERIAL PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			side VARCHAR(5) NOT NULL,
			status VARCHAR(10) NOT NULL DEFAULT 'open',
			entry_price DECIMAL(20, 8) NOT NULL,
			avg_entry_price DECIMAL(20, 8) NOT NULL,
			size DECIMAL(20, 8) NOT NULL,
			max_size DECIMAL(20, 8) NOT NULL,
			leverage DECIMAL(10, 2),
			stop_loss DECIMAL(20, 8),
			take_profit_1 DECIMAL(20, 8),
			take_profit_2 DECIMAL(20, 8),
			tp1_hit BOOLEAN NOT NULL DEFAULT FALSE,
			tp2_hit BOOLEAN NOT NULL DEFAULT FALSE,
			liq_exit_used BOOLEAN NOT NULL DEFAULT FALSE,
			realized_pnl DECIMAL(20, 8),
			realized_pnl_pct DECIMAL(10, 4),
			management_json TEXT,
			risk_mode_at_open VARCHAR(20),
			decision_id INTEGER REFERENCES decisions(id) ON DELETE SET NULL,
			opened_at TIMESTAMP NOT NULL,
			closed_at TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_positions_one_open
			ON positions(symbol) WHERE status = 'open'`,
		`CREATE INDEX IF NOT EXISTS idx_positions_symbol ON positions(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status)`,

		// Orders: one active order per (position, role)
		`CREATE TABLE IF NOT EXISTS orders (
			id SERIAL PRIMARY KEY,
			client_order_id VARCHAR(64) NOT NULL UNIQUE,
			exchange_order_id VARCHAR(64),
			symbol VARCHAR(20) NOT NULL,
			role VARCHAR(10) NOT NULL,
			side VARCHAR(4) NOT NULL,
			order_type VARCHAR(20) NOT NULL,
			price DECIMAL(20, 8),
			stop_price DECIMAL(20, 8),
			orig_qty DECIMAL(20, 8) NOT NULL,
			executed_qty DECIMAL(20, 8) NOT NULL DEFAULT 0,
			status VARCHAR(20) NOT NULL DEFAULT 'new',
			position_id INTEGER NOT NULL REFERENCES positions(id) ON DELETE CASCADE,
			decision_id INTEGER REFERENCES decisions(id) ON DELETE SET NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_position ON orders(position_id)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_symbol_status ON orders(symbol, status)`,

		// Trades: append-only settlement records
		`CREATE TABLE IF NOT EXISTS trades (
			id SERIAL PRIMARY KEY,
			position_id INTEGER NOT NULL REFERENCES positions(id) ON DELETE CASCADE,
			decision_id INTEGER REFERENCES decisions(id) ON DELETE SET NULL,
			symbol VARCHAR(20) NOT NULL,
			side VARCHAR(5) NOT NULL,
			entry_price DECIMAL(20, 8) NOT NULL,
			avg_entry_price DECIMAL(20, 8) NOT NULL,
			exit_price DECIMAL(20, 8) NOT NULL,
			quantity DECIMAL(20, 8) NOT NULL,
			pnl_usdt DECIMAL(20, 8) NOT NULL,
			pnl_pct DECIMAL(10, 4) NOT NULL,
			exit_reason VARCHAR(30) NOT NULL,
			tp1_hit BOOLEAN NOT NULL DEFAULT FALSE,
			tp2_hit BOOLEAN NOT NULL DEFAULT FALSE,
			management_json TEXT,
			opened_at TIMESTAMP NOT NULL,
			closed_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_trades_position ON trades(position_id)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol_closed ON trades(symbol, closed_at DESC)`,

		// Risk events: blocked entries, reconciliation divergence, call failures
		`CREATE TABLE IF NOT EXISTS risk_events (
			id SERIAL PRIMARY KEY,
			event_type VARCHAR(50) NOT NULL,
			symbol VARCHAR(20) NOT NULL,
			details TEXT NOT NULL,
			details_json TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_risk_events_type ON risk_events(event_type)`,
		`CREATE INDEX IF NOT EXISTS idx_risk_events_created ON risk_events(created_at DESC)`,

		// Execution log mirrored to the database for the dashboard
		`CREATE TABLE IF NOT EXISTS execution_logs (
			id SERIAL PRIMARY KEY,
			source VARCHAR(50) NOT NULL,
			level VARCHAR(10) NOT NULL,
			message TEXT NOT NULL,
			context_json TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_execution_logs_created ON execution_logs(created_at DESC)`,

		// Equity curve, one row per closed trade
		`CREATE TABLE IF NOT EXISTS equity_curve (
			id SERIAL PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			equity_usdt DECIMAL(20, 8) NOT NULL,
			realized_pnl DECIMAL(20, 8) NOT NULL,
			daily_pnl DECIMAL(20, 8) NOT NULL DEFAULT 0,
			weekly_pnl DECIMAL(20, 8) NOT NULL DEFAULT 0,
			timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_equity_curve_ts ON equity_curve(timestamp DESC)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	log.Println("Database migrations completed successfully")
	return nil
}
