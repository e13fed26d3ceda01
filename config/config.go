package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	BinanceConfig   BinanceConfig   `json:"binance"`
	DatabaseConfig  DatabaseConfig  `json:"database"`
	RedisConfig     RedisConfig     `json:"redis"`
	VaultConfig     VaultConfig     `json:"vault"`
	ExecutionConfig ExecutionConfig `json:"execution"`
	RiskConfig      RiskConfig      `json:"risk"`
	TrailingConfig  TrailingConfig  `json:"trailing"`
	ReconcileConfig ReconcileConfig `json:"reconcile"`
	LoggingConfig   LoggingConfig   `json:"logging"`
}

// BinanceConfig holds exchange connectivity settings
type BinanceConfig struct {
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
	TestNet   bool   `json:"testnet"`
	MockMode  bool   `json:"mock_mode"` // Use the in-memory mock client instead of Binance
}

type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig holds Redis configuration for the run lock and price cache
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// VaultConfig holds HashiCorp Vault configuration for API key storage
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`  // KV secrets engine mount path
	SecretPath string `json:"secret_path"` // Path for the exchange API key
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// ExecutionConfig holds the execution cycle settings
type ExecutionConfig struct {
	Symbol              string        `json:"symbol"`
	CycleInterval       time.Duration `json:"cycle_interval"`
	DecisionStaleness   time.Duration `json:"decision_staleness"` // Decisions older than this are treated as flat
	RunLockTTL          time.Duration `json:"run_lock_ttl"`       // Redis run lock expiry
	ExchangeCallTimeout time.Duration `json:"exchange_call_timeout"`
	RetryAttempts       int           `json:"retry_attempts"`
	RetryBackoff        time.Duration `json:"retry_backoff"` // Initial backoff, doubles per attempt
	DryRun              bool          `json:"dry_run"`
}

// RiskConfig holds both the entry policy floors and the global risk limits
type RiskConfig struct {
	MinStopDistancePct float64 `json:"min_stop_distance_pct"` // Fraction of entry price, e.g. 0.0035
	MinRewardRisk      float64 `json:"min_reward_risk"`       // Minimum TP1 reward:risk ratio
	MaxDailyDDPct      float64 `json:"max_daily_dd_pct"`
	MaxWeeklyDDPct     float64 `json:"max_weekly_dd_pct"`
	MaxTradesPerDay    int     `json:"max_trades_per_day"`
	MaxLosingStreak    int     `json:"max_losing_streak"`
	StartingEquityUSDT float64 `json:"starting_equity_usdt"`
}

// TrailingConfig holds trailing-stop behavior after TP1
type TrailingConfig struct {
	TrailPct          float64 `json:"trail_pct"`           // Distance behind current price
	TightenedTrailPct float64 `json:"tightened_trail_pct"` // Used near a referenced liq zone
	LiqZoneProximity  float64 `json:"liq_zone_proximity"`  // Fraction of zone price, e.g. 0.01
	LiqExitAdverse    bool    `json:"liq_exit_adverse_cross"`
}

// ReconcileConfig holds reconciliation checker settings
type ReconcileConfig struct {
	Enabled    bool          `json:"enabled"`
	Interval   time.Duration `json:"interval"`
	QtyEpsilon float64       `json:"qty_epsilon"`
}

type LoggingConfig struct {
	Level       string `json:"level"`        // DEBUG, INFO, WARN, ERROR
	Output      string `json:"output"`       // stdout, stderr, or file path
	JSONFormat  bool   `json:"json_format"`  // Output as JSON
	IncludeFile bool   `json:"include_file"` // Include file and line number
}

func Load() (*Config, error) {
	// First try to load base config from file
	cfg, err := loadFromFile("config.json")
	if err != nil {
		// If no config file, start with empty config
		cfg = &Config{}
	}

	// Apply environment variable overrides (these take precedence)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// BINANCE_API_KEY/BINANCE_SECRET_KEY only matter when Vault is disabled.
func applyEnvOverrides(cfg *Config) {
	// Binance config
	cfg.BinanceConfig.APIKey = getEnvOrDefault("BINANCE_API_KEY", cfg.BinanceConfig.APIKey)
	cfg.BinanceConfig.SecretKey = getEnvOrDefault("BINANCE_SECRET_KEY", cfg.BinanceConfig.SecretKey)
	cfg.BinanceConfig.TestNet = getEnvOrDefault("BINANCE_TESTNET", "false") == "true"
	cfg.BinanceConfig.MockMode = getEnvOrDefault("MOCK_MODE", "false") == "true"

	// Database config
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", "localhost")
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", 5432)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", "liqengine")
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", "liqengine")
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", "disable")

	// Redis config
	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", "true") == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", "localhost:6379")
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", 0)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", 10)

	// Vault config
	cfg.VaultConfig.Enabled = getEnvOrDefault("VAULT_ENABLED", "false") == "true"
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", "http://localhost:8200")
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", "secret")
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", "liq-engine/binance")
	cfg.VaultConfig.TLSEnabled = getEnvOrDefault("VAULT_TLS_ENABLED", "false") == "true"
	cfg.VaultConfig.CACert = getEnvOrDefault("VAULT_CA_CERT", cfg.VaultConfig.CACert)

	// Execution config
	cfg.ExecutionConfig.Symbol = getEnvOrDefault("EXECUTION_SYMBOL", "BTCUSDT")
	cfg.ExecutionConfig.CycleInterval = getEnvDurationOrDefault("EXECUTION_CYCLE_INTERVAL", 15*time.Second)
	cfg.ExecutionConfig.DecisionStaleness = getEnvDurationOrDefault("EXECUTION_DECISION_STALENESS", 10*time.Minute)
	cfg.ExecutionConfig.RunLockTTL = getEnvDurationOrDefault("EXECUTION_RUN_LOCK_TTL", 60*time.Second)
	cfg.ExecutionConfig.ExchangeCallTimeout = getEnvDurationOrDefault("EXCHANGE_CALL_TIMEOUT", 10*time.Second)
	cfg.ExecutionConfig.RetryAttempts = getEnvIntOrDefault("EXCHANGE_RETRY_ATTEMPTS", 3)
	cfg.ExecutionConfig.RetryBackoff = getEnvDurationOrDefault("EXCHANGE_RETRY_BACKOFF", 1*time.Second)
	cfg.ExecutionConfig.DryRun = getEnvOrDefault("EXECUTION_DRY_RUN", "false") == "true"

	// Risk config
	cfg.RiskConfig.MinStopDistancePct = getEnvFloatOrDefault("RISK_MIN_STOP_DISTANCE_PCT", 0.0035)
	cfg.RiskConfig.MinRewardRisk = getEnvFloatOrDefault("RISK_MIN_REWARD_RISK", 2.0)
	cfg.RiskConfig.MaxDailyDDPct = getEnvFloatOrDefault("MAX_DAILY_DD_PCT", 5.0)
	cfg.RiskConfig.MaxWeeklyDDPct = getEnvFloatOrDefault("MAX_WEEKLY_DD_PCT", 10.0)
	cfg.RiskConfig.MaxTradesPerDay = getEnvIntOrDefault("MAX_TRADES_PER_DAY", 5)
	cfg.RiskConfig.MaxLosingStreak = getEnvIntOrDefault("MAX_LOSING_STREAK", 3)
	cfg.RiskConfig.StartingEquityUSDT = getEnvFloatOrDefault("STARTING_EQUITY_USDT", 10000)

	// Trailing config
	cfg.TrailingConfig.TrailPct = getEnvFloatOrDefault("TRAILING_TRAIL_PCT", 0.005)
	cfg.TrailingConfig.TightenedTrailPct = getEnvFloatOrDefault("TRAILING_TIGHTENED_TRAIL_PCT", 0.003)
	cfg.TrailingConfig.LiqZoneProximity = getEnvFloatOrDefault("TRAILING_LIQ_ZONE_PROXIMITY", 0.01)
	cfg.TrailingConfig.LiqExitAdverse = getEnvOrDefault("LIQ_EXIT_ADVERSE_CROSS", "true") == "true"

	// Reconcile config
	cfg.ReconcileConfig.Enabled = getEnvOrDefault("RECONCILE_ENABLED", "true") == "true"
	cfg.ReconcileConfig.Interval = getEnvDurationOrDefault("RECONCILE_INTERVAL", 2*time.Minute)
	cfg.ReconcileConfig.QtyEpsilon = getEnvFloatOrDefault("RECONCILE_QTY_EPSILON", 1e-6)

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", "INFO")
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", "stdout")
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", "true") == "true"
	cfg.LoggingConfig.IncludeFile = getEnvOrDefault("LOG_INCLUDE_FILE", "false") == "true"
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// GenerateSampleConfig writes a config.json template with the default values
func GenerateSampleConfig(filename string) error {
	cfg := &Config{}
	applyEnvOverrides(cfg)

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshaling sample config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("error writing sample config: %w", err)
	}

	return nil
}
