package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the position engine.
type Config struct {
	Port string

	// Binance USDT-M futures
	BinanceAPIKey    string
	BinanceAPISecret string
	BinanceTestnet   bool
	Instruments      []string

	// Execution sizing
	Leverage          int
	MarginPerTradeUSD float64
	QtyPrecision      int
	PricePrecision    int

	// Protective orders (fraction of entry price)
	StopLossPct   float64
	TakeProfitPct float64

	// Signal acceptance
	MinSignalStrength float64

	// Entry drift abort
	DriftThresholdPct float64
	DriftInterval     time.Duration

	// Reconciliation
	ReconcileInterval   time.Duration
	MaxProtectionPasses int

	// Profit taking (overridable via PolicyPath YAML)
	ProfitInterval       time.Duration
	PartialExitThreshold float64
	FullExitThreshold    float64
	PartialFraction      float64
	BreakevenBufferPct   float64
	CloseLimitOffsetPct  float64
	PolicyPath           string

	// Venue call retry budget
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration

	// Daily risk breaker
	AuditInterval        time.Duration
	MaxTradesPerDay      int
	DailyProfitTargetPct float64
	DailyLossLimitPct    float64
	MaxConsecutiveLosses int
	LossCooldown         time.Duration

	// Persistence
	DBPath string

	// Status API auth
	JWTSecret        string
	OperatorPassword string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		BinanceAPIKey:    os.Getenv("BINANCE_API_KEY"),
		BinanceAPISecret: os.Getenv("BINANCE_API_SECRET"),
		BinanceTestnet:   getEnv("BINANCE_TESTNET", "true") == "true",
		Instruments:      splitAndTrim(getEnv("INSTRUMENTS", "BTCUSDT,ETHUSDT,SOLUSDT,BNBUSDT")),

		Leverage:          getEnvInt("LEVERAGE", 20),
		MarginPerTradeUSD: getEnvFloat("MARGIN_PER_TRADE_USD", 100),
		QtyPrecision:      getEnvInt("QTY_PRECISION", 3),
		PricePrecision:    getEnvInt("PRICE_PRECISION", 2),

		StopLossPct:   getEnvFloat("STOP_LOSS_PCT", 1.0),
		TakeProfitPct: getEnvFloat("TAKE_PROFIT_PCT", 3.0),

		MinSignalStrength: getEnvFloat("MIN_SIGNAL_STRENGTH", 0.5),

		DriftThresholdPct: getEnvFloat("DRIFT_THRESHOLD_PCT", 0.3),
		DriftInterval:     getEnvDuration("DRIFT_INTERVAL", 5*time.Second),

		ReconcileInterval:   getEnvDuration("RECONCILE_INTERVAL", 15*time.Second),
		MaxProtectionPasses: getEnvInt("MAX_PROTECTION_PASSES", 3),

		ProfitInterval:       getEnvDuration("PROFIT_INTERVAL", 8*time.Second),
		PartialExitThreshold: getEnvFloat("PARTIAL_EXIT_THRESHOLD", 4.2),
		FullExitThreshold:    getEnvFloat("FULL_EXIT_THRESHOLD", 10.3),
		PartialFraction:      getEnvFloat("PARTIAL_FRACTION", 0.8),
		BreakevenBufferPct:   getEnvFloat("BREAKEVEN_BUFFER_PCT", 0.05),
		CloseLimitOffsetPct:  getEnvFloat("CLOSE_LIMIT_OFFSET_PCT", 0.5),
		PolicyPath:           getEnv("PROFIT_POLICY_PATH", ""),

		RetryMaxAttempts: getEnvInt("RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:   getEnvDuration("RETRY_BASE_DELAY", time.Second),

		AuditInterval:        getEnvDuration("RISK_AUDIT_INTERVAL", 10*time.Minute),
		MaxTradesPerDay:      getEnvInt("MAX_TRADES_PER_DAY", 10),
		DailyProfitTargetPct: getEnvFloat("DAILY_PROFIT_TARGET_PCT", 8.0),
		DailyLossLimitPct:    getEnvFloat("DAILY_LOSS_LIMIT_PCT", -3.0),
		MaxConsecutiveLosses: getEnvInt("MAX_CONSECUTIVE_LOSSES", 3),
		LossCooldown:         getEnvDuration("LOSS_COOLDOWN", 24*time.Hour),

		DBPath: getEnv("DB_PATH", "./data/engine.db"),

		JWTSecret:        getEnv("JWT_SECRET", "dev-secret"),
		OperatorPassword: os.Getenv("OPERATOR_PASSWORD"),
	}

	if cfg.PolicyPath != "" {
		if err := cfg.applyPolicyFile(cfg.PolicyPath); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Validate rejects configurations that must never reach the venue. Missing
// credentials are fatal at startup: the process must not open a trade blind.
func (c *Config) Validate() error {
	if c.BinanceAPIKey == "" || c.BinanceAPISecret == "" {
		return errors.New("config: BINANCE_API_KEY and BINANCE_API_SECRET are required")
	}
	if len(c.Instruments) == 0 {
		return errors.New("config: at least one instrument is required")
	}
	if c.Leverage <= 0 {
		return errors.New("config: leverage must be positive")
	}
	if c.PartialFraction <= 0 || c.PartialFraction >= 1 {
		return errors.New("config: partial fraction must be in (0,1)")
	}
	if c.FullExitThreshold <= c.PartialExitThreshold {
		return errors.New("config: full exit threshold must exceed partial exit threshold")
	}
	if c.DailyLossLimitPct >= 0 {
		return errors.New("config: daily loss limit must be negative")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
