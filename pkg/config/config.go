package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// factorCount is the size of the fixed factor set the governor manages.
const factorCount = 7

// Config holds all configuration for the application
// ⭐ SSOT: 모든 환경변수는 여기서만 읽음
type Config struct {
	// Server
	Port string
	Env  string // development, staging, production

	// Store backend: postgres | memory
	Store string

	// Database
	Database DatabaseConfig

	// Redis
	Redis RedisConfig

	// Weight governance
	Governor GovernorConfig

	// Regime change notifications
	Notify NotifyConfig

	// Logging
	LogLevel  string
	LogFormat string

	// Monitoring
	MetricsEnabled bool
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL string

	// Connection Pool
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// 기동 시 ping 재시도 횟수 (DB가 늦게 뜨는 compose 환경)
	ConnectRetries int
}

// GovernorConfig holds the weight governance parameters
type GovernorConfig struct {
	// Safety engine
	MinWeight     float64
	MaxWeight     float64
	SumTolerance  float64
	MaxChangeRate float64
	HistorySize   int

	// Dynamic calculator
	EMAAlpha     float64
	MinSamples   int
	LookbackDays int

	// Strategy mapper
	SmoothTransition       bool
	DefaultTransitionSpeed float64
	DefaultMinConfidence   float64
	StrategyFile           string

	// Provider: static | dynamic | regime | hybrid
	ProviderMode       string
	HybridDynamicRatio float64

	// Storage retention
	VersionKeep int

	// Rollback on performance collapse
	RollbackMinWinRate   float64
	RollbackMinAvgReturn float64

	// Delayed comparison analysis
	ComparisonDelay time.Duration

	// Indicator snapshot
	SnapshotFile string
	SnapshotTTL  time.Duration

	// Cron schedules (robfig/cron with seconds)
	RegimeCheckSchedule string
	PerformanceSchedule string
	CleanupSchedule     string
}

// SafetyBounds is the subset of GovernorConfig the safety engine needs
type SafetyBounds struct {
	MinWeight     float64
	MaxWeight     float64
	SumTolerance  float64
	MaxChangeRate float64
	HistorySize   int
}

// SafetyBounds returns the safety engine bounds
func (g GovernorConfig) SafetyBounds() SafetyBounds {
	return SafetyBounds{
		MinWeight:     g.MinWeight,
		MaxWeight:     g.MaxWeight,
		SumTolerance:  g.SumTolerance,
		MaxChangeRate: g.MaxChangeRate,
		HistorySize:   g.HistorySize,
	}
}

// NotifyConfig holds notification channel configuration
type NotifyConfig struct {
	MinConfidence  float64
	WebhookURL     string
	TelegramToken  string
	TelegramChatID int64
}

// Load reads configuration from environment variables
// ⭐ SSOT: 이 함수만 os.Getenv()를 호출함
func Load() (*Config, error) {
	// Try multiple paths for .env file
	loadEnvFile()

	cfg := &Config{
		Port:  getEnv("PORT", "8090"),
		Env:   getEnv("ENV", "development"),
		Store: getEnv("STORE_BACKEND", "postgres"),

		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 10),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 2),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
			ConnectRetries:  getEnvAsInt("DB_CONNECT_RETRIES", 3),
		},

		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
		},

		Governor: GovernorConfig{
			MinWeight:     getEnvAsFloat("WEIGHT_MIN", 0.05),
			MaxWeight:     getEnvAsFloat("WEIGHT_MAX", 0.40),
			SumTolerance:  getEnvAsFloat("WEIGHT_SUM_TOLERANCE", 0.001),
			MaxChangeRate: getEnvAsFloat("WEIGHT_MAX_CHANGE_RATE", 0.10),
			HistorySize:   getEnvAsInt("WEIGHT_HISTORY_SIZE", 100),

			EMAAlpha:     getEnvAsFloat("DYNAMIC_EMA_ALPHA", 0.3),
			MinSamples:   getEnvAsInt("DYNAMIC_MIN_SAMPLES", 30),
			LookbackDays: getEnvAsInt("DYNAMIC_LOOKBACK_DAYS", 90),

			SmoothTransition:       getEnvAsBool("REGIME_SMOOTH_TRANSITION", true),
			DefaultTransitionSpeed: getEnvAsFloat("REGIME_TRANSITION_SPEED", 0.34),
			DefaultMinConfidence:   getEnvAsFloat("REGIME_MIN_CONFIDENCE", 0.6),
			StrategyFile:           getEnv("STRATEGY_FILE", ""),

			ProviderMode:       getEnv("WEIGHT_PROVIDER", "hybrid"),
			HybridDynamicRatio: getEnvAsFloat("HYBRID_DYNAMIC_RATIO", 0.5),

			VersionKeep: getEnvAsInt("WEIGHT_VERSION_KEEP", 50),

			RollbackMinWinRate:   getEnvAsFloat("ROLLBACK_MIN_WIN_RATE", 0.35),
			RollbackMinAvgReturn: getEnvAsFloat("ROLLBACK_MIN_AVG_RETURN", -0.03),

			ComparisonDelay: getEnvAsDuration("COMPARISON_DELAY", "72h"),

			SnapshotFile: getEnv("INDICATOR_SNAPSHOT_FILE", "data/market_indicators.json"),
			SnapshotTTL:  getEnvAsDuration("INDICATOR_SNAPSHOT_TTL", "10m"),

			RegimeCheckSchedule: getEnv("SCHEDULE_REGIME_CHECK", "0 40 15 * * 1-5"),
			PerformanceSchedule: getEnv("SCHEDULE_PERFORMANCE_UPDATE", "0 0 18 * * 1-5"),
			CleanupSchedule:     getEnv("SCHEDULE_VERSION_CLEANUP", "0 0 3 * * 0"),
		},

		Notify: NotifyConfig{
			MinConfidence:  getEnvAsFloat("NOTIFY_MIN_CONFIDENCE", 0.7),
			WebhookURL:     getEnv("NOTIFY_WEBHOOK_URL", ""),
			TelegramToken:  getEnv("TELEGRAM_BOT_TOKEN", ""),
			TelegramChatID: int64(getEnvAsInt("TELEGRAM_CHAT_ID", 0)),
		},

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
	}

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks if required configuration values are set
func (c *Config) validate() error {
	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	switch c.Store {
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND=postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("STORE_BACKEND must be postgres or memory, got %q", c.Store)
	}

	return c.Governor.validate()
}

func (g GovernorConfig) validate() error {
	if g.MinWeight < 0 || g.MaxWeight <= g.MinWeight {
		return fmt.Errorf("weight bounds invalid: min=%.4f max=%.4f", g.MinWeight, g.MaxWeight)
	}
	// 7개 팩터가 [min, max] 범위 안에서 합 1.0을 만들 수 있어야 함
	if g.MinWeight*factorCount > 1.0 || g.MaxWeight*factorCount < 1.0 {
		return fmt.Errorf("weight bounds cannot sum to 1.0 over %d factors: min=%.4f max=%.4f",
			factorCount, g.MinWeight, g.MaxWeight)
	}
	if g.SumTolerance <= 0 || g.SumTolerance >= 0.1 {
		return fmt.Errorf("WEIGHT_SUM_TOLERANCE must be in (0, 0.1), got %.4f", g.SumTolerance)
	}
	if g.MaxChangeRate <= 0 || g.MaxChangeRate > 1 {
		return fmt.Errorf("WEIGHT_MAX_CHANGE_RATE must be in (0, 1], got %.4f", g.MaxChangeRate)
	}
	if g.HistorySize < 1 {
		return fmt.Errorf("WEIGHT_HISTORY_SIZE must be >= 1")
	}
	if g.EMAAlpha <= 0 || g.EMAAlpha > 1 {
		return fmt.Errorf("DYNAMIC_EMA_ALPHA must be in (0, 1], got %.4f", g.EMAAlpha)
	}
	if g.MinSamples < 2 {
		return fmt.Errorf("DYNAMIC_MIN_SAMPLES must be >= 2")
	}
	if g.DefaultTransitionSpeed <= 0 || g.DefaultTransitionSpeed > 1 {
		return fmt.Errorf("REGIME_TRANSITION_SPEED must be in (0, 1]")
	}
	if g.DefaultMinConfidence < 0 || g.DefaultMinConfidence > 1 {
		return fmt.Errorf("REGIME_MIN_CONFIDENCE must be in [0, 1]")
	}
	switch g.ProviderMode {
	case "static", "dynamic", "regime", "hybrid":
	default:
		return fmt.Errorf("WEIGHT_PROVIDER must be one of static, dynamic, regime, hybrid")
	}
	if g.HybridDynamicRatio < 0 || g.HybridDynamicRatio > 1 {
		return fmt.Errorf("HYBRID_DYNAMIC_RATIO must be in [0, 1]")
	}
	if g.VersionKeep < 1 {
		return fmt.Errorf("WEIGHT_VERSION_KEEP must be >= 1")
	}
	return nil
}

// Helper functions (private, only used within this file)

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	paths := []string{".env"}

	// Also try relative to executable
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		// Fallback to default
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}
