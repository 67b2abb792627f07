package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TradingMode determines whether capital is at risk.
type TradingMode string

const (
	ModePaper   TradingMode = "paper"
	ModeTestnet TradingMode = "testnet"
	ModeLive    TradingMode = "live"
)

// CapitalAtRisk reports whether the mode trades real capital. Paper mode
// bypasses most risk caps to maximize learning throughput.
func (m TradingMode) CapitalAtRisk() bool {
	return m == ModeLive
}

type Config struct {
	TradingConfig      TradingConfig      `yaml:"trading"`
	StrategyConfig     StrategyConfig     `yaml:"strategy"`
	RiskConfig         RiskConfig         `yaml:"risk"`
	MLConfig           MLConfig           `yaml:"ml"`
	LearningConfig     LearningConfig     `yaml:"learning"`
	RotationConfig     RotationConfig     `yaml:"rotation"`
	WatchdogConfig     WatchdogConfig     `yaml:"watchdog"`
	DatabaseConfig     DatabaseConfig     `yaml:"database"`
	RedisConfig        RedisConfig        `yaml:"redis"`
	ServerConfig       ServerConfig       `yaml:"server"`
	AuthConfig         AuthConfig         `yaml:"auth"`
	VaultConfig        VaultConfig        `yaml:"vault"`
	NotificationConfig NotificationConfig `yaml:"notification"`
	LoggingConfig      LoggingConfig      `yaml:"logging"`
}

type TradingConfig struct {
	Mode             TradingMode `yaml:"mode"`               // paper, testnet, live
	Symbols          []string    `yaml:"symbols"`            // active symbol universe
	ScanIntervalSecs int         `yaml:"scan_interval_secs"` // seconds between scan ticks
	Timeframe        string      `yaml:"timeframe"`          // candle interval, e.g. "1m", "5m"
	HistoryCandles   int         `yaml:"history_candles"`    // candles required per snapshot
	PositionSizeUSD  float64     `yaml:"position_size_usd"`  // notional per trade
}

type StrategyConfig struct {
	MinConfidence float64            `yaml:"min_confidence"`
	Weights       map[string]float64 `yaml:"weights"` // rsi, macd, moving_averages, volume, trend
}

type RiskConfig struct {
	MaxOpenPositions  int     `yaml:"max_open_positions"`
	MaxDailyTrades    int     `yaml:"max_daily_trades"`
	CooldownSecs      int     `yaml:"cooldown_secs"`
	StopLossPercent   float64 `yaml:"stop_loss_percent"`
	RiskRewardRatio   float64 `yaml:"risk_reward_ratio"`
	MaxPositionAgeHrs float64 `yaml:"max_position_age_hours"`
	UseATRStops       bool    `yaml:"use_atr_stops"`
	ATRStopMultiplier float64 `yaml:"atr_stop_multiplier"`
}

type MLConfig struct {
	ModelDir           string  `yaml:"model_dir"`
	MinTrainingSamples int     `yaml:"min_training_samples"`
	MinModelAccuracy   float64 `yaml:"min_model_accuracy"` // skip saving artifacts below this
	BlendMaxWeight     float64 `yaml:"blend_max_weight"`   // cap on model influence in confidence blend
	TrainingEpochs     int     `yaml:"training_epochs"`
	LearningRate       float64 `yaml:"learning_rate"`
}

type LearningConfig struct {
	Enabled              bool    `yaml:"enabled"`
	IntervalHours        float64 `yaml:"interval_hours"`
	MinTradesForLearning int     `yaml:"min_trades_for_learning"`
	AutoApply            bool    `yaml:"auto_apply"`
	Aggressiveness       string  `yaml:"aggressiveness"` // conservative, moderate, aggressive
}

type RotationConfig struct {
	Enabled             bool     `yaml:"enabled"`
	SymbolPool          []string `yaml:"symbol_pool"`
	MaxSymbols          int      `yaml:"max_symbols"`
	MinSymbols          int      `yaml:"min_symbols"`
	MinTradesToEvaluate int      `yaml:"min_trades_to_evaluate"`
	MinTotalTrades      int      `yaml:"min_total_trades"` // total trades before rotation starts
}

type WatchdogConfig struct {
	Enabled             bool    `yaml:"enabled"`
	IntervalMins        int     `yaml:"interval_mins"`
	MinTradesPerHour    int     `yaml:"min_trades_per_hour"`
	MaxPositionAgeHours float64 `yaml:"max_position_age_hours"`
	CriticalWinRate     float64 `yaml:"critical_win_rate"`
	RateLimitMins       int     `yaml:"rate_limit_mins"` // min minutes between repeats of one fix
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Host    string `yaml:"host"`
}

type AuthConfig struct {
	Enabled              bool   `yaml:"enabled"`
	JWTSecret            string `yaml:"jwt_secret"`
	OperatorPasswordHash string `yaml:"operator_password_hash"` // bcrypt hash
	TokenDurationMins    int    `yaml:"token_duration_mins"`
}

type VaultConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Address    string `yaml:"address"`
	Token      string `yaml:"token"`
	SecretPath string `yaml:"secret_path"`
	TLSEnabled bool   `yaml:"tls_enabled"`
	CACert     string `yaml:"ca_cert"`
}

type NotificationConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Telegram TelegramConfig `yaml:"telegram"`
	Discord  DiscordConfig  `yaml:"discord"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"`  // DEBUG, INFO, WARN, ERROR
	Output      string `yaml:"output"` // stdout, stderr, or file path
	JSONFormat  bool   `yaml:"json_format"`
	IncludeFile bool   `yaml:"include_file"`
}

// Confidence threshold hard bounds. Duplicated as a backstop in
// internal/strategy; keep both in sync.
const (
	MinConfidenceFloor = 0.03
	MaxConfidenceCap   = 0.15
)

const weightSumEpsilon = 0.01

// Load reads the YAML config file, applies environment overrides and
// validates the result. Validation failures are returned as errors; callers
// are expected to treat them as fatal at startup.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		TradingConfig: TradingConfig{
			Mode:             ModePaper,
			Symbols:          []string{"SOLUSDT", "AVAXUSDT", "DOGEUSDT", "ADAUSDT", "LINKUSDT"},
			ScanIntervalSecs: 30,
			Timeframe:        "1m",
			HistoryCandles:   100,
			PositionSizeUSD:  100,
		},
		StrategyConfig: StrategyConfig{
			MinConfidence: 0.05,
			Weights: map[string]float64{
				"rsi":             0.25,
				"macd":            0.25,
				"moving_averages": 0.25,
				"volume":          0.15,
				"trend":           0.10,
			},
		},
		RiskConfig: RiskConfig{
			MaxOpenPositions:  3,
			MaxDailyTrades:    200,
			CooldownSecs:      120,
			StopLossPercent:   2.0,
			RiskRewardRatio:   2.0,
			MaxPositionAgeHrs: 6,
			UseATRStops:       true,
			ATRStopMultiplier: 2.0,
		},
		MLConfig: MLConfig{
			ModelDir:           "models",
			MinTrainingSamples: 50,
			MinModelAccuracy:   0.50,
			BlendMaxWeight:     0.8,
			TrainingEpochs:     400,
			LearningRate:       0.05,
		},
		LearningConfig: LearningConfig{
			Enabled:              true,
			IntervalHours:        6,
			MinTradesForLearning: 50,
			AutoApply:            true,
			Aggressiveness:       "moderate",
		},
		RotationConfig: RotationConfig{
			Enabled: true,
			SymbolPool: []string{
				"SOLUSDT", "AVAXUSDT", "MATICUSDT", "DOGEUSDT", "ADAUSDT",
				"ATOMUSDT", "DOTUSDT", "LINKUSDT", "UNIUSDT", "NEARUSDT",
				"FTMUSDT", "ALGOUSDT", "XLMUSDT", "VETUSDT", "SANDUSDT",
				"MANAUSDT", "AXSUSDT", "GALAUSDT", "CHZUSDT", "ENJUSDT",
			},
			MaxSymbols:          8,
			MinSymbols:          5,
			MinTradesToEvaluate: 10,
			MinTotalTrades:      50,
		},
		WatchdogConfig: WatchdogConfig{
			Enabled:             true,
			IntervalMins:        30,
			MinTradesPerHour:    2,
			MaxPositionAgeHours: 6,
			CriticalWinRate:     0.25,
			RateLimitMins:       60,
		},
		DatabaseConfig: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Password: "postgres",
			Database: "trading_bot",
			SSLMode:  "disable",
		},
		RedisConfig: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
		},
		ServerConfig: ServerConfig{
			Enabled: true,
			Port:    8080,
			Host:    "0.0.0.0",
		},
		AuthConfig: AuthConfig{
			Enabled:           false,
			TokenDurationMins: 60,
		},
		NotificationConfig: NotificationConfig{
			Enabled: false,
		},
		LoggingConfig: LoggingConfig{
			Level:      "INFO",
			Output:     "stdout",
			JSONFormat: true,
		},
	}
}

// applyEnvOverrides lets deployment environments override secrets and
// connection settings without editing the config file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("TRADING_MODE"); v != "" {
		c.TradingConfig.Mode = TradingMode(strings.ToLower(v))
	}
	if v := os.Getenv("DB_HOST"); v != "" {
		c.DatabaseConfig.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.DatabaseConfig.Port = port
		}
	}
	if v := os.Getenv("DB_USER"); v != "" {
		c.DatabaseConfig.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		c.DatabaseConfig.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		c.DatabaseConfig.Database = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisConfig.Enabled = true
		c.RedisConfig.Addr = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.AuthConfig.JWTSecret = v
	}
	if v := os.Getenv("VAULT_ADDR"); v != "" {
		c.VaultConfig.Address = v
	}
	if v := os.Getenv("VAULT_TOKEN"); v != "" {
		c.VaultConfig.Token = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.NotificationConfig.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.NotificationConfig.Telegram.ChatID = v
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		c.NotificationConfig.Discord.WebhookURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LoggingConfig.Level = v
	}
	if v := os.Getenv("API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.ServerConfig.Port = port
		}
	}
}

// Validate checks the configuration before first use. A configuration error
// here is fatal at startup; thresholds are never silently clamped.
func (c *Config) Validate() error {
	switch c.TradingConfig.Mode {
	case ModePaper, ModeTestnet, ModeLive:
	default:
		return fmt.Errorf("invalid trading mode %q (expected paper, testnet or live)", c.TradingConfig.Mode)
	}

	if len(c.TradingConfig.Symbols) == 0 {
		return fmt.Errorf("trading.symbols must not be empty")
	}

	if len(c.StrategyConfig.Weights) == 0 {
		return fmt.Errorf("strategy.weights must not be empty")
	}
	sum := 0.0
	for name, w := range c.StrategyConfig.Weights {
		if w < 0 {
			return fmt.Errorf("strategy.weights.%s is negative (%.3f)", name, w)
		}
		sum += w
	}
	if math.Abs(sum-1.0) > weightSumEpsilon {
		return fmt.Errorf("strategy.weights must sum to 1.0 (got %.3f)", sum)
	}

	mc := c.StrategyConfig.MinConfidence
	if mc < MinConfidenceFloor || mc > MaxConfidenceCap {
		return fmt.Errorf("strategy.min_confidence %.3f outside [%.2f, %.2f]",
			mc, MinConfidenceFloor, MaxConfidenceCap)
	}

	if c.RiskConfig.MaxOpenPositions <= 0 {
		return fmt.Errorf("risk.max_open_positions must be positive")
	}
	if c.RiskConfig.MaxDailyTrades <= 0 {
		return fmt.Errorf("risk.max_daily_trades must be positive")
	}

	if c.RotationConfig.Enabled {
		if c.RotationConfig.MinSymbols <= 0 || c.RotationConfig.MaxSymbols < c.RotationConfig.MinSymbols {
			return fmt.Errorf("rotation.min_symbols/max_symbols misconfigured (%d/%d)",
				c.RotationConfig.MinSymbols, c.RotationConfig.MaxSymbols)
		}
	}

	if c.AuthConfig.Enabled && c.AuthConfig.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required when auth is enabled")
	}

	return nil
}

// ScanInterval returns the scan tick interval as a duration.
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.TradingConfig.ScanIntervalSecs) * time.Second
}

// Cooldown returns the per-symbol cooldown as a duration.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.RiskConfig.CooldownSecs) * time.Second
}

// LearningInterval returns the interval between learning cycles.
func (c *Config) LearningInterval() time.Duration {
	return time.Duration(c.LearningConfig.IntervalHours * float64(time.Hour))
}

// WatchdogInterval returns the interval between watchdog ticks.
func (c *Config) WatchdogInterval() time.Duration {
	return time.Duration(c.WatchdogConfig.IntervalMins) * time.Minute
}
