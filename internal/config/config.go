package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"pumpguard/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Chain     ChainConfig     `mapstructure:"chain"`
	Pairs     []PairConfig    `mapstructure:"pairs"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Scoring   ScoringConfig   `mapstructure:"scoring"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Auth      AuthConfig      `mapstructure:"auth"`
	API       APIConfig       `mapstructure:"api"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
	Whales    WhalesConfig    `mapstructure:"whales"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// RedisConfig selects Redis as the nonce backend when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ChainConfig covers on-chain data access.
type ChainConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	BackfillWindow uint64        `mapstructure:"backfill_window"`
	StrictDecoding bool          `mapstructure:"strict_decoding"`
}

// PairConfig describes one monitored liquidity pair.
type PairConfig struct {
	Name          string `mapstructure:"name"`
	Address       string `mapstructure:"address"`
	Token0        string `mapstructure:"token0"`
	Token1        string `mapstructure:"token1"`
	Token0Address string `mapstructure:"token0_address"`
	Token1Address string `mapstructure:"token1_address"`
	Enabled       bool   `mapstructure:"enabled"`
	Priority      int    `mapstructure:"priority"`
}

// Key returns the lowercase pair address used as the storage key.
func (p PairConfig) Key() string {
	return strings.ToLower(p.Address)
}

// IngestConfig bounds the per-pair worker pool.
type IngestConfig struct {
	Workers int `mapstructure:"workers"`
}

// ScoringConfig holds the anomaly rule thresholds.
type ScoringConfig struct {
	Window                time.Duration `mapstructure:"window"`
	PumpSwapThreshold     int           `mapstructure:"pump_swap_threshold"`
	PumpScoreDivisor      float64       `mapstructure:"pump_score_divisor"`
	ManipulationMaxTrader int           `mapstructure:"manipulation_max_traders"`
	ManipulationMinSwaps  int           `mapstructure:"manipulation_min_swaps"`
	LargeSwapAmount       float64       `mapstructure:"large_swap_amount"`
	LargeSwapCount        int           `mapstructure:"large_swap_count"`
	LiquidityScore        float64       `mapstructure:"liquidity_score"`
	Global                bool          `mapstructure:"global"`
}

// SchedulerConfig governs the ingestion and scoring cadence.
type SchedulerConfig struct {
	IngestInterval  time.Duration `mapstructure:"ingest_interval"`
	ScoreInterval   time.Duration `mapstructure:"score_interval"`
	Align           bool          `mapstructure:"align"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// AuthConfig configures wallet-signature authentication.
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	NonceTTL  time.Duration `mapstructure:"nonce_ttl"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// APIConfig configures the HTTP façade.
type APIConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Listen            string        `mapstructure:"listen"`
	CORSOrigins       []string      `mapstructure:"cors_origins"`
	AlertsLimit       int           `mapstructure:"alerts_limit"`
	SwapsLimit        int           `mapstructure:"swaps_limit"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled       bool           `mapstructure:"enabled"`
	Channels      []string       `mapstructure:"channels"`
	RetryAttempts int            `mapstructure:"retry_attempts"`
	SnapshotPath  string         `mapstructure:"snapshot_path"`
	SnapshotSize  int            `mapstructure:"snapshot_size"`
	Telegram      TelegramConfig `mapstructure:"telegram"`
	Kafka         KafkaConfig    `mapstructure:"kafka"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// KafkaConfig describes the alert topic.
type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// WhalesConfig drives the token holder concentration report.
type WhalesConfig struct {
	Token            string  `mapstructure:"token"`
	FromBlock        uint64  `mapstructure:"from_block"`
	ToBlock          uint64  `mapstructure:"to_block"`
	ThresholdPercent float64 `mapstructure:"threshold_percent"`
	MulticallAddress string  `mapstructure:"multicall_address"`
	BatchSize        int     `mapstructure:"batch_size"`
	LogChunk         uint64  `mapstructure:"log_chunk"`
	Workers          int     `mapstructure:"workers"`
	Top              int     `mapstructure:"top"`
	ExplorerURL      string  `mapstructure:"explorer_url"`
	ReportDir        string  `mapstructure:"report_dir"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("PUMPGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "pumpguard")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("chain.rpc_url", "https://polygon-rpc.com")
	v.SetDefault("chain.request_timeout", "15s")
	v.SetDefault("chain.rate_limit", 5.0)
	v.SetDefault("chain.backfill_window", 1000)
	v.SetDefault("chain.strict_decoding", false)

	v.SetDefault("pairs", defaultPairs())

	v.SetDefault("ingest.workers", 4)

	v.SetDefault("scoring.window", "10m")
	v.SetDefault("scoring.pump_swap_threshold", 30)
	v.SetDefault("scoring.pump_score_divisor", 50.0)
	v.SetDefault("scoring.manipulation_max_traders", 5)
	v.SetDefault("scoring.manipulation_min_swaps", 20)
	v.SetDefault("scoring.large_swap_amount", 1000.0)
	v.SetDefault("scoring.large_swap_count", 5)
	v.SetDefault("scoring.liquidity_score", 0.7)
	v.SetDefault("scoring.global", false)

	v.SetDefault("scheduler.ingest_interval", "1m")
	v.SetDefault("scheduler.score_interval", "10m")
	v.SetDefault("scheduler.align", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x70756d70))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.nonce_ttl", "10m")
	v.SetDefault("auth.token_ttl", "24h")

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.listen", ":8000")
	v.SetDefault("api.cors_origins", []string{"http://localhost:5173", "http://localhost:8000"})
	v.SetDefault("api.alerts_limit", 20)
	v.SetDefault("api.swaps_limit", 50)
	v.SetDefault("api.shutdown_timeout", "10s")
	v.SetDefault("api.read_header_timeout", "5s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.channels", []string{})
	v.SetDefault("alerting.retry_attempts", 3)
	v.SetDefault("alerting.snapshot_path", "")
	v.SetDefault("alerting.snapshot_size", 50)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.chat_id", "")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.kafka.enabled", false)
	v.SetDefault("alerting.kafka.brokers", []string{})
	v.SetDefault("alerting.kafka.topic", "pumpguard-alerts")
	v.SetDefault("alerting.kafka.batch_timeout", "1s")

	v.SetDefault("export.max_data_points", 10000)

	// USDT on Polygon
	v.SetDefault("whales.token", "0xc2132d05d31c914a87c6611c10748aeb04b58e8f")
	v.SetDefault("whales.from_block", 0)
	v.SetDefault("whales.to_block", 0)
	v.SetDefault("whales.threshold_percent", 0.1)
	v.SetDefault("whales.multicall_address", "0xcA11bde05977b3631167028862bE2a173976CA11")
	v.SetDefault("whales.batch_size", 30)
	v.SetDefault("whales.log_chunk", 2000)
	v.SetDefault("whales.workers", 4)
	v.SetDefault("whales.top", 100)
	v.SetDefault("whales.explorer_url", "https://polygonscan.com/address")
	v.SetDefault("whales.report_dir", "")
}

// defaultPairs mirrors the Polygon QuickSwap pairs of the first deployment.
func defaultPairs() []map[string]any {
	return []map[string]any{
		{
			"name":           "USDC/WETH",
			"address":        "0x853ee4b2a13f8a742d64c8f088be7ba2131f670d",
			"token0":         "USDC",
			"token1":         "WETH",
			"token0_address": "0x3c499c542cef5e3811e1192ce70d8cc03d5c3359",
			"token1_address": "0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619",
			"enabled":        true,
			"priority":       1,
		},
		{
			"name":           "MATIC/USDC",
			"address":        "0x6e7a5FAFcec6BB1e78bAE2A1F0B612012BF14827",
			"token0":         "MATIC",
			"token1":         "USDC",
			"token0_address": "0x0d500b1d8e8ef31e21c99d1db9a6444d3adf1270",
			"token1_address": "0x3c499c542cef5e3811e1192ce70d8cc03d5c3359",
			"enabled":        true,
			"priority":       2,
		},
		{
			"name":           "QUICK/USDC",
			"address":        "0x1f1e4c845183ef6d50e9609f16f6f9cae43bc9cb",
			"token0":         "QUICK",
			"token1":         "USDC",
			"token0_address": "0xb5c064f955d8e7f38fe0460c556a72987494ee17",
			"token1_address": "0x3c499c542cef5e3811e1192ce70d8cc03d5c3359",
			"enabled":        true,
			"priority":       3,
		},
	}
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs sanity checks on the configuration values.
func (c *Config) Validate() error {
	if len(c.EnabledPairs()) == 0 {
		return errors.New("pairs: at least one enabled pair must be configured")
	}
	seen := make(map[string]struct{}, len(c.Pairs))
	for i, pair := range c.Pairs {
		if !common.IsHexAddress(pair.Address) {
			return fmt.Errorf("pairs[%d].address %q is not a valid address", i, pair.Address)
		}
		if strings.TrimSpace(pair.Name) == "" {
			return fmt.Errorf("pairs[%d].name is required", i)
		}
		if _, dup := seen[pair.Key()]; dup {
			return fmt.Errorf("pairs[%d].address %s is configured twice", i, pair.Address)
		}
		seen[pair.Key()] = struct{}{}
	}
	if c.Chain.RPCURL == "" {
		return errors.New("chain.rpc_url is required")
	}
	if c.Chain.BackfillWindow == 0 {
		return errors.New("chain.backfill_window must be greater than zero")
	}
	if c.Scheduler.IngestInterval <= 0 || c.Scheduler.ScoreInterval <= 0 {
		return errors.New("scheduler intervals must be greater than zero")
	}
	if c.Scoring.Window <= 0 {
		return errors.New("scoring.window must be greater than zero")
	}
	if c.Scoring.PumpScoreDivisor <= 0 {
		return errors.New("scoring.pump_score_divisor must be greater than zero")
	}
	if c.Auth.NonceTTL <= 0 || c.Auth.TokenTTL <= 0 {
		return errors.New("auth ttl values must be greater than zero")
	}
	if c.API.Enabled && len(c.Auth.JWTSecret) < 16 {
		return errors.New("auth.jwt_secret must be at least 16 characters when the api is enabled")
	}
	if c.Export.MaxDataPoints <= 0 {
		return errors.New("export.max_data_points must be greater than zero")
	}
	if c.Whales.Token != "" && !common.IsHexAddress(c.Whales.Token) {
		return fmt.Errorf("whales.token %q is not a valid address", c.Whales.Token)
	}
	if c.Whales.MulticallAddress != "" && !common.IsHexAddress(c.Whales.MulticallAddress) {
		return fmt.Errorf("whales.multicall_address %q is not a valid address", c.Whales.MulticallAddress)
	}
	if c.Whales.ThresholdPercent < 0 {
		return errors.New("whales.threshold_percent must not be negative")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return errors.New("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return errors.New("alerting.telegram.chat_id 必须配置")
		}
	}
	if c.Alerting.Kafka.Enabled && (len(c.Alerting.Kafka.Brokers) == 0 || c.Alerting.Kafka.Topic == "") {
		return errors.New("alerting.kafka requires brokers and topic")
	}
	return nil
}

// EnabledPairs returns the enabled pairs ordered by priority.
func (c *Config) EnabledPairs() []PairConfig {
	pairs := make([]PairConfig, 0, len(c.Pairs))
	for _, p := range c.Pairs {
		if p.Enabled {
			pairs = append(pairs, p)
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].Priority < pairs[j].Priority })
	return pairs
}

// FindPair looks up a configured pair by address or name.
func (c *Config) FindPair(ref string) (PairConfig, bool) {
	for _, p := range c.Pairs {
		if strings.EqualFold(p.Address, ref) || strings.EqualFold(p.Name, ref) {
			return p, true
		}
	}
	return PairConfig{}, false
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
