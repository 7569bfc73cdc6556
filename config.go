package hft

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds every setting of the pipeline and its demo harness.
// LoadConfig reads it from YAML, then applies environment overrides.
type Config struct {
	Symbols         []string      `yaml:"symbols"`
	Shards          int           `yaml:"shards"`
	RingCapacity    int           `yaml:"ring_capacity"`
	LogRingCapacity int           `yaml:"log_ring_capacity"`
	PollInterval    time.Duration `yaml:"poll_interval"`

	Feed     FeedConfig     `yaml:"feed"`
	Strategy StrategyConfig `yaml:"strategy"`
	Risk     RiskConfig     `yaml:"risk"`
	Gateway  GatewayConfig  `yaml:"gateway"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`

	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`
}

// FeedConfig selects and tunes the market data source.
type FeedConfig struct {
	Source    string          `yaml:"source"` // synthetic | binance
	Count     int             `yaml:"count"`
	Seed      int64           `yaml:"seed"`
	BasePrice decimal.Decimal `yaml:"base_price"`
	Tick      decimal.Decimal `yaml:"tick"`
	MaxQty    decimal.Decimal `yaml:"max_qty"`
	Interval  time.Duration   `yaml:"interval"`

	Binance struct {
		WSURL      string        `yaml:"ws_url"`
		RestURL    string        `yaml:"rest_url"`
		DepthLimit int           `yaml:"depth_limit"`
		Buffer     int           `yaml:"buffer"`
		Timeout    time.Duration `yaml:"timeout"`
	} `yaml:"binance"`
}

// GatewayConfig configures the OMS engine connection to the exchange.
type GatewayConfig struct {
	Addr            string        `yaml:"addr"`
	WaitTimeout     time.Duration `yaml:"wait_timeout"`
	WriteRetryDelay time.Duration `yaml:"write_retry_delay"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
}

const (
	SourceSynthetic = "synthetic"
	SourceBinance   = "binance"
)

// DefaultConfig returns a configuration that runs the synthetic pipeline out of the box.
func DefaultConfig() *Config {
	cfg := &Config{
		Symbols:         []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "BNBUSDT"},
		Shards:          2,
		RingCapacity:    DefaultRingCapacity,
		LogRingCapacity: DefaultLogRingCapacity,
		PollInterval:    DefaultPollInterval,
		Strategy:        DefaultStrategyConfig(),
		Risk:            RiskConfig{MaxOrderQty: decimal.RequireFromString("1.5")},
		Gateway: GatewayConfig{
			Addr:            DefaultGatewayAddr,
			WaitTimeout:     DefaultWaitTimeout,
			WriteRetryDelay: DefaultWriteRetryDelay,
			ConnectTimeout:  DefaultConnectTimeout,
		},
	}

	cfg.Feed.Source = SourceSynthetic
	cfg.Feed.Seed = 42
	cfg.Feed.BasePrice = decimal.NewFromInt(100)
	cfg.Feed.Tick = decimal.RequireFromString("0.01")
	cfg.Feed.MaxQty = decimal.NewFromInt(2)
	cfg.Feed.Interval = 100 * time.Microsecond
	cfg.Feed.Binance.WSURL = "wss://stream.binance.com:9443"
	cfg.Feed.Binance.RestURL = "https://api.binance.com"
	cfg.Feed.Binance.DepthLimit = 1000
	cfg.Feed.Binance.Buffer = 4096
	cfg.Feed.Binance.Timeout = 10 * time.Second
	cfg.Logging.Level = "info"

	return cfg
}

// LoadConfig reads path on top of DefaultConfig, applies environment overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.OverrideWithEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// OverrideWithEnv applies HFT_* environment variables.
func (c *Config) OverrideWithEnv() {
	if v := os.Getenv("HFT_GATEWAY_ADDR"); v != "" {
		c.Gateway.Addr = v
	}
	if v := os.Getenv("HFT_FEED_SOURCE"); v != "" {
		c.Feed.Source = v
	}
	if v := os.Getenv("HFT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("HFT_METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required: %w", ErrInvalidParam)
	}
	if c.Shards <= 0 {
		return fmt.Errorf("shards must be positive: %w", ErrInvalidParam)
	}
	if !isPowerOfTwo(c.RingCapacity) || !isPowerOfTwo(c.LogRingCapacity) {
		return fmt.Errorf("ring capacities must be powers of 2: %w", ErrInvalidParam)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive: %w", ErrInvalidParam)
	}

	switch c.Feed.Source {
	case SourceSynthetic:
		if !c.Feed.Tick.IsPositive() || !c.Feed.BasePrice.IsPositive() {
			return fmt.Errorf("synthetic feed needs a positive tick and base price: %w", ErrInvalidParam)
		}
	case SourceBinance:
		u := c.Feed.Binance.WSURL
		if !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
			return fmt.Errorf("invalid binance ws url %q: %w", u, ErrInvalidParam)
		}
		if c.Feed.Binance.RestURL == "" {
			return fmt.Errorf("binance rest url is required: %w", ErrInvalidParam)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSource, c.Feed.Source)
	}

	if c.Strategy.ZEnter <= 0 || c.Strategy.ZExit < 0 || c.Strategy.ZExit >= c.Strategy.ZEnter {
		return fmt.Errorf("strategy needs 0 <= z_exit < z_enter: %w", ErrInvalidParam)
	}
	if !c.Strategy.SizeRatio.IsPositive() {
		return fmt.Errorf("strategy size ratio must be positive: %w", ErrInvalidParam)
	}
	if !c.Risk.MaxOrderQty.IsPositive() {
		return fmt.Errorf("risk max order qty must be positive: %w", ErrInvalidParam)
	}
	if c.Gateway.Addr == "" {
		return fmt.Errorf("gateway addr is required: %w", ErrInvalidParam)
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}

	return nil
}

// LogLevel parses Logging.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", c.Logging.Level, ErrInvalidParam)
	}
	return level, nil
}

// SyntheticConfig converts the feed settings for NewSyntheticSource.
func (c *Config) SyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		Symbols:   c.Symbols,
		Count:     c.Feed.Count,
		Seed:      c.Feed.Seed,
		BasePrice: PriceFromDecimal(c.Feed.BasePrice),
		Tick:      PriceFromDecimal(c.Feed.Tick),
		MaxQty:    QtyFromDecimal(c.Feed.MaxQty),
		Interval:  c.Feed.Interval,
	}
}

func isPowerOfTwo(n int) bool {
	return n >= 2 && n&(n-1) == 0
}
