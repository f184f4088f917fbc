package relayer

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/msalopek/swap_relayer/settlement"
	"github.com/pelletier/go-toml/v2"
)

type ChainEntry struct {
	Key     string `json:"key,omitempty" toml:"key,omitempty"`
	ChainID uint64 `json:"chain_id,omitempty" toml:"chain_id,omitempty"`
	ApiUrl  string `json:"api_url,omitempty" toml:"api_url,omitempty"`
	// Decimals of the chain's settlement asset. Committed prices convert
	// source fills into destination amounts with them.
	Decimals uint8 `json:"decimals,omitempty" toml:"decimals,omitempty"`
}

type RedisEntry struct {
	URL     string `json:"url,omitempty" toml:"url,omitempty"`
	Channel string `json:"channel,omitempty" toml:"channel,omitempty"`
}

type PriceFeedEntry struct {
	ApiUrl string `json:"api_url,omitempty" toml:"api_url,omitempty"`
	Key    string `json:"key,omitempty" toml:"key,omitempty"`
	// RequestsPerMinute bounds calls to the price API.
	RequestsPerMinute int `json:"requests_per_minute,omitempty" toml:"requests_per_minute,omitempty"`
}

type RetryEntry struct {
	InitialIntervalMs int `json:"initial_interval_ms,omitempty" toml:"initial_interval_ms,omitempty"`
	MaxElapsedSeconds int `json:"max_elapsed_seconds,omitempty" toml:"max_elapsed_seconds,omitempty"`
}

// Config is the relayer's TOML configuration. Durations are integer seconds.
type Config struct {
	Listen  string `json:"listen,omitempty" toml:"listen,omitempty"`
	DB      string `json:"db,omitempty" toml:"db,omitempty"`
	Address string `json:"address,omitempty" toml:"address,omitempty"`

	CommitmentWindow    uint64 `json:"commitment_window,omitempty" toml:"commitment_window,omitempty"`
	MinDepositBps       uint64 `json:"min_deposit_bps,omitempty" toml:"min_deposit_bps,omitempty"`
	ConfirmationTimeout int    `json:"confirmation_timeout,omitempty" toml:"confirmation_timeout,omitempty"`
	WatchInterval       int    `json:"watch_interval,omitempty" toml:"watch_interval,omitempty"`
	Workers             int    `json:"workers,omitempty" toml:"workers,omitempty"`

	Source      ChainEntry     `json:"source,omitempty" toml:"source,omitempty"`
	Destination ChainEntry     `json:"destination,omitempty" toml:"destination,omitempty"`
	Redis       RedisEntry     `json:"redis,omitempty" toml:"redis,omitempty"`
	PriceFeed   PriceFeedEntry `json:"price_feed,omitempty" toml:"price_feed,omitempty"`
	Retry       RetryEntry     `json:"retry,omitempty" toml:"retry,omitempty"`
}

const (
	EnvRedisURL     = "RELAYER_REDIS_URL"
	EnvPriceFeedKey = "RELAYER_PRICEFEED_KEY"
	EnvDB           = "RELAYER_DB"
)

func DefaultConfig() *Config {
	def := settlement.DefaultConfig()
	return &Config{
		Listen:              ":8080",
		DB:                  "relayer.db",
		Address:             "relayer",
		CommitmentWindow:    def.CommitmentWindow,
		MinDepositBps:       def.MinDepositBps,
		ConfirmationTimeout: 30,
		WatchInterval:       10,
		Workers:             4,
		Source:              ChainEntry{Key: "source", ChainID: 1, Decimals: 6},
		Destination:         ChainEntry{Key: "destination", ChainID: 2, Decimals: 6},
		Redis:               RedisEntry{Channel: "relayer:announcements"},
		PriceFeed: PriceFeedEntry{
			ApiUrl:            "https://api.coingecko.com/api/v3",
			RequestsPerMinute: 10,
		},
		Retry: RetryEntry{InitialIntervalMs: 500, MaxElapsedSeconds: 120},
	}
}

// LoadConfig reads the TOML file at path over the defaults, then applies
// environment overrides. A .env file next to the binary is loaded when
// present.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := toml.Unmarshal(file, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	_ = godotenv.Load()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func MustLoadConfig(path string) *Config {
	cfg, err := LoadConfig(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvRedisURL); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv(EnvPriceFeedKey); v != "" {
		c.PriceFeed.Key = v
	}
	if v := os.Getenv(EnvDB); v != "" {
		c.DB = v
	}
}

func (c *Config) Validate() error {
	if c.Source.ChainID == c.Destination.ChainID {
		return fmt.Errorf("source and destination chain ids must differ, both are %d", c.Source.ChainID)
	}
	if c.MinDepositBps > settlement.MaxDepositBps {
		return fmt.Errorf("min_deposit_bps %d above the %d cap", c.MinDepositBps, settlement.MaxDepositBps)
	}
	if c.CommitmentWindow == 0 {
		return fmt.Errorf("commitment_window must be positive")
	}
	if c.Address == "" {
		return fmt.Errorf("address is required")
	}
	return nil
}

func (c *Config) Settlement() settlement.Config {
	return settlement.Config{
		CommitmentWindow: c.CommitmentWindow,
		MinDepositBps:    c.MinDepositBps,
		Decimals:         &settlement.AssetDecimals{Src: c.Source.Decimals, Dst: c.Destination.Decimals},
	}
}

func (c *Config) ConfirmationTimeoutDuration() time.Duration {
	return time.Duration(c.ConfirmationTimeout) * time.Second
}

func (c *Config) WatchIntervalDuration() time.Duration {
	return time.Duration(c.WatchInterval) * time.Second
}

// Chain returns the entry for a chain id.
func (c *Config) Chain(chainID uint64) (ChainEntry, bool) {
	switch chainID {
	case c.Source.ChainID:
		return c.Source, true
	case c.Destination.ChainID:
		return c.Destination, true
	}
	return ChainEntry{}, false
}
