package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	MnemonicFile string `envconfig:"SWAPSERVER_MNEMONIC_FILE"`
	DBPath       string `envconfig:"SWAPSERVER_DB_PATH" default:"./data/swaps.sqlite"`
	Port         int    `envconfig:"SWAPSERVER_PORT" default:"8080"`
	LogLevel     string `envconfig:"SWAPSERVER_LOG_LEVEL" default:"info"`
	LogDir       string `envconfig:"SWAPSERVER_LOG_DIR" default:"./logs"`
	Network      string `envconfig:"SWAPSERVER_NETWORK" default:"testnet"`

	// Chains this instance coordinates swaps for, comma-separated chain
	// identifiers (e.g. "bsc,ethereum").
	Chains []string `envconfig:"SWAPSERVER_CHAINS" default:"bsc"`

	CoinGeckoAPIKey string `envconfig:"SWAPSERVER_COINGECKO_API_KEY"`

	// APY used in the security-deposit variable component (spec.md §4.3),
	// expressed as a decimal fraction (0.10 == 10%).
	SecurityDepositAPY float64 `envconfig:"SWAPSERVER_SECURITY_DEPOSIT_APY" default:"0.10"`

	// SwapFeePPM / SwapBaseFeeSats parameterize the exact-in/exact-out fee
	// formula of spec.md §4.3.
	SwapFeePPM    int64 `envconfig:"SWAPSERVER_SWAP_FEE_PPM" default:"3000"`
	SwapBaseFeeSats int64 `envconfig:"SWAPSERVER_SWAP_BASE_FEE_SATS" default:"500"`

	MinSwapSats int64 `envconfig:"SWAPSERVER_MIN_SWAP_SATS" default:"10000"`
	MaxSwapSats int64 `envconfig:"SWAPSERVER_MAX_SWAP_SATS" default:"500000000"`
}

// Load reads configuration from .env file (if present) then from environment variables.
// Environment variables override .env values.
func Load() (*Config, error) {
	// Load .env file if it exists. godotenv does NOT override already-set env vars,
	// so real environment variables take precedence over .env values.
	envFiles := []string{".env"}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err == nil {
			if err := godotenv.Load(f); err != nil {
				slog.Warn("failed to load .env file", "file", f, "error", err)
			} else {
				slog.Info("loaded .env file", "file", f)
			}
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks configuration values for correctness.
func (c *Config) Validate() error {
	if c.Network != "mainnet" && c.Network != "testnet" {
		return fmt.Errorf("%w: network must be \"mainnet\" or \"testnet\", got %q", ErrInvalidConfig, c.Network)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port must be 1-65535, got %d", ErrInvalidConfig, c.Port)
	}
	if len(c.Chains) == 0 {
		return fmt.Errorf("%w: at least one chain must be configured", ErrInvalidConfig)
	}
	if c.SwapFeePPM < 0 || c.SwapFeePPM >= PPMDenominator {
		return fmt.Errorf("%w: swap fee ppm must be in [0, %d), got %d", ErrInvalidConfig, PPMDenominator, c.SwapFeePPM)
	}
	if c.MinSwapSats <= 0 || c.MaxSwapSats <= c.MinSwapSats {
		return fmt.Errorf("%w: min/max swap sats must satisfy 0 < min < max", ErrInvalidConfig)
	}
	return nil
}
