package config

import (
	"fmt"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds every environment value the process needs. Only this
// struct should be consulted for configuration, no direct os.Getenv
// calls elsewhere.
type Config struct {
	Port     string `env:"PORT,default=3001"`
	MongoURI string `env:"MONGODB_URI,required=true"`

	// Chain access.
	RPCURL      string `env:"SEPOLIA_RPC_URL,required=true"`
	ChainID     int64  `env:"CHAIN_ID,default=11155111"`
	USDTAddress string `env:"USDT_CONTRACT_ADDRESS,required=true"`
	SaleToken   string `env:"TOKEN_CONTRACT_ADDRESS,required=true"`

	// Privileged signer: pulls stablecoin from buyers and mints tokens.
	SignerKey     string `env:"PRIVATE_KEY,required=true"`
	SignerAddress string `env:"OWNER_ADDRESS,required=true"`

	TokenPrice string `env:"TOKEN_PRICE,default=1"`
}

// Load reads .env (when present) and parses the environment. Any
// missing required value is returned as an error; main treats it as
// fatal.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	price, err := decimal.NewFromString(cfg.TokenPrice)
	if err != nil {
		return nil, fmt.Errorf("TOKEN_PRICE %q is not a decimal: %w", cfg.TokenPrice, err)
	}
	if !price.IsPositive() {
		// The orchestrator divides by the price on every purchase.
		return nil, fmt.Errorf("TOKEN_PRICE must be positive, got %q", cfg.TokenPrice)
	}

	return &cfg, nil
}

// Price returns the configured token price as a decimal. Load has
// already validated the string.
func (c *Config) Price() decimal.Decimal {
	d, _ := decimal.NewFromString(c.TokenPrice)
	return d
}
