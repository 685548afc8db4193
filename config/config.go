package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
)

// Config carries the runtime configuration for the gateway process.
type Config struct {
	Env  string
	Port string

	DatabaseURL string

	RPCEndpoint string

	RewardProgramID  solana.PublicKey
	AirdropProgramID solana.PublicKey
	StakeProgramID   solana.PublicKey

	// RewardMint is the token paid out by the reward system; storage and user
	// token accounts are associated token accounts of this mint.
	RewardMint solana.PublicKey

	// Treasury receives the fixed network fee charged on node initialization.
	Treasury           solana.PublicKey
	NetworkFeeAmount   uint64
	ComputeUnitLimit   uint32
	FallbackFeePrice   uint64
	FeeOracleURL       string
	AuthorizationTTL   time.Duration
	SimulationCacheTTL time.Duration
	ConfirmTimeout     time.Duration

	AdminKeypairPath string
	AdminPrivateKey  string
}

// IsProduction reports whether the process runs with production optimizations
// (program interface validation is skipped on client construction).
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// FromEnv builds a Config from environment variables.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Env:                getEnv("NODEGATE_ENV", "development"),
		Port:               getEnv("PORT", "8080"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RPCEndpoint:        getEnv("SOLANA_RPC_ENDPOINT", "https://api.devnet.solana.com"),
		FeeOracleURL:       os.Getenv("FEE_ORACLE_URL"),
		AdminKeypairPath:   os.Getenv("ADMIN_KEYPAIR_PATH"),
		AdminPrivateKey:    os.Getenv("ADMIN_PRIVATE_KEY"),
		AuthorizationTTL:   30 * time.Second,
		SimulationCacheTTL: 60 * time.Second,
		ConfirmTimeout:     90 * time.Second,
		NetworkFeeAmount:   10_000_000,
		ComputeUnitLimit:   400_000,
		FallbackFeePrice:   5_000,
	}

	var err error
	if cfg.RewardProgramID, err = requirePubkey("REWARD_PROGRAM_ID"); err != nil {
		return nil, err
	}
	if cfg.AirdropProgramID, err = requirePubkey("AIRDROP_PROGRAM_ID"); err != nil {
		return nil, err
	}
	if cfg.StakeProgramID, err = requirePubkey("STAKE_PROGRAM_ID"); err != nil {
		return nil, err
	}
	if cfg.RewardMint, err = requirePubkey("REWARD_MINT"); err != nil {
		return nil, err
	}
	if cfg.Treasury, err = requirePubkey("TREASURY_ADDRESS"); err != nil {
		return nil, err
	}

	if v := os.Getenv("NETWORK_FEE_AMOUNT"); v != "" {
		if cfg.NetworkFeeAmount, err = strconv.ParseUint(v, 10, 64); err != nil {
			return nil, fmt.Errorf("invalid NETWORK_FEE_AMOUNT %q: %w", v, err)
		}
	}
	if v := os.Getenv("COMPUTE_UNIT_LIMIT"); v != "" {
		limit, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid COMPUTE_UNIT_LIMIT %q: %w", v, err)
		}
		cfg.ComputeUnitLimit = uint32(limit)
	}
	if v := os.Getenv("FALLBACK_PRIORITY_FEE"); v != "" {
		if cfg.FallbackFeePrice, err = strconv.ParseUint(v, 10, 64); err != nil {
			return nil, fmt.Errorf("invalid FALLBACK_PRIORITY_FEE %q: %w", v, err)
		}
	}
	if v := os.Getenv("AUTHORIZATION_TTL"); v != "" {
		if cfg.AuthorizationTTL, err = time.ParseDuration(v); err != nil {
			return nil, fmt.Errorf("invalid AUTHORIZATION_TTL %q: %w", v, err)
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func requirePubkey(key string) (solana.PublicKey, error) {
	v := os.Getenv(key)
	if v == "" {
		return solana.PublicKey{}, fmt.Errorf("%s is required", key)
	}
	pk, err := solana.PublicKeyFromBase58(v)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return pk, nil
}
