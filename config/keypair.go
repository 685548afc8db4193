package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/gagliardetto/solana-go"
)

// LoadAdminKeypair loads the process-wide administrative keypair. The key is
// loaded exactly once at startup and threaded read-only through component
// constructors; it is never persisted elsewhere and never logged.
func (c *Config) LoadAdminKeypair() (solana.PrivateKey, error) {
	switch {
	case c.AdminKeypairPath != "":
		key, err := solana.PrivateKeyFromSolanaKeygenFile(c.AdminKeypairPath)
		if err != nil {
			return nil, fmt.Errorf("load admin keypair %q: %w", c.AdminKeypairPath, err)
		}
		return key, nil
	case c.AdminPrivateKey != "":
		key, err := solana.PrivateKeyFromBase58(c.AdminPrivateKey)
		if err != nil {
			return nil, fmt.Errorf("decode ADMIN_PRIVATE_KEY: %w", err)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("either ADMIN_KEYPAIR_PATH or ADMIN_PRIVATE_KEY must be set")
	}
}

// WriteKeypairFile saves a keypair in the solana-keygen JSON array format.
func WriteKeypairFile(path string, key solana.PrivateKey) error {
	raw := make([]int, len(key))
	for i, b := range key {
		raw[i] = int(b)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal keypair: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write keypair file: %w", err)
	}
	return nil
}
