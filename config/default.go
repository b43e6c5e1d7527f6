package config

import (
	"os"
	"os/user"
	"path/filepath"
)

const (
	DefaultNetwork     = "mainnet"
	DefaultRPCEndPoint = "http://localhost:8545"
)

// CacheConfig tunes the in-memory account cache.
type CacheConfig struct {
	Capacity   int
	TTLSeconds int
}

// BatchConfig tunes the balance batch processor.
type BatchConfig struct {
	MaxConcurrent    int
	MaxRetries       int
	BaseDelaySeconds int
	ChunkSize        int
}

// Config is the full wallet configuration.
type Config struct {
	DataDir         string
	Network         string
	RPCEndPoint     string
	UnlockedOnInit  bool
	PrivacyMode     bool
	AutoLockMinutes int

	Cache CacheConfig
	Batch BatchConfig
}

// KeystoreDir is where encrypted key files live.
func (c *Config) KeystoreDir() string {
	return filepath.Join(c.DataDir, "keystore")
}

// DefaultWalletConfig contains reasonable default settings.
var DefaultWalletConfig = Config{
	DataDir:         DefaultDataDir(),
	Network:         DefaultNetwork,
	RPCEndPoint:     DefaultRPCEndPoint,
	UnlockedOnInit:  false,
	PrivacyMode:     false,
	AutoLockMinutes: 15,
	Cache: CacheConfig{
		Capacity:   100,
		TTLSeconds: 300,
	},
	Batch: BatchConfig{
		MaxConcurrent:    10,
		MaxRetries:       3,
		BaseDelaySeconds: 1,
		ChunkSize:        20,
	},
}

func DefaultDataDir() string {
	home := homeDir()
	if home != "" {
		return filepath.Join(home, ".kestrel")
	}
	return ""
}

func homeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}
