package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// TOMLConfig is the on-disk client configuration. Defaults match the
// reference client's fixed policy: 5 attempts, 1000ms delay, 20000ms
// handshake timeout.
type TOMLConfig struct {
	Server    ServerSection    `toml:"server"`
	Reconnect ReconnectSection `toml:"reconnect"`
	Crypto    CryptoSection    `toml:"crypto"`
	Metrics   MetricsSection   `toml:"metrics"`
}

type ServerSection struct {
	URL                string `toml:"url"`
	HandshakeTimeoutMs int    `toml:"handshake_timeout_ms"`
}

type ReconnectSection struct {
	Attempts int `toml:"attempts"`
	DelayMs  int `toml:"delay_ms"`
}

type CryptoSection struct {
	// Secret keys conversation key derivation. Override it with
	// WAVELINK_CRYPTO_SECRET rather than committing a real value here.
	Secret string `toml:"secret"`
}

type MetricsSection struct {
	// ListenAddr, when set, is where tools expose /metrics.
	ListenAddr string `toml:"listen_addr"`
}

// DefaultTOMLConfig returns the default client configuration.
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Server: ServerSection{
			URL:                "localhost:5000",
			HandshakeTimeoutMs: 20000,
		},
		Reconnect: ReconnectSection{
			Attempts: DefaultReconnectAttempts,
			DelayMs:  1000,
		},
		Crypto: CryptoSection{
			Secret: "omnivibe-secret-key-2024",
		},
		Metrics: MetricsSection{
			ListenAddr: "",
		},
	}
}

// LoadConfig loads configuration from a TOML file, creating a default
// file when none exists, and applies environment variable overrides.
func LoadConfig(path string) (TOMLConfig, error) {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return TOMLConfig{}, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultTOMLConfig()
		// Best effort: run on defaults even if the file cannot be written.
		_ = writeDefaultConfig(path, config)
		return applyEnvOverrides(config), nil
	}

	var config TOMLConfig
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return applyEnvOverrides(config), nil
}

// applyEnvOverrides applies environment variable overrides following
// the pattern WAVELINK_SECTION_KEY, e.g. WAVELINK_SERVER_URL.
func applyEnvOverrides(config TOMLConfig) TOMLConfig {
	if val := os.Getenv("WAVELINK_SERVER_URL"); val != "" {
		config.Server.URL = val
	}
	if val := os.Getenv("WAVELINK_SERVER_HANDSHAKE_TIMEOUT_MS"); val != "" {
		if ms, err := strconv.Atoi(val); err == nil {
			config.Server.HandshakeTimeoutMs = ms
		}
	}
	if val := os.Getenv("WAVELINK_RECONNECT_ATTEMPTS"); val != "" {
		if attempts, err := strconv.Atoi(val); err == nil {
			config.Reconnect.Attempts = attempts
		}
	}
	if val := os.Getenv("WAVELINK_RECONNECT_DELAY_MS"); val != "" {
		if ms, err := strconv.Atoi(val); err == nil {
			config.Reconnect.DelayMs = ms
		}
	}
	if val := os.Getenv("WAVELINK_CRYPTO_SECRET"); val != "" {
		config.Crypto.Secret = val
	}
	if val := os.Getenv("WAVELINK_METRICS_LISTEN_ADDR"); val != "" {
		config.Metrics.ListenAddr = val
	}
	return config
}

func writeDefaultConfig(path string, config TOMLConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(config)
}

// SessionConfig converts the file representation into a Session Config.
func (c TOMLConfig) SessionConfig() Config {
	return Config{
		ServerURL:         c.Server.URL,
		ReconnectAttempts: c.Reconnect.Attempts,
		ReconnectDelay:    time.Duration(c.Reconnect.DelayMs) * time.Millisecond,
		HandshakeTimeout:  time.Duration(c.Server.HandshakeTimeoutMs) * time.Millisecond,
	}
}
