package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// RelayConfig is the relayctl daemon config file shape.
type RelayConfig struct {
	Name        string   `toml:"name"`
	ListenAddr  string   `toml:"listen_addr"`
	AdminAddr   string   `toml:"admin_addr"`
	CorsOrigins []string `toml:"cors_origins"`

	ReadTimeout  string `toml:"read_timeout"`
	WriteTimeout string `toml:"write_timeout"`

	ReadChunkBytes     int `toml:"read_chunk_bytes"`
	InitialBufferBytes int `toml:"initial_buffer_bytes"`
	MaxBufferBytes     int `toml:"max_buffer_bytes"`
	MaxPayloadBytes    int `toml:"max_payload_bytes"`
}

func LoadRelayConfig(path string) (RelayConfig, error) {
	var cfg RelayConfig
	if err := loadToml(path, &cfg); err != nil {
		return RelayConfig{}, err
	}
	if cfg.Name == "" {
		cfg.Name = "stage-relay"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":9400"
	}
	if cfg.AdminAddr == "" {
		cfg.AdminAddr = ":9480"
	}
	if err := ValidateRelayConfig(cfg); err != nil {
		return RelayConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateRelayConfig(cfg RelayConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("relay config missing name")
	}
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		return fmt.Errorf("relay config missing listen_addr")
	}
	if strings.TrimSpace(cfg.AdminAddr) == "" {
		return fmt.Errorf("relay config missing admin_addr")
	}
	if cfg.ReadChunkBytes < 0 {
		return fmt.Errorf("relay config read_chunk_bytes must not be negative")
	}
	if cfg.InitialBufferBytes < 0 {
		return fmt.Errorf("relay config initial_buffer_bytes must not be negative")
	}
	if cfg.MaxBufferBytes < 0 {
		return fmt.Errorf("relay config max_buffer_bytes must not be negative")
	}
	if cfg.MaxBufferBytes > 0 && cfg.InitialBufferBytes > cfg.MaxBufferBytes {
		return fmt.Errorf("relay config initial_buffer_bytes exceeds max_buffer_bytes")
	}
	if cfg.MaxPayloadBytes < 0 {
		return fmt.Errorf("relay config max_payload_bytes must not be negative")
	}
	return nil
}
