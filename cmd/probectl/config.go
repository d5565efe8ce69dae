package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type fileConfig struct {
	Addr         string `toml:"addr"`
	Count        int    `toml:"count"`
	PayloadBytes int    `toml:"payload_bytes"`
	MessageType  uint32 `toml:"message_type"`
	Timeout      string `toml:"timeout"`
}

type probeConfig struct {
	Addr         string
	Count        int
	PayloadBytes int
	MessageType  uint32
	Timeout      time.Duration
}

func defaultProbeConfig() probeConfig {
	return probeConfig{
		Addr:         "127.0.0.1:9400",
		Count:        10,
		PayloadBytes: 512,
		MessageType:  1,
		Timeout:      5 * time.Second,
	}
}

func loadProbeConfig(path string) (probeConfig, error) {
	cfg := defaultProbeConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return probeConfig{}, fmt.Errorf("load probe config: %w", err)
	}

	if meta.IsDefined("addr") {
		addr := strings.TrimSpace(raw.Addr)
		if addr != "" {
			cfg.Addr = addr
		}
	}
	if meta.IsDefined("count") {
		if raw.Count <= 0 {
			return probeConfig{}, fmt.Errorf("probe count must be positive: %d", raw.Count)
		}
		cfg.Count = raw.Count
	}
	if meta.IsDefined("payload_bytes") {
		if raw.PayloadBytes <= 0 {
			return probeConfig{}, fmt.Errorf("probe payload_bytes must be positive: %d", raw.PayloadBytes)
		}
		cfg.PayloadBytes = raw.PayloadBytes
	}
	if meta.IsDefined("message_type") {
		cfg.MessageType = raw.MessageType
	}
	if meta.IsDefined("timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Timeout))
		if err != nil {
			return probeConfig{}, fmt.Errorf("parse timeout: %w", err)
		}
		cfg.Timeout = d
	}

	return cfg, nil
}
