package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/stagerelay/internal/config"
	"github.com/danmuck/stagerelay/internal/relay"
	"github.com/danmuck/stagerelay/internal/server"
)

// buildRuntime converts the daemon config file shape into relay and admin
// runtime settings, applying defaults for every absent field.
func buildRuntime(cfg config.RelayConfig) (relay.Config, server.Options, error) {
	relayCfg := relay.DefaultConfig()
	relayCfg.ListenAddr = cfg.ListenAddr

	if raw := strings.TrimSpace(cfg.ReadTimeout); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return relay.Config{}, server.Options{}, fmt.Errorf("parse read_timeout: %w", err)
		}
		relayCfg.ReadTimeout = d
	}
	if raw := strings.TrimSpace(cfg.WriteTimeout); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return relay.Config{}, server.Options{}, fmt.Errorf("parse write_timeout: %w", err)
		}
		relayCfg.WriteTimeout = d
	}
	if cfg.ReadChunkBytes > 0 {
		relayCfg.ReadChunkBytes = cfg.ReadChunkBytes
	}
	if cfg.InitialBufferBytes > 0 {
		relayCfg.InitialBufferBytes = cfg.InitialBufferBytes
	}
	if cfg.MaxBufferBytes > 0 {
		relayCfg.MaxBufferBytes = cfg.MaxBufferBytes
	}
	if cfg.MaxPayloadBytes > 0 {
		relayCfg.Frame.MaxPayloadBytes = uint64(cfg.MaxPayloadBytes)
	}
	if err := relayCfg.Validate(); err != nil {
		return relay.Config{}, server.Options{}, err
	}

	adminOpts := server.Options{
		Name:        cfg.Name,
		Addr:        cfg.AdminAddr,
		CorsOrigins: cfg.CorsOrigins,
	}
	return relayCfg, adminOpts, nil
}
