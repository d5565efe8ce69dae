package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/danmuck/stagerelay/internal/logging"
	"github.com/danmuck/stagerelay/internal/protocol/frame"
	"github.com/danmuck/stagerelay/internal/relay"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "probectl: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to probe config toml")
	addr := flag.String("addr", "", "relay address (overrides config)")
	count := flag.Int("count", 0, "number of probes (overrides config)")
	payloadBytes := flag.Int("bytes", 0, "probe payload size (overrides config)")
	flag.Parse()

	logging.ConfigureRuntime()

	cfg := defaultProbeConfig()
	if *configPath != "" {
		loaded, err := loadProbeConfig(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *count > 0 {
		cfg.Count = *count
	}
	if *payloadBytes > 0 {
		cfg.PayloadBytes = *payloadBytes
	}

	relayCfg := relay.DefaultConfig()
	relayCfg.ReadTimeout = cfg.Timeout
	relayCfg.WriteTimeout = cfg.Timeout

	client, err := relay.Dial(cfg.Addr, relayCfg)
	if err != nil {
		return err
	}
	defer client.Close()

	payload := bytes.Repeat([]byte("stagerelay-probe."), cfg.PayloadBytes/17+1)[:cfg.PayloadBytes]

	var total time.Duration
	for i := 0; i < cfg.Count; i++ {
		start := time.Now()
		reply, err := client.Exchange(cfg.MessageType, payload)
		if err != nil {
			return fmt.Errorf("probe %d: %w", i+1, err)
		}
		elapsed := time.Since(start)
		total += elapsed

		if reply.Header.Flags&frame.FlagIsResponse == 0 {
			return fmt.Errorf("probe %d: response flag missing", i+1)
		}
		if !bytes.Equal(reply.Payload, payload) {
			return fmt.Errorf("probe %d: payload mismatch", i+1)
		}
		log.Info().
			Int("probe", i+1).
			Uint64("message_id", reply.Header.MessageID).
			Int("bytes", len(reply.Payload)).
			Dur("rtt", elapsed).
			Msg("echo verified")
	}

	log.Info().
		Str("addr", cfg.Addr).
		Int("count", cfg.Count).
		Dur("avg_rtt", total/time.Duration(cfg.Count)).
		Msg("probe complete")
	return nil
}
