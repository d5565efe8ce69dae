package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/stagerelay/internal/config"
	"github.com/danmuck/stagerelay/internal/logging"
	"github.com/danmuck/stagerelay/internal/observability"
	"github.com/danmuck/stagerelay/internal/relay"
	"github.com/danmuck/stagerelay/internal/server"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "relayctl: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to relay config toml")
	flag.Parse()

	logging.ConfigureRuntime()
	observability.RegisterMetrics()

	cfg := config.RelayConfig{Name: "stage-relay", ListenAddr: ":9400", AdminAddr: ":9480"}
	if *configPath != "" {
		loaded, err := config.LoadRelayConfig(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	relayCfg, adminOpts, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	observability.InitLogger(cfg.Name)

	relaySrv, err := relay.NewServer(cfg.Name, relayCfg)
	if err != nil {
		return err
	}
	admin := server.NewAdmin(adminOpts, relaySrv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("name", cfg.Name).
		Str("listen", relayCfg.ListenAddr).
		Str("admin", adminOpts.Addr).
		Msg("relayctl starting")

	adminErr := make(chan error, 1)
	go func() {
		adminErr <- admin.Run(ctx)
	}()
	relayErr := make(chan error, 1)
	go func() {
		relayErr <- relaySrv.Run(ctx)
	}()

	select {
	case err := <-relayErr:
		stop()
		return err
	case err := <-adminErr:
		if err != nil {
			stop()
			return err
		}
		return <-relayErr
	}
}
