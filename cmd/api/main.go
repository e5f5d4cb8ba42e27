package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"guardwatch/internal/api"
	"guardwatch/internal/buildinfo"
	"guardwatch/internal/config"
	"guardwatch/internal/logging"
	"guardwatch/internal/metrics"
	"guardwatch/internal/supervisor"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (default $CONFIG_FILE)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Error().Err(err).Msg("load config")
		os.Exit(1)
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	metrics.RegisterDefault()

	srv, err := api.NewServer(cfg)
	if err != nil {
		logging.Error().Err(err).Msg("init server")
		os.Exit(1)
	}

	httpSrv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Routes(),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
	}
	web := supervisor.NewHTTPService(httpSrv, cfg.HTTP.ShutdownTimeout)
	web.OnShutdown = srv.Shutdown

	tree := supervisor.NewTree(supervisor.TreeConfig{ShutdownTimeout: cfg.HTTP.ShutdownTimeout})
	for _, svc := range srv.Background() {
		tree.AddWorker(svc)
	}
	tree.AddAPI(web)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	info := buildinfo.Info()
	logging.Info().Str("addr", httpSrv.Addr).Interface("build", info).Msg("guardwatch listening")
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("supervisor exited")
		os.Exit(1)
	}
	logging.Info().Msg("shutdown complete")
}
