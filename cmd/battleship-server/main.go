package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"
	"golang.org/x/sync/errgroup"

	"github.com/valerioisufi/battleship-SO-project/internal/config"
	"github.com/valerioisufi/battleship-SO-project/internal/metrics"
	"github.com/valerioisufi/battleship-SO-project/internal/server"
)

const ConfigPath = "config/battleship.yaml"

func main() {
	port := flag.Int("port", 0, "TCP port to listen on (required)")
	configPath := flag.String("config", "", "path to a YAML config file")
	metricsPort := flag.Int("metrics-port", 0, "port for the Prometheus /metrics endpoint (0 disables it)")
	flag.Parse()

	if *port <= 0 {
		fmt.Fprintln(os.Stderr, "battleship-server: -port is required")
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx, *port, *configPath, *metricsPort); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, port int, configPath string, metricsPort int) error {
	cfgPath := ConfigPath
	if p := os.Getenv("BATTLESHIP_CONFIG"); p != "" {
		cfgPath = p
	}
	if configPath != "" {
		cfgPath = configPath
	}
	cfg, err := config.LoadServer(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Flags win over file and environment.
	cfg.Port = port
	if metricsPort > 0 {
		cfg.MetricsPort = metricsPort
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	})))

	slog.Info("battleship server starting",
		"bind", cfg.BindAddress, "port", cfg.Port,
		"fleet_setup_time", cfg.FleetSetupTimeout(), "turn_time", cfg.TurnTimeout(),
		"flood_protection", cfg.FloodProtection)

	srv := server.New(cfg)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Run(gctx); err != nil {
			return fmt.Errorf("battleship server: %w", err)
		}
		return nil
	})

	if cfg.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv := &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.MetricsPort),
			Handler: mux,
		}
		g.Go(func() error {
			slog.Info("metrics server started", "port", cfg.MetricsPort)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsSrv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}
