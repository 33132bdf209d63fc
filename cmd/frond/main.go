// Command frond runs the admission gateway.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	frond "github.com/frondhq/frond"
	"github.com/frondhq/frond/api"
	"github.com/frondhq/frond/directory"
	"github.com/frondhq/frond/internal/config"
	"github.com/frondhq/frond/internal/logger"
	"github.com/frondhq/frond/metrics"
	"github.com/frondhq/frond/proxy"
	"github.com/frondhq/frond/session"
	"github.com/frondhq/frond/token"
)

func main() {
	root := &cobra.Command{
		Use:           "frond",
		Short:         "Authentication and admission gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var configPath string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	serve.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	root.AddCommand(serve)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "frond:", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logger.Init(cfg.Logging)
	if err != nil {
		return err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	dir, err := directory.Open(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open directory: %w", err)
	}
	defer dir.Close()

	tokens, err := token.NewManager(token.Config{
		Secret: []byte(cfg.Auth.JWTSecret),
		Issuer: cfg.Auth.Issuer,
	})
	if err != nil {
		return err
	}

	store := session.NewStore(rdb, cfg.Auth.SessionPrefix)
	active := directory.NewActiveCache(rdb, dir, cfg.Auth.ActiveCacheTTL, log)
	engine := frond.NewEngine(store, dir, active, tokens, log)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	forwarders := make([]*proxy.Forwarder, 0, len(cfg.Upstreams))
	for _, u := range cfg.Upstreams {
		forwarders = append(forwarders, &proxy.Forwarder{
			Name:           u.Name,
			Host:           u.Host,
			Port:           u.Port,
			StripPrefix:    u.StripPrefix,
			BasePath:       u.BasePath,
			DefaultHeaders: u.DefaultHeaders,
			Metrics:        m,
			Log:            log,
		})
	}

	server := &api.Server{
		Engine:             engine,
		Redis:              rdb,
		LookupAllowedHosts: cfg.Lookup.AllowedHosts,
		LookupKeyPrefix:    cfg.Lookup.KeyPrefix,
		Screenshotter:      &proxy.Screenshotter{Endpoint: cfg.Browserless.Endpoint, Log: log},
		Forwarders:         forwarders,
		Metrics:            m,
		Gatherer:           registry,
		Log:                log,
	}

	httpServer := &http.Server{
		Addr:    cfg.Listen,
		Handler: server.Routes(),
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("gateway listening", "addr", cfg.Listen)
		errc <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info("shutting down", "timeout", cfg.ShutdownTimeout)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}

	return nil
}
