// Command walletd runs the marketplace wallet layer: provider detection,
// session management, and the settlement pipeline, exposed over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/mintmesh/wallet_layer/internal/api"
	"github.com/mintmesh/wallet_layer/internal/chain"
	"github.com/mintmesh/wallet_layer/internal/config"
	"github.com/mintmesh/wallet_layer/internal/events"
	"github.com/mintmesh/wallet_layer/internal/history"
	"github.com/mintmesh/wallet_layer/internal/ledger"
	"github.com/mintmesh/wallet_layer/internal/metrics"
	"github.com/mintmesh/wallet_layer/internal/session"
	"github.com/mintmesh/wallet_layer/internal/settlement"
	"github.com/mintmesh/wallet_layer/internal/wallet"
	"github.com/mintmesh/wallet_layer/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to the wallet layer config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "walletd:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	} else if err := cfg.Validate(); err != nil {
		return err
	}

	log := logger.New(os.Stderr, logger.Config{
		Level:     cfg.LogLevel,
		Pretty:    cfg.LogPretty,
		Component: "walletd",
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus()
	defer bus.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(registry)

	network, err := chain.NewClient(chain.Config{
		RPCURL:  cfg.Network.RPCURL,
		Timeout: cfg.Network.Timeout.Std(),
	})
	if err != nil {
		return fmt.Errorf("build chain client: %w", err)
	}

	providers := wallet.NewRegistry(wallet.RegistryConfig{
		Integrations: wallet.DefaultIntegrations(),
		Bus:          bus,
		Logger:       log.With("component", "registry"),
		Metrics:      m,
	})
	if err := providers.Start(ctx); err != nil {
		return fmt.Errorf("start provider registry: %w", err)
	}
	defer providers.Stop()

	handoffs, closeHandoffs, err := buildHandoffStore(cfg.Handoff)
	if err != nil {
		return err
	}
	defer closeHandoffs()

	sessions, err := session.NewManager(session.Config{
		Catalog:          providers,
		Handoffs:         handoffs,
		Bus:              bus,
		Metrics:          m,
		Logger:           log.With("component", "session"),
		ConnectTimeout:   cfg.Session.ConnectTimeout.Std(),
		HandoffTTL:       cfg.Handoff.TTL.Std(),
		DeepLinkCallback: cfg.Session.DeepLinkCallback,
	})
	if err != nil {
		return fmt.Errorf("build session manager: %w", err)
	}
	if err := sessions.Start(); err != nil {
		return fmt.Errorf("start session manager: %w", err)
	}
	defer sessions.Stop()

	reserve, err := cfg.Network.ReserveMinorUnits()
	if err != nil {
		return err
	}

	pipelineCfg := settlement.Config{
		Sessions:        sessions,
		Network:         network,
		Bus:             bus,
		Metrics:         m,
		Logger:          log.With("component", "settlement"),
		Rates:           cfg.Fees.Rates(),
		PlatformAccount: cfg.Fees.PlatformAccount,
		NetworkReserve:  reserve,
		Decimals:        cfg.Network.Decimals,
		SigningTimeout:  cfg.Session.SigningTimeout.Std(),
		SubmitLimiter:   rate.NewLimiter(rate.Every(time.Second), 2),
	}
	if cfg.Rewards.BaseURL != "" {
		pipelineCfg.Rewards = ledger.NewRewardsClient(ledger.Config{
			BaseURL: cfg.Rewards.BaseURL,
			APIKey:  cfg.Rewards.APIKey,
		})
	}
	if cfg.Ownership.BaseURL != "" {
		pipelineCfg.Ownership = ledger.NewOwnershipClient(ledger.Config{
			BaseURL: cfg.Ownership.BaseURL,
			APIKey:  cfg.Ownership.APIKey,
		})
	}

	var trail *history.Store
	if cfg.History.Enabled {
		db, err := sqlx.Connect("postgres", cfg.History.DSN)
		if err != nil {
			return fmt.Errorf("connect history database: %w", err)
		}
		defer db.Close()

		trail = history.NewStore(db)
		if err := trail.Migrate(ctx); err != nil {
			return err
		}
		pipelineCfg.History = trail
	}

	pipeline, err := settlement.NewPipeline(pipelineCfg)
	if err != nil {
		return fmt.Errorf("build settlement pipeline: %w", err)
	}

	apiCfg := api.Config{
		Providers: providers,
		Sessions:  sessions,
		Settler:   pipeline,
		Bus:       bus,
		Metrics:   m,
		Gatherer:  registry,
		Logger:    log.With("component", "api"),
		Decimals:  cfg.Network.Decimals,
	}
	if trail != nil {
		apiCfg.History = trail
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.NewServer(apiCfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("wallet layer listening", "addr", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// buildHandoffStore selects the configured handoff backend.
func buildHandoffStore(cfg config.HandoffConfig) (session.HandoffStore, func(), error) {
	switch cfg.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis handoff store: %w", err)
		}
		return session.NewRedisHandoffStore(client, ""), func() { _ = client.Close() }, nil
	default:
		return session.NewMemoryHandoffStore(), func() {}, nil
	}
}
