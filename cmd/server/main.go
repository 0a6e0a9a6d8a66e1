package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	httpapi "github.com/execution-hub/exchange-withdraw/internal/api/http"
	"github.com/execution-hub/exchange-withdraw/internal/application/client"
	"github.com/execution-hub/exchange-withdraw/internal/application/session"
	"github.com/execution-hub/exchange-withdraw/internal/config"
	"github.com/execution-hub/exchange-withdraw/internal/domain/exchange"
	"github.com/execution-hub/exchange-withdraw/internal/domain/journal"
	"github.com/execution-hub/exchange-withdraw/internal/infrastructure/metrics"
	"github.com/execution-hub/exchange-withdraw/internal/infrastructure/postgres"
	"github.com/execution-hub/exchange-withdraw/internal/infrastructure/pubsub"
	"github.com/execution-hub/exchange-withdraw/internal/infrastructure/redisbus"
	"github.com/execution-hub/exchange-withdraw/internal/infrastructure/restapi"
	"github.com/execution-hub/exchange-withdraw/internal/infrastructure/sandbox"
	"github.com/execution-hub/exchange-withdraw/internal/infrastructure/sqlite"
	"github.com/execution-hub/exchange-withdraw/internal/infrastructure/sse"
	"github.com/execution-hub/exchange-withdraw/internal/migrations"
)

// exchangeAPI is what a flow needs from an exchange backend.
type exchangeAPI interface {
	exchange.ExchangeLister
	exchange.BalanceFetcher
	exchange.QuoteRequester
	exchange.WithdrawalExecutor
	exchange.PopupOpener
}

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// message bus
	var bus exchange.MessageChannel
	switch cfg.MessageBus {
	case config.BusRedis:
		rdb, err := redisbus.NewClient(ctx, cfg.RedisAddr)
		if err != nil {
			log.Fatalf("redis error: %v", err)
		}
		defer rdb.Close()
		bus = redisbus.New(rdb, cfg.RedisTopicPrefix, logger)
	default:
		bus = pubsub.NewHub(logger)
	}

	// journal
	journalRepo, closeJournal, err := openJournal(ctx, cfg)
	if err != nil {
		log.Fatalf("journal error: %v", err)
	}
	defer closeJournal()

	// exchange backend
	var api exchangeAPI
	if cfg.ExchangeSandbox {
		sb, err := newSandbox(cfg, bus, logger)
		if err != nil {
			log.Fatalf("sandbox error: %v", err)
		}
		defer sb.Close()
		api = sb
	} else {
		rc, err := restapi.New(restapi.Config{
			BaseURL:   cfg.ExchangeAPIURL,
			APIKey:    cfg.ExchangeAPIKey,
			OrgID:     cfg.OrgID,
			ProjectID: cfg.ProjectID,
		}, logger)
		if err != nil {
			log.Fatalf("exchange api error: %v", err)
		}
		api = rc
	}

	policy := client.DefaultRetryPolicy()
	if cfg.RetryCondition != "" {
		policy, err = client.NewRetryPolicy(cfg.RetryCondition)
		if err != nil {
			log.Fatalf("retry condition error: %v", err)
		}
	}

	relayHash := cfg.RelayTokenHash
	if relayHash == "" && cfg.RelayToken != "" {
		relayHash, err = httpapi.HashRelayToken(cfg.RelayToken)
		if err != nil {
			log.Fatalf("relay token error: %v", err)
		}
	}
	if relayHash == "" {
		logger.Warn().Msg("message relay endpoint is unauthenticated")
	}

	// services
	flowMetrics := metrics.New(prometheus.NewRegistry())
	opts := []session.Option{
		session.WithObserver(flowMetrics),
		session.WithClientOptions(client.WithRetryPolicy(policy)),
	}
	if journalRepo != nil {
		opts = append(opts, session.WithJournal(journal.NewRecorder(journalRepo, logger)))
	}
	registry := session.NewRegistry(session.Config{
		OrgID:            cfg.OrgID,
		ProjectID:        cfg.ProjectID,
		MaxRetryAttempts: cfg.MaxRetryAttempts,
		RedirectURL:      cfg.OAuthRedirectURL,
		IdleTTL:          cfg.FlowIdleTTL,
		AbandonTTL:       cfg.FlowAbandonTTL,
	}, client.Collaborators{
		Exchanges:   api,
		Balances:    api,
		Quotes:      api,
		Withdrawals: api,
		Popup:       api,
		Messages:    bus,
	}, logger, opts...)

	streams := sse.NewHub()

	// API server
	apiServer := httpapi.NewServer(registry, journalRepo, bus, streams, flowMetrics.Handler(), relayHash, logger)

	httpServer := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      apiServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // event streams stay open until the flow ends
		IdleTimeout:  60 * time.Second,
	}

	// background loops
	go registry.Run(ctx, cfg.FlowSweepInterval)

	// start server
	go func() {
		logger.Info().Str("addr", cfg.ServerAddr).Bool("sandbox", cfg.ExchangeSandbox).
			Str("bus", cfg.MessageBus).Str("journal", cfg.JournalDriver).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	streams.Stop()
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctxShutdown)
	stop()
	registry.Close()
	logger.Info().Msg("server stopped")
}

// openJournal returns a nil repository when journaling is disabled.
func openJournal(ctx context.Context, cfg *config.Config) (journal.Repository, func(), error) {
	noop := func() {}
	switch cfg.JournalDriver {
	case config.JournalPostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, noop, err
		}
		if err := postgres.RunMigrations(ctx, pool, migrations.FS); err != nil {
			pool.Close()
			return nil, noop, err
		}
		return postgres.NewJournalRepository(pool), pool.Close, nil
	case config.JournalSQLite:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, noop, err
		}
		store, err := sqlite.NewJournalStore(ctx, db)
		if err != nil {
			_ = db.Close()
			return nil, noop, err
		}
		return store, func() { _ = db.Close() }, nil
	case config.JournalMemory:
		return journal.NewMemoryRepository(), noop, nil
	default:
		return nil, noop, nil
	}
}

func newSandbox(cfg *config.Config, bus exchange.MessageChannel, logger zerolog.Logger) (*sandbox.Exchange, error) {
	sbCfg := sandbox.DefaultConfig()
	sbCfg.TwoFactorThreshold = cfg.SandboxTwoFactorAt
	sbCfg.QuoteTTL = cfg.SandboxQuoteTTL
	sbCfg.SettleDelay = cfg.SandboxSettleDelay
	sbCfg.TOTPSecret = cfg.SandboxTOTPSecret
	if sbCfg.TOTPSecret == "" {
		secret, err := sandbox.GenerateSecret()
		if err != nil {
			return nil, err
		}
		sbCfg.TOTPSecret = secret
		logger.Info().Str("totp_secret", secret).Msg("generated sandbox 2fa secret")
	}
	return sandbox.New(sbCfg, bus, logger), nil
}
