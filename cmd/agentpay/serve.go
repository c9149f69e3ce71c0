package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/agentpay/agentpay/internal/account"
	"github.com/agentpay/agentpay/internal/api"
	"github.com/agentpay/agentpay/internal/balance"
	"github.com/agentpay/agentpay/internal/card"
	"github.com/agentpay/agentpay/internal/config"
	"github.com/agentpay/agentpay/internal/ledger"
	"github.com/agentpay/agentpay/internal/metrics"
	"github.com/agentpay/agentpay/internal/rail"
	"github.com/agentpay/agentpay/internal/rail/giftcard"
	"github.com/agentpay/agentpay/internal/rail/onchain"
	"github.com/agentpay/agentpay/internal/ratelimit"
	"github.com/agentpay/agentpay/internal/reconcile"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the AgentPay ledger server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()

	// Stores: Postgres when a database URL is configured, in-memory
	// otherwise.
	var (
		agentStore account.Store
		cardStore  card.Store
		txStore    ledger.Store
	)
	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			return err
		}
		slog.Info("connected to database")

		m.RegisterDBPoolCollector(func() (int32, int32, int32) {
			st := pool.Stat()
			return st.TotalConns(), st.IdleConns(), st.AcquiredConns()
		})

		agentStore = account.NewPGStore(pool)
		cardStore = card.NewPGStore(pool)
		txStore = ledger.NewPGStore(pool)
	} else {
		slog.Info("no database configured, using in-memory stores")
		agentStore = account.NewMemoryStore()
		cardStore = card.NewMemoryStore()
		txStore = ledger.NewMemoryStore()
	}

	registry := account.NewRegistry(agentStore)
	cards := card.NewManager(cardStore, registry)

	router := rail.NewRouter()
	if cfg.Chain.RPCURL != "" {
		chainAdapter, err := onchain.New(ctx, cfg.Chain.RPCURL)
		if err != nil {
			return err
		}
		router.Register(rail.Crypto, chainAdapter)
		slog.Info("crypto rail enabled", "rpc_url", cfg.Chain.RPCURL)
	} else {
		router.Register(rail.Crypto, rail.NewInstantAdapter(rail.OutcomePending))
	}
	if cfg.GiftCard.ClientID != "" {
		router.Register(rail.GiftCard, giftcard.New(giftcard.Config{
			BaseURL:      cfg.GiftCard.BaseURL,
			AuthURL:      cfg.GiftCard.AuthURL,
			ClientID:     cfg.GiftCard.ClientID,
			ClientSecret: cfg.GiftCard.ClientSecret,
			Timeout:      cfg.GiftCard.Timeout,
		}))
		slog.Info("giftcard rail enabled", "base_url", cfg.GiftCard.BaseURL)
	} else {
		router.Register(rail.GiftCard, rail.NewInstantAdapter(rail.OutcomePending))
	}
	router.Register(rail.Card, rail.NewInstantAdapter(rail.OutcomeCompleted))
	router.Register(rail.Bank, rail.NewInstantAdapter(rail.OutcomeCompleted))
	router.Register(rail.Other, rail.NewInstantAdapter(rail.OutcomeCompleted))

	ldg := ledger.New(txStore, registry, cards, router)
	ldg.SetObserver(m)

	var oracle balance.Oracle
	if cfg.Chain.RPCURL != "" {
		oracle, err = balance.NewERC20Oracle(ctx, cfg.Chain.RPCURL, cfg.Chain.TokenContract)
		if err != nil {
			return err
		}
		slog.Info("balance oracle enabled", "token_contract", cfg.Chain.TokenContract)
	}

	poller := reconcile.New(ldg, router, cfg.Reconciler.Interval, cfg.Reconciler.PendingTimeout)
	poller.SetObserver(m)
	go poller.Start(ctx)

	limiter := ratelimit.New(cfg.RateLimit.Default, cfg.RateLimit.Window)

	handler := api.NewRouter(api.RouterDeps{
		Registry: registry,
		Cards:    cards,
		Ledger:   ldg,
		Oracle:   oracle,
		Limiter:  limiter,
		Metrics:  m,
		CORS:     cfg.CORS.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-sigCh
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	poller.Stop()

	return srv.Shutdown(shutdownCtx)
}
