package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/agentpay/agentpay/internal/account"
	"github.com/agentpay/agentpay/internal/card"
	"github.com/agentpay/agentpay/internal/config"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed a demo agent with a virtual card",
	RunE:  runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("database.url is required to seed; the in-memory mode starts empty")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	agentStore := account.NewPGStore(pool)
	registry := account.NewRegistry(agentStore)
	cards := card.NewManager(card.NewPGStore(pool), registry)

	const demoWallet = "0x000000000000000000000000000000000000dEaD"
	if _, err := agentStore.GetByWallet(ctx, demoWallet); err == nil {
		slog.Info("demo data already exists, skipping seed")
		return nil
	}

	ag, err := registry.Register(ctx, account.RegisterInput{
		Name:          "demo-agent",
		WalletAddress: demoWallet,
		Metadata:      map[string]string{"env": "demo"},
	})
	if err != nil {
		return fmt.Errorf("creating demo agent: %w", err)
	}

	c, _, err := cards.GetOrCreate(ctx, ag.ID, 100)
	if err != nil {
		return fmt.Errorf("issuing demo card: %w", err)
	}

	slog.Info("created demo agent", "id", ag.ID, "card_id", c.ID)
	fmt.Printf("\n=== Demo Data Seeded ===\n")
	fmt.Printf("Agent:  %s (%s)\n", ag.Name, ag.ID)
	fmt.Printf("Card:   **** %s, limit %.2f\n", c.Last4, c.SpendLimit)
	fmt.Printf("\nTry it:\n")
	fmt.Printf("  curl http://localhost:8080/api/v1/agents/%s\n", ag.ID)
	fmt.Printf("  curl -X POST http://localhost:8080/api/v1/agents/%s/spend -d '{\"amount\":5,\"rail\":\"card\",\"merchant\":\"demo\"}'\n", ag.ID)

	return nil
}
