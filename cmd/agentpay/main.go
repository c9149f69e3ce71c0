package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "agentpay",
	Short: "AgentPay — Agent Payments Ledger",
	Long:  "AgentPay is a custodial payments service for AI agents: it keeps a transaction ledger, issues virtual cards with spend limits, routes settlement across payment rails, and answers on-chain balance queries.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: configs/agentpay.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
