package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/NekoTensor/dhtshare/internal/config"
	"github.com/NekoTensor/dhtshare/internal/node"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "dhtshare",
		Short: "dhtshare — decentralized key-value store on a Kademlia DHT",
	}

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start a dhtshare node",
		RunE:  runStart,
	}

	startCmd.Flags().StringVarP(&cfgFile, "config", "c", "", "Path to config file (default: configs/config.yaml)")
	rootCmd.AddCommand(startCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	ctrl := node.NewController(cfg, logger)
	return ctrl.Run(context.Background())
}
