package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/yuvraj-wale/sample-BDK-wallet/internal/config"
	"github.com/yuvraj-wale/sample-BDK-wallet/internal/logger"
	"github.com/yuvraj-wale/sample-BDK-wallet/internal/wallet"
)

var (
	configDir string
	offline   bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "sample-wallet",
	Short: "Descriptor wallet CLI",
	Long: `A wpkh descriptor wallet backed by an Electrum server. It syncs the
wallet, reports balance, hands out addresses and builds, signs and optionally
broadcasts spends.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return initConfig() },
	PersistentPostRun: func(cmd *cobra.Command, args []string) { logger.Cleanup() },
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", ".", "directory holding config.json and .env")
	rootCmd.PersistentFlags().BoolVar(&offline, "offline", false, "use the stored wallet state without contacting the server")
	rootCmd.PersistentFlags().String("log-level", "", "log level (overrides config)")
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(balanceCmd)
	rootCmd.AddCommand(addressCmd)
	rootCmd.AddCommand(utxosCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(estimateTxSizeCmd)
	rootCmd.AddCommand(rbfTransactionCmd)
	rootCmd.AddCommand(txHistoryCmd)
	rootCmd.AddCommand(demoCmd)
}

func initConfig() error {
	c, err := config.LoadConfig(configDir)
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}
	if err := logger.Init(c.LogLevel, c.LogFile); err != nil {
		return err
	}
	cfg = c
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if cfg != nil && cfg.LogFile != "" {
			logger.Errorf("Command failed: %v", err)
		}
		logger.Cleanup()
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

// withWallet opens the wallet, syncs it unless offline, and runs fn.
func withWallet(cmd *cobra.Command, sync bool, fn func(ctx context.Context, w *wallet.Wallet) error) error {
	ctx := cmd.Context()

	w, cleanup, err := openWallet(ctx, cfg, offline)
	if err != nil {
		return err
	}
	defer cleanup()

	if sync && !offline {
		syncCtx, cancel := context.WithTimeout(ctx, cfg.SyncTimeout)
		err := w.Sync(syncCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}
	}
	return fn(ctx, w)
}

func printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
