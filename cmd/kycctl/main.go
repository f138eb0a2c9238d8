// Command kycctl is the operator tool for inspecting and maintaining KYC
// sessions in a shared store.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	logLevel string
	rootCmd  = &cobra.Command{
		Use:           "kycctl",
		Short:         "Inspect and maintain KYC verification sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(progressCmd())
	rootCmd.AddCommand(expireCmd())
	rootCmd.AddCommand(demoApproveCmd())
	rootCmd.AddCommand(tokenCmd())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
