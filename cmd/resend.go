package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"terminal-log-sync/internal/forward"
)

var resendCmd = &cobra.Command{
	Use:   "resend",
	Short: "Deliver stored records that never reached the monitor",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		forwarder := forward.NewForwarder(cfg.Monitor, provider)
		if !forwarder.Enabled() {
			slog.Error("Monitor URL is not configured")
			os.Exit(1)
		}

		outcome, err := forwarder.ResendPending(ctx)
		if err != nil {
			slog.Error("Delivery failed", "error", err)
			os.Exit(1)
		}

		fmt.Printf("Delivered %d records, %d rejected\n", outcome.Sent, outcome.Failed)
	},
}

func init() {
	rootCmd.AddCommand(resendCmd)
}
