package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"terminal-log-sync/internal/token"
)

var tokenCmd = &cobra.Command{
	Use:   "token <operator>",
	Short: "Issue an API token for an operator",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if cfg.Secret == "" {
			slog.Error("SECRET must be configured to issue tokens")
			os.Exit(1)
		}

		signed, err := token.New(token.NewAPIClaim(args[0]))
		if err != nil {
			slog.Error("Failed to sign token", "error", err)
			os.Exit(1)
		}

		fmt.Println(signed)
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
}
