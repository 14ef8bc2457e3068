package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"terminal-log-sync/internal/forward"
	"terminal-log-sync/internal/session"
	"terminal-log-sync/internal/storage"
	"terminal-log-sync/internal/terminal"
)

var (
	recoverFrom    string
	recoverTo      string
	recoverForward bool
)

// Accepted timestamp layouts for --from and --to. A bare integer is taken
// as a unix timestamp.
var recoverLayouts = []string{
	"02/01/2006 15:04",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

var recoverCmd = &cobra.Command{
	Use:   "recover [device-id]",
	Short: "Backfill access logs from the terminals",
	Long: `Fetch a time range of access logs directly from the terminals and store
any records missing locally. Without a device id every registered device is
recovered. Defaults to the window since the last stored record, or the last
seven days when the store is empty.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		devices, err := recoverTargets(ctx, args)
		if err != nil {
			slog.Error("Failed to resolve devices", "error", err)
			os.Exit(1)
		}

		var to *int64
		if recoverTo != "" {
			value, err := parseTimestamp(recoverTo)
			if err != nil {
				slog.Error("Invalid --to value", "value", recoverTo, "error", err)
				os.Exit(1)
			}
			to = &value
		}

		client := terminal.NewClient(time.Duration(cfg.Terminal.Timeout) * time.Second)
		keeper := session.NewKeeper(client, int(cfg.Sync.LoginAttempts))

		var total int
		for _, device := range devices {
			count, err := recoverDevice(ctx, client, keeper, device, to)
			if err != nil {
				slog.Error("Recovery failed", "device_id", device.ID, "error", err)
				os.Exit(1)
			}
			total += count
		}
		fmt.Printf("Recovered %d records from %d devices\n", total, len(devices))

		if recoverForward {
			forwarder := forward.NewForwarder(cfg.Monitor, provider)
			if !forwarder.Enabled() {
				slog.Warn("Monitor URL not configured, skipping delivery")
				return
			}
			outcome, err := forwarder.ResendPending(ctx)
			if err != nil {
				slog.Error("Delivery failed", "error", err)
				os.Exit(1)
			}
			fmt.Printf("Delivered %d records, %d rejected\n", outcome.Sent, outcome.Failed)
		}
	},
}

func recoverTargets(ctx context.Context, args []string) ([]storage.Device, error) {
	if len(args) == 0 {
		return provider.ListDevices(ctx)
	}

	deviceID, err := parseDeviceID(args[0])
	if err != nil {
		return nil, err
	}
	device, err := provider.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	return []storage.Device{*device}, nil
}

func recoverDevice(ctx context.Context, client *terminal.Client, keeper *session.Keeper, device storage.Device, to *int64) (int, error) {
	since, err := recoverSince(ctx, device.ID)
	if err != nil {
		return 0, err
	}

	token, err := keeper.EnsureSession(ctx, device)
	if err != nil {
		return 0, err
	}

	events, err := client.LoadAccessLogs(ctx, device.Address, token, &since)
	if err != nil {
		return 0, err
	}

	// The terminal query has no upper bound; trim client-side.
	if to != nil {
		var bounded []terminal.AccessEvent
		for _, event := range events {
			if event.Time <= *to {
				bounded = append(bounded, event)
			}
		}
		events = bounded
	}

	if len(events) == 0 {
		slog.Info("Nothing to recover", "device_id", device.ID)
		return 0, nil
	}

	inserted, err := provider.InsertLogsIfAbsent(ctx, device.ID, events)
	if err != nil {
		return 0, err
	}

	var maxTime int64
	for _, event := range events {
		if event.Time > maxTime {
			maxTime = event.Time
		}
	}
	if err := provider.AdvanceCheckpoint(ctx, device.ID, maxTime); err != nil {
		return 0, err
	}

	slog.Info("Recovered access logs", "device_id", device.ID, "fetched", len(events), "new", len(inserted))
	return len(inserted), nil
}

// recoverSince picks the lower bound for a device: the explicit --from flag,
// else one second past the newest stored record, else seven days back.
func recoverSince(ctx context.Context, deviceID int64) (int64, error) {
	if recoverFrom != "" {
		return parseTimestamp(recoverFrom)
	}

	checkpoint, err := provider.GetCheckpoint(ctx, deviceID)
	if err != nil {
		return 0, err
	}
	if checkpoint != nil {
		return *checkpoint + 1, nil
	}

	return time.Now().AddDate(0, 0, -7).Unix(), nil
}

func parseTimestamp(value string) (int64, error) {
	if ts, err := strconv.ParseInt(value, 10, 64); err == nil {
		return ts, nil
	}
	for _, layout := range recoverLayouts {
		if t, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return t.Unix(), nil
		}
	}
	return 0, fmt.Errorf("unrecognized timestamp %q", value)
}

func init() {
	recoverCmd.Flags().StringVar(&recoverFrom, "from", "", "start of the recovery window")
	recoverCmd.Flags().StringVar(&recoverTo, "to", "", "end of the recovery window")
	recoverCmd.Flags().BoolVar(&recoverForward, "forward", false, "deliver unsent records after recovery")
	rootCmd.AddCommand(recoverCmd)
}
