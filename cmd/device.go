package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"terminal-log-sync/internal/registry"
	"terminal-log-sync/internal/storage"
)

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Manage registered access terminals",
	Long:  `Manage registered access terminals, including adding, listing and removing devices.`,
}

var deviceAddCmd = &cobra.Command{
	Use:   "add <name> <address> <username> <password>",
	Short: "Register a new access terminal",
	Args:  cobra.ExactArgs(4),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		reg := registry.NewRegistry(provider)
		device, err := reg.Register(ctx, storage.Device{
			Name:     args[0],
			Address:  args[1],
			Username: args[2],
			Password: args[3],
		})
		if err != nil {
			slog.Error("Failed to register device", "error", err)
			os.Exit(1)
		}

		fmt.Printf("Registered device %d (%s)\n", device.ID, device.Name)
	},
}

var deviceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered access terminals",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		devices, err := provider.ListDevices(ctx)
		if err != nil {
			slog.Error("Failed to list devices", "error", err)
			os.Exit(1)
		}

		if len(devices) == 0 {
			fmt.Println("No devices registered")
			return
		}

		// Print table
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tADDRESS\tCREATED AT")
		for _, device := range devices {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n",
				device.ID,
				device.Name,
				device.Address,
				device.CreatedAt.Format("2006-01-02 15:04:05"),
			)
		}
		w.Flush()
	},
}

var deviceRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a registered access terminal",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		deviceID, err := parseDeviceID(args[0])
		if err != nil {
			slog.Error("Invalid device id", "arg", args[0])
			os.Exit(1)
		}

		if err := provider.DeleteDevice(ctx, deviceID); err != nil {
			slog.Error("Failed to remove device", "device_id", deviceID, "error", err)
			os.Exit(1)
		}

		fmt.Printf("Removed device %d\n", deviceID)
	},
}

var deviceImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import devices from a YAML seed file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		f, err := os.Open(args[0])
		if err != nil {
			slog.Error("Failed to open seed file", "file", args[0], "error", err)
			os.Exit(1)
		}
		defer f.Close()

		reg := registry.NewRegistry(provider)
		devices, err := reg.Import(ctx, f)
		if err != nil {
			slog.Error("Import failed", "error", err, "imported", len(devices))
			os.Exit(1)
		}

		fmt.Printf("Imported %d devices\n", len(devices))
	},
}

func parseDeviceID(arg string) (int64, error) {
	return strconv.ParseInt(arg, 10, 64)
}

func init() {
	deviceCmd.AddCommand(deviceAddCmd)
	deviceCmd.AddCommand(deviceListCmd)
	deviceCmd.AddCommand(deviceRemoveCmd)
	deviceCmd.AddCommand(deviceImportCmd)
	rootCmd.AddCommand(deviceCmd)
}
