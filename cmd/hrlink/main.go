package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd runs the bridge; there are no subcommands.
var rootCmd = &cobra.Command{
	Use:   "hrlink",
	Short: "Bluetooth LE heart-rate monitor bridge",
	Long: `Bridge a Bluetooth Low Energy heart-rate monitor to local consumers.

hrlink scans for heart-rate sensors, connects to the configured one and
keeps the connection alive across dropouts. Decoded readings are served
over HTTP and websockets for overlays, and optionally logged to CSV.

Known sensors live in settings.yaml next to the binary; newly accepted
devices are added there automatically.`,
	Version: formatVersion(version),
	RunE:    runBridge,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true

	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.Flags().BoolP("verbose", "v", false, "Enable debug logging")

	registerBridgeFlags(rootCmd)
}
