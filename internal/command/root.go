// Package command implements the webtransfer CLI.
package command

import (
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/CH563/web-transfer/internal/client/ui"
	"github.com/CH563/web-transfer/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "webtransfer",
	Short: "LAN peer-to-peer file transfer with a signaling and relay hub",
	Long: `web-transfer moves files directly between devices on the same network.
A central hub coordinates discovery and WebRTC negotiation; when the
direct path cannot be established, the hub relays the bytes itself.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init()
	},
}

// Execute runs the CLI. Called once from main.
func Execute() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		os.Exit(0)
	}()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}
