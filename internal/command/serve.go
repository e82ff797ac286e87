package command

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/CH563/web-transfer/internal/hub/config"
	"github.com/CH563/web-transfer/internal/hub/presence"
	"github.com/CH563/web-transfer/internal/hub/relay"
	"github.com/CH563/web-transfer/internal/hub/server"
	"github.com/CH563/web-transfer/internal/hub/signaling"
	"github.com/CH563/web-transfer/internal/hub/store"
)

var flagConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signaling and relay hub",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	serveCmd.Flags().StringVarP(&flagConfigPath, "config", "c", "", "path to a YAML config file")
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		return err
	}

	registry := presence.NewRegistry()
	transfers := store.NewStore()
	buffer := relay.NewBuffer()
	buffer.UnusedTTL = cfg.RelayUnusedTTL
	buffer.DownloadedTTL = cfg.RelayDownloadedTTL

	hub := signaling.NewHub(registry, transfers, buffer)
	go hub.Run()

	relayHandler := relay.NewHandler(buffer, transfers, registry, hub)
	relayHandler.MaxUploadBytes = cfg.MaxUploadBytes
	relayHandler.UploadIdle = cfg.UploadIdleTimeout

	router := server.NewRouter(hub, relayHandler)

	slog.Info("hub listening", "addr", cfg.ListenAddr)
	if err := http.ListenAndServe(cfg.ListenAddr, router); err != nil {
		return fmt.Errorf("hub server: %w", err)
	}
	return nil
}
