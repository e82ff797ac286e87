package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/CH563/web-transfer/internal/client/engine"
	"github.com/CH563/web-transfer/internal/client/files"
	"github.com/CH563/web-transfer/internal/client/session"
	"github.com/CH563/web-transfer/internal/client/ui"
	"github.com/CH563/web-transfer/internal/hub/signaling"
)

var flagOutputDir string

var receiveCmd = &cobra.Command{
	Use:     "receive",
	Aliases: []string{"r", "recv"},
	Short:   "Wait for inbound transfers",
	Long: `Register with the hub and wait for other devices to send files.
Each offer is shown for confirmation before any bytes flow.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return receiveFiles()
	},
}

func init() {
	addClientFlags(receiveCmd)
	receiveCmd.Flags().StringVarP(&flagOutputDir, "output", "o", "", "directory to save received files in")
	rootCmd.AddCommand(receiveCmd)
}

// promptOffer shows one inbound offer and applies the user's decision.
func promptOffer(eng *engine.Engine, offer engine.Offer) {
	fmt.Println()
	ui.RenderOffer(offer.FileName, files.FormatSize(offer.FileSize), offer.SenderID)
	if ui.PromptConsent() {
		if err := eng.Accept(offer.TransferID); err != nil {
			ui.PrintError(err.Error())
		}
	} else {
		eng.Reject(offer.TransferID)
		ui.PrintInfo("Declined.")
	}
}

func receiveFiles() error {
	cfg, err := clientConfig(flagOutputDir)
	if err != nil {
		return err
	}

	sess := session.NewClient(cfg.WebSocketURL, registerMessage(cfg))

	save := func(fileName, relativePath string, data []byte) error {
		target, err := files.SaveTo(cfg.OutputDir, fileName, relativePath, data)
		if err != nil {
			return err
		}
		ui.PrintSuccess("Saved " + target)
		return nil
	}

	notify := func(transferID string, state engine.State, progress int) {
		switch state {
		case engine.StateFailed:
			ui.PrintError("Transfer failed")
		case engine.StateTransferring:
			// Progress is reported by the chunk counter below 100; a
			// single line keeps concurrent inbound transfers legible.
			fmt.Printf("\r%3d%%", progress)
		case engine.StateCompleted:
			fmt.Printf("\r100%%\n")
		}
	}

	eng := engine.New(cfg, sess, save, notify)

	sess.OnUIEvent(func(msg *signaling.Message) {
		switch msg.Type {
		case signaling.TypeDeviceList:
			// Nothing to show; the receiver waits passively.
		case signaling.TypeTransferOffer:
			promptOffer(eng, eng.RegisterOffer(msg))
		}
	})

	if err := sess.Connect(); err != nil {
		return err
	}
	defer sess.Close()

	// Offers made while this device was offline sit in the hub's
	// inventory; surface them before waiting for live ones.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pending, err := eng.PendingOffers(ctx)
	cancel()
	if err != nil {
		slog.Warn("inventory poll failed", "err", err)
	}
	for _, offer := range pending {
		promptOffer(eng, offer)
	}

	ui.PrintInfo(fmt.Sprintf("Waiting for transfers as %q (%s). Press Ctrl-C to stop.", cfg.DeviceName, cfg.DeviceID))
	select {} // run until interrupted
}
