package command

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/CH563/web-transfer/internal/client/config"
	"github.com/CH563/web-transfer/internal/client/engine"
	"github.com/CH563/web-transfer/internal/client/files"
	"github.com/CH563/web-transfer/internal/client/session"
	"github.com/CH563/web-transfer/internal/client/ui"
	"github.com/CH563/web-transfer/internal/hub/signaling"
)

var (
	flagHub        string
	flagDeviceID   string
	flagDeviceName string
	flagDeviceType string
	flagSTUN       string
	flagTo         string
)

var sendCmd = &cobra.Command{
	Use:     "send --to <deviceId> <file>...",
	Aliases: []string{"s"},
	Short:   "Send files to another device",
	Long: `Send files to a device registered with the same hub.

Examples:
  webtransfer send --to kitchen-laptop report.pdf
  webtransfer send --hub hub.local:8080 --to phone photo.jpg notes.txt`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return fmt.Errorf("no files specified")
		}
		if flagTo == "" {
			return fmt.Errorf("--to is required")
		}
		return sendFiles(flagTo, args)
	},
}

func init() {
	addClientFlags(sendCmd)
	sendCmd.Flags().StringVar(&flagTo, "to", "", "receiver device id")
	rootCmd.AddCommand(sendCmd)
}

func addClientFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagHub, "hub", "", "hub host[:port]")
	cmd.Flags().StringVar(&flagDeviceID, "id", "", "device id announced to the hub")
	cmd.Flags().StringVar(&flagDeviceName, "name", "", "device name shown to peers")
	cmd.Flags().StringVar(&flagDeviceType, "type", "", "device type: laptop, mobile or tablet")
	cmd.Flags().StringVar(&flagSTUN, "stun", "", "STUN server URL")
}

func clientConfig(outputDir string) (*config.Config, error) {
	return config.Load(config.Options{
		Hub:        flagHub,
		DeviceID:   flagDeviceID,
		DeviceName: flagDeviceName,
		DeviceType: flagDeviceType,
		STUNServer: flagSTUN,
		OutputDir:  outputDir,
	})
}

func registerMessage(cfg *config.Config) *signaling.Message {
	return &signaling.Message{
		Type:       signaling.TypeDeviceRegister,
		DeviceID:   cfg.DeviceID,
		DeviceName: cfg.DeviceName,
		DeviceType: cfg.DeviceType,
	}
}

func sendFiles(receiverID string, paths []string) error {
	cfg, err := clientConfig("")
	if err != nil {
		return err
	}

	sess := session.NewClient(cfg.WebSocketURL, registerMessage(cfg))
	if err := sess.Connect(); err != nil {
		return err
	}
	defer sess.Close()

	var totalBytes int64
	start := time.Now()

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}

		tracker := newProgressTracker(info.Name(), info.Size())
		eng := engine.New(cfg, sess, nil, tracker.Notify)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		_, err = eng.SendFile(ctx, receiverID, path)
		cancel()
		tracker.stop()

		if errors.Is(err, engine.ErrDeclined) {
			ui.PrintInfo(fmt.Sprintf("%s: declined by receiver", info.Name()))
			continue
		}
		if err != nil {
			return err
		}
		totalBytes += info.Size()
	}

	elapsed := time.Since(start)
	if totalBytes > 0 {
		ui.PrintSuccess(fmt.Sprintf("Sent %s in %s (%s)",
			files.FormatSize(totalBytes),
			files.FormatDuration(elapsed),
			files.FormatSpeed(float64(totalBytes)/elapsed.Seconds()),
		))
	}
	return nil
}
