package command

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/CH563/web-transfer/internal/client/ui"
	"github.com/CH563/web-transfer/internal/hub/presence"
)

var devicesCmd = &cobra.Command{
	Use:     "devices",
	Aliases: []string{"ls"},
	Short:   "List devices reachable through the hub",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listDevices()
	},
}

func init() {
	addClientFlags(devicesCmd)
	rootCmd.AddCommand(devicesCmd)
}

func listDevices() error {
	cfg, err := clientConfig("")
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(cfg.APIBaseURL + "/devices")
	if err != nil {
		return fmt.Errorf("query hub: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("query hub: %s", resp.Status)
	}

	var devices []presence.Device
	if err := json.NewDecoder(resp.Body).Decode(&devices); err != nil {
		return fmt.Errorf("decode device list: %w", err)
	}

	items := make([]ui.DeviceTableItem, len(devices))
	for i, d := range devices {
		items[i] = ui.DeviceTableItem{
			ID:       d.ID,
			Name:     d.Name,
			Type:     d.Type,
			Status:   d.Status,
			LastSeen: d.LastSeen.Format(time.Kitchen),
		}
	}
	ui.RenderDeviceTable(items)
	return nil
}
