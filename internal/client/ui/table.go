package ui

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// DeviceTableItem is one row of the device listing.
type DeviceTableItem struct {
	ID       string
	Name     string
	Type     string
	Status   string
	LastSeen string
}

// RenderDeviceTable prints the reachable devices.
func RenderDeviceTable(items []DeviceTableItem) {
	if len(items) == 0 {
		PrintInfo("No devices reachable right now.")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"ID", "Name", "Type", "Status", "Last seen"})
	for _, item := range items {
		t.AppendRow(table.Row{item.ID, item.Name, item.Type, item.Status, item.LastSeen})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, WidthMax: 32},
		{Number: 4, Align: text.AlignCenter},
	})
	t.Render()
}

// RenderOffer prints an inbound transfer offer for the accept prompt.
func RenderOffer(fileName, size, sender string) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"File", "Size", "From"})
	t.AppendRow(table.Row{fileName, size, sender})
	t.Render()
}

// PromptConsent asks the user whether to accept an inbound transfer.
func PromptConsent() bool {
	fmt.Print("\n❓ Accept this transfer? [Y/n] ")
	var consent string
	fmt.Scanln(&consent)
	return consent != "n" && consent != "N"
}
