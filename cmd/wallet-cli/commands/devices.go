package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var DevicesCmd = func() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "scan and list hardware devices",
		Run:   devices,
	}
	return cmd
}

func devices(cmd *cobra.Command, args []string) {
	w := getWallet()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	records, err := w.ScanHardware(ctx)
	if err != nil {
		printError(err)
	}
	if len(records) == 0 {
		fmt.Println("no devices")
		return
	}
	for _, d := range records {
		fmt.Printf("%-24s %-8s %-12s %s (firmware %s)\n",
			d.ID, d.Vendor, d.State, d.Model, d.FirmwareVersion)
	}
}
