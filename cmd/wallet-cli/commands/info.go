package commands

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
)

var InfoCmd = func() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info",
		Short: "show details of one account (current account if omitted)",
		Args:  cobra.MaximumNArgs(1),
		Run:   info,
	}
	return cmd
}

func info(cmd *cobra.Command, args []string) {
	w := getWallet()

	rec, err := w.Current()
	if len(args) == 1 {
		rec, err = w.Account(common.HexToAddress(args[0]))
	}
	if err != nil {
		printError(err)
		return
	}

	fmt.Printf("name:       %s\n", rec.Name)
	fmt.Printf("address:    %s\n", rec.Address.Hex())
	fmt.Printf("created:    %s\n", rec.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("hardware:   %v\n", rec.IsHardware)
	if rec.DerivationPath != "" {
		fmt.Printf("path:       %s\n", rec.DerivationPath)
	}
	if rec.Metadata.Nickname != "" {
		fmt.Printf("nickname:   %s\n", rec.Metadata.Nickname)
	}
	fmt.Printf("tx count:   %d\n", rec.Metadata.TxCount)
	if rec.Metadata.LastUsed != nil {
		fmt.Printf("last used:  %s\n", rec.Metadata.LastUsed.Format("2006-01-02 15:04:05"))
	}
}
