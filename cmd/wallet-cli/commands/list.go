package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var ListCmd = func() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "list all accounts",
		Run:   list,
	}
	return cmd
}

func list(cmd *cobra.Command, args []string) {
	w := getWallet()
	records := w.Accounts()
	if len(records) == 0 {
		fmt.Println("no accounts")
		return
	}
	current, _ := w.Current()
	for _, rec := range records {
		marker := " "
		if rec.Address == current.Address {
			marker = "*"
		}
		kind := "keystore"
		if rec.IsHardware {
			kind = "hardware"
		}
		nickname := rec.Metadata.Nickname
		if nickname == "" {
			nickname = "-"
		}
		fmt.Printf("%s %-16s %s  %-8s nickname=%s tx=%d\n",
			marker, rec.Name, rec.Address.Hex(), kind, nickname, rec.Metadata.TxCount)
	}
}
