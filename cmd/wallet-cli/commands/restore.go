package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kestrelwallet/kestrel-go/backup"
)

var RestoreCmd = func() *cobra.Command {
	var shareArgs []string
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "restore accounts from a backup file",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			runRestore(args[0], shareArgs)
		},
	}
	cmd.Flags().StringArrayVar(&shareArgs, "share", nil, "key share as index:hexdata, repeatable")
	return cmd
}

func runRestore(path string, shareArgs []string) {
	w := getWallet()

	data, err := os.ReadFile(path)
	if err != nil {
		printError(err)
		return
	}
	var env backup.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		printError(err)
		return
	}

	password, err := readPassword("wallet password: ")
	if err != nil {
		printError(err)
		return
	}

	if len(shareArgs) > 0 {
		shares := make([]backup.Share, 0, len(shareArgs))
		for _, s := range shareArgs {
			var idx int
			var hexData string
			if _, err := fmt.Sscanf(s, "%d:%s", &idx, &hexData); err != nil {
				printError(fmt.Errorf("malformed share %q, want index:hexdata", s))
				return
			}
			shares = append(shares, backup.Share{Index: byte(idx), Data: hexData})
		}
		err = w.RestoreBackupFromShares(&env, shares, password)
	} else {
		err = w.RestoreBackup(&env, password)
	}
	if err != nil {
		printError(err)
		return
	}
	fmt.Printf("restored %d accounts\n", env.AccountCount)
}
