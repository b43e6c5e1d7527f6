package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var BackupCmd = func() *cobra.Command {
	var threshold, shares int
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "write an encrypted backup of all accounts to a file",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			runBackup(args[0], threshold, shares)
		},
	}
	cmd.Flags().IntVar(&threshold, "threshold", 0, "shares needed to restore")
	cmd.Flags().IntVar(&shares, "shares", 0, "number of key shares to produce")
	return cmd
}

func runBackup(path string, threshold, shares int) {
	w := getWallet()
	password, err := readPassword("wallet password: ")
	if err != nil {
		printError(err)
		return
	}
	env, keyShares, err := w.CreateBackup(password, threshold, shares)
	if err != nil {
		printError(err)
		return
	}

	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		printError(err)
		return
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		printError(err)
		return
	}
	fmt.Printf("backup written to %s (%d accounts)\n", path, env.AccountCount)

	for _, s := range keyShares {
		fmt.Printf("share %d (%d needed): %s\n", s.Index, s.Threshold, s.Data)
	}
	if len(keyShares) > 0 {
		fmt.Println("distribute the shares separately, they are not stored anywhere")
	}
}
