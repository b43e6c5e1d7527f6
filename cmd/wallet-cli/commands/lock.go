package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var LockCmd = func() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "lock the wallet and wipe decrypted keys from memory",
		Run:   lock,
	}
	return cmd
}

func lock(cmd *cobra.Command, args []string) {
	getWallet().Lock()
	fmt.Println("wallet locked")
}
