package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var IsLockedCmd = func() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "is_locked",
		Short: "show whether the wallet is locked",
		Run:   isLocked,
	}
	return cmd
}

func isLocked(cmd *cobra.Command, args []string) {
	if getWallet().IsLocked() {
		fmt.Println("locked")
	} else {
		fmt.Println("unlocked")
	}
}
