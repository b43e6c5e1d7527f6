package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var UnlockCmd = func() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "unlock the wallet",
		Run:   unlock,
	}
	return cmd
}

func unlock(cmd *cobra.Command, args []string) {
	w := getWallet()
	password, err := readPassword("wallet password: ")
	if err != nil {
		printError(err)
		return
	}
	if err := w.Unlock(password); err != nil {
		printError(err)
		return
	}
	fmt.Println("wallet unlocked")
}
