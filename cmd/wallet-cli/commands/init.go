package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var InitCmd = func() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "initialize a new wallet with a master password",
		Run:   initWallet,
	}
	return cmd
}

func initWallet(cmd *cobra.Command, args []string) {
	w := getWallet()
	password, err := readPassword("choose a password: ")
	if err != nil {
		printError(err)
		return
	}
	confirm, err := readPassword("confirm password: ")
	if err != nil {
		printError(err)
		return
	}
	if string(password) != string(confirm) {
		fmt.Println("passwords do not match")
		return
	}
	if err := w.Init(password); err != nil {
		printError(err)
		return
	}
	fmt.Println("wallet initialized")
}
