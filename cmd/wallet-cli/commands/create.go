package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var CreateCmd = func() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "create a new account with a fresh seed phrase",
		Args:  cobra.ExactArgs(1),
		Run:   create,
	}
	return cmd
}

func create(cmd *cobra.Command, args []string) {
	w := getWallet()
	name := args[0]
	password, err := readPassword("wallet password: ")
	if err != nil {
		printError(err)
		return
	}
	rec, mnemonic, err := w.CreateAccount(name, password)
	if err != nil {
		printError(err)
		return
	}
	fmt.Printf("created account %s at %s\n", rec.Name, rec.Address.Hex())
	fmt.Println("write down the seed phrase, it will not be shown again:")
	fmt.Println(mnemonic)
}
