package commands

import (
	"fmt"

	"github.com/chzyer/readline"

	"github.com/kestrelwallet/kestrel-go/wallet"
)

var walletInstance *wallet.Manager

// SetWallet injects the wallet every command operates on.
func SetWallet(w *wallet.Manager) {
	walletInstance = w
}

func getWallet() *wallet.Manager {
	return walletInstance
}

func readPassword(prompt string) ([]byte, error) {
	rl, err := readline.New("")
	if err != nil {
		return nil, err
	}
	defer rl.Close()
	return rl.ReadPassword(prompt)
}

func printError(err error) {
	fmt.Printf("error: %v\n", err)
}
