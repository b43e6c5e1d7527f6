package commands

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kestrelwallet/kestrel-go/keystore"
)

var ImportCmd = func() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "import an account from a seed phrase, private key or keystore file",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "mnemonic",
		Short: "import name \"seed phrase words ...\"",
		Args:  cobra.MinimumNArgs(2),
		Run:   importMnemonic,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "key",
		Short: "import name hex-private-key",
		Args:  cobra.ExactArgs(2),
		Run:   importKey,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "keystore",
		Short: "import name path-to-keystore.json",
		Args:  cobra.ExactArgs(2),
		Run:   importKeystore,
	})
	return cmd
}

func importMnemonic(cmd *cobra.Command, args []string) {
	w := getWallet()
	name := args[0]
	mnemonic := strings.Join(args[1:], " ")
	password, err := readPassword("wallet password: ")
	if err != nil {
		printError(err)
		return
	}
	rec, err := w.ImportFromMnemonic(name, mnemonic, "", password)
	if err != nil {
		printError(err)
		return
	}
	fmt.Printf("imported account %s at %s\n", rec.Name, rec.Address.Hex())
}

func importKey(cmd *cobra.Command, args []string) {
	w := getWallet()
	name := args[0]
	raw, err := hex.DecodeString(strings.TrimPrefix(args[1], "0x"))
	if err != nil {
		printError(err)
		return
	}
	defer keystore.Zero(raw)
	password, err := readPassword("wallet password: ")
	if err != nil {
		printError(err)
		return
	}
	rec, err := w.ImportFromPrivateKey(name, raw, password)
	if err != nil {
		printError(err)
		return
	}
	fmt.Printf("imported account %s at %s\n", rec.Name, rec.Address.Hex())
}

func importKeystore(cmd *cobra.Command, args []string) {
	w := getWallet()
	name := args[0]
	keyJSON, err := os.ReadFile(args[1])
	if err != nil {
		printError(err)
		return
	}
	passphrase, err := readPassword("keystore passphrase: ")
	if err != nil {
		printError(err)
		return
	}
	password, err := readPassword("wallet password: ")
	if err != nil {
		printError(err)
		return
	}
	rec, err := w.ImportFromVendorKeystore(name, keyJSON, string(passphrase), password)
	if err != nil {
		printError(err)
		return
	}
	fmt.Printf("imported account %s at %s\n", rec.Name, rec.Address.Hex())
}
