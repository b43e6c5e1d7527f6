package commands

import (
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/kestrelwallet/kestrel-go/keystore"
)

var ExportCmd = func() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "reveal secret material, gated by re-authentication",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "mnemonic",
		Short: "export mnemonic <address>",
		Args:  cobra.ExactArgs(1),
		Run:   exportMnemonic,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "key",
		Short: "export key <address>",
		Args:  cobra.ExactArgs(1),
		Run:   exportKey,
	})
	return cmd
}

func exportMnemonic(cmd *cobra.Command, args []string) {
	w := getWallet()
	addr := common.HexToAddress(args[0])
	password, err := readPassword("confirm wallet password: ")
	if err != nil {
		printError(err)
		return
	}
	tok, err := w.AuthorizeExport(password, "export_mnemonic")
	if err != nil {
		printError(err)
		return
	}
	phrase, err := w.ExportMnemonic(tok.ID, password, addr)
	if err != nil {
		printError(err)
		return
	}
	fmt.Println(phrase)
}

func exportKey(cmd *cobra.Command, args []string) {
	w := getWallet()
	addr := common.HexToAddress(args[0])
	password, err := readPassword("confirm wallet password: ")
	if err != nil {
		printError(err)
		return
	}
	tok, err := w.AuthorizeExport(password, "export_private_key")
	if err != nil {
		printError(err)
		return
	}
	priv, err := w.ExportPrivateKey(tok.ID, password, addr)
	if err != nil {
		printError(err)
		return
	}
	fmt.Println("0x" + hex.EncodeToString(priv))
	keystore.Zero(priv)
}
