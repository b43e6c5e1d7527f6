package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/kestrelwallet/kestrel-go/cmd/wallet-cli/commands"
	"github.com/kestrelwallet/kestrel-go/config"
	"github.com/kestrelwallet/kestrel-go/mylog"
	"github.com/kestrelwallet/kestrel-go/provider"
	"github.com/kestrelwallet/kestrel-go/wallet"
)

const configFileName = "config.toml"

var rootCmd = &cobra.Command{
	Use:   "wallet-cli",
	Short: "wallet-cli manages encrypted accounts, hardware signers and backups",
}

func pcFromCommands(parent readline.PrefixCompleterInterface, c *cobra.Command) {
	pc := readline.PcItem(c.Use)
	parent.SetChildren(append(parent.GetChildren(), pc))
	for _, child := range c.Commands() {
		pcFromCommands(pc, child)
	}
}

func runShell() {
	completer := readline.NewPrefixCompleter()
	for _, child := range rootCmd.Commands() {
		pcFromCommands(completer, child)
	}
	shell, err := readline.NewEx(&readline.Config{
		Prompt:       "> ",
		AutoComplete: completer,
		EOFPrompt:    "exit",
	})
	if err != nil {
		panic(err)
	}
	defer shell.Close()

shell_loop:
	for {
		l, err := shell.Readline()
		if err != nil {
			break shell_loop
		}
		if strings.TrimSpace(l) == "exit" {
			break shell_loop
		}
		cmd, flags, err := rootCmd.Find(strings.Fields(l))
		if err != nil {
			shell.Terminal.Write([]byte(err.Error() + "\n"))
			continue
		}
		cmd.ParseFlags(flags)
		if cmd.Run != nil {
			cmd.Run(cmd, flags)
		}
	}
}

func addCommands() {
	rootCmd.AddCommand(commands.InitCmd())
	rootCmd.AddCommand(commands.CreateCmd())
	rootCmd.AddCommand(commands.ImportCmd())
	rootCmd.AddCommand(commands.ListCmd())
	rootCmd.AddCommand(commands.InfoCmd())
	rootCmd.AddCommand(commands.LockCmd())
	rootCmd.AddCommand(commands.UnlockCmd())
	rootCmd.AddCommand(commands.IsLockedCmd())
	rootCmd.AddCommand(commands.ExportCmd())
	rootCmd.AddCommand(commands.BackupCmd())
	rootCmd.AddCommand(commands.RestoreCmd())
	rootCmd.AddCommand(commands.BalancesCmd())
	rootCmd.AddCommand(commands.DevicesCmd())
}

func init() {
	addCommands()
	rootCmd.Run = func(cmd *cobra.Command, args []string) {
		runShell()
	}
}

func loadConfig() config.Config {
	cfg, err := config.ReadWalletConfigFile(config.DefaultDataDir(), configFileName)
	if err != nil {
		cfg = config.DefaultWalletConfig
	}
	return cfg
}

func main() {
	cfg := loadConfig()
	log := mylog.Init(cfg.DataDir, mylog.WarnLevel)

	var prov provider.Provider
	if cfg.RPCEndPoint != "" {
		if c, err := provider.Dial(cfg.RPCEndPoint); err == nil {
			prov = c
			defer c.Close()
		} else {
			fmt.Printf("warning: rpc endpoint unreachable, balance commands disabled: %v\n", err)
		}
	}

	w, err := wallet.New(cfg, log, prov)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}
	defer w.Close()

	if err := w.Load(); err == nil {
		fmt.Println("wallet loaded, unlock to use it")
	}

	commands.SetWallet(w)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
