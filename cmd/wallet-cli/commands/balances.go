package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var BalancesCmd = func() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "balances",
		Short: "fetch balances for all accounts",
		Run:   balances,
	}
	return cmd
}

func balances(cmd *cobra.Command, args []string) {
	w := getWallet()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	report, err := w.FetchAllBalances(ctx)
	if err != nil {
		printError(err)
		return
	}
	for _, res := range report.Results {
		if res.Err != nil {
			fmt.Printf("%s  error: %v\n", res.Address.Hex(), res.Err)
			continue
		}
		cached := ""
		if res.FromCache {
			cached = " (cached)"
		}
		fmt.Printf("%s  %s wei%s\n", res.Address.Hex(), res.Balance.String(), cached)
	}
	fmt.Printf("%d ok, %d failed, %d round trips in %s\n",
		report.Succeeded, report.Failed, report.RoundTrips, report.Duration.Round(time.Millisecond))
}
