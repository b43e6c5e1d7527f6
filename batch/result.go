package batch

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// BalanceResult is the outcome for one address. Exactly one of Balance and
// Err is set.
type BalanceResult struct {
	Address   common.Address
	Balance   *big.Int
	Err       error
	Attempts  int
	FromCache bool
}

// Report summarizes one batch run. Every requested address appears exactly
// once in Results, in request order, whether it succeeded or not.
type Report struct {
	CorrelationID string
	Results       []BalanceResult
	Succeeded     int
	Failed        int
	CacheHits     int
	RoundTrips    int64
	Duration      time.Duration
}

// Balances collapses the report into an address-to-balance map, skipping
// failed addresses.
func (r *Report) Balances() map[common.Address]*big.Int {
	out := make(map[common.Address]*big.Int, r.Succeeded)
	for _, res := range r.Results {
		if res.Err == nil && res.Balance != nil {
			out[res.Address] = res.Balance
		}
	}
	return out
}

// Errs returns the per-address failures, keyed by address.
func (r *Report) Errs() map[common.Address]error {
	out := make(map[common.Address]error, r.Failed)
	for _, res := range r.Results {
		if res.Err != nil {
			out[res.Address] = res.Err
		}
	}
	return out
}
