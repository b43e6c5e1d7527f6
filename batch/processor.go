package batch

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coocood/freecache"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/kestrelwallet/kestrel-go/errctx"
	"github.com/kestrelwallet/kestrel-go/provider"
)

const balanceCacheSize = 512 * 1024

// Processor fetches many balances without flooding the provider: admission
// is gated by a weighted semaphore, transient failures are retried with
// exponential backoff, and recently fetched balances are served from a hot
// cache. When the provider supports multi-address calls, addresses are
// chunked so a batch costs far fewer round trips than it has addresses.
type Processor struct {
	log  *logrus.Logger
	prov provider.Provider
	cfg  Config

	cache      *freecache.Cache
	roundTrips atomic.Int64
}

func NewProcessor(log *logrus.Logger, prov provider.Provider, cfg Config) *Processor {
	cfg.sanitize()
	p := &Processor{log: log, prov: prov, cfg: cfg}
	if cfg.CacheTTL > 0 {
		p.cache = freecache.NewCache(balanceCacheSize)
	}
	return p
}

// RoundTrips reports the total provider round trips made since creation.
func (p *Processor) RoundTrips() int64 {
	return p.roundTrips.Load()
}

// InvalidateCache drops all hot balances, forcing fresh fetches.
func (p *Processor) InvalidateCache() {
	if p.cache != nil {
		p.cache.Clear()
	}
}

// FetchBalances resolves the balance of every address. Partial failure is
// not batch failure: each address gets its own result and the report is
// returned even when some (or all) addresses failed.
func (p *Processor) FetchBalances(ctx context.Context, addrs []common.Address) *Report {
	ec := errctx.New("batch_fetch_balances")
	start := time.Now()
	tripsBefore := p.roundTrips.Load()

	report := &Report{
		CorrelationID: ec.CorrelationID,
		Results:       make([]BalanceResult, len(addrs)),
	}
	for i, addr := range addrs {
		report.Results[i] = BalanceResult{Address: addr}
	}

	// Serve what we can from the hot cache before dispatching anything.
	var pending []int
	for i, addr := range addrs {
		if bal, ok := p.cachedBalance(addr); ok {
			report.Results[i].Balance = bal
			report.Results[i].FromCache = true
			report.CacheHits++
			continue
		}
		pending = append(pending, i)
	}

	if len(pending) > 0 {
		if batcher, ok := p.prov.(provider.BalanceBatcher); ok {
			p.fetchChunked(ctx, ec, batcher, addrs, pending, report)
		} else {
			p.fetchIndividually(ctx, ec, addrs, pending, report)
		}
	}

	for _, res := range report.Results {
		if res.Err != nil {
			report.Failed++
		} else {
			report.Succeeded++
		}
	}
	report.RoundTrips = p.roundTrips.Load() - tripsBefore
	report.Duration = time.Since(start)

	p.log.WithFields(logrus.Fields{
		"correlation_id": ec.CorrelationID,
		"requested":      len(addrs),
		"succeeded":      report.Succeeded,
		"failed":         report.Failed,
		"cache_hits":     report.CacheHits,
		"round_trips":    report.RoundTrips,
		"duration":       report.Duration,
	}).Info("batch: balance fetch finished")

	return report
}

func (p *Processor) fetchIndividually(ctx context.Context, ec *errctx.Context, addrs []common.Address, pending []int, report *Report) {
	sem := semaphore.NewWeighted(int64(p.cfg.MaxConcurrent))
	var wg sync.WaitGroup
	for _, i := range pending {
		if err := sem.Acquire(ctx, 1); err != nil {
			report.Results[i].Err = errctx.E(errctx.KindNetworkFailure, ec.Child("batch_get_balance"),
				"batch cancelled: %v", err)
			continue
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer sem.Release(1)
			bal, attempts, err := p.fetchOne(ctx, ec, addrs[i])
			report.Results[i].Balance = bal
			report.Results[i].Attempts = attempts
			report.Results[i].Err = err
			if err == nil {
				p.storeBalance(addrs[i], bal)
			}
		}(i)
	}
	wg.Wait()
}

func (p *Processor) fetchOne(ctx context.Context, ec *errctx.Context, addr common.Address) (*big.Int, int, error) {
	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, p.cfg.PerRequestTimeout)
		p.roundTrips.Add(1)
		bal, err := p.prov.GetBalance(callCtx, addr)
		cancel()
		if err == nil {
			return bal, attempt, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt < p.cfg.MaxRetries {
			delay := p.cfg.backoff(attempt)
			p.log.WithFields(logrus.Fields{
				"correlation_id": ec.CorrelationID,
				"address":        addr.Hex(),
				"attempt":        attempt,
				"retry_in":       delay,
				"error":          err,
			}).Debug("batch: balance fetch failed, retrying")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				attempt = p.cfg.MaxRetries
			}
		}
	}
	return nil, p.cfg.MaxRetries, errctx.E(errctx.KindNetworkFailure,
		ec.Child("batch_get_balance").WithAccount(addr.Hex()),
		"balance fetch failed after %d attempts: %v", p.cfg.MaxRetries, lastErr)
}

func (p *Processor) fetchChunked(ctx context.Context, ec *errctx.Context, batcher provider.BalanceBatcher, addrs []common.Address, pending []int, report *Report) {
	var chunks [][]int
	for len(pending) > 0 {
		n := p.cfg.ChunkSize
		if n > len(pending) {
			n = len(pending)
		}
		chunks = append(chunks, pending[:n])
		pending = pending[n:]
	}

	sem := semaphore.NewWeighted(int64(p.cfg.MaxConcurrent))
	var wg sync.WaitGroup
	for _, chunk := range chunks {
		if err := sem.Acquire(ctx, 1); err != nil {
			for _, i := range chunk {
				report.Results[i].Err = errctx.E(errctx.KindNetworkFailure, ec.Child("batch_get_balances"),
					"batch cancelled: %v", err)
			}
			continue
		}
		wg.Add(1)
		go func(chunk []int) {
			defer wg.Done()
			defer sem.Release(1)
			p.fetchChunk(ctx, ec, batcher, addrs, chunk, report)
		}(chunk)
	}
	wg.Wait()
}

func (p *Processor) fetchChunk(ctx context.Context, ec *errctx.Context, batcher provider.BalanceBatcher, addrs []common.Address, chunk []int, report *Report) {
	want := make([]common.Address, len(chunk))
	for j, i := range chunk {
		want[j] = addrs[i]
	}

	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, p.cfg.PerRequestTimeout)
		p.roundTrips.Add(1)
		balances, err := batcher.GetBalances(callCtx, want)
		cancel()
		if err == nil {
			for _, i := range chunk {
				addr := addrs[i]
				bal, ok := balances[addr]
				if !ok {
					report.Results[i].Err = errctx.E(errctx.KindNotFound,
						ec.Child("batch_get_balances").WithAccount(addr.Hex()),
						"provider returned no balance for %s", addr.Hex())
					report.Results[i].Attempts = attempt
					continue
				}
				report.Results[i].Balance = bal
				report.Results[i].Attempts = attempt
				p.storeBalance(addr, bal)
			}
			return
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt < p.cfg.MaxRetries {
			delay := p.cfg.backoff(attempt)
			p.log.WithFields(logrus.Fields{
				"correlation_id": ec.CorrelationID,
				"chunk_size":     len(chunk),
				"attempt":        attempt,
				"retry_in":       delay,
				"error":          err,
			}).Debug("batch: chunk fetch failed, retrying")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				attempt = p.cfg.MaxRetries
			}
		}
	}

	for _, i := range chunk {
		report.Results[i].Attempts = p.cfg.MaxRetries
		report.Results[i].Err = errctx.E(errctx.KindNetworkFailure,
			ec.Child("batch_get_balances").WithAccount(addrs[i].Hex()),
			"chunk fetch failed after %d attempts: %v", p.cfg.MaxRetries, lastErr)
	}
}

func (p *Processor) cachedBalance(addr common.Address) (*big.Int, bool) {
	if p.cache == nil {
		return nil, false
	}
	raw, err := p.cache.Get(addr.Bytes())
	if err != nil {
		return nil, false
	}
	bal, ok := new(big.Int).SetString(string(raw), 10)
	if !ok {
		return nil, false
	}
	return bal, true
}

func (p *Processor) storeBalance(addr common.Address, bal *big.Int) {
	if p.cache == nil || bal == nil {
		return
	}
	_ = p.cache.Set(addr.Bytes(), []byte(bal.String()), int(p.cfg.CacheTTL/time.Second))
}
