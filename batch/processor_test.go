package batch

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelwallet/kestrel-go/errctx"
	"github.com/kestrelwallet/kestrel-go/provider"
)

type fakeProvider struct {
	mu          sync.Mutex
	balances    map[common.Address]*big.Int
	failures    map[common.Address]int // remaining failures per address
	calls       int
	inFlight    int
	maxInFlight int
	delay       time.Duration
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		balances: make(map[common.Address]*big.Int),
		failures: make(map[common.Address]int),
	}
}

func (f *fakeProvider) GetBalance(_ context.Context, addr common.Address) (*big.Int, error) {
	f.mu.Lock()
	f.calls++
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	delay := f.delay
	fail := f.failures[addr] > 0
	if fail {
		f.failures[addr]--
	}
	bal := f.balances[addr]
	f.mu.Unlock()

	time.Sleep(delay)

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()

	if fail {
		return nil, errors.New("connection reset")
	}
	if bal == nil {
		return big.NewInt(0), nil
	}
	return bal, nil
}

func (f *fakeProvider) GetChainID(context.Context) (*big.Int, error)  { return big.NewInt(1), nil }
func (f *fakeProvider) GetBlockNumber(context.Context) (uint64, error) { return 100, nil }
func (f *fakeProvider) EstimateGas(context.Context, provider.CallRequest) (uint64, error) {
	return 21000, nil
}

// batchingProvider adds the multi-address capability.
type batchingProvider struct {
	fakeProvider
	batchCalls    int
	batchFailures int
}

func newBatchingProvider() *batchingProvider {
	b := &batchingProvider{}
	b.balances = make(map[common.Address]*big.Int)
	b.failures = make(map[common.Address]int)
	return b
}

func (b *batchingProvider) GetBalances(_ context.Context, addrs []common.Address) (map[common.Address]*big.Int, error) {
	b.mu.Lock()
	b.calls++
	b.batchCalls++
	fail := b.batchFailures > 0
	if fail {
		b.batchFailures--
	}
	out := make(map[common.Address]*big.Int, len(addrs))
	for _, addr := range addrs {
		if bal := b.balances[addr]; bal != nil {
			out[addr] = bal
		} else {
			out[addr] = big.NewInt(0)
		}
	}
	b.mu.Unlock()
	if fail {
		return nil, errors.New("rpc batch rejected")
	}
	return out, nil
}

func testAddrs(n int) []common.Address {
	addrs := make([]common.Address, n)
	for i := range addrs {
		addrs[i] = common.HexToAddress(fmt.Sprintf("0x%040x", i+1))
	}
	return addrs
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.BaseDelay = time.Millisecond
	cfg.MaxDelay = 8 * time.Millisecond
	cfg.PerRequestTimeout = time.Second
	cfg.CacheTTL = 0
	return cfg
}

func newTestProcessor(prov provider.Provider, cfg Config) *Processor {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return NewProcessor(log, prov, cfg)
}

func TestFetchAllSucceed(t *testing.T) {
	a := assert.New(t)
	prov := newFakeProvider()
	addrs := testAddrs(5)
	for i, addr := range addrs {
		prov.balances[addr] = big.NewInt(int64(100 * (i + 1)))
	}

	p := newTestProcessor(prov, fastConfig())
	report := p.FetchBalances(context.Background(), addrs)

	a.Equal(5, report.Succeeded)
	a.Zero(report.Failed)
	a.NotEmpty(report.CorrelationID)
	balances := report.Balances()
	require.Len(t, balances, 5)
	a.Equal(big.NewInt(100), balances[addrs[0]])
	a.Equal(big.NewInt(500), balances[addrs[4]])
}

func TestConcurrencyNeverExceedsCeiling(t *testing.T) {
	a := assert.New(t)
	prov := newFakeProvider()
	prov.delay = 10 * time.Millisecond
	addrs := testAddrs(40)

	cfg := fastConfig()
	cfg.MaxConcurrent = 10
	p := newTestProcessor(prov, cfg)
	report := p.FetchBalances(context.Background(), addrs)

	a.Equal(40, report.Succeeded)
	a.LessOrEqual(prov.maxInFlight, 10)
	// With 40 requests and a ceiling of 10 the ceiling must actually be hit.
	a.Greater(prov.maxInFlight, 5)
}

func TestPartialFailureIsNotBatchFailure(t *testing.T) {
	a := assert.New(t)
	prov := newFakeProvider()
	addrs := testAddrs(4)
	for _, addr := range addrs {
		prov.balances[addr] = big.NewInt(7)
	}
	// Two addresses fail on every attempt.
	prov.failures[addrs[1]] = 1000
	prov.failures[addrs[3]] = 1000

	p := newTestProcessor(prov, fastConfig())
	report := p.FetchBalances(context.Background(), addrs)

	a.Equal(2, report.Succeeded)
	a.Equal(2, report.Failed)
	require.Len(t, report.Results, 4)

	a.NoError(report.Results[0].Err)
	a.Equal(big.NewInt(7), report.Results[0].Balance)

	errs := report.Errs()
	require.Contains(t, errs, addrs[1])
	a.Equal(errctx.KindNetworkFailure, errctx.KindOf(errs[addrs[1]]))
	a.Equal(report.CorrelationID, errctx.CorrelationID(errs[addrs[1]]))
}

func TestTransientFailureRetriedWithBackoff(t *testing.T) {
	a := assert.New(t)
	prov := newFakeProvider()
	addrs := testAddrs(1)
	prov.balances[addrs[0]] = big.NewInt(42)
	prov.failures[addrs[0]] = 2 // fails twice, succeeds on the third attempt

	p := newTestProcessor(prov, fastConfig())
	report := p.FetchBalances(context.Background(), addrs)

	a.Equal(1, report.Succeeded)
	a.Equal(3, report.Results[0].Attempts)
	a.Equal(big.NewInt(42), report.Results[0].Balance)
}

func TestRetriesAreBounded(t *testing.T) {
	a := assert.New(t)
	prov := newFakeProvider()
	addrs := testAddrs(1)
	prov.failures[addrs[0]] = 1000

	p := newTestProcessor(prov, fastConfig())
	report := p.FetchBalances(context.Background(), addrs)

	a.Equal(1, report.Failed)
	a.Equal(DefaultMaxRetries, prov.calls)
}

func TestZeroMaxRetriesFallsBackToDefault(t *testing.T) {
	a := assert.New(t)
	prov := newFakeProvider()
	addrs := testAddrs(1)
	prov.balances[addrs[0]] = big.NewInt(42)

	cfg := fastConfig()
	cfg.MaxRetries = 0 // must not produce a processor that never calls the provider
	p := newTestProcessor(prov, cfg)
	report := p.FetchBalances(context.Background(), addrs)

	a.Equal(1, report.Succeeded)
	a.Equal(1, prov.calls)
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	a := assert.New(t)
	cfg := Config{BaseDelay: time.Second, MaxDelay: 30 * time.Second}
	a.Equal(1*time.Second, cfg.backoff(1))
	a.Equal(2*time.Second, cfg.backoff(2))
	a.Equal(4*time.Second, cfg.backoff(3))
	a.Equal(30*time.Second, cfg.backoff(10))
}

func TestBatchingProviderUsesFewRoundTrips(t *testing.T) {
	a := assert.New(t)
	prov := newBatchingProvider()
	addrs := testAddrs(50)
	for _, addr := range addrs {
		prov.balances[addr] = big.NewInt(1)
	}

	cfg := fastConfig()
	cfg.ChunkSize = 20
	p := newTestProcessor(prov, cfg)
	report := p.FetchBalances(context.Background(), addrs)

	a.Equal(50, report.Succeeded)
	// 50 addresses, chunks of 20: three calls, never fifty.
	a.EqualValues(3, report.RoundTrips)
	a.Equal(3, prov.batchCalls)
}

func TestBatchingProviderRetriesChunks(t *testing.T) {
	a := assert.New(t)
	prov := newBatchingProvider()
	prov.batchFailures = 1
	addrs := testAddrs(5)

	p := newTestProcessor(prov, fastConfig())
	report := p.FetchBalances(context.Background(), addrs)

	a.Equal(5, report.Succeeded)
	a.Equal(2, prov.batchCalls)
	a.Equal(2, report.Results[0].Attempts)
}

func TestHotCacheAvoidsRoundTrips(t *testing.T) {
	a := assert.New(t)
	prov := newFakeProvider()
	addrs := testAddrs(3)
	for _, addr := range addrs {
		prov.balances[addr] = big.NewInt(9)
	}

	cfg := fastConfig()
	cfg.CacheTTL = time.Minute
	p := newTestProcessor(prov, cfg)

	first := p.FetchBalances(context.Background(), addrs)
	a.EqualValues(3, first.RoundTrips)
	a.Zero(first.CacheHits)

	second := p.FetchBalances(context.Background(), addrs)
	a.Equal(3, second.Succeeded)
	a.Equal(3, second.CacheHits)
	a.Zero(second.RoundTrips)
	a.True(second.Results[0].FromCache)
	a.Equal(big.NewInt(9), second.Results[0].Balance)

	p.InvalidateCache()
	third := p.FetchBalances(context.Background(), addrs)
	a.EqualValues(3, third.RoundTrips)
}

func TestCancelledContextStopsBatch(t *testing.T) {
	a := assert.New(t)
	prov := newFakeProvider()
	addrs := testAddrs(3)
	prov.failures[addrs[0]] = 1000

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newTestProcessor(prov, fastConfig())
	report := p.FetchBalances(ctx, addrs)
	a.Equal(3, report.Failed)
}
