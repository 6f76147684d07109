// Package oracle implements PriceOracle (spec.md §4.1): per-(chain,
// token-address) price lookups backed by a short-lived cache, a pre-fetch
// primitive the handlers use to start a price fetch before they need the
// result, and the bidirectional BTC<->token conversion math every handler
// calls to size a swap.
package oracle

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/atomicbridge/swapserver/internal/config"
	"github.com/atomicbridge/swapserver/internal/models"

	"golang.org/x/sync/singleflight"
)

// TokenData describes one swappable token on one chain (spec.md §4.1).
type TokenData struct {
	ChainIdentifier models.ChainIdentifier
	Address         string
	Decimals        int
	CoinGeckoID     string // or a "$fixed-<f>" literal, spec.md §4.1
}

// Future is the pending handle preFetchPrice returns; Get blocks until the
// fetch this future represents completes.
type Future struct {
	done  chan struct{}
	price *big.Int
	err   error
}

// Get blocks until the underlying fetch resolves, respecting ctx
// cancellation, and returns the msat/whole-token price.
func (f *Future) Get(ctx context.Context) (*big.Int, error) {
	select {
	case <-f.done:
		return f.price, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Fetcher retrieves a fresh price in msat per whole token for the given
// CoinGecko-style coin id. Implementations talk to an external price feed;
// see CoinGeckoFetcher for the CoinGecko reference adapter.
type Fetcher interface {
	FetchPriceMsat(ctx context.Context, coinID string) (*big.Int, error)
}

type cacheEntry struct {
	price   *big.Int
	fetchAt time.Time
}

// Oracle is the PriceOracle implementation (spec.md §4.1).
type Oracle struct {
	fetcher  Fetcher
	tokens   map[string]TokenData // key: chain + "/" + address
	mu       sync.RWMutex
	cache    map[string]cacheEntry // key: coinID
	sf       singleflight.Group
}

// New builds an Oracle over the given token registry and price fetcher.
func New(fetcher Fetcher, tokens []TokenData) *Oracle {
	idx := make(map[string]TokenData, len(tokens))
	for _, t := range tokens {
		idx[tokenKey(t.ChainIdentifier, t.Address)] = t
	}
	return &Oracle{
		fetcher: fetcher,
		tokens:  idx,
		cache:   make(map[string]cacheEntry),
	}
}

func tokenKey(chain models.ChainIdentifier, address string) string {
	return string(chain) + "/" + strings.ToLower(address)
}

// GetTokenData resolves (chain, address) to its registry entry (spec.md
// §4.1), failing with config.ErrChainNotFound / config.ErrTokenNotFound.
func (o *Oracle) GetTokenData(chain models.ChainIdentifier, address string) (TokenData, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	t, ok := o.tokens[tokenKey(chain, address)]
	if !ok {
		if !o.chainKnown(chain) {
			return TokenData{}, fmt.Errorf("%w: %s", config.ErrChainNotFound, chain)
		}
		return TokenData{}, fmt.Errorf("%w: %s/%s", config.ErrTokenNotFound, chain, address)
	}
	return t, nil
}

func (o *Oracle) chainKnown(chain models.ChainIdentifier) bool {
	for _, t := range o.tokens {
		if t.ChainIdentifier == chain {
			return true
		}
	}
	return false
}

// fixedPrice parses a "$fixed-<f>" coin id into its literal msat/token
// price: floor(f*1000) (spec.md §4.1).
func fixedPrice(coinID string) (*big.Int, bool) {
	if !strings.HasPrefix(coinID, config.FixedPriceCoinIDPrefix) {
		return nil, false
	}
	raw := strings.TrimPrefix(coinID, config.FixedPriceCoinIDPrefix)
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, false
	}
	scaled := new(big.Float).Mul(big.NewFloat(f), big.NewFloat(1000))
	price, _ := scaled.Int(nil)
	return price, true
}

// GetPrice returns the cached or freshly-fetched msat/whole-token price for
// td, caching results for config.PriceCacheDuration (spec.md §4.1).
func (o *Oracle) GetPrice(ctx context.Context, td TokenData) (*big.Int, error) {
	if price, ok := fixedPrice(td.CoinGeckoID); ok {
		return price, nil
	}

	o.mu.RLock()
	entry, ok := o.cache[td.CoinGeckoID]
	o.mu.RUnlock()
	if ok && time.Since(entry.fetchAt) < config.PriceCacheDuration {
		return entry.price, nil
	}

	v, err, _ := o.sf.Do(td.CoinGeckoID, func() (interface{}, error) {
		price, err := o.fetcher.FetchPriceMsat(ctx, td.CoinGeckoID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", config.ErrPriceFetchFailed, err)
		}
		o.mu.Lock()
		o.cache[td.CoinGeckoID] = cacheEntry{price: price, fetchAt: time.Now()}
		o.mu.Unlock()
		return price, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*big.Int), nil
}

// PreFetchPrice starts a price fetch for (chain, address) without blocking
// the caller, returning a Future the caller can Get later (spec.md §4.1) —
// the handlers use this to overlap the fetch with other setup work before
// they actually need the price.
func (o *Oracle) PreFetchPrice(ctx context.Context, chain models.ChainIdentifier, address string) (*Future, error) {
	td, err := o.GetTokenData(chain, address)
	if err != nil {
		return nil, err
	}
	f := &Future{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.price, f.err = o.GetPrice(ctx, td)
	}()
	return f, nil
}

// resolvePrice returns either the already-resolved preFetch future's price
// or fetches fresh, mirroring the optional preFetch? parameter on both
// conversion entrypoints (spec.md §4.1).
func (o *Oracle) resolvePrice(ctx context.Context, td TokenData, preFetch *Future) (*big.Int, error) {
	if preFetch != nil {
		return preFetch.Get(ctx)
	}
	return o.GetPrice(ctx, td)
}

// GetToBtcSwapAmount converts a token amount into sats: floor((amt*price)
// /10^decimals/10^6), with optional ceiling rounding (spec.md §4.1).
func (o *Oracle) GetToBtcSwapAmount(ctx context.Context, amt *big.Int, chain models.ChainIdentifier, address string, roundUp bool, preFetch *Future) (*big.Int, error) {
	td, err := o.GetTokenData(chain, address)
	if err != nil {
		return nil, err
	}
	price, err := o.resolvePrice(ctx, td, preFetch)
	if err != nil {
		return nil, err
	}

	num := new(big.Int).Mul(amt, price)
	denom := new(big.Int).Mul(pow10(td.Decimals), big.NewInt(config.MsatPerTokenScale))
	if roundUp {
		num.Add(num, new(big.Int).Sub(denom, big.NewInt(1)))
	}
	return new(big.Int).Quo(num, denom), nil
}

// GetFromBtcSwapAmount converts a sat amount into tokens: floor(sat*10^
// decimals*10^6/price), with optional ceiling rounding (spec.md §4.1).
func (o *Oracle) GetFromBtcSwapAmount(ctx context.Context, sat *big.Int, chain models.ChainIdentifier, address string, roundUp bool, preFetch *Future) (*big.Int, error) {
	td, err := o.GetTokenData(chain, address)
	if err != nil {
		return nil, err
	}
	price, err := o.resolvePrice(ctx, td, preFetch)
	if err != nil {
		return nil, err
	}
	if price.Sign() == 0 {
		return nil, fmt.Errorf("%w: zero price for %s", config.ErrPriceFetchFailed, td.CoinGeckoID)
	}

	num := new(big.Int).Mul(sat, pow10(td.Decimals))
	num.Mul(num, big.NewInt(config.MsatPerTokenScale))
	if roundUp {
		num.Add(num, new(big.Int).Sub(price, big.NewInt(1)))
	}
	return new(big.Int).Quo(num, price), nil
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
