package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/atomicbridge/swapserver/internal/config"
)

// msatPerBTC is the fixed unit conversion: 1 BTC = 1e8 sat = 1e11 msat.
const msatPerBTC = 1e11

// bitcoinCoinGeckoID is CoinGecko's coin id for BTC, used as the
// cross-rate denominator so every token price resolves to msat (a Bitcoin
// unit) rather than USD.
const bitcoinCoinGeckoID = "bitcoin"

// CoinGeckoFetcher is the reference Fetcher implementation: it calls
// CoinGecko's /simple/price endpoint for coinID and bitcoin in the same
// request and cross-rates tokenUSD/btcUSD into msat per whole token.
type CoinGeckoFetcher struct {
	client  *http.Client
	baseURL string
	apiKey  string // Pro-tier "x-cg-pro-api-key" header; empty uses the public rate limit
	limiter *rate.Limiter
}

// NewCoinGeckoFetcher builds a CoinGeckoFetcher against the default
// CoinGecko API base URL. apiKey may be empty to use the public tier.
func NewCoinGeckoFetcher(apiKey string) *CoinGeckoFetcher {
	return &CoinGeckoFetcher{
		client:  &http.Client{Timeout: config.APITimeout},
		baseURL: config.CoinGeckoBaseURL,
		apiKey:  apiKey,
		limiter: rate.NewLimiter(rate.Limit(config.CoinGeckoRateLimitRPS), 1),
	}
}

// NewCoinGeckoFetcherWithURL builds a CoinGeckoFetcher against a custom
// base URL (for testing against a local stub server).
func NewCoinGeckoFetcherWithURL(baseURL string) *CoinGeckoFetcher {
	return &CoinGeckoFetcher{
		client:  &http.Client{Timeout: config.APITimeout},
		baseURL: baseURL,
		limiter: rate.NewLimiter(rate.Limit(config.CoinGeckoRateLimitRPS), 1),
	}
}

type coinGeckoSimplePriceResponse map[string]map[string]float64

// FetchPriceMsat fetches coinID's USD price alongside BTC's, then
// cross-rates them into msat/whole-token (spec.md §4.1 denominates prices
// in msat/whole-token, and 1 BTC = 1e11 msat).
func (f *CoinGeckoFetcher) FetchPriceMsat(ctx context.Context, coinID string) (*big.Int, error) {
	if coinID == bitcoinCoinGeckoID {
		return big.NewInt(msatPerBTC), nil
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limit wait: %v", config.ErrPriceFetchFailed, err)
	}

	url := fmt.Sprintf("%s/simple/price?ids=%s,%s&vs_currencies=usd", f.baseURL, coinID, bitcoinCoinGeckoID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create price request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if f.apiKey != "" {
		req.Header.Set("x-cg-pro-api-key", f.apiKey)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		slog.Error("coingecko request failed", "coinID", coinID, "error", err)
		return nil, fmt.Errorf("%w: %v", config.ErrPriceFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Error("coingecko non-200 response", "coinID", coinID, "status", resp.StatusCode)
		return nil, fmt.Errorf("%w: HTTP %d", config.ErrPriceFetchFailed, resp.StatusCode)
	}

	var body coinGeckoSimplePriceResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode error: %v", config.ErrPriceFetchFailed, err)
	}

	tokenUSD, ok := body[coinID]["usd"]
	if !ok {
		return nil, fmt.Errorf("%w: coingecko missing usd quote for %s", config.ErrPriceFetchFailed, coinID)
	}
	btcUSD, ok := body[bitcoinCoinGeckoID]["usd"]
	if !ok || btcUSD == 0 {
		return nil, fmt.Errorf("%w: coingecko missing usd quote for bitcoin", config.ErrPriceFetchFailed)
	}

	slog.Debug("coingecko price fetched",
		"coinID", coinID, "usd", tokenUSD, "btcUSD", btcUSD,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)

	msatPerToken := new(big.Float).Quo(big.NewFloat(tokenUSD), big.NewFloat(btcUSD))
	msatPerToken.Mul(msatPerToken, big.NewFloat(msatPerBTC))
	price, _ := msatPerToken.Int(nil)
	return price, nil
}
