package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchPriceMsat_CrossRate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]map[string]float64{
			"binancecoin": {"usd": 500},
			"bitcoin":     {"usd": 100000},
		})
	}))
	defer srv.Close()

	f := NewCoinGeckoFetcherWithURL(srv.URL)
	price, err := f.FetchPriceMsat(context.Background(), "binancecoin")
	if err != nil {
		t.Fatalf("FetchPriceMsat() error = %v", err)
	}

	// 500/100000 BTC per token * 1e11 msat/BTC = 5e8 msat/token.
	want := int64(500_000_000)
	if price.Int64() != want {
		t.Errorf("price = %s, want %d", price.String(), want)
	}
}

func TestFetchPriceMsat_BitcoinShortCircuit(t *testing.T) {
	f := NewCoinGeckoFetcherWithURL("http://unused.invalid")
	price, err := f.FetchPriceMsat(context.Background(), bitcoinCoinGeckoID)
	if err != nil {
		t.Fatalf("FetchPriceMsat() error = %v", err)
	}
	if price.Int64() != msatPerBTC {
		t.Errorf("price = %s, want %d", price.String(), int64(msatPerBTC))
	}
}

func TestFetchPriceMsat_MissingQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]map[string]float64{
			"bitcoin": {"usd": 100000},
		})
	}))
	defer srv.Close()

	f := NewCoinGeckoFetcherWithURL(srv.URL)
	_, err := f.FetchPriceMsat(context.Background(), "missingcoin")
	if err == nil {
		t.Fatal("expected error for missing token quote")
	}
}

func TestFetchPriceMsat_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	f := NewCoinGeckoFetcherWithURL(srv.URL)
	_, err := f.FetchPriceMsat(context.Background(), "binancecoin")
	if err == nil {
		t.Fatal("expected error for HTTP 429")
	}
}
