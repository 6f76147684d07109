package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/atomicbridge/swapserver/internal/btcrpc"
	"github.com/atomicbridge/swapserver/internal/chainref"
	"github.com/atomicbridge/swapserver/internal/config"
	"github.com/atomicbridge/swapserver/internal/handlers/frombtc"
	"github.com/atomicbridge/swapserver/internal/handlers/frombtcln"
	"github.com/atomicbridge/swapserver/internal/handlers/info"
	"github.com/atomicbridge/swapserver/internal/handlers/tobtc"
	"github.com/atomicbridge/swapserver/internal/handlers/tobtcln"
	"github.com/atomicbridge/swapserver/internal/httpapi"
	"github.com/atomicbridge/swapserver/internal/lnwallet"
	"github.com/atomicbridge/swapserver/internal/logging"
	"github.com/atomicbridge/swapserver/internal/models"
	"github.com/atomicbridge/swapserver/internal/oracle"
	"github.com/atomicbridge/swapserver/internal/storage"
	"github.com/atomicbridge/swapserver/internal/storage/sqlitestore"
	"github.com/atomicbridge/swapserver/internal/swapbase"
	"github.com/atomicbridge/swapserver/internal/swapcontract"
	"github.com/atomicbridge/swapserver/internal/swaplock"
	"github.com/atomicbridge/swapserver/internal/wallet"
)

var version = "dev"

func main() {
	if len(os.Args) >= 2 && os.Args[1] == "version" {
		fmt.Printf("swapserver %s\n", version)
		return
	}
	if err := run(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logCloser, err := logging.Setup(cfg.LogLevel, cfg.LogDir)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer logCloser.Close()

	slog.Info("starting swapserver",
		"version", version,
		"network", cfg.Network,
		"port", cfg.Port,
		"dbPath", cfg.DBPath,
		"chains", cfg.Chains,
	)

	store, err := sqlitestore.Open(cfg.DBPath, config.DBBusyTimeout)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	slog.Info("storage opened", "path", cfg.DBPath)

	registry, signers, err := buildRegistry(cfg)
	if err != nil {
		return fmt.Errorf("build chain registry: %w", err)
	}

	priceFetcher := oracle.NewCoinGeckoFetcher(cfg.CoinGeckoAPIKey)
	priceOracle := oracle.New(priceFetcher, allTokens(registry))

	locker := swaplock.New()
	vault := swapbase.NewStaticVault(big.NewInt(cfg.MaxSwapSats * 1000))

	schedule := swapbase.FeeSchedule{
		BaseFeeSats: cfg.SwapBaseFeeSats,
		FeePPM:      cfg.SwapFeePPM,
		MinSats:     cfg.MinSwapSats,
		MaxSats:     cfg.MaxSwapSats,
		APY:         cfg.SecurityDepositAPY,
	}

	netParams := wallet.NetworkParams(cfg.Network)

	btcKeys := wallet.NewKeyService(cfg.MnemonicFile, cfg.Network)

	startIndex, err := nextFreeAddressIndex(context.Background(), store)
	if err != nil {
		return fmt.Errorf("recover address allocator state: %w", err)
	}
	btcMasterKey, err := deriveBTCMasterKey(cfg, netParams)
	if err != nil {
		return fmt.Errorf("derive BTC master key: %w", err)
	}
	allocator := wallet.NewAllocator(btcMasterKey, netParams, startIndex)
	slog.Info("BTC address allocator ready", "startIndex", startIndex)

	// Chain connectivity (a real Bitcoin node and Lightning node) is
	// explicitly out of scope; the in-memory fakes stand in for them
	// here exactly as they do in tests.
	btcRPC := btcrpc.NewInMemoryRpc(0)
	ln := lnwallet.NewInMemoryWallet(0)

	baseFor := func(kind string) swapbase.SwapHandlerBase {
		return swapbase.SwapHandlerBase{
			Registry: registry,
			Storage:  store,
			Locker:   locker,
			Oracle:   priceOracle,
			Vault:    vault,
			Kind:     kind,
		}
	}

	toBtcLn := tobtcln.New(baseFor(tobtcln.Kind), ln, schedule)
	fromBtcLn := frombtcln.New(baseFor(frombtcln.Kind), ln, schedule)
	toBtc := tobtc.New(baseFor(tobtc.Kind), btcRPC, btcKeys, allocator, netParams, schedule)
	fromBtc := frombtc.New(baseFor(frombtc.Kind), btcRPC, allocator, netParams, schedule)

	infoHandler := info.New(
		[]info.Provider{toBtcLn, fromBtcLn, toBtc, fromBtc},
		signers,
	)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	watchdogs := []*swapbase.Watchdog{
		swapbase.NewWatchdog(store, tobtcln.Kind, config.SwapCheckInterval, toBtcLn.Watch),
		swapbase.NewWatchdog(store, frombtcln.Kind, config.SwapCheckInterval, fromBtcLn.Watch),
		swapbase.NewWatchdog(store, tobtc.Kind, config.SwapCheckInterval, toBtc.Watch),
		swapbase.NewWatchdog(store, frombtc.Kind, config.SwapCheckInterval, fromBtc.Watch),
	}
	for _, wd := range watchdogs {
		go wd.Run(rootCtx)
	}
	slog.Info("watchdogs started, running initial reconciliation pass", "count", len(watchdogs))

	dispatch := newEventDispatcher(store, toBtcLn, fromBtcLn, toBtc, fromBtc)
	for _, chain := range registry.Chains() {
		contract, err := registry.Contract(chain)
		if err != nil {
			return fmt.Errorf("resolve contract for chain %q: %w", chain, err)
		}
		router := swapbase.NewEventRouter(contract, dispatch)
		go func(chain models.ChainIdentifier, router *swapbase.EventRouter) {
			if err := router.Run(rootCtx, 0); err != nil && rootCtx.Err() == nil {
				slog.Error("event router stopped", "chain", chain, "error", err)
			}
		}(chain, router)
	}
	slog.Info("event routers started", "chains", registry.Chains())

	deps := &httpapi.Dependencies{
		Info:      infoHandler,
		ToBtcLn:   toBtcLn,
		FromBtcLn: fromBtcLn,
		ToBtc:     toBtc,
		FromBtc:   fromBtc,
	}
	router := httpapi.NewRouter("/swap", deps)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:           addr,
		Handler:        router,
		ReadTimeout:    config.ServerReadTimeout,
		WriteTimeout:   config.ServerWriteTimeout,
		IdleTimeout:    config.ServerIdleTimeout,
		MaxHeaderBytes: config.ServerMaxHeaderBytes,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("initiating graceful shutdown", "timeout", config.ShutdownTimeout)

	rootCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// buildRegistry derives one EVM signing key per configured chain and
// wires a swapbase.Registry plus the per-chain signers InfoHandler
// attests with. Chains are processed in sorted order so key-index
// assignment is deterministic across restarts.
func buildRegistry(cfg *config.Config) (*swapbase.Registry, map[models.ChainIdentifier]info.ChainSigner, error) {
	chains := append([]string(nil), cfg.Chains...)
	sort.Strings(chains)

	evmKeys := chainref.NewKeyService(cfg.MnemonicFile)
	bindings := make(map[models.ChainIdentifier]swapbase.ChainBinding, len(chains))
	signers := make(map[models.ChainIdentifier]info.ChainSigner, len(chains))

	for i, chainStr := range chains {
		chain := models.ChainIdentifier(chainStr)
		priv, addr, err := evmKeys.DerivePrivateKey(context.Background(), uint32(i))
		if err != nil {
			return nil, nil, fmt.Errorf("derive signing key for chain %q: %w", chain, err)
		}
		contract := chainref.New(chain, priv)
		bindings[chain] = swapbase.ChainBinding{Contract: contract, Tokens: nil}
		signers[chain] = contract
		slog.Info("chain registered", "chain", chain, "address", addr.Hex())
	}

	return swapbase.NewRegistry(bindings), signers, nil
}

func allTokens(registry *swapbase.Registry) []oracle.TokenData {
	var out []oracle.TokenData
	for _, chain := range registry.Chains() {
		out = append(out, registry.Tokens(chain)...)
	}
	return out
}

// deriveBTCMasterKey reads the configured mnemonic once at startup and
// derives the BIP-84 master key the address allocator walks from.
func deriveBTCMasterKey(cfg *config.Config, net *chaincfg.Params) (*hdkeychain.ExtendedKey, error) {
	mnemonic, err := wallet.ReadMnemonicFromFile(cfg.MnemonicFile)
	if err != nil {
		return nil, fmt.Errorf("read mnemonic: %w", err)
	}
	seed, err := wallet.MnemonicToSeed(mnemonic)
	if err != nil {
		return nil, fmt.Errorf("mnemonic to seed: %w", err)
	}
	return wallet.DeriveMasterKey(seed, net)
}

// nextFreeAddressIndex scans every persisted FromBtc swap for the
// highest receive-address index used so far, so a restart resumes the
// allocator past it instead of reusing an address.
func nextFreeAddressIndex(ctx context.Context, store storage.IntermediaryStorage) (uint32, error) {
	recs, err := store.LoadAll(ctx, frombtc.Kind)
	if err != nil {
		return 0, fmt.Errorf("load frombtc swaps: %w", err)
	}
	var maxIndex uint32
	seen := false
	for _, rec := range recs {
		var swap models.FromBtcSwap
		if err := json.Unmarshal(rec.Payload, &swap); err != nil {
			continue
		}
		if !seen || swap.AddressIndex > maxIndex {
			maxIndex = swap.AddressIndex
			seen = true
		}
	}
	if !seen {
		return 0, nil
	}
	return maxIndex + 1, nil
}

// newEventDispatcher routes a SwapContract event to whichever handler
// persisted the matching identity, since one EventRouter serves every
// handler kind active on its chain.
func newEventDispatcher(store storage.IntermediaryStorage, toBtcLn *tobtcln.Handler, fromBtcLn *frombtcln.Handler, toBtc *tobtc.Handler, fromBtc *frombtc.Handler) func(ctx context.Context, ev swapcontract.Event) error {
	return func(ctx context.Context, ev swapcontract.Event) error {
		id := models.SwapIdentity{
			ChainIdentifier: ev.ChainID,
			PaymentHash:     ev.PaymentHash,
			Sequence:        ev.Sequence,
			HasSequence:     ev.HasSequence,
		}
		rec, err := store.Get(ctx, id)
		if err == storage.ErrNotFound {
			slog.Warn("event for unknown swap identity, dropping", "identity", id.String(), "kind", ev.Kind)
			return nil
		}
		if err != nil {
			return fmt.Errorf("load swap %s for event dispatch: %w", id, err)
		}

		switch rec.HandlerKind {
		case tobtcln.Kind:
			return toBtcLn.HandleEvent(ctx, ev)
		case frombtcln.Kind:
			return fromBtcLn.HandleEvent(ctx, ev)
		case tobtc.Kind:
			return toBtc.HandleEvent(ctx, ev)
		case frombtc.Kind:
			return fromBtc.HandleEvent(ctx, ev)
		default:
			return fmt.Errorf("event dispatch: unknown handler kind %q for swap %s", rec.HandlerKind, id)
		}
	}
}
