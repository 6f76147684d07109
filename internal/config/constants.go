package config

import "time"

// BIP-44 / BIP-84 Derivation Paths for the FromBtc per-swap receive address
// and the reference EVM-style SwapContract adapter's signing key.
const (
	BIP84Purpose    = 84 // BIP-84 purpose for Native SegWit (bech32)
	BTCCoinType     = 0  // m/84'/0'/0'/0/N (mainnet)
	BTCTestCoinType = 1  // m/84'/1'/0'/0/N (testnet)

	BIP44Purpose = 44
	EVMCoinType  = 60 // m/44'/60'/0'/0/N, same coin type on every EVM chain
)

// Price oracle.
const (
	CoinGeckoBaseURL   = "https://api.coingecko.com/api/v3"
	PriceCacheDuration = 15 * time.Second
	FixedPriceCoinIDPrefix = "$fixed-"
	// MsatPerTokenScale is the 10^6 scaling applied before integer-dividing
	// a whole-token price into sat/token or token/sat, per spec.md §4.1.
	MsatPerTokenScale = 1_000_000
	// CoinGeckoRateLimitRPS bounds the public-tier request rate FetchPriceMsat
	// is willing to sustain against CoinGecko's free API.
	CoinGeckoRateLimitRPS = 5
)

// LNProbeRateLimitRPS bounds how often ToBtcLn.PayInvoice's ProbeRoute call
// may hit the Lightning node, independent of how many swaps request quotes
// concurrently.
const LNProbeRateLimitRPS = 10

// Swap timing: grace periods, safety factors and CLTV budgets shared by
// every handler's bound/expiry math (spec.md §4.3-§4.7).
const (
	BitcoinBlocktime        = 10 * time.Minute
	GracePeriod             = 15 * time.Minute
	SafetyFactorPPM         = 2_000_000 // 2x safety margin, expressed in ppm
	MinSendCltv             = 10        // blocks
	MaxUsableCltv           = 500       // blocks
	MinCltvDelta            = 144       // blocks, floor for FromBtcLn hold invoices
	InvoiceCltvDeltaPadding = 5          // blocks added on top of MinCltvDelta
	InvoiceTimeoutSeconds   = 90
)

// Fee, bound and security-deposit math (spec.md §4.3).
const (
	// BoundsSlackPPM is the 5% over/under tolerance (parts-per-million)
	// applied to [min,max] before outright rejection; see DESIGN.md.
	BoundsSlackPPM = 50_000
	PPMDenominator = 1_000_000
	SecondsPerYear = 365 * 24 * 3600
)

// Watchdog / lock leases.
const (
	SwapCheckInterval = 30 * time.Second
	SwapLockLease      = 20 * time.Second
	ClaimTimeout       = 60 * time.Second
	RefundTimeout      = 60 * time.Second
)

// Bitcoin transaction construction (ToBtc coin selection and FromBtc
// Merkle-path math).
const (
	// RequiredBTCConfirmations gates ToBtc's claim-after-send and
	// FromBtc's claim-after-receive on a minimum confirmation depth
	// before either side trusts a Bitcoin transaction as final.
	RequiredBTCConfirmations = 3
	BTCDustThresholdSats   = 546
	BTCTxOverheadWU        = 42 // version + locktime + segwit marker/flag, weight units
	BTCP2WPKHInputNonWitWU = 164
	BTCP2WPKHInputWitWU    = 108
	BTCP2WPKHOutputWU      = 124
	BTCMaxInputsPerTx      = 500
	BTCMaxTxWeight         = 400_000
	BTCMinFeeRate          = 1 // sat/vByte
	BTCDefaultFeeRate      = 10
	// BlackjackThreshold is the extra slack (in sats) blackjack selection
	// tolerates over the exact target before giving up on a no-change fit.
	BlackjackThreshold = BTCDustThresholdSats
)

// Server.
const (
	ServerPort           = 8080
	ServerReadTimeout    = 30 * time.Second
	ServerWriteTimeout   = 60 * time.Second
	ServerIdleTimeout    = 120 * time.Second
	ServerMaxHeaderBytes = 1 << 20
	ShutdownTimeout      = 30 * time.Second
	APITimeout           = 30 * time.Second
)

// Logging.
const (
	LogDir         = "./logs"
	LogFilePattern = "swapserver-%s-%s.log" // date, level
	LogMaxAgeDays  = 30
)

// Storage.
const (
	DBPath        = "./data/swaps.sqlite"
	DBBusyTimeout = 5000 // milliseconds
)

// InfoHandler.
const (
	InfoNonceMaxHexChars = 64
)
