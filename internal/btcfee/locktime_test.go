package btcfee

import "testing"

func TestEncodeDecodeNonce_RoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 0xFFFFFFFF, 0x7FFFFFFFFFFFFFFF, 123456789}
	for _, nonce := range cases {
		lockTime, sequence := EncodeNonce(nonce)
		got := DecodeNonce(lockTime, sequence)
		if got != nonce {
			t.Errorf("EncodeNonce/DecodeNonce(%d) round trip = %d", nonce, got)
		}
	}
}

func TestEncodeNonce_SetsDisableRelativeLocktimeBit(t *testing.T) {
	_, sequence := EncodeNonce(42)
	if sequence&sequenceDisableRelativeLocktime == 0 {
		t.Errorf("sequence %#x does not have the disable-relative-locktime bit set", sequence)
	}
}

func TestHashForOnchain_Deterministic(t *testing.T) {
	script := []byte{0x00, 0x14, 0x01, 0x02, 0x03}
	h1 := HashForOnchain(100_000, script, 7)
	h2 := HashForOnchain(100_000, script, 7)
	if h1 != h2 {
		t.Errorf("HashForOnchain not deterministic: %x != %x", h1, h2)
	}

	h3 := HashForOnchain(100_000, script, 8)
	if h1 == h3 {
		t.Errorf("HashForOnchain ignored nonce difference")
	}
}
