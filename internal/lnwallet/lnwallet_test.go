package lnwallet

import (
	"context"
	"testing"
)

func TestCreateHoldInvoice_LookupRoundTrip(t *testing.T) {
	w := NewInMemoryWallet(800_000)
	var hash [32]byte
	hash[0] = 0xaa

	inv, err := w.CreateHoldInvoice(context.Background(), HoldInvoiceParams{
		PaymentHash: hash,
		AmountMsat:  10_000_000,
		CltvDelta:   144,
		ExpiresAt:   1_800_000_000,
	})
	if err != nil {
		t.Fatalf("CreateHoldInvoice() error = %v", err)
	}
	if inv.State != InvoicePending {
		t.Errorf("state = %v, want InvoicePending", inv.State)
	}

	got, err := w.LookupInvoice(context.Background(), hash)
	if err != nil {
		t.Fatalf("LookupInvoice() error = %v", err)
	}
	if got.PR != inv.PR {
		t.Errorf("PR mismatch: %s vs %s", got.PR, inv.PR)
	}
}

func TestSettleHoldInvoice_UnknownHash(t *testing.T) {
	w := NewInMemoryWallet(0)
	var hash [32]byte
	if err := w.SettleHoldInvoice(context.Background(), hash, "secret"); err != ErrInvoiceNotFound {
		t.Fatalf("err = %v, want ErrInvoiceNotFound", err)
	}
}

func TestMarkHeldThenSettle(t *testing.T) {
	w := NewInMemoryWallet(800_000)
	var hash [32]byte
	hash[0] = 0xbb
	if _, err := w.CreateHoldInvoice(context.Background(), HoldInvoiceParams{PaymentHash: hash}); err != nil {
		t.Fatalf("CreateHoldInvoice() error = %v", err)
	}
	if err := w.MarkHeld(hash, 800_150); err != nil {
		t.Fatalf("MarkHeld() error = %v", err)
	}

	inv, err := w.LookupInvoice(context.Background(), hash)
	if err != nil {
		t.Fatalf("LookupInvoice() error = %v", err)
	}
	if inv.State != InvoiceHeld || inv.HeldCltvExpiry != 800_150 {
		t.Errorf("invoice = %+v, want Held at 800150", inv)
	}

	if err := w.SettleHoldInvoice(context.Background(), hash, "cafebabe"); err != nil {
		t.Fatalf("SettleHoldInvoice() error = %v", err)
	}
	inv, _ = w.LookupInvoice(context.Background(), hash)
	if inv.State != InvoiceSettled || inv.Secret != "cafebabe" {
		t.Errorf("invoice = %+v, want Settled with secret cafebabe", inv)
	}
}

func TestProbeRoute_NoRoute(t *testing.T) {
	w := NewInMemoryWallet(0)
	route, err := w.ProbeRoute(context.Background(), "lnbc1punknown", 1000, 900_000)
	if err != nil {
		t.Fatalf("ProbeRoute() error = %v", err)
	}
	if route != nil {
		t.Errorf("route = %+v, want nil (no route)", route)
	}
}

func TestSubscribeToPastPayment_DeliversUpdate(t *testing.T) {
	w := NewInMemoryWallet(0)
	var hash [32]byte
	hash[0] = 0xcc

	ch, err := w.SubscribeToPastPayment(context.Background(), hash)
	if err != nil {
		t.Fatalf("SubscribeToPastPayment() error = %v", err)
	}
	w.ResolvePayment(hash, PaymentUpdate{PaymentHash: hash, Succeeded: true, FeeMsat: 500})

	update := <-ch
	if !update.Succeeded || update.FeeMsat != 500 {
		t.Errorf("update = %+v, want Succeeded with FeeMsat=500", update)
	}
}
