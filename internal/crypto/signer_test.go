package crypto

import (
	"encoding/hex"
	"strings"
	"testing"
)

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := NewSigner(testKeyHex, 137)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	return s
}

func TestSignerAddress(t *testing.T) {
	s := newTestSigner(t)
	want := "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	if got := s.Address().Hex(); got != want {
		t.Errorf("Address = %s, want %s", got, want)
	}
}

func TestNewSignerRejectsBadKey(t *testing.T) {
	if _, err := NewSigner("nothex", 137); err == nil {
		t.Error("expected error for invalid key")
	}
}

func TestSignAuthMessage(t *testing.T) {
	s := newTestSigner(t)

	sig, err := s.SignAuthMessage(s.Address().Hex(), 1700000000, 0)
	if err != nil {
		t.Fatalf("SignAuthMessage: %v", err)
	}
	assertSignature(t, sig)

	// Same inputs sign deterministically; a different timestamp must not.
	again, err := s.SignAuthMessage(s.Address().Hex(), 1700000000, 0)
	if err != nil {
		t.Fatalf("SignAuthMessage: %v", err)
	}
	if sig != again {
		t.Error("same message produced different signatures")
	}
	other, err := s.SignAuthMessage(s.Address().Hex(), 1700000001, 0)
	if err != nil {
		t.Fatalf("SignAuthMessage: %v", err)
	}
	if sig == other {
		t.Error("different timestamps produced the same signature")
	}
}

func TestSignOrder(t *testing.T) {
	s := newTestSigner(t)
	order := OrderPayload{
		Salt:        "123456",
		Maker:       s.Address().Hex(),
		Signer:      s.Address().Hex(),
		Taker:       "0x0000000000000000000000000000000000000000",
		TokenID:     "71321045679252212594626385532706912750332728571942532289631379312455583992563",
		MakerAmount: "40000000",
		TakerAmount: "50000000",
		Expiration:  "0",
		Nonce:       "0",
		FeeRateBps:  "0",
		Side:        0,
	}

	sig, err := s.SignOrder(order)
	if err != nil {
		t.Fatalf("SignOrder: %v", err)
	}
	assertSignature(t, sig)
}

func TestSignOrderRejectsBadNumbers(t *testing.T) {
	s := newTestSigner(t)
	if _, err := s.SignOrder(OrderPayload{Salt: "abc"}); err == nil {
		t.Error("expected error for non-decimal salt")
	}
}

func assertSignature(t *testing.T, sig string) {
	t.Helper()
	if !strings.HasPrefix(sig, "0x") {
		t.Fatalf("signature missing 0x prefix: %s", sig)
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	if err != nil {
		t.Fatalf("signature is not hex: %v", err)
	}
	if len(raw) != 65 {
		t.Fatalf("signature length = %d, want 65", len(raw))
	}
	if v := raw[64]; v != 27 && v != 28 {
		t.Errorf("recovery byte = %d, want 27 or 28", v)
	}
}
