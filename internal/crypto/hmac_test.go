package crypto

import (
	"strings"
	"testing"
)

func TestL2HeadersAtSignature(t *testing.T) {
	auth := &HMACAuth{
		Key:        "api-key-1",
		Secret:     "d2hhbGUtc2VjcmV0LWJ5dGVz",
		Passphrase: "pass",
	}

	headers := auth.L2HeadersAt("0xabc", "GET", "/orders", "", 1700000000)

	if got := headers["POLY_ADDRESS"]; got != "0xabc" {
		t.Errorf("POLY_ADDRESS = %q", got)
	}
	if got := headers["POLY_API_KEY"]; got != "api-key-1" {
		t.Errorf("POLY_API_KEY = %q", got)
	}
	if got := headers["POLY_TIMESTAMP"]; got != "1700000000" {
		t.Errorf("POLY_TIMESTAMP = %q", got)
	}
	if got := headers["POLY_PASSPHRASE"]; got != "pass" {
		t.Errorf("POLY_PASSPHRASE = %q", got)
	}
	want := "kg1D3+xdJB95QCWWtV67xamO1tWKSqdyG8eRHiaLI4o="
	if got := headers["POLY_SIGNATURE"]; got != want {
		t.Errorf("POLY_SIGNATURE = %q, want %q", got, want)
	}
}

func TestL2HeadersAtRawSecretFallback(t *testing.T) {
	auth := &HMACAuth{Key: "k", Secret: "not base64!!", Passphrase: "p"}

	headers := auth.L2HeadersAt("0xdef", "POST", "/order", `{"x":1}`, 1700000000)

	want := "DZq0z04nmPuW5xddldjOf16wP7FQuAUMQIGwAVsbtRA="
	if got := headers["POLY_SIGNATURE"]; got != want {
		t.Errorf("POLY_SIGNATURE = %q, want %q", got, want)
	}
}

func TestL2HeadersSignatureVariesWithTimestamp(t *testing.T) {
	auth := &HMACAuth{Key: "k", Secret: "d2hhbGUtc2VjcmV0LWJ5dGVz", Passphrase: "p"}

	a := auth.L2HeadersAt("0xabc", "GET", "/orders", "", 1700000000)
	b := auth.L2HeadersAt("0xabc", "GET", "/orders", "", 1700000001)
	if a["POLY_SIGNATURE"] == b["POLY_SIGNATURE"] {
		t.Error("signatures should differ across timestamps")
	}
}

func TestHMACAuthStringRedacts(t *testing.T) {
	auth := &HMACAuth{Key: "api-key-1", Secret: "super-secret-value"}
	s := auth.String()
	if strings.Contains(s, "super-secret-value") {
		t.Errorf("String() leaked secret: %s", s)
	}
	if !strings.Contains(s, "api-****") && !strings.Contains(s, "api-") {
		t.Errorf("String() = %s", s)
	}
}
