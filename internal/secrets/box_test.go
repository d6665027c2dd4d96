package secrets

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stitchcal/stitch/internal/core"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestSealOpenRoundTrip(t *testing.T) {
	box, err := NewBox(testKey)
	if err != nil {
		t.Fatalf("NewBox: %v", err)
	}

	plain := []byte("refresh-token-value")
	sealed, err := box.Seal(plain)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if bytes.Contains(sealed, plain) {
		t.Error("ciphertext contains the plaintext")
	}

	opened, err := box.Open(sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(opened, plain) {
		t.Errorf("opened %q, want %q", opened, plain)
	}
}

func TestSealIsNonDeterministic(t *testing.T) {
	box, _ := NewBox(testKey)

	a, _ := box.Seal([]byte("same"))
	b, _ := box.Seal([]byte("same"))
	if bytes.Equal(a, b) {
		t.Error("two seals of the same plaintext are identical; nonce reuse")
	}
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	box, _ := NewBox(testKey)

	sealed, _ := box.Seal([]byte("secret"))
	sealed[len(sealed)-1] ^= 0x01
	if _, err := box.Open(sealed); err == nil {
		t.Error("tampered ciphertext opened")
	}
}

func TestOpenRejectsTruncatedBlob(t *testing.T) {
	box, _ := NewBox(testKey)
	if _, err := box.Open([]byte("short")); err == nil {
		t.Error("truncated blob opened")
	}
}

func TestNewBoxRejectsBadKeys(t *testing.T) {
	if _, err := NewBox("not-hex"); err == nil {
		t.Error("non-hex key accepted")
	}
	if _, err := NewBox(strings.Repeat("ab", 16)); err == nil {
		t.Error("16-byte key accepted, want 32 bytes required")
	}
}

func TestCredentialsRoundTrip(t *testing.T) {
	box, _ := NewBox(testKey)

	in := core.Credentials{
		AccessToken:  "access",
		RefreshToken: "refresh",
		Expiry:       time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC),
		Username:     "user@example.com",
		Password:     "app-specific",
	}

	sealed, err := box.SealCredentials(in)
	if err != nil {
		t.Fatalf("SealCredentials: %v", err)
	}
	out, err := box.OpenCredentials(sealed)
	if err != nil {
		t.Fatalf("OpenCredentials: %v", err)
	}
	if out != in {
		t.Errorf("round trip changed credentials: %+v != %+v", out, in)
	}
}
