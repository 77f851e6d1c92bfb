package crypto

import (
	"bytes"
	"crypto/sha256"
	"testing"
)

func TestPSHADeterministic(t *testing.T) {
	secret := []byte("secret nonce material")
	seed := []byte("seed nonce material")

	a := PSHA(sha256.New, secret, seed, 80)
	b := PSHA(sha256.New, secret, seed, 80)

	if !bytes.Equal(a, b) {
		t.Fatal("PSHA output not deterministic for identical inputs")
	}
	if len(a) != 80 {
		t.Fatalf("PSHA output length = %d, want 80", len(a))
	}
}

func TestPSHAPrefixProperty(t *testing.T) {
	secret := []byte("secret")
	seed := []byte("seed")

	long := PSHA(sha256.New, secret, seed, 96)
	short := PSHA(sha256.New, secret, seed, 40)

	if !bytes.Equal(long[:40], short) {
		t.Fatal("shorter PSHA expansion is not a prefix of the longer one")
	}
}

func TestPSHADifferentInputsDiffer(t *testing.T) {
	seed := []byte("seed")

	a := PSHA(sha256.New, []byte("secret-a"), seed, 32)
	b := PSHA(sha256.New, []byte("secret-b"), seed, 32)

	if bytes.Equal(a, b) {
		t.Fatal("PSHA output identical for different secrets")
	}
}

func TestPSHAZeroLength(t *testing.T) {
	if out := PSHA(sha256.New, []byte("s"), []byte("x"), 0); out != nil {
		t.Fatalf("PSHA with zero length = %v, want nil", out)
	}
}

func TestHKDFExpandDeterministic(t *testing.T) {
	secret := []byte("secret nonce material")
	seed := []byte("seed nonce material")

	a := HKDFExpand(sha256.New, secret, seed, 80)
	b := HKDFExpand(sha256.New, secret, seed, 80)

	if !bytes.Equal(a, b) {
		t.Fatal("HKDF output not deterministic for identical inputs")
	}
	if bytes.Equal(a, PSHA(sha256.New, secret, seed, 80)) {
		t.Fatal("HKDF and PSHA produced identical output")
	}
}
