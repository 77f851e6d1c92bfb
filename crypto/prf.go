package crypto

import (
	"crypto/hmac"
	"hash"
	"io"

	"golang.org/x/crypto/hkdf"
)

// PSHA is the pseudo-random function deriving symmetric key material from
// the nonces exchanged during an open secure channel exchange. It expands
// secret and seed into length bytes using iterated HMAC:
//
//	A(0) = seed
//	A(n) = HMAC(secret, A(n-1))
//	out  = HMAC(secret, A(1) || seed) || HMAC(secret, A(2) || seed) || ...
func PSHA(newHash func() hash.Hash, secret, seed []byte, length int) []byte {
	if length <= 0 {
		return nil
	}
	out := make([]byte, 0, length)
	a := hmacSum(newHash, secret, seed)
	for len(out) < length {
		h := hmac.New(newHash, secret)
		h.Write(a)
		h.Write(seed)
		out = h.Sum(out)
		a = hmacSum(newHash, secret, a)
	}
	return out[:length]
}

func hmacSum(newHash func() hash.Hash, key, data []byte) []byte {
	h := hmac.New(newHash, key)
	h.Write(data)
	return h.Sum(nil)
}

// HKDFExpand derives length bytes from secret and seed using HKDF over the
// given hash. This is the derivation used by the elliptic-curve profile
// family, where the seed doubles as the HKDF salt.
func HKDFExpand(newHash func() hash.Hash, secret, seed []byte, length int) []byte {
	if length <= 0 {
		return nil
	}
	out := make([]byte, length)
	r := hkdf.New(newHash, secret, seed, nil)
	if _, err := io.ReadFull(r, out); err != nil {
		// The HKDF reader only fails when asked for more output than the
		// hash can expand, which the fixed key sizes never do.
		panic(err)
	}
	return out
}
