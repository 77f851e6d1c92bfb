package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
)

// ErrInvalidNonce indicates a nonce whose length does not match the
// policy's requirement.
var ErrInvalidNonce = errors.New("invalid nonce")

// NewNonce generates a cryptographically random nonce of the length the
// policy requires. PolicyNone yields a nil nonce.
func NewNonce(policy SecurityPolicy) ([]byte, error) {
	n := policy.NonceLength()
	if n == 0 {
		return nil, nil
	}
	nonce := make([]byte, n)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return nonce, nil
}

// ValidateNonce checks that a received nonce matches the policy's required
// length.
func ValidateNonce(policy SecurityPolicy, nonce []byte) error {
	want := policy.NonceLength()
	if len(nonce) != want {
		return fmt.Errorf("%w: length %d, want %d", ErrInvalidNonce, len(nonce), want)
	}
	return nil
}
