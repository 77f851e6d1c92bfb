package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedPolicy indicates a policy with no registered provider.
	ErrUnsupportedPolicy = errors.New("unsupported security policy")

	// ErrSecurityChecksFailed is the single error returned for signature,
	// decryption and padding failures. The failing check is deliberately
	// not distinguished.
	ErrSecurityChecksFailed = errors.New("security checks failed")

	// ErrInvalidKey indicates key material of the wrong length for the
	// policy.
	ErrInvalidKey = errors.New("invalid key material")

	// ErrInvalidBlockSize indicates ciphertext or plaintext that is not a
	// whole number of cipher blocks.
	ErrInvalidBlockSize = errors.New("input not block aligned")
)

// KeyDerivation selects the pseudo-random function used to expand nonces
// into key material.
type KeyDerivation int

const (
	// DerivePSHA uses the iterated-HMAC pseudo-random function.
	DerivePSHA KeyDerivation = iota
	// DeriveHKDF uses HKDF expansion, as in the elliptic-curve profiles.
	DeriveHKDF
)

// Provider exposes the symmetric cryptographic capabilities of one
// security policy. Implementations are stateless and safe for concurrent
// use.
type Provider interface {
	// Policy returns the policy this provider implements.
	Policy() SecurityPolicy
	// SignatureSize returns the symmetric signature length in bytes, zero
	// for PolicyNone.
	SignatureSize() int
	// EncryptionBlockSize returns the cipher block size, zero for
	// PolicyNone.
	EncryptionBlockSize() int
	// NonceLength returns the required nonce length for key derivation.
	NonceLength() int
	// DeriveKeys expands secret and seed into a set of derived keys.
	DeriveKeys(secret, seed []byte) *DerivedKeys
	// SymmetricSign computes the signature of data under key.
	SymmetricSign(key, data []byte) ([]byte, error)
	// SymmetricVerify checks signature against data in constant time.
	SymmetricVerify(key, data, signature []byte) error
	// SymmetricEncrypt encrypts src, which must be block aligned.
	SymmetricEncrypt(key, iv, src []byte) ([]byte, error)
	// SymmetricDecrypt decrypts src, which must be block aligned.
	SymmetricDecrypt(key, iv, src []byte) ([]byte, error)
}

// ProviderOption configures a Provider.
type ProviderOption func(*policyProvider)

// WithKeyDerivation selects the key derivation function. The default is
// DerivePSHA.
func WithKeyDerivation(d KeyDerivation) ProviderOption {
	return func(p *policyProvider) { p.derivation = d }
}

// NewProvider returns the provider for the given policy.
func NewProvider(policy SecurityPolicy, opts ...ProviderOption) (Provider, error) {
	params, ok := policyTable[policy]
	if !ok || policy == PolicyInvalid {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPolicy, policy)
	}
	p := &policyProvider{policy: policy, params: params}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// policyProvider implements Provider for the HMAC/AES-CBC policy family.
type policyProvider struct {
	policy     SecurityPolicy
	params     policyParams
	derivation KeyDerivation
}

func (p *policyProvider) Policy() SecurityPolicy    { return p.policy }
func (p *policyProvider) SignatureSize() int        { return p.params.signatureSize }
func (p *policyProvider) EncryptionBlockSize() int  { return p.params.blockSize }
func (p *policyProvider) NonceLength() int          { return p.params.nonceLen }

// DeriveKeys expands the secret/seed pair into signing key, encryption key
// and IV, in that order, from one continuous output stream.
func (p *policyProvider) DeriveKeys(secret, seed []byte) *DerivedKeys {
	total := p.params.signingKeyLen + p.params.encryptKeyLen + p.params.blockSize
	if total == 0 {
		return &DerivedKeys{}
	}
	var stream []byte
	switch p.derivation {
	case DeriveHKDF:
		stream = HKDFExpand(p.params.newHash, secret, seed, total)
	default:
		stream = PSHA(p.params.newHash, secret, seed, total)
	}
	keys := &DerivedKeys{
		Signing:    stream[:p.params.signingKeyLen],
		Encrypting: stream[p.params.signingKeyLen : p.params.signingKeyLen+p.params.encryptKeyLen],
		IV:         stream[p.params.signingKeyLen+p.params.encryptKeyLen:],
	}
	return keys
}

func (p *policyProvider) SymmetricSign(key, data []byte) ([]byte, error) {
	if p.params.signatureSize == 0 {
		return nil, nil
	}
	if len(key) != p.params.signingKeyLen {
		return nil, fmt.Errorf("%w: signing key length %d, want %d", ErrInvalidKey, len(key), p.params.signingKeyLen)
	}
	return hmacSum(p.params.newHash, key, data), nil
}

func (p *policyProvider) SymmetricVerify(key, data, signature []byte) error {
	if p.params.signatureSize == 0 {
		return nil
	}
	if len(key) != p.params.signingKeyLen {
		return ErrSecurityChecksFailed
	}
	expected := hmacSum(p.params.newHash, key, data)
	if !hmac.Equal(expected, signature) {
		return ErrSecurityChecksFailed
	}
	return nil
}

func (p *policyProvider) SymmetricEncrypt(key, iv, src []byte) ([]byte, error) {
	block, err := p.newCipher(key, iv)
	if err != nil {
		return nil, err
	}
	if len(src)%p.params.blockSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidBlockSize, len(src))
	}
	dst := make([]byte, len(src))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(dst, src)
	return dst, nil
}

func (p *policyProvider) SymmetricDecrypt(key, iv, src []byte) ([]byte, error) {
	block, err := p.newCipher(key, iv)
	if err != nil {
		return nil, err
	}
	if len(src)%p.params.blockSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidBlockSize, len(src))
	}
	dst := make([]byte, len(src))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(dst, src)
	return dst, nil
}

func (p *policyProvider) newCipher(key, iv []byte) (cipher.Block, error) {
	if p.params.blockSize == 0 {
		return nil, fmt.Errorf("%w: %s has no cipher", ErrUnsupportedPolicy, p.policy)
	}
	if len(key) != p.params.encryptKeyLen {
		return nil, fmt.Errorf("%w: encryption key length %d, want %d", ErrInvalidKey, len(key), p.params.encryptKeyLen)
	}
	if len(iv) != p.params.blockSize {
		return nil, fmt.Errorf("%w: IV length %d, want %d", ErrInvalidKey, len(iv), p.params.blockSize)
	}
	return aes.NewCipher(key)
}
