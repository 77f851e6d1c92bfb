package crypto

// AsymmetricProvider secures the open secure channel exchange with
// certificate-based keys. Implementations are supplied by the application;
// trust-chain validation of the peer certificate is outside this layer.
type AsymmetricProvider interface {
	// Certificate returns the DER-encoded local certificate carried in the
	// asymmetric security header.
	Certificate() []byte
	// Thumbprint returns the SHA-1 thumbprint of the remote certificate
	// the exchange is encrypted for, or nil if unknown.
	Thumbprint() []byte
	// SignatureSize returns the signature length produced by Sign.
	SignatureSize() int
	// Sign signs data with the local private key.
	Sign(data []byte) ([]byte, error)
	// Verify checks a signature made by the peer.
	Verify(data, signature []byte) error
	// Encrypt encrypts plaintext for the peer.
	Encrypt(plaintext []byte) ([]byte, error)
	// Decrypt decrypts ciphertext with the local private key.
	Decrypt(ciphertext []byte) ([]byte, error)
}
