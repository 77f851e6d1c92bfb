package crypto

// DerivedKeys holds the symmetric key material for one direction of a
// channel under one security token.
type DerivedKeys struct {
	// Signing is the HMAC key for chunk signatures.
	Signing []byte
	// Encrypting is the symmetric cipher key.
	Encrypting []byte
	// IV is the initialization vector seed for the symmetric cipher.
	IV []byte
}

// Wipe zeroizes all key material. The keys must not be used afterwards.
func (k *DerivedKeys) Wipe() {
	if k == nil {
		return
	}
	ZeroBytes(k.Signing)
	ZeroBytes(k.Encrypting)
	ZeroBytes(k.IV)
}
