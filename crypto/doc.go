// Package crypto provides the cryptographic capabilities used by the
// secure conversation layer: security policy identification, symmetric
// signing and encryption, and derivation of per-token key material from
// the nonces exchanged while opening a channel.
//
// The chunking layer never touches primitives directly. It works against
// the Provider interface keyed by security policy, so adding a policy
// changes only the plugged-in primitive set.
//
// Example:
//
//	provider, err := crypto.NewProvider(crypto.PolicyBasic256Sha256)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	keys := provider.DeriveKeys(serverNonce, clientNonce)
//	defer keys.Wipe()
package crypto
