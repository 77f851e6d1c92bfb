package crypto

import (
	"crypto/sha1"
	"crypto/sha256"
	"fmt"
	"hash"
)

// SecurityPolicy identifies the set of cryptographic algorithms securing a
// channel.
type SecurityPolicy int

const (
	// PolicyInvalid is the zero value, never valid.
	PolicyInvalid SecurityPolicy = iota
	// PolicyNone applies no signing or encryption.
	PolicyNone
	// PolicyBasic128Rsa15 is the legacy SHA-1/AES-128 policy, kept for
	// interoperability with old peers.
	PolicyBasic128Rsa15
	// PolicyBasic256Sha256 uses HMAC-SHA256 and AES-256-CBC.
	PolicyBasic256Sha256
	// PolicyAes128Sha256RsaOaep uses HMAC-SHA256 and AES-128-CBC.
	PolicyAes128Sha256RsaOaep
	// PolicyAes256Sha256RsaPss uses HMAC-SHA256 and AES-256-CBC.
	PolicyAes256Sha256RsaPss
)

// Well-known policy URIs.
const (
	uriNone               = "http://opcfoundation.org/UA/SecurityPolicy#None"
	uriBasic128Rsa15      = "http://opcfoundation.org/UA/SecurityPolicy#Basic128Rsa15"
	uriBasic256Sha256     = "http://opcfoundation.org/UA/SecurityPolicy#Basic256Sha256"
	uriAes128Sha256       = "http://opcfoundation.org/UA/SecurityPolicy#Aes128_Sha256_RsaOaep"
	uriAes256Sha256RsaPss = "http://opcfoundation.org/UA/SecurityPolicy#Aes256_Sha256_RsaPss"
)

// policyParams captures the symmetric algorithm parameters implied by a
// policy.
type policyParams struct {
	name          string
	uri           string
	signatureSize int
	signingKeyLen int
	encryptKeyLen int
	blockSize     int
	nonceLen      int
	newHash       func() hash.Hash
}

var policyTable = map[SecurityPolicy]policyParams{
	PolicyNone: {
		name: "None",
		uri:  uriNone,
	},
	PolicyBasic128Rsa15: {
		name:          "Basic128Rsa15",
		uri:           uriBasic128Rsa15,
		signatureSize: sha1.Size,
		signingKeyLen: 16,
		encryptKeyLen: 16,
		blockSize:     16,
		nonceLen:      16,
		newHash:       sha1.New,
	},
	PolicyBasic256Sha256: {
		name:          "Basic256Sha256",
		uri:           uriBasic256Sha256,
		signatureSize: sha256.Size,
		signingKeyLen: 32,
		encryptKeyLen: 32,
		blockSize:     16,
		nonceLen:      32,
		newHash:       sha256.New,
	},
	PolicyAes128Sha256RsaOaep: {
		name:          "Aes128Sha256RsaOaep",
		uri:           uriAes128Sha256,
		signatureSize: sha256.Size,
		signingKeyLen: 32,
		encryptKeyLen: 16,
		blockSize:     16,
		nonceLen:      32,
		newHash:       sha256.New,
	},
	PolicyAes256Sha256RsaPss: {
		name:          "Aes256Sha256RsaPss",
		uri:           uriAes256Sha256RsaPss,
		signatureSize: sha256.Size,
		signingKeyLen: 32,
		encryptKeyLen: 32,
		blockSize:     16,
		nonceLen:      32,
		newHash:       sha256.New,
	},
}

// String returns the short policy name.
func (p SecurityPolicy) String() string {
	if params, ok := policyTable[p]; ok {
		return params.name
	}
	return fmt.Sprintf("Unknown(%d)", int(p))
}

// URI returns the policy URI carried in asymmetric security headers.
func (p SecurityPolicy) URI() string {
	if params, ok := policyTable[p]; ok {
		return params.uri
	}
	return ""
}

// NonceLength returns the nonce size the policy requires in open secure
// channel exchanges.
func (p SecurityPolicy) NonceLength() int {
	if params, ok := policyTable[p]; ok {
		return params.nonceLen
	}
	return 0
}

// PolicyFromURI resolves a policy URI. Unknown URIs yield PolicyInvalid.
func PolicyFromURI(uri string) SecurityPolicy {
	for p, params := range policyTable {
		if params.uri == uri {
			return p
		}
	}
	return PolicyInvalid
}

// PolicyFromName resolves a short policy name such as "Basic256Sha256".
func PolicyFromName(name string) SecurityPolicy {
	for p, params := range policyTable {
		if params.name == name {
			return p
		}
	}
	return PolicyInvalid
}

// MessageSecurityMode selects which protections a channel applies to its
// message chunks.
type MessageSecurityMode uint32

const (
	// ModeInvalid is the zero value, never valid.
	ModeInvalid MessageSecurityMode = 0
	// ModeNone applies neither signing nor encryption. The framing
	// discipline (sequence and size invariants) still applies.
	ModeNone MessageSecurityMode = 1
	// ModeSign signs every chunk but leaves the body in the clear.
	ModeSign MessageSecurityMode = 2
	// ModeSignAndEncrypt signs and encrypts every chunk.
	ModeSignAndEncrypt MessageSecurityMode = 3
)

// String returns the mode name.
func (m MessageSecurityMode) String() string {
	switch m {
	case ModeNone:
		return "None"
	case ModeSign:
		return "Sign"
	case ModeSignAndEncrypt:
		return "SignAndEncrypt"
	default:
		return fmt.Sprintf("Invalid(%d)", uint32(m))
	}
}

// Valid reports whether the mode is one of the three defined modes.
func (m MessageSecurityMode) Valid() bool {
	return m >= ModeNone && m <= ModeSignAndEncrypt
}

// ModeFromName resolves a mode name such as "SignAndEncrypt".
func ModeFromName(name string) MessageSecurityMode {
	switch name {
	case "None":
		return ModeNone
	case "Sign":
		return ModeSign
	case "SignAndEncrypt":
		return ModeSignAndEncrypt
	default:
		return ModeInvalid
	}
}
