package transport

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// maxCertificateLength bounds the sender certificate field in an
// asymmetric security header.
const maxCertificateLength = 1 << 16

// AsymmetricSecurityHeader is carried by OpenSecureChannel chunks. It names
// the security policy and identifies the certificates securing the open
// exchange. The certificate fields are null when the policy requires no
// asymmetric security.
type AsymmetricSecurityHeader struct {
	PolicyURI          string
	SenderCertificate  []byte
	ReceiverThumbprint []byte
}

// Encode appends the header to buf.
func (h *AsymmetricSecurityHeader) Encode(buf *bytes.Buffer) {
	writeString(buf, h.PolicyURI)
	writeByteString(buf, h.SenderCertificate)
	writeByteString(buf, h.ReceiverThumbprint)
}

// ByteLen returns the encoded size of the header.
func (h *AsymmetricSecurityHeader) ByteLen() int {
	n := 4 + len(h.PolicyURI)
	n += 4
	if h.SenderCertificate != nil {
		n += len(h.SenderCertificate)
	}
	n += 4
	if h.ReceiverThumbprint != nil {
		n += len(h.ReceiverThumbprint)
	}
	return n
}

// DecodeAsymmetricSecurityHeader parses the header from r.
func DecodeAsymmetricSecurityHeader(r *bytes.Reader) (*AsymmetricSecurityHeader, error) {
	var h AsymmetricSecurityHeader
	var err error
	if h.PolicyURI, err = readString(r, maxCertificateLength); err != nil {
		return nil, fmt.Errorf("policy URI: %w", err)
	}
	if h.SenderCertificate, err = readByteString(r, maxCertificateLength); err != nil {
		return nil, fmt.Errorf("sender certificate: %w", err)
	}
	if h.ReceiverThumbprint, err = readByteString(r, maxCertificateLength); err != nil {
		return nil, fmt.Errorf("receiver thumbprint: %w", err)
	}
	return &h, nil
}

// SymmetricSecurityHeader identifies the security token that secures a MSG
// or CLO chunk.
type SymmetricSecurityHeader struct {
	TokenID uint32
}

// EncodeSymmetricSecurityHeader writes the token id into dst, which must
// hold at least SymmetricHeaderSize bytes.
func EncodeSymmetricSecurityHeader(dst []byte, h SymmetricSecurityHeader) {
	binary.LittleEndian.PutUint32(dst, h.TokenID)
}

// DecodeSymmetricSecurityHeader parses the token id from data.
func DecodeSymmetricSecurityHeader(data []byte) (SymmetricSecurityHeader, error) {
	if len(data) < SymmetricHeaderSize {
		return SymmetricSecurityHeader{}, fmt.Errorf("%w: %d bytes", ErrFrameTooShort, len(data))
	}
	return SymmetricSecurityHeader{TokenID: binary.LittleEndian.Uint32(data)}, nil
}
