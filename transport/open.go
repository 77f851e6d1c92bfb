package transport

import (
	"bytes"
	"fmt"
	"time"
)

// SecurityRequestType distinguishes the initial open of a channel from a
// token renewal.
type SecurityRequestType uint32

const (
	// SecurityRequestIssue opens a new secure channel.
	SecurityRequestIssue SecurityRequestType = 0
	// SecurityRequestRenew renews the token of an open channel.
	SecurityRequestRenew SecurityRequestType = 1
)

// maxNonceLength bounds the nonce fields in open secure channel bodies.
const maxNonceLength = 256

// OpenSecureChannelRequest is the body of an OPN request chunk. The
// security mode is carried as its raw wire value; interpretation belongs to
// the channel layer.
type OpenSecureChannelRequest struct {
	ClientVersion     uint32
	RequestType       SecurityRequestType
	SecurityMode      uint32
	ClientNonce       []byte
	RequestedLifetime time.Duration
}

// Encode serializes the request body.
func (r *OpenSecureChannelRequest) Encode() []byte {
	var buf bytes.Buffer
	writeUint32(&buf, r.ClientVersion)
	writeUint32(&buf, uint32(r.RequestType))
	writeUint32(&buf, r.SecurityMode)
	writeByteString(&buf, r.ClientNonce)
	writeUint32(&buf, uint32(r.RequestedLifetime/time.Millisecond))
	return buf.Bytes()
}

// DecodeOpenSecureChannelRequest parses an OPN request body.
func DecodeOpenSecureChannelRequest(body []byte) (*OpenSecureChannelRequest, error) {
	rd := bytes.NewReader(body)
	var r OpenSecureChannelRequest
	var err error
	if r.ClientVersion, err = readUint32(rd); err != nil {
		return nil, err
	}
	reqType, err := readUint32(rd)
	if err != nil {
		return nil, err
	}
	if reqType > uint32(SecurityRequestRenew) {
		return nil, fmt.Errorf("%w: security request type %d", ErrInvalidMessageType, reqType)
	}
	r.RequestType = SecurityRequestType(reqType)
	if r.SecurityMode, err = readUint32(rd); err != nil {
		return nil, err
	}
	if r.ClientNonce, err = readByteString(rd, maxNonceLength); err != nil {
		return nil, err
	}
	lifetime, err := readUint32(rd)
	if err != nil {
		return nil, err
	}
	r.RequestedLifetime = time.Duration(lifetime) * time.Millisecond
	return &r, nil
}

// OpenSecureChannelResponse is the body of an OPN response chunk. The
// responder assigns the channel and token identifiers and is authoritative
// on the revised lifetime.
type OpenSecureChannelResponse struct {
	ServerVersion   uint32
	ChannelID       uint32
	TokenID         uint32
	CreatedAt       time.Time
	RevisedLifetime time.Duration
	ServerNonce     []byte
}

// Encode serializes the response body.
func (r *OpenSecureChannelResponse) Encode() []byte {
	var buf bytes.Buffer
	writeUint32(&buf, r.ServerVersion)
	writeUint32(&buf, r.ChannelID)
	writeUint32(&buf, r.TokenID)
	writeInt64(&buf, r.CreatedAt.UnixMilli())
	writeUint32(&buf, uint32(r.RevisedLifetime/time.Millisecond))
	writeByteString(&buf, r.ServerNonce)
	return buf.Bytes()
}

// DecodeOpenSecureChannelResponse parses an OPN response body.
func DecodeOpenSecureChannelResponse(body []byte) (*OpenSecureChannelResponse, error) {
	rd := bytes.NewReader(body)
	var r OpenSecureChannelResponse
	var err error
	if r.ServerVersion, err = readUint32(rd); err != nil {
		return nil, err
	}
	if r.ChannelID, err = readUint32(rd); err != nil {
		return nil, err
	}
	if r.TokenID, err = readUint32(rd); err != nil {
		return nil, err
	}
	createdAt, err := readInt64(rd)
	if err != nil {
		return nil, err
	}
	r.CreatedAt = time.UnixMilli(createdAt)
	lifetime, err := readUint32(rd)
	if err != nil {
		return nil, err
	}
	r.RevisedLifetime = time.Duration(lifetime) * time.Millisecond
	if r.ServerNonce, err = readByteString(rd, maxNonceLength); err != nil {
		return nil, err
	}
	return &r, nil
}

// AbortBody is the body of an Abort chunk: the status code explaining why
// the in-flight message was abandoned and a human-readable reason.
type AbortBody struct {
	Code   StatusCode
	Reason string
}

// Encode serializes the abort body.
func (a *AbortBody) Encode() []byte {
	var buf bytes.Buffer
	writeUint32(&buf, uint32(a.Code))
	writeString(&buf, a.Reason)
	return buf.Bytes()
}

// DecodeAbortBody parses an Abort chunk body.
func DecodeAbortBody(body []byte) (*AbortBody, error) {
	rd := bytes.NewReader(body)
	code, err := readUint32(rd)
	if err != nil {
		return nil, err
	}
	reason, err := readString(rd, maxCertificateLength)
	if err != nil {
		return nil, err
	}
	return &AbortBody{Code: StatusCode(code), Reason: reason}, nil
}
