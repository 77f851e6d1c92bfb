package uasc

import (
	"fmt"

	"github.com/opd-ai/uasc/crypto"
	"github.com/opd-ai/uasc/limits"
	"github.com/opd-ai/uasc/transport"
)

// Message is one complete logical message reassembled from its chunks.
type Message struct {
	Type      transport.MessageType
	RequestID uint32
	Body      []byte
}

// reassemblyBuffer accumulates the decoded bodies of one in-flight
// message.
type reassemblyBuffer struct {
	chunks int
	body   []byte
}

// chunkDecoder validates and decrypts received chunks and reassembles
// them into logical messages. Pure CPU transform, no I/O. Not safe for
// concurrent use; the channel's read loop is its only caller.
//
// Every error except *RequestError is channel-fatal.
type chunkDecoder struct {
	channelID uint32
	lim       limits.Limits
	mode      crypto.MessageSecurityMode
	provider  crypto.Provider
	tokens    *tokenManager
	seq       *sequenceTracker

	buffers map[uint32]*reassemblyBuffer

	// lastFinished tracks the highest request id already completed or
	// aborted, so a stale continuation cannot reopen it.
	lastFinished uint32
	finishedAny  bool
}

func newChunkDecoder(channelID uint32, lim limits.Limits, mode crypto.MessageSecurityMode, provider crypto.Provider, tokens *tokenManager, seq *sequenceTracker) *chunkDecoder {
	return &chunkDecoder{
		channelID: channelID,
		lim:       lim,
		mode:      mode,
		provider:  provider,
		tokens:    tokens,
		seq:       seq,
		buffers:   make(map[uint32]*reassemblyBuffer),
	}
}

// decodeChunk processes one received chunk. It returns a Message when the
// chunk completes one, nil while reassembly is still in progress, and a
// *RequestError when the peer aborted the message the chunk belongs to.
func (d *chunkDecoder) decodeChunk(raw []byte) (*Message, error) {
	hdr, err := transport.DecodeChunkHeader(raw)
	if err != nil {
		return nil, fatalError(transport.StatusBadTCPMessageTypeInvalid, err)
	}
	if int(hdr.Size) != len(raw) {
		return nil, fatalError(transport.StatusBadDecodingError,
			fmt.Errorf("declared size %d, received %d bytes", hdr.Size, len(raw)))
	}
	if hdr.ChannelID != d.channelID {
		return nil, fatalError(transport.StatusBadSecureChannelIDInvalid,
			fmt.Errorf("channel id %d, want %d", hdr.ChannelID, d.channelID))
	}

	// Expiry without renewal is channel-fatal in every mode, including
	// ModeNone where no key lookup would otherwise consult the token.
	if d.tokens.expired() {
		return nil, fatalError(transport.StatusBadSecureChannelClosed, ErrTokenExpired)
	}

	symHdr, err := transport.DecodeSymmetricSecurityHeader(raw[transport.ChunkHeaderSize:])
	if err != nil {
		return nil, fatalError(transport.StatusBadDecodingError, err)
	}

	seqHdr, body, err := d.unsecure(raw, symHdr.TokenID)
	if err != nil {
		return nil, err
	}

	if err := d.seq.check(seqHdr.SequenceNumber); err != nil {
		return nil, fatalError(transport.StatusBadSequenceNumberInvalid, err)
	}

	switch hdr.Final {
	case transport.ChunkAbort:
		return nil, d.abort(seqHdr.RequestID, body)
	case transport.ChunkIntermediate:
		if err := d.accumulate(seqHdr.RequestID, body); err != nil {
			return nil, err
		}
		return nil, nil
	default: // transport.ChunkFinal
		if err := d.accumulate(seqHdr.RequestID, body); err != nil {
			return nil, err
		}
		buf := d.buffers[seqHdr.RequestID]
		delete(d.buffers, seqHdr.RequestID)
		d.markFinished(seqHdr.RequestID)
		return &Message{Type: hdr.Type, RequestID: seqHdr.RequestID, Body: buf.body}, nil
	}
}

// unsecure verifies and decrypts the chunk per the channel's security
// mode, returning the sequence header and the plaintext body. Signature,
// decryption and padding failures, and unknown token ids, all surface as
// the same indistinguishable security error.
func (d *chunkDecoder) unsecure(raw []byte, tokenID uint32) (transport.SequenceHeader, []byte, error) {
	const prefix = transport.ChunkHeaderSize + transport.SymmetricHeaderSize

	if d.mode == crypto.ModeNone {
		seqHdr, err := transport.DecodeSequenceHeader(raw[prefix:])
		if err != nil {
			return transport.SequenceHeader{}, nil, fatalError(transport.StatusBadDecodingError, err)
		}
		return seqHdr, raw[plainOverhead:], nil
	}

	keys, err := d.tokens.keysFor(tokenID)
	if err != nil {
		return transport.SequenceHeader{}, nil, d.securityFailure()
	}

	sigSize := d.provider.SignatureSize()
	if len(raw) < prefix+transport.SequenceHeaderSize+sigSize {
		return transport.SequenceHeader{}, nil, d.securityFailure()
	}
	signed, sig := raw[:len(raw)-sigSize], raw[len(raw)-sigSize:]
	if err := d.provider.SymmetricVerify(keys.Signing, signed, sig); err != nil {
		return transport.SequenceHeader{}, nil, d.securityFailure()
	}

	if d.mode == crypto.ModeSign {
		seqHdr, err := transport.DecodeSequenceHeader(raw[prefix:])
		if err != nil {
			return transport.SequenceHeader{}, nil, fatalError(transport.StatusBadDecodingError, err)
		}
		return seqHdr, raw[plainOverhead : len(raw)-sigSize], nil
	}

	plain, err := d.provider.SymmetricDecrypt(keys.Encrypting, keys.IV, signed[prefix:])
	if err != nil {
		return transport.SequenceHeader{}, nil, d.securityFailure()
	}
	body, ok := stripPadding(plain, d.provider.EncryptionBlockSize())
	if !ok {
		return transport.SequenceHeader{}, nil, d.securityFailure()
	}
	seqHdr, err := transport.DecodeSequenceHeader(plain)
	if err != nil {
		return transport.SequenceHeader{}, nil, fatalError(transport.StatusBadDecodingError, err)
	}
	return seqHdr, body, nil
}

// stripPadding validates and removes the block padding from a decrypted
// span, returning the body after the sequence header.
func stripPadding(plain []byte, block int) ([]byte, bool) {
	if len(plain) <= transport.SequenceHeaderSize {
		return nil, false
	}
	pad := int(plain[len(plain)-1]) + 1
	if pad > block || len(plain)-pad < transport.SequenceHeaderSize {
		return nil, false
	}
	for _, b := range plain[len(plain)-pad:] {
		if b != plain[len(plain)-1] {
			return nil, false
		}
	}
	return plain[transport.SequenceHeaderSize : len(plain)-pad], true
}

func (d *chunkDecoder) securityFailure() error {
	return fatalError(transport.StatusBadSecurityChecksFailed, crypto.ErrSecurityChecksFailed)
}

// accumulate appends a chunk body to the request's reassembly buffer,
// creating it for a not-yet-seen request id and enforcing the negotiated
// message size and chunk count on the running totals.
func (d *chunkDecoder) accumulate(requestID uint32, body []byte) error {
	buf, ok := d.buffers[requestID]
	if !ok {
		if d.finishedAny && requestID <= d.lastFinished {
			return fatalError(transport.StatusBadSequenceNumberInvalid,
				fmt.Errorf("chunk for completed request %d", requestID))
		}
		buf = &reassemblyBuffer{}
		d.buffers[requestID] = buf
	}
	buf.chunks++
	if err := d.lim.ValidateChunkCount(buf.chunks); err != nil {
		return fatalError(transport.StatusBadEncodingLimitsExceeded, err)
	}
	buf.body = append(buf.body, body...)
	if err := d.lim.ValidateMessageSize(len(buf.body)); err != nil {
		return fatalError(transport.StatusBadTCPMessageTooLarge, err)
	}
	return nil
}

// abort discards the partial message and surfaces the peer's status as a
// request-level failure.
func (d *chunkDecoder) abort(requestID uint32, body []byte) error {
	delete(d.buffers, requestID)
	d.markFinished(requestID)
	ab, err := transport.DecodeAbortBody(body)
	if err != nil {
		return fatalError(transport.StatusBadDecodingError, err)
	}
	return &RequestError{RequestID: requestID, Status: ab.Code, Reason: ab.Reason}
}

func (d *chunkDecoder) markFinished(requestID uint32) {
	if !d.finishedAny || requestID > d.lastFinished {
		d.lastFinished = requestID
		d.finishedAny = true
	}
}

// dropBuffers discards all partial messages, on close or fatal error.
func (d *chunkDecoder) dropBuffers() {
	d.buffers = make(map[uint32]*reassemblyBuffer)
}
