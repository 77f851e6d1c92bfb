package uasc

import (
	"github.com/opd-ai/uasc/crypto"
	"github.com/opd-ai/uasc/limits"
	"github.com/opd-ai/uasc/transport"
)

// plainOverhead is the fixed per-chunk overhead outside the body: chunk
// header, symmetric security header and sequence header.
const plainOverhead = transport.ChunkHeaderSize + transport.SymmetricHeaderSize + transport.SequenceHeaderSize

// chunkEncoder splits message bodies into secured wire chunks. It is a
// pure CPU transform: it allocates ready-to-write buffers and never
// performs I/O. Not safe for concurrent use; the channel's write path
// serializes access.
type chunkEncoder struct {
	channelID uint32
	lim       limits.Limits
	mode      crypto.MessageSecurityMode
	provider  crypto.Provider
	tokens    *tokenManager
	seq       *sequenceCounter

	// oversizeStatus is the abort status for a too-large message, which
	// depends on the channel's role.
	oversizeStatus transport.StatusCode
}

// maxBodySize returns the largest body one chunk can carry under the
// negotiated send buffer size and the active security mode. When
// encrypting, the ciphertext span is rounded down to a whole number of
// cipher blocks and one byte is reserved for the minimum padding.
func (e *chunkEncoder) maxBodySize() int {
	s := int(e.lim.SendBufferSize)
	switch e.mode {
	case crypto.ModeSignAndEncrypt:
		sig := e.provider.SignatureSize()
		block := e.provider.EncryptionBlockSize()
		ctMax := (s - transport.ChunkHeaderSize - transport.SymmetricHeaderSize - sig) / block * block
		return ctMax - transport.SequenceHeaderSize - 1
	case crypto.ModeSign:
		return s - plainOverhead - e.provider.SignatureSize()
	default:
		return s - plainOverhead
	}
}

// encodeMessage splits body into chunks, all but the last flagged as
// intermediate. If the body exceeds the negotiated message size or chunk
// count, no message chunk is produced; instead a single Abort chunk
// carrying the failure status is returned together with a RequestError.
// Every produced chunk, the abort included, consumes one sequence number.
func (e *chunkEncoder) encodeMessage(msgType transport.MessageType, requestID uint32, body []byte) ([][]byte, error) {
	token, err := e.tokens.sendToken()
	if err != nil {
		return nil, err
	}

	maxBody := e.maxBodySize()
	count := (len(body) + maxBody - 1) / maxBody
	if count == 0 {
		count = 1
	}

	if err := e.lim.ValidateMessageSize(len(body)); err != nil {
		return e.abortChunk(msgType, requestID, token, err)
	}
	if err := e.lim.ValidateChunkCount(count); err != nil {
		return e.abortChunk(msgType, requestID, token, err)
	}

	chunks := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		part := body[i*maxBody : min(len(body), (i+1)*maxBody)]
		flag := transport.ChunkIntermediate
		if i == count-1 {
			flag = transport.ChunkFinal
		}
		chunk, err := e.buildChunk(msgType, flag, requestID, part, token)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// abortChunk builds the single Abort chunk replacing an oversized
// message. The returned RequestError carries the same status so the
// caller sees the request fail without losing the channel.
func (e *chunkEncoder) abortChunk(msgType transport.MessageType, requestID uint32, token *SecurityToken, cause error) ([][]byte, error) {
	reqErr := &RequestError{
		RequestID: requestID,
		Status:    e.oversizeStatus,
		Reason:    cause.Error(),
	}
	body := (&transport.AbortBody{Code: reqErr.Status, Reason: reqErr.Reason}).Encode()
	chunk, err := e.buildChunk(msgType, transport.ChunkAbort, requestID, body, token)
	if err != nil {
		return nil, err
	}
	return [][]byte{chunk}, reqErr
}

// buildChunk assembles and secures one chunk. Encrypt-then-sign: the span
// from the sequence header onward is padded and encrypted first, then the
// signature over the whole chunk is appended.
func (e *chunkEncoder) buildChunk(msgType transport.MessageType, flag transport.ChunkFlag, requestID uint32, body []byte, token *SecurityToken) ([]byte, error) {
	seqHdr := transport.SequenceHeader{
		SequenceNumber: e.seq.take(),
		RequestID:      requestID,
	}

	switch e.mode {
	case crypto.ModeSignAndEncrypt:
		return e.buildEncrypted(msgType, flag, seqHdr, body, token)
	case crypto.ModeSign:
		return e.buildSigned(msgType, flag, seqHdr, body, token)
	default:
		return e.buildPlain(msgType, flag, seqHdr, body, token)
	}
}

func (e *chunkEncoder) buildPlain(msgType transport.MessageType, flag transport.ChunkFlag, seqHdr transport.SequenceHeader, body []byte, token *SecurityToken) ([]byte, error) {
	buf := make([]byte, plainOverhead+len(body))
	if err := e.writeHeaders(buf, msgType, flag, seqHdr, token); err != nil {
		return nil, err
	}
	copy(buf[plainOverhead:], body)
	return buf, nil
}

func (e *chunkEncoder) buildSigned(msgType transport.MessageType, flag transport.ChunkFlag, seqHdr transport.SequenceHeader, body []byte, token *SecurityToken) ([]byte, error) {
	sigSize := e.provider.SignatureSize()
	buf := make([]byte, plainOverhead+len(body)+sigSize)
	if err := e.writeHeaders(buf, msgType, flag, seqHdr, token); err != nil {
		return nil, err
	}
	copy(buf[plainOverhead:], body)

	sig, err := e.provider.SymmetricSign(token.LocalKeys.Signing, buf[:len(buf)-sigSize])
	if err != nil {
		return nil, err
	}
	copy(buf[len(buf)-sigSize:], sig)
	return buf, nil
}

func (e *chunkEncoder) buildEncrypted(msgType transport.MessageType, flag transport.ChunkFlag, seqHdr transport.SequenceHeader, body []byte, token *SecurityToken) ([]byte, error) {
	sigSize := e.provider.SignatureSize()
	block := e.provider.EncryptionBlockSize()

	// Pad the sequence header + body span to the cipher block. At least
	// one padding byte is always present; each one records the count of
	// extra padding bytes so the receiver can strip and cross-check.
	plainLen := transport.SequenceHeaderSize + len(body)
	pad := block - plainLen%block
	if pad == 0 {
		pad = block
	}
	plain := make([]byte, plainLen+pad)
	transport.EncodeSequenceHeader(plain, seqHdr)
	copy(plain[transport.SequenceHeaderSize:], body)
	for i := plainLen; i < len(plain); i++ {
		plain[i] = byte(pad - 1)
	}

	ct, err := e.provider.SymmetricEncrypt(token.LocalKeys.Encrypting, token.LocalKeys.IV, plain)
	if err != nil {
		return nil, err
	}

	prefix := transport.ChunkHeaderSize + transport.SymmetricHeaderSize
	buf := make([]byte, prefix+len(ct)+sigSize)
	hdr := transport.ChunkHeader{
		FrameHeader: transport.FrameHeader{Type: msgType, Final: flag, Size: uint32(len(buf))},
		ChannelID:   e.channelID,
	}
	if err := transport.EncodeChunkHeader(buf, hdr); err != nil {
		return nil, err
	}
	transport.EncodeSymmetricSecurityHeader(buf[transport.ChunkHeaderSize:], transport.SymmetricSecurityHeader{TokenID: token.ID})
	copy(buf[prefix:], ct)

	sig, err := e.provider.SymmetricSign(token.LocalKeys.Signing, buf[:len(buf)-sigSize])
	if err != nil {
		return nil, err
	}
	copy(buf[len(buf)-sigSize:], sig)
	return buf, nil
}

func (e *chunkEncoder) writeHeaders(buf []byte, msgType transport.MessageType, flag transport.ChunkFlag, seqHdr transport.SequenceHeader, token *SecurityToken) error {
	hdr := transport.ChunkHeader{
		FrameHeader: transport.FrameHeader{Type: msgType, Final: flag, Size: uint32(len(buf))},
		ChannelID:   e.channelID,
	}
	if err := transport.EncodeChunkHeader(buf, hdr); err != nil {
		return err
	}
	transport.EncodeSymmetricSecurityHeader(buf[transport.ChunkHeaderSize:], transport.SymmetricSecurityHeader{TokenID: token.ID})
	transport.EncodeSequenceHeader(buf[transport.ChunkHeaderSize+transport.SymmetricHeaderSize:], seqHdr)
	return nil
}
