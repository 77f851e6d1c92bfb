package uasc

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/uasc/crypto"
	"github.com/opd-ai/uasc/limits"
	"github.com/opd-ai/uasc/transport"
)

func requireFatal(t *testing.T, err error, status transport.StatusCode) {
	t.Helper()
	var chErr *ChannelError
	require.ErrorAs(t, err, &chErr)
	assert.Equal(t, status, chErr.Status)
}

func TestDecodeRejectsTamperEveryPolicy(t *testing.T) {
	for _, m := range codecMatrix {
		if m.mode == crypto.ModeNone {
			continue
		}
		t.Run(m.name, func(t *testing.T) {
			tc := newTestCodec(t, m.policy, m.mode, limits.Default())
			chunks, err := tc.enc.encodeMessage(transport.MessageTypeMessage, 1, []byte("integrity protected payload"))
			require.NoError(t, err)
			require.Len(t, chunks, 1)

			// Flip one bit inside the signed span.
			tampered := bytes.Clone(chunks[0])
			tampered[transport.ChunkHeaderSize+transport.SymmetricHeaderSize+3] ^= 0x04

			_, err = tc.dec.decodeChunk(tampered)
			requireFatal(t, err, transport.StatusBadSecurityChecksFailed)
			assert.ErrorIs(t, err, crypto.ErrSecurityChecksFailed)
		})
	}
}

func TestDecodeRejectsTamperedSignature(t *testing.T) {
	tc := newTestCodec(t, crypto.PolicyBasic256Sha256, crypto.ModeSign, limits.Default())
	chunks, err := tc.enc.encodeMessage(transport.MessageTypeMessage, 1, []byte("payload"))
	require.NoError(t, err)

	tampered := bytes.Clone(chunks[0])
	tampered[len(tampered)-1] ^= 0x80
	_, err = tc.dec.decodeChunk(tampered)
	requireFatal(t, err, transport.StatusBadSecurityChecksFailed)
}

func TestDecodeRejectsUnknownToken(t *testing.T) {
	tc := newTestCodec(t, crypto.PolicyBasic256Sha256, crypto.ModeSign, limits.Default())
	chunks, err := tc.enc.encodeMessage(transport.MessageTypeMessage, 1, []byte("payload"))
	require.NoError(t, err)

	// Rewrite the token id; the failure must be indistinguishable from a
	// signature failure.
	tampered := bytes.Clone(chunks[0])
	tampered[transport.ChunkHeaderSize] = 99
	_, err = tc.dec.decodeChunk(tampered)
	requireFatal(t, err, transport.StatusBadSecurityChecksFailed)
	assert.ErrorIs(t, err, crypto.ErrSecurityChecksFailed)
}

func TestDecodeRejectsWrongChannelID(t *testing.T) {
	tc := newTestCodec(t, crypto.PolicyNone, crypto.ModeNone, limits.Default())
	chunks, err := tc.enc.encodeMessage(transport.MessageTypeMessage, 1, []byte("payload"))
	require.NoError(t, err)

	wrong := bytes.Clone(chunks[0])
	wrong[transport.FrameHeaderSize] = testChannelID + 1
	_, err = tc.dec.decodeChunk(wrong)
	requireFatal(t, err, transport.StatusBadSecureChannelIDInvalid)
}

func TestDecodeRejectsSizeMismatch(t *testing.T) {
	tc := newTestCodec(t, crypto.PolicyNone, crypto.ModeNone, limits.Default())
	chunks, err := tc.enc.encodeMessage(transport.MessageTypeMessage, 1, []byte("payload"))
	require.NoError(t, err)

	_, err = tc.dec.decodeChunk(chunks[0][:len(chunks[0])-2])
	requireFatal(t, err, transport.StatusBadDecodingError)
}

func TestDecodeRejectsUnknownTypeTag(t *testing.T) {
	tc := newTestCodec(t, crypto.PolicyNone, crypto.ModeNone, limits.Default())
	chunks, err := tc.enc.encodeMessage(transport.MessageTypeMessage, 1, []byte("payload"))
	require.NoError(t, err)

	bad := bytes.Clone(chunks[0])
	copy(bad, "XXX")
	_, err = tc.dec.decodeChunk(bad)
	requireFatal(t, err, transport.StatusBadTCPMessageTypeInvalid)
}

func TestDecodeSequenceGapIsFatal(t *testing.T) {
	tc := newTestCodec(t, crypto.PolicyNone, crypto.ModeNone, limits.Default())

	// A three-chunk message with the middle chunk dropped.
	lim := tc.enc.maxBodySize()
	chunks, err := tc.enc.encodeMessage(transport.MessageTypeMessage, 1, make([]byte, lim*2+10))
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	_, err = tc.dec.decodeChunk(chunks[0])
	require.NoError(t, err)
	_, err = tc.dec.decodeChunk(chunks[2])
	requireFatal(t, err, transport.StatusBadSequenceNumberInvalid)
	assert.ErrorIs(t, err, ErrSequenceViolation)
}

func TestDecodeSequenceRepeatIsFatal(t *testing.T) {
	tc := newTestCodec(t, crypto.PolicyNone, crypto.ModeNone, limits.Default())
	chunks, err := tc.enc.encodeMessage(transport.MessageTypeMessage, 1, []byte("payload"))
	require.NoError(t, err)

	_, err = tc.dec.decodeChunk(chunks[0])
	require.NoError(t, err)
	_, err = tc.dec.decodeChunk(chunks[0])
	requireFatal(t, err, transport.StatusBadSequenceNumberInvalid)
}

func TestDecodeStaleContinuationIsRejected(t *testing.T) {
	tc := newTestCodec(t, crypto.PolicyNone, crypto.ModeNone, limits.Default())

	msg := tc.roundTrip(t, 1, []byte("first message"))
	require.Equal(t, uint32(1), msg.RequestID)

	// A continuation for the already-completed request id, with a valid
	// sequence number, must not reopen the buffer.
	token, err := tc.enc.tokens.sendToken()
	require.NoError(t, err)
	stale, err := tc.enc.buildChunk(transport.MessageTypeMessage, transport.ChunkIntermediate, 1, []byte("stale"), token)
	require.NoError(t, err)
	_, err = tc.dec.decodeChunk(stale)
	requireFatal(t, err, transport.StatusBadSequenceNumberInvalid)
}

func TestDecodeReceiveOverflowIsFatal(t *testing.T) {
	lim := limits.Default()
	tc := newTestCodec(t, crypto.PolicyNone, crypto.ModeNone, lim)

	// Shrink the receiver's limit after the fact so the sender's chunks
	// overrun it.
	tc.dec.lim.MaxMessageSize = 100

	chunks, err := tc.enc.encodeMessage(transport.MessageTypeMessage, 1, make([]byte, 200))
	require.NoError(t, err)
	_, err = tc.dec.decodeChunk(chunks[0])
	requireFatal(t, err, transport.StatusBadTCPMessageTooLarge)
}

func TestDecodeChunkCountOverflowIsFatal(t *testing.T) {
	tc := newTestCodec(t, crypto.PolicyNone, crypto.ModeNone, limits.Default())
	tc.dec.lim.MaxChunkCount = 1

	lim := tc.enc.maxBodySize()
	chunks, err := tc.enc.encodeMessage(transport.MessageTypeMessage, 1, make([]byte, lim+1))
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	_, err = tc.dec.decodeChunk(chunks[0])
	require.NoError(t, err)
	_, err = tc.dec.decodeChunk(chunks[1])
	requireFatal(t, err, transport.StatusBadEncodingLimitsExceeded)
}

func TestDecodeAbortDiscardsPartialBuffer(t *testing.T) {
	tc := newTestCodec(t, crypto.PolicyBasic256Sha256, crypto.ModeSignAndEncrypt, limits.Default())

	token, err := tc.enc.tokens.sendToken()
	require.NoError(t, err)

	first, err := tc.enc.buildChunk(transport.MessageTypeMessage, transport.ChunkIntermediate, 1, []byte("partial"), token)
	require.NoError(t, err)
	m, err := tc.dec.decodeChunk(first)
	require.NoError(t, err)
	require.Nil(t, m)
	require.Len(t, tc.dec.buffers, 1)

	abortBody := (&transport.AbortBody{Code: transport.StatusBadRequestTooLarge, Reason: "changed my mind"}).Encode()
	abort, err := tc.enc.buildChunk(transport.MessageTypeMessage, transport.ChunkAbort, 1, abortBody, token)
	require.NoError(t, err)

	_, err = tc.dec.decodeChunk(abort)
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, transport.StatusBadRequestTooLarge, reqErr.Status)
	assert.Equal(t, "changed my mind", reqErr.Reason)
	assert.Empty(t, tc.dec.buffers, "abort must discard the partial buffer")

	// A later message on a fresh request id still round-trips.
	msg := tc.roundTrip(t, 2, []byte("next request"))
	assert.Equal(t, []byte("next request"), msg.Body)
}

func TestDecodeGraceWindowAcceptsOldToken(t *testing.T) {
	tc := newTestCodec(t, crypto.PolicyBasic256Sha256, crypto.ModeSignAndEncrypt, limits.Default())

	// Two single-chunk messages encoded under token 1.
	early, err := tc.enc.encodeMessage(transport.MessageTypeMessage, 1, []byte("sent before renewal"))
	require.NoError(t, err)
	late, err := tc.enc.encodeMessage(transport.MessageTypeMessage, 2, []byte("delivered very late"))
	require.NoError(t, err)

	// Renewal: both sides switch to token 2, whose lifetime outlasts the
	// first token's grace window.
	cn, err := crypto.NewNonce(crypto.PolicyBasic256Sha256)
	require.NoError(t, err)
	sn, err := crypto.NewNonce(crypto.PolicyBasic256Sha256)
	require.NoError(t, err)
	tc.enc.tokens.activate(2, tc.clock.Now(), 2*time.Hour, cn, sn)
	tc.dec.tokens.activate(2, tc.clock.Now(), 2*time.Hour, cn, sn)

	// In-flight chunk under the superseded token is still accepted.
	msg, err := tc.dec.decodeChunk(early[0])
	require.NoError(t, err)
	assert.Equal(t, []byte("sent before renewal"), msg.Body)

	// Past the grace window the old token is rejected.
	tc.clock.advance(76 * time.Minute)
	_, err = tc.dec.decodeChunk(late[0])
	requireFatal(t, err, transport.StatusBadSecurityChecksFailed)
}

func TestDecodeRejectsExpiredToken(t *testing.T) {
	for _, m := range []struct {
		name   string
		policy crypto.SecurityPolicy
		mode   crypto.MessageSecurityMode
	}{
		{"None", crypto.PolicyNone, crypto.ModeNone},
		{"Basic256Sha256-Encrypt", crypto.PolicyBasic256Sha256, crypto.ModeSignAndEncrypt},
	} {
		t.Run(m.name, func(t *testing.T) {
			tc := newTestCodec(t, m.policy, m.mode, limits.Default())
			chunks, err := tc.enc.encodeMessage(transport.MessageTypeMessage, 1, []byte("delayed"))
			require.NoError(t, err)

			// The token lapses with no renewal; the chunk it secured must
			// not keep the channel alive.
			tc.clock.advance(10 * time.Hour)
			_, err = tc.dec.decodeChunk(chunks[0])
			requireFatal(t, err, transport.StatusBadSecureChannelClosed)
			assert.ErrorIs(t, err, ErrTokenExpired)
		})
	}
}

func TestRequestErrorIsNotChannelError(t *testing.T) {
	reqErr := &RequestError{RequestID: 3, Status: transport.StatusBadRequestTooLarge}
	var chErr *ChannelError
	assert.False(t, errors.As(error(reqErr), &chErr))
	assert.Contains(t, reqErr.Error(), "BadRequestTooLarge")
}
