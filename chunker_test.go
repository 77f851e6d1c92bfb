package uasc

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/uasc/crypto"
	"github.com/opd-ai/uasc/limits"
	"github.com/opd-ai/uasc/transport"
)

const testChannelID = 7

// testCodec is an encoder/decoder pair wired as the two ends of one
// direction of a channel, sharing a freshly derived token.
type testCodec struct {
	enc   *chunkEncoder
	dec   *chunkDecoder
	clock *fakeClock
}

func newTestCodec(t *testing.T, policy crypto.SecurityPolicy, mode crypto.MessageSecurityMode, lim limits.Limits) *testCodec {
	t.Helper()
	clock := newFakeClock()
	cfg := DefaultConfig()
	cfg.Policy = policy
	cfg.Mode = mode
	cfg.Time = clock

	provider, err := crypto.NewProvider(policy)
	require.NoError(t, err)

	sender := newTokenManager(provider, cfg, true)
	receiver := newTokenManager(provider, cfg, false)
	cn, err := crypto.NewNonce(policy)
	require.NoError(t, err)
	sn, err := crypto.NewNonce(policy)
	require.NoError(t, err)
	sender.activate(1, clock.Now(), time.Hour, cn, sn)
	receiver.activate(1, clock.Now(), time.Hour, cn, sn)

	return &testCodec{
		enc: &chunkEncoder{
			channelID:      testChannelID,
			lim:            lim,
			mode:           mode,
			provider:       provider,
			tokens:         sender,
			seq:            newSequenceCounter(),
			oversizeStatus: transport.StatusBadRequestTooLarge,
		},
		dec:   newChunkDecoder(testChannelID, lim, mode, provider, receiver, &sequenceTracker{}),
		clock: clock,
	}
}

// roundTrip encodes body and decodes every chunk, returning the
// reassembled message.
func (tc *testCodec) roundTrip(t *testing.T, requestID uint32, body []byte) *Message {
	t.Helper()
	chunks, err := tc.enc.encodeMessage(transport.MessageTypeMessage, requestID, body)
	require.NoError(t, err)
	var msg *Message
	for i, chunk := range chunks {
		m, err := tc.dec.decodeChunk(chunk)
		require.NoError(t, err, "chunk %d", i)
		if i < len(chunks)-1 {
			require.Nil(t, m, "chunk %d completed the message early", i)
		} else {
			msg = m
		}
	}
	require.NotNil(t, msg)
	return msg
}

var codecMatrix = []struct {
	name   string
	policy crypto.SecurityPolicy
	mode   crypto.MessageSecurityMode
}{
	{"None", crypto.PolicyNone, crypto.ModeNone},
	{"Basic128Rsa15-Sign", crypto.PolicyBasic128Rsa15, crypto.ModeSign},
	{"Basic256Sha256-Sign", crypto.PolicyBasic256Sha256, crypto.ModeSign},
	{"Basic256Sha256-Encrypt", crypto.PolicyBasic256Sha256, crypto.ModeSignAndEncrypt},
	{"Aes128Sha256RsaOaep-Encrypt", crypto.PolicyAes128Sha256RsaOaep, crypto.ModeSignAndEncrypt},
	{"Aes256Sha256RsaPss-Encrypt", crypto.PolicyAes256Sha256RsaPss, crypto.ModeSignAndEncrypt},
}

func TestRoundTripAllPoliciesAndSizes(t *testing.T) {
	bodies := [][]byte{
		nil,
		[]byte("x"),
		bytes.Repeat([]byte("abc"), 100),
		bytes.Repeat([]byte{0xFE}, 40000), // multiple chunks at default buffers
	}
	for _, m := range codecMatrix {
		t.Run(m.name, func(t *testing.T) {
			tc := newTestCodec(t, m.policy, m.mode, limits.Default())
			for i, body := range bodies {
				msg := tc.roundTrip(t, uint32(i+1), body)
				assert.Equal(t, transport.MessageTypeMessage, msg.Type)
				assert.Equal(t, uint32(i+1), msg.RequestID)
				if len(body) == 0 {
					assert.Empty(t, msg.Body)
				} else {
					assert.Equal(t, body, msg.Body)
				}
			}
		})
	}
}

func TestLargeMessageChunkCount(t *testing.T) {
	lim := limits.Limits{
		ReceiveBufferSize: 8192,
		SendBufferSize:    8192,
		MaxMessageSize:    1000000,
		MaxChunkCount:     64,
	}
	tc := newTestCodec(t, crypto.PolicyNone, crypto.ModeNone, lim)

	body := bytes.Repeat([]byte{0x5A}, 250000)
	chunks, err := tc.enc.encodeMessage(transport.MessageTypeMessage, 1, body)
	require.NoError(t, err)

	// 8192-byte chunks carry 8168 body bytes each after the 24 header
	// bytes, so 250000 bytes need 31 chunks.
	assert.Len(t, chunks, 31)
	for i, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk), 8192, "chunk %d exceeds send buffer", i)
	}

	var msg *Message
	for _, chunk := range chunks {
		m, err := tc.dec.decodeChunk(chunk)
		require.NoError(t, err)
		if m != nil {
			msg = m
		}
	}
	require.NotNil(t, msg)
	assert.Equal(t, body, msg.Body)
}

func TestEncryptedChunksStayWithinSendBuffer(t *testing.T) {
	lim := limits.Limits{
		ReceiveBufferSize: 8192,
		SendBufferSize:    8192,
		MaxMessageSize:    1000000,
		MaxChunkCount:     256,
	}
	tc := newTestCodec(t, crypto.PolicyBasic256Sha256, crypto.ModeSignAndEncrypt, lim)

	body := bytes.Repeat([]byte{0x11}, 100000)
	chunks, err := tc.enc.encodeMessage(transport.MessageTypeMessage, 1, body)
	require.NoError(t, err)
	for i, chunk := range chunks {
		require.LessOrEqual(t, len(chunk), 8192, "chunk %d", i)
		// Ciphertext spans are whole cipher blocks.
		ct := len(chunk) - transport.ChunkHeaderSize - transport.SymmetricHeaderSize - 32
		require.Zero(t, ct%16, "chunk %d ciphertext not block aligned", i)
	}

	var msg *Message
	for _, chunk := range chunks {
		m, err := tc.dec.decodeChunk(chunk)
		require.NoError(t, err)
		if m != nil {
			msg = m
		}
	}
	require.NotNil(t, msg)
	assert.Equal(t, body, msg.Body)
}

func TestOversizedMessageAborts(t *testing.T) {
	lim := limits.Default()
	lim.MaxMessageSize = 1024
	tc := newTestCodec(t, crypto.PolicyNone, crypto.ModeNone, lim)

	chunks, err := tc.enc.encodeMessage(transport.MessageTypeMessage, 1, make([]byte, 2048))
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, transport.StatusBadRequestTooLarge, reqErr.Status)
	require.Len(t, chunks, 1, "exactly one abort chunk replaces the message")

	hdr, err := transport.DecodeChunkHeader(chunks[0])
	require.NoError(t, err)
	assert.Equal(t, transport.ChunkAbort, hdr.Final)

	// The receiver surfaces the abort as a request-level failure.
	_, err = tc.dec.decodeChunk(chunks[0])
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, transport.StatusBadRequestTooLarge, reqErr.Status)
	assert.Equal(t, uint32(1), reqErr.RequestID)

	// The channel direction remains usable afterwards.
	msg := tc.roundTrip(t, 2, []byte("still alive"))
	assert.Equal(t, []byte("still alive"), msg.Body)
}

func TestChunkCountLimitAborts(t *testing.T) {
	lim := limits.Limits{
		ReceiveBufferSize: 8192,
		SendBufferSize:    8192,
		MaxMessageSize:    0, // unlimited
		MaxChunkCount:     2,
	}
	tc := newTestCodec(t, crypto.PolicyNone, crypto.ModeNone, lim)

	chunks, err := tc.enc.encodeMessage(transport.MessageTypeMessage, 1, make([]byte, 30000))
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	require.Len(t, chunks, 1)
	hdr, err := transport.DecodeChunkHeader(chunks[0])
	require.NoError(t, err)
	assert.Equal(t, transport.ChunkAbort, hdr.Final)
}

func TestAbortConsumesSequenceNumber(t *testing.T) {
	lim := limits.Default()
	lim.MaxMessageSize = 16
	tc := newTestCodec(t, crypto.PolicyBasic256Sha256, crypto.ModeSignAndEncrypt, lim)

	chunks, err := tc.enc.encodeMessage(transport.MessageTypeMessage, 1, make([]byte, 64))
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	_, err = tc.dec.decodeChunk(chunks[0])
	require.ErrorAs(t, err, &reqErr)

	// The abort consumed sequence number 1; the next message starts at 2
	// and must still decode cleanly.
	msg := tc.roundTrip(t, 2, []byte("after abort"))
	assert.Equal(t, []byte("after abort"), msg.Body)
}
