package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/uasc/limits"
)

func TestHelloRoundTrip(t *testing.T) {
	h := &Hello{
		Version:     ProtocolVersion,
		Limits:      limits.Default(),
		EndpointURL: "opc.tcp://localhost:4840/server",
	}
	frame, err := h.Encode()
	require.NoError(t, err)

	fh, err := DecodeFrameHeader(frame)
	require.NoError(t, err)
	assert.Equal(t, MessageTypeHello, fh.Type)
	assert.Equal(t, uint32(len(frame)), fh.Size)

	got, err := DecodeHello(frame[FrameHeaderSize:])
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestHelloRejectsOversizedEndpointURL(t *testing.T) {
	url := make([]byte, limits.MaxEndpointURLLength+1)
	for i := range url {
		url[i] = 'a'
	}
	h := &Hello{Version: ProtocolVersion, Limits: limits.Default(), EndpointURL: string(url)}
	_, err := h.Encode()
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestAcknowledgeRoundTrip(t *testing.T) {
	a := &Acknowledge{
		Version: ProtocolVersion,
		Limits: limits.Limits{
			ReceiveBufferSize: 8192,
			SendBufferSize:    8192,
			MaxMessageSize:    1 << 20,
			MaxChunkCount:     64,
		},
	}
	frame, err := a.Encode()
	require.NoError(t, err)

	got, err := DecodeAcknowledge(frame[FrameHeaderSize:])
	require.NoError(t, err)
	assert.Equal(t, a, got)
}

func TestErrorMessageRoundTrip(t *testing.T) {
	e := &ErrorMessage{Code: StatusBadSecurityChecksFailed, Reason: "security checks failed"}
	frame, err := e.Encode()
	require.NoError(t, err)

	got, err := DecodeError(frame[FrameHeaderSize:])
	require.NoError(t, err)
	assert.Equal(t, e, got)
}

func TestReverseHelloRoundTrip(t *testing.T) {
	r := &ReverseHello{ServerURI: "urn:server", EndpointURL: "opc.tcp://host:4840"}
	frame, err := r.Encode()
	require.NoError(t, err)

	got, err := DecodeReverseHello(frame[FrameHeaderSize:])
	require.NoError(t, err)
	assert.Equal(t, r, got)
}

func TestDecodeHelloTruncated(t *testing.T) {
	h := &Hello{Version: 0, Limits: limits.Default(), EndpointURL: "opc.tcp://x"}
	frame, err := h.Encode()
	require.NoError(t, err)

	for _, cut := range []int{FrameHeaderSize, FrameHeaderSize + 3, FrameHeaderSize + 19} {
		_, err := DecodeHello(frame[FrameHeaderSize:cut])
		assert.Error(t, err, "cut at %d", cut)
	}
}
