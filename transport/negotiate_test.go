package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/uasc/limits"
)

func runNegotiation(t *testing.T, client, server *Negotiator) (limits.Limits, limits.Limits, error, error) {
	t.Helper()
	cliConn, srvConn := net.Pipe()
	defer cliConn.Close()
	defer srvConn.Close()

	type result struct {
		l   limits.Limits
		err error
	}
	srvCh := make(chan result, 1)
	go func() {
		l, err := server.Server(srvConn)
		srvCh <- result{l, err}
	}()

	cliLimits, cliErr := client.Client(cliConn, "opc.tcp://localhost:4840")
	srvRes := <-srvCh
	return cliLimits, srvRes.l, cliErr, srvRes.err
}

func TestNegotiationAgreesOnPairwiseMinimum(t *testing.T) {
	client := &Negotiator{Local: limits.Limits{
		ReceiveBufferSize: 65535,
		SendBufferSize:    32768,
		MaxMessageSize:    1 << 20,
		MaxChunkCount:     100,
	}}
	server := &Negotiator{Local: limits.Limits{
		ReceiveBufferSize: 16384,
		SendBufferSize:    65535,
		MaxMessageSize:    1 << 22,
		MaxChunkCount:     50,
	}}

	cli, srv, cliErr, srvErr := runNegotiation(t, client, server)
	require.NoError(t, cliErr)
	require.NoError(t, srvErr)

	// What one side sends the other must be able to receive.
	assert.Equal(t, srv.ReceiveBufferSize, cli.SendBufferSize)
	assert.Equal(t, srv.SendBufferSize, cli.ReceiveBufferSize)
	assert.Equal(t, uint32(16384), cli.SendBufferSize)
	assert.Equal(t, uint32(1<<20), cli.MaxMessageSize)
	assert.Equal(t, uint32(50), cli.MaxChunkCount)
	assert.Equal(t, cli.MaxMessageSize, srv.MaxMessageSize)
	assert.Equal(t, cli.MaxChunkCount, srv.MaxChunkCount)
}

func TestNegotiationVersionMismatch(t *testing.T) {
	client := &Negotiator{Local: limits.Default()}
	server := &Negotiator{Local: limits.Default(), MinVersion: ProtocolVersion + 1}

	_, _, cliErr, srvErr := runNegotiation(t, client, server)
	assert.ErrorIs(t, srvErr, ErrVersionUnsupported)
	// The server reports the rejection in an ERR frame before teardown.
	assert.ErrorIs(t, cliErr, ErrRemoteError)
}

func TestNegotiationRejectsTinyBuffers(t *testing.T) {
	client := &Negotiator{Local: limits.Limits{
		ReceiveBufferSize: 1024,
		SendBufferSize:    1024,
	}}
	_, err := client.Client(nil, "opc.tcp://x")
	assert.ErrorIs(t, err, limits.ErrBufferTooSmall)
}

func TestNegotiationTimeout(t *testing.T) {
	cliConn, srvConn := net.Pipe()
	defer cliConn.Close()
	defer srvConn.Close()

	// No server answers; the deadline must fire.
	client := &Negotiator{Local: limits.Default(), Timeout: 50 * time.Millisecond}
	done := make(chan error, 1)
	go func() {
		_, err := client.Client(cliConn, "opc.tcp://localhost")
		done <- err
	}()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("negotiation did not time out")
	}
}

func TestServerRejectsNonHelloFirstFrame(t *testing.T) {
	cliConn, srvConn := net.Pipe()
	defer cliConn.Close()
	defer srvConn.Close()

	server := &Negotiator{Local: limits.Default()}
	done := make(chan error, 1)
	go func() {
		_, err := server.Server(srvConn)
		done <- err
	}()

	frame, err := (&ErrorMessage{Code: StatusBadUnexpectedError, Reason: "x"}).Encode()
	require.NoError(t, err)
	_, err = cliConn.Write(frame)
	require.NoError(t, err)

	assert.ErrorIs(t, <-done, ErrNegotiationFailed)
}
