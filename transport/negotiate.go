package transport

import (
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/uasc/limits"
)

// deadliner is implemented by connections supporting I/O deadlines, such as
// net.Conn. The negotiator uses it when a timeout is configured.
type deadliner interface {
	SetDeadline(t time.Time) error
}

// Negotiator performs the Hello/Acknowledge exchange that agrees on buffer
// limits before any secure channel exists. No cryptographic material is
// exchanged at this stage.
type Negotiator struct {
	// Local holds the limit preferences announced to the peer. Zero value
	// falls back to limits.Default().
	Local limits.Limits

	// MinVersion is the lowest remote protocol version accepted.
	MinVersion uint32

	// Timeout bounds the whole exchange when the stream supports
	// deadlines. Zero means no timeout.
	Timeout time.Duration
}

func (n *Negotiator) local() limits.Limits {
	if n.Local == (limits.Limits{}) {
		return limits.Default()
	}
	return n.Local
}

func (n *Negotiator) applyDeadline(rw io.ReadWriter) func() {
	if n.Timeout <= 0 {
		return func() {}
	}
	d, ok := rw.(deadliner)
	if !ok {
		return func() {}
	}
	if err := d.SetDeadline(time.Now().Add(n.Timeout)); err != nil {
		logrus.WithError(err).Warn("Could not set negotiation deadline")
		return func() {}
	}
	return func() { _ = d.SetDeadline(time.Time{}) }
}

// Client sends a Hello for endpointURL and waits for the Acknowledge.
// It returns the effective limits for the connection.
func (n *Negotiator) Client(rw io.ReadWriter, endpointURL string) (limits.Limits, error) {
	local := n.local()
	if err := local.Validate(); err != nil {
		return limits.Limits{}, err
	}
	clear := n.applyDeadline(rw)
	defer clear()

	hello := &Hello{Version: ProtocolVersion, Limits: local, EndpointURL: endpointURL}
	frame, err := hello.Encode()
	if err != nil {
		return limits.Limits{}, fmt.Errorf("%w: %v", ErrNegotiationFailed, err)
	}
	if _, err := rw.Write(frame); err != nil {
		return limits.Limits{}, fmt.Errorf("%w: write hello: %v", ErrNegotiationFailed, err)
	}

	fh, raw, err := ReadFrame(rw, 0)
	if err != nil {
		return limits.Limits{}, fmt.Errorf("%w: %v", ErrNegotiationFailed, err)
	}
	switch fh.Type {
	case MessageTypeAcknowledge:
	case MessageTypeError:
		if em, decErr := DecodeError(raw[FrameHeaderSize:]); decErr == nil {
			return limits.Limits{}, fmt.Errorf("%w: %s: %s", ErrRemoteError, em.Code, em.Reason)
		}
		return limits.Limits{}, fmt.Errorf("%w: malformed error frame", ErrNegotiationFailed)
	default:
		return limits.Limits{}, fmt.Errorf("%w: expected ACK, got %s", ErrNegotiationFailed, fh.Type)
	}

	ack, err := DecodeAcknowledge(raw[FrameHeaderSize:])
	if err != nil {
		return limits.Limits{}, fmt.Errorf("%w: %v", ErrNegotiationFailed, err)
	}
	if ack.Version < n.MinVersion {
		return limits.Limits{}, fmt.Errorf("%w: remote version %d < %d", ErrVersionUnsupported, ack.Version, n.MinVersion)
	}

	negotiated := limits.Negotiate(local, ack.Limits)
	logrus.WithFields(logrus.Fields{
		"receive_buffer": negotiated.ReceiveBufferSize,
		"send_buffer":    negotiated.SendBufferSize,
		"max_message":    negotiated.MaxMessageSize,
		"max_chunks":     negotiated.MaxChunkCount,
	}).Debug("Negotiated connection limits")
	return negotiated, nil
}

// Server waits for a Hello and answers with an Acknowledge carrying the
// pairwise-minimum effective values. A remote version below MinVersion is
// answered with an Error frame before the connection is torn down.
func (n *Negotiator) Server(rw io.ReadWriter) (limits.Limits, error) {
	local := n.local()
	if err := local.Validate(); err != nil {
		return limits.Limits{}, err
	}
	clear := n.applyDeadline(rw)
	defer clear()

	fh, raw, err := ReadFrame(rw, 0)
	if err != nil {
		return limits.Limits{}, fmt.Errorf("%w: %v", ErrNegotiationFailed, err)
	}
	if fh.Type != MessageTypeHello {
		return limits.Limits{}, fmt.Errorf("%w: expected HEL, got %s", ErrNegotiationFailed, fh.Type)
	}
	hello, err := DecodeHello(raw[FrameHeaderSize:])
	if err != nil {
		return limits.Limits{}, fmt.Errorf("%w: %v", ErrNegotiationFailed, err)
	}
	if hello.Version < n.MinVersion {
		n.sendError(rw, StatusBadProtocolVersionUnsupported,
			fmt.Sprintf("protocol version %d not supported", hello.Version))
		return limits.Limits{}, fmt.Errorf("%w: remote version %d < %d", ErrVersionUnsupported, hello.Version, n.MinVersion)
	}
	if err := hello.Limits.Validate(); err != nil {
		n.sendError(rw, StatusBadTCPInternalError, "proposed buffer sizes below protocol minimum")
		return limits.Limits{}, fmt.Errorf("%w: %v", ErrNegotiationFailed, err)
	}

	negotiated := limits.Negotiate(local, hello.Limits)
	ack := &Acknowledge{Version: ProtocolVersion, Limits: negotiated}
	frame, err := ack.Encode()
	if err != nil {
		return limits.Limits{}, fmt.Errorf("%w: %v", ErrNegotiationFailed, err)
	}
	if _, err := rw.Write(frame); err != nil {
		return limits.Limits{}, fmt.Errorf("%w: write acknowledge: %v", ErrNegotiationFailed, err)
	}

	logrus.WithFields(logrus.Fields{
		"endpoint":       hello.EndpointURL,
		"receive_buffer": negotiated.ReceiveBufferSize,
		"send_buffer":    negotiated.SendBufferSize,
	}).Debug("Accepted connection limits")
	return negotiated, nil
}

func (n *Negotiator) sendError(w io.Writer, code StatusCode, reason string) {
	em := &ErrorMessage{Code: code, Reason: reason}
	frame, err := em.Encode()
	if err != nil {
		return
	}
	if _, err := w.Write(frame); err != nil {
		logrus.WithError(err).Debug("Could not send error frame")
	}
}
