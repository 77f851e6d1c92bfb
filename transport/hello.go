package transport

import (
	"bytes"
	"fmt"

	"github.com/opd-ai/uasc/limits"
)

// ProtocolVersion is the secure conversation protocol version spoken by
// this implementation.
const ProtocolVersion uint32 = 0

// Hello opens the buffer negotiation. It announces the sender's protocol
// version and limit preferences together with the endpoint being contacted.
type Hello struct {
	Version     uint32
	Limits      limits.Limits
	EndpointURL string
}

// Encode serializes the Hello into a complete frame.
func (h *Hello) Encode() ([]byte, error) {
	if len(h.EndpointURL) > limits.MaxEndpointURLLength {
		return nil, fmt.Errorf("%w: endpoint URL length %d", ErrFrameTooLarge, len(h.EndpointURL))
	}
	var buf bytes.Buffer
	writeUint32(&buf, h.Version)
	writeUint32(&buf, h.Limits.ReceiveBufferSize)
	writeUint32(&buf, h.Limits.SendBufferSize)
	writeUint32(&buf, h.Limits.MaxMessageSize)
	writeUint32(&buf, h.Limits.MaxChunkCount)
	writeString(&buf, h.EndpointURL)
	return encodeFrame(MessageTypeHello, buf.Bytes())
}

// DecodeHello parses a Hello from the body of a HEL frame.
func DecodeHello(body []byte) (*Hello, error) {
	r := bytes.NewReader(body)
	var h Hello
	var err error
	if h.Version, err = readUint32(r); err != nil {
		return nil, err
	}
	if h.Limits, err = readLimits(r); err != nil {
		return nil, err
	}
	if h.EndpointURL, err = readString(r, limits.MaxEndpointURLLength); err != nil {
		return nil, err
	}
	return &h, nil
}

// Acknowledge answers a Hello with the responder's chosen effective values.
type Acknowledge struct {
	Version uint32
	Limits  limits.Limits
}

// Encode serializes the Acknowledge into a complete frame.
func (a *Acknowledge) Encode() ([]byte, error) {
	var buf bytes.Buffer
	writeUint32(&buf, a.Version)
	writeUint32(&buf, a.Limits.ReceiveBufferSize)
	writeUint32(&buf, a.Limits.SendBufferSize)
	writeUint32(&buf, a.Limits.MaxMessageSize)
	writeUint32(&buf, a.Limits.MaxChunkCount)
	return encodeFrame(MessageTypeAcknowledge, buf.Bytes())
}

// DecodeAcknowledge parses an Acknowledge from the body of an ACK frame.
func DecodeAcknowledge(body []byte) (*Acknowledge, error) {
	r := bytes.NewReader(body)
	var a Acknowledge
	var err error
	if a.Version, err = readUint32(r); err != nil {
		return nil, err
	}
	if a.Limits, err = readLimits(r); err != nil {
		return nil, err
	}
	return &a, nil
}

// ReverseHello is sent by a server that dials out to a client, telling the
// client which endpoint to negotiate against.
type ReverseHello struct {
	ServerURI   string
	EndpointURL string
}

// Encode serializes the ReverseHello into a complete frame.
func (r *ReverseHello) Encode() ([]byte, error) {
	var buf bytes.Buffer
	writeString(&buf, r.ServerURI)
	writeString(&buf, r.EndpointURL)
	return encodeFrame(MessageTypeReverseHello, buf.Bytes())
}

// DecodeReverseHello parses a ReverseHello from the body of an RHE frame.
func DecodeReverseHello(body []byte) (*ReverseHello, error) {
	rd := bytes.NewReader(body)
	var rh ReverseHello
	var err error
	if rh.ServerURI, err = readString(rd, limits.MaxEndpointURLLength); err != nil {
		return nil, err
	}
	if rh.EndpointURL, err = readString(rd, limits.MaxEndpointURLLength); err != nil {
		return nil, err
	}
	return &rh, nil
}

// ErrorMessage reports a fatal connection error to the peer before the
// connection is torn down.
type ErrorMessage struct {
	Code   StatusCode
	Reason string
}

// Encode serializes the ErrorMessage into a complete frame.
func (e *ErrorMessage) Encode() ([]byte, error) {
	var buf bytes.Buffer
	writeUint32(&buf, uint32(e.Code))
	writeString(&buf, e.Reason)
	return encodeFrame(MessageTypeError, buf.Bytes())
}

// DecodeError parses an ErrorMessage from the body of an ERR frame.
func DecodeError(body []byte) (*ErrorMessage, error) {
	r := bytes.NewReader(body)
	code, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	reason, err := readString(r, limits.MaxEndpointURLLength)
	if err != nil {
		return nil, err
	}
	return &ErrorMessage{Code: StatusCode(code), Reason: reason}, nil
}

func readLimits(r *bytes.Reader) (limits.Limits, error) {
	var l limits.Limits
	var err error
	if l.ReceiveBufferSize, err = readUint32(r); err != nil {
		return l, err
	}
	if l.SendBufferSize, err = readUint32(r); err != nil {
		return l, err
	}
	if l.MaxMessageSize, err = readUint32(r); err != nil {
		return l, err
	}
	if l.MaxChunkCount, err = readUint32(r); err != nil {
		return l, err
	}
	return l, nil
}
