package transport

import "errors"

var (
	// ErrInvalidMessageType indicates an unknown frame type tag.
	ErrInvalidMessageType = errors.New("invalid message type")

	// ErrInvalidChunkFlag indicates an unknown chunk continuation flag.
	ErrInvalidChunkFlag = errors.New("invalid chunk flag")

	// ErrFrameTooShort indicates a frame whose declared or actual length is
	// below the minimum for its type.
	ErrFrameTooShort = errors.New("frame too short")

	// ErrFrameTooLarge indicates a frame whose declared length exceeds the
	// negotiated receive buffer size.
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrVersionUnsupported indicates the remote protocol version is below
	// the supported minimum.
	ErrVersionUnsupported = errors.New("protocol version unsupported")

	// ErrNegotiationFailed indicates the Hello/Acknowledge exchange failed.
	ErrNegotiationFailed = errors.New("negotiation failed")

	// ErrRemoteError indicates the peer reported a fatal error frame.
	ErrRemoteError = errors.New("remote error")
)
