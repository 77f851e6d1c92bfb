// Package limits provides centralized buffer and message limits for the
// secure conversation protocol. This ensures consistent validation across
// the handshake, chunk encoder and chunk reassembler.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MinChunkSize is the smallest receive/send buffer size either peer may
	// propose. Chunks smaller than this cannot carry the fixed headers plus
	// a useful body.
	MinChunkSize = 8192

	// DefaultReceiveBufferSize is the default maximum size of a single
	// received chunk, including all headers.
	DefaultReceiveBufferSize = 65535

	// DefaultSendBufferSize is the default maximum size of a single sent
	// chunk, including all headers.
	DefaultSendBufferSize = 65535

	// DefaultMaxMessageSize is the default maximum size of a reassembled
	// message body (2MB). Zero means no limit.
	DefaultMaxMessageSize = 2 * 1024 * 1024

	// DefaultMaxChunkCount is the default maximum number of chunks one
	// message may be split into. Zero means no limit.
	DefaultMaxChunkCount = 512

	// MaxEndpointURLLength caps the endpoint URL carried in a Hello message.
	MaxEndpointURLLength = 4096
)

const (
	// SequenceNumberMax is the highest sequence number a sender may issue
	// before wrapping.
	SequenceNumberMax = 4294966271

	// SequenceWrapLimit bounds the first sequence number accepted after a
	// wrap. A post-wrap number is only valid if it is below this value.
	SequenceWrapLimit = 1024

	// SequenceWrapStart is the sequence number issued immediately after a
	// wrap.
	SequenceWrapStart = 1
)

var (
	// ErrBufferTooSmall indicates a proposed buffer size below MinChunkSize.
	ErrBufferTooSmall = errors.New("buffer size below protocol minimum")

	// ErrMessageTooLarge indicates a message exceeding the negotiated
	// maximum message size.
	ErrMessageTooLarge = errors.New("message too large")

	// ErrChunkCountExceeded indicates a message requiring more chunks than
	// the negotiated maximum.
	ErrChunkCountExceeded = errors.New("chunk count exceeded")
)

// Limits holds the four negotiated transport limits. The buffer sizes bound
// individual chunks, MaxMessageSize bounds a reassembled message body and
// MaxChunkCount bounds the number of chunks per message. A zero value for
// MaxMessageSize or MaxChunkCount means unlimited.
type Limits struct {
	ReceiveBufferSize uint32
	SendBufferSize    uint32
	MaxMessageSize    uint32
	MaxChunkCount     uint32
}

// Default returns the local limit preferences used when none are configured.
func Default() Limits {
	return Limits{
		ReceiveBufferSize: DefaultReceiveBufferSize,
		SendBufferSize:    DefaultSendBufferSize,
		MaxMessageSize:    DefaultMaxMessageSize,
		MaxChunkCount:     DefaultMaxChunkCount,
	}
}

// Validate checks that the limits satisfy the protocol minimums.
func (l Limits) Validate() error {
	if l.ReceiveBufferSize < MinChunkSize {
		return fmt.Errorf("%w: receive buffer %d < %d", ErrBufferTooSmall, l.ReceiveBufferSize, MinChunkSize)
	}
	if l.SendBufferSize < MinChunkSize {
		return fmt.Errorf("%w: send buffer %d < %d", ErrBufferTooSmall, l.SendBufferSize, MinChunkSize)
	}
	return nil
}

// Negotiate merges local preferences with the peer's announced values,
// taking the pairwise minimum of each limit. The send buffer is capped by
// what the peer can receive and vice versa. For MaxMessageSize and
// MaxChunkCount a zero on either side means that side imposes no limit.
func Negotiate(local, peer Limits) Limits {
	return Limits{
		ReceiveBufferSize: minU32(local.ReceiveBufferSize, peer.SendBufferSize),
		SendBufferSize:    minU32(local.SendBufferSize, peer.ReceiveBufferSize),
		MaxMessageSize:    minNonZero(local.MaxMessageSize, peer.MaxMessageSize),
		MaxChunkCount:     minNonZero(local.MaxChunkCount, peer.MaxChunkCount),
	}
}

// ValidateMessageSize validates a message body size against the negotiated
// maximum message size. A zero maximum means no limit.
func (l Limits) ValidateMessageSize(size int) error {
	if l.MaxMessageSize > 0 && size > int(l.MaxMessageSize) {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, size, l.MaxMessageSize)
	}
	return nil
}

// ValidateChunkCount validates the number of chunks a message needs against
// the negotiated maximum chunk count. A zero maximum means no limit.
func (l Limits) ValidateChunkCount(count int) error {
	if l.MaxChunkCount > 0 && count > int(l.MaxChunkCount) {
		return fmt.Errorf("%w: %d chunks exceeds limit %d", ErrChunkCountExceeded, count, l.MaxChunkCount)
	}
	return nil
}

func minU32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

func minNonZero(a, b uint32) uint32 {
	if a == 0 {
		return b
	}
	if b == 0 {
		return a
	}
	return minU32(a, b)
}
