package transport

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MessageType identifies the kind of frame on the wire.
type MessageType uint8

const (
	// MessageTypeInvalid is the zero value, never valid on the wire.
	MessageTypeInvalid MessageType = iota
	// MessageTypeHello starts the buffer negotiation handshake.
	MessageTypeHello
	// MessageTypeAcknowledge answers a Hello with the negotiated values.
	MessageTypeAcknowledge
	// MessageTypeReverseHello is sent by a server initiating a reverse
	// connection before the client sends its Hello.
	MessageTypeReverseHello
	// MessageTypeError reports a fatal connection error.
	MessageTypeError
	// MessageTypeMessage carries an application message chunk.
	MessageTypeMessage
	// MessageTypeOpenSecureChannel carries an open or renew exchange.
	MessageTypeOpenSecureChannel
	// MessageTypeCloseSecureChannel carries a close request.
	MessageTypeCloseSecureChannel
)

// Wire tags for each message type.
var messageTypeTags = map[MessageType][3]byte{
	MessageTypeHello:              {'H', 'E', 'L'},
	MessageTypeAcknowledge:        {'A', 'C', 'K'},
	MessageTypeReverseHello:       {'R', 'H', 'E'},
	MessageTypeError:              {'E', 'R', 'R'},
	MessageTypeMessage:            {'M', 'S', 'G'},
	MessageTypeOpenSecureChannel:  {'O', 'P', 'N'},
	MessageTypeCloseSecureChannel: {'C', 'L', 'O'},
}

// String returns the wire tag of the message type.
func (t MessageType) String() string {
	if tag, ok := messageTypeTags[t]; ok {
		return string(tag[:])
	}
	return fmt.Sprintf("Unknown(%d)", uint8(t))
}

// IsSecure reports whether frames of this type belong to a secure channel
// and therefore carry security and sequence headers.
func (t MessageType) IsSecure() bool {
	switch t {
	case MessageTypeMessage, MessageTypeOpenSecureChannel, MessageTypeCloseSecureChannel:
		return true
	}
	return false
}

func messageTypeFromTag(tag [3]byte) MessageType {
	for t, candidate := range messageTypeTags {
		if candidate == tag {
			return t
		}
	}
	return MessageTypeInvalid
}

// ChunkFlag marks the position of a chunk within a logical message.
type ChunkFlag byte

const (
	// ChunkIntermediate marks a chunk with more chunks to follow.
	ChunkIntermediate ChunkFlag = 'C'
	// ChunkFinal marks the last chunk of a message.
	ChunkFinal ChunkFlag = 'F'
	// ChunkAbort marks a final chunk that abandons the message it belongs
	// to. Its body carries a status code and reason.
	ChunkAbort ChunkFlag = 'A'
)

func validChunkFlag(f ChunkFlag) bool {
	return f == ChunkIntermediate || f == ChunkFinal || f == ChunkAbort
}

const (
	// FrameHeaderSize is the size of the common frame prefix: type tag,
	// chunk flag and total length.
	FrameHeaderSize = 3 + 1 + 4

	// ChunkHeaderSize is the size of a secure conversation chunk header:
	// the frame prefix plus the secure channel id.
	ChunkHeaderSize = FrameHeaderSize + 4

	// SymmetricHeaderSize is the size of the symmetric security header
	// (the token id).
	SymmetricHeaderSize = 4

	// SequenceHeaderSize is the size of the sequence header (sequence
	// number and request id).
	SequenceHeaderSize = 8

	// frameSizeOffset is the byte offset of the total length field.
	frameSizeOffset = 4
)

// FrameHeader is the prefix common to every frame.
type FrameHeader struct {
	Type  MessageType
	Final ChunkFlag
	Size  uint32
}

// ChunkHeader is the fixed header of a secure conversation chunk.
type ChunkHeader struct {
	FrameHeader
	ChannelID uint32
}

// SequenceHeader orders chunks within a direction and groups them into
// logical messages.
type SequenceHeader struct {
	SequenceNumber uint32
	RequestID      uint32
}

// EncodeFrameHeader writes the frame prefix into dst, which must hold at
// least FrameHeaderSize bytes.
func EncodeFrameHeader(dst []byte, h FrameHeader) error {
	tag, ok := messageTypeTags[h.Type]
	if !ok {
		return fmt.Errorf("%w: message type %d", ErrInvalidMessageType, h.Type)
	}
	if !validChunkFlag(h.Final) {
		return fmt.Errorf("%w: chunk flag %q", ErrInvalidChunkFlag, h.Final)
	}
	copy(dst[:3], tag[:])
	dst[3] = byte(h.Final)
	binary.LittleEndian.PutUint32(dst[frameSizeOffset:], h.Size)
	return nil
}

// DecodeFrameHeader parses the frame prefix from data.
func DecodeFrameHeader(data []byte) (FrameHeader, error) {
	if len(data) < FrameHeaderSize {
		return FrameHeader{}, fmt.Errorf("%w: %d bytes", ErrFrameTooShort, len(data))
	}
	var tag [3]byte
	copy(tag[:], data[:3])
	t := messageTypeFromTag(tag)
	if t == MessageTypeInvalid {
		return FrameHeader{}, fmt.Errorf("%w: tag %q", ErrInvalidMessageType, tag[:])
	}
	f := ChunkFlag(data[3])
	if !validChunkFlag(f) {
		return FrameHeader{}, fmt.Errorf("%w: chunk flag %q", ErrInvalidChunkFlag, f)
	}
	return FrameHeader{
		Type:  t,
		Final: f,
		Size:  binary.LittleEndian.Uint32(data[frameSizeOffset:FrameHeaderSize]),
	}, nil
}

// EncodeChunkHeader writes a secure conversation chunk header into dst,
// which must hold at least ChunkHeaderSize bytes.
func EncodeChunkHeader(dst []byte, h ChunkHeader) error {
	if err := EncodeFrameHeader(dst, h.FrameHeader); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(dst[FrameHeaderSize:], h.ChannelID)
	return nil
}

// DecodeChunkHeader parses a secure conversation chunk header from data.
func DecodeChunkHeader(data []byte) (ChunkHeader, error) {
	fh, err := DecodeFrameHeader(data)
	if err != nil {
		return ChunkHeader{}, err
	}
	if !fh.Type.IsSecure() {
		return ChunkHeader{}, fmt.Errorf("%w: %s is not a secure channel frame", ErrInvalidMessageType, fh.Type)
	}
	if len(data) < ChunkHeaderSize {
		return ChunkHeader{}, fmt.Errorf("%w: %d bytes", ErrFrameTooShort, len(data))
	}
	return ChunkHeader{
		FrameHeader: fh,
		ChannelID:   binary.LittleEndian.Uint32(data[FrameHeaderSize:ChunkHeaderSize]),
	}, nil
}

// EncodeSequenceHeader writes the sequence header into dst, which must hold
// at least SequenceHeaderSize bytes.
func EncodeSequenceHeader(dst []byte, h SequenceHeader) {
	binary.LittleEndian.PutUint32(dst, h.SequenceNumber)
	binary.LittleEndian.PutUint32(dst[4:], h.RequestID)
}

// DecodeSequenceHeader parses the sequence header from data.
func DecodeSequenceHeader(data []byte) (SequenceHeader, error) {
	if len(data) < SequenceHeaderSize {
		return SequenceHeader{}, fmt.Errorf("%w: %d bytes", ErrFrameTooShort, len(data))
	}
	return SequenceHeader{
		SequenceNumber: binary.LittleEndian.Uint32(data),
		RequestID:      binary.LittleEndian.Uint32(data[4:]),
	}, nil
}

// ReadFrame reads one complete frame from r. The declared length is checked
// against the frame header size and, when maxSize is non-zero, against the
// negotiated receive buffer size before the remainder is read. The returned
// slice contains the whole frame including the header.
func ReadFrame(r io.Reader, maxSize uint32) (FrameHeader, []byte, error) {
	var hdr [FrameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return FrameHeader{}, nil, fmt.Errorf("read frame header: %w", err)
	}
	fh, err := DecodeFrameHeader(hdr[:])
	if err != nil {
		return FrameHeader{}, nil, err
	}
	if fh.Size < FrameHeaderSize {
		return FrameHeader{}, nil, fmt.Errorf("%w: declared size %d below header size", ErrFrameTooShort, fh.Size)
	}
	if maxSize > 0 && fh.Size > maxSize {
		return FrameHeader{}, nil, fmt.Errorf("%w: declared size %d exceeds limit %d", ErrFrameTooLarge, fh.Size, maxSize)
	}
	frame := make([]byte, fh.Size)
	copy(frame, hdr[:])
	if _, err := io.ReadFull(r, frame[FrameHeaderSize:]); err != nil {
		return FrameHeader{}, nil, fmt.Errorf("read frame body: %w", err)
	}
	return fh, frame, nil
}

// encodeFrame builds a complete connection frame (HEL, ACK, ERR, RHE) from
// a body.
func encodeFrame(t MessageType, body []byte) ([]byte, error) {
	frame := make([]byte, FrameHeaderSize+len(body))
	err := EncodeFrameHeader(frame, FrameHeader{
		Type:  t,
		Final: ChunkFinal,
		Size:  uint32(len(frame)),
	})
	if err != nil {
		return nil, err
	}
	copy(frame[FrameHeaderSize:], body)
	return frame, nil
}
