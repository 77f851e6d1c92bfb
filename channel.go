package uasc

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/uasc/crypto"
	"github.com/opd-ai/uasc/limits"
	"github.com/opd-ai/uasc/transport"
)

// Role distinguishes the initiating side of a channel from the
// responding side. The responder assigns channel and token identifiers
// and is authoritative on token lifetimes.
type Role int

const (
	// RoleClient initiates the handshake and drives token renewal.
	RoleClient Role = iota
	// RoleServer responds to the handshake and to renewal requests.
	RoleServer
)

// String returns the role name.
func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// State is the lifecycle state of a secure channel.
type State int

const (
	// StateClosed is both the initial and the terminal state.
	StateClosed State = iota
	// StateOpening covers negotiation and the open exchange.
	StateOpening
	// StateOpen accepts sends and receives.
	StateOpen
	// StateRenewing is Open with a renewal outstanding.
	StateRenewing
	// StateClosing covers the close exchange.
	StateClosing
)

var stateNames = map[State]string{
	StateClosed:   "Closed",
	StateOpening:  "Opening",
	StateOpen:     "Open",
	StateRenewing: "Renewing",
	StateClosing:  "Closing",
}

// String returns the state name.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// channelIDs assigns server-side channel identifiers.
var channelIDs atomic.Uint32

// SecureChannel is one secure conversation over one byte stream. It is
// created with NewClient or NewServer and becomes usable after Open or
// Accept respectively.
//
// A channel is owned by the connection that created it. Send/Respond and
// Receive may be called from separate goroutines (one writer, one
// reader); internal locks are only held for short token-swap and counter
// critical sections, never across I/O.
type SecureChannel struct {
	cfg      *Config
	conn     io.ReadWriteCloser
	role     Role
	provider crypto.Provider
	clock    TimeProvider
	log      *logrus.Logger

	// writeMu serializes chunk encoding and writing, keeping outbound
	// sequence numbers contiguous on the wire.
	writeMu sync.Mutex
	sendSeq *sequenceCounter
	recvSeq *sequenceTracker

	mu            sync.Mutex
	state         State
	fatalErr      error
	lastRequestID uint32
	tokenCounter  uint32
	renewPending  bool
	renewSentAt   time.Time
	renewNonce    []byte

	channelID uint32
	lim       limits.Limits
	tokens    *tokenManager
	enc       *chunkEncoder
	dec       *chunkDecoder
}

// NewClient creates the initiating side of a secure channel over conn.
// The channel is not usable until Open succeeds.
func NewClient(conn io.ReadWriteCloser, cfg *Config) (*SecureChannel, error) {
	return newChannel(conn, cfg, RoleClient)
}

// NewServer creates the responding side of a secure channel over conn.
// The channel is not usable until Accept succeeds.
func NewServer(conn io.ReadWriteCloser, cfg *Config) (*SecureChannel, error) {
	return newChannel(conn, cfg, RoleServer)
}

func newChannel(conn io.ReadWriteCloser, cfg *Config, role Role) (*SecureChannel, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	provider, err := crypto.NewProvider(cfg.Policy, crypto.WithKeyDerivation(cfg.KeyDerivation))
	if err != nil {
		return nil, err
	}
	c := &SecureChannel{
		cfg:      cfg,
		conn:     conn,
		role:     role,
		provider: provider,
		clock:    cfg.clock(),
		log:      cfg.logger(),
		sendSeq:  newSequenceCounter(),
		recvSeq:  &sequenceTracker{},
		state:    StateClosed,
	}
	c.tokens = newTokenManager(provider, cfg, role == RoleClient)
	return c, nil
}

// State returns the channel's lifecycle state.
func (c *SecureChannel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ChannelID returns the responder-assigned channel identifier, zero
// before the channel is open.
func (c *SecureChannel) ChannelID() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channelID
}

// Limits returns the limits negotiated for the connection.
func (c *SecureChannel) Limits() limits.Limits {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lim
}

// Send encodes body as one logical message and writes its chunks. It
// returns the request id assigned to the message. A *RequestError means
// the message was rejected by the negotiated size limits and an Abort was
// sent in its place; the channel remains usable. Any other error is
// channel-fatal.
func (c *SecureChannel) Send(body []byte) (uint32, error) {
	if err := c.checkOpen(); err != nil {
		return 0, err
	}
	if c.role == RoleClient {
		if err := c.maybeRenew(); err != nil {
			return 0, err
		}
	}
	if c.tokens.expired() {
		return 0, c.fail(transport.StatusBadSecureChannelClosed, ErrTokenExpired)
	}
	reqID := c.nextRequestID()
	return reqID, c.writeMessage(transport.MessageTypeMessage, reqID, body)
}

// Respond sends body as the response to a previously received request
// id. It is the server-side counterpart of Send.
func (c *SecureChannel) Respond(requestID uint32, body []byte) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if c.tokens.expired() {
		return c.fail(transport.StatusBadSecureChannelClosed, ErrTokenExpired)
	}
	c.noteRequestID(requestID)
	return c.writeMessage(transport.MessageTypeMessage, requestID, body)
}

func (c *SecureChannel) writeMessage(msgType transport.MessageType, requestID uint32, body []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	chunks, encErr := c.enc.encodeMessage(msgType, requestID, body)
	var reqErr *RequestError
	if encErr != nil && !errors.As(encErr, &reqErr) {
		return c.fail(transport.StatusBadTCPInternalError, encErr)
	}
	for _, chunk := range chunks {
		if _, err := c.conn.Write(chunk); err != nil {
			return c.fail(transport.StatusBadCommunicationError, err)
		}
	}
	if reqErr != nil {
		c.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"status":     reqErr.Status.String(),
		}).Warn("Message rejected by negotiated limits, abort sent")
		return reqErr
	}
	return nil
}

// Receive blocks until one complete logical message arrives. Renewal
// exchanges are consumed transparently. A *RequestError reports a message
// the peer aborted; ErrChannelClosed reports a clean close by the peer;
// any other error is channel-fatal.
func (c *SecureChannel) Receive() (*Message, error) {
	for {
		if err := c.checkOpen(); err != nil {
			return nil, err
		}
		fh, raw, err := transport.ReadFrame(c.conn, c.lim.ReceiveBufferSize)
		if err != nil {
			return nil, c.fail(transport.StatusBadCommunicationError, err)
		}

		switch fh.Type {
		case transport.MessageTypeMessage, transport.MessageTypeCloseSecureChannel:
			msg, err := c.dec.decodeChunk(raw)
			var reqErr *RequestError
			if errors.As(err, &reqErr) {
				return nil, reqErr
			}
			if err != nil {
				return nil, c.failWith(err)
			}
			if msg == nil {
				continue
			}
			if msg.Type == transport.MessageTypeCloseSecureChannel {
				c.log.WithField("channel_id", c.channelID).Debug("Peer closed secure channel")
				c.teardown(nil)
				return nil, ErrChannelClosed
			}
			c.noteRequestID(msg.RequestID)
			return msg, nil

		case transport.MessageTypeOpenSecureChannel:
			if c.role == RoleClient {
				err = c.handleRenewResponse(raw)
			} else {
				err = c.handleRenewRequest(raw)
			}
			if err != nil {
				return nil, err
			}

		case transport.MessageTypeError:
			if em, decErr := transport.DecodeError(raw[transport.FrameHeaderSize:]); decErr == nil {
				return nil, c.fail(em.Code, fmt.Errorf("%w: %s", transport.ErrRemoteError, em.Reason))
			}
			return nil, c.fail(transport.StatusBadDecodingError, transport.ErrRemoteError)

		default:
			return nil, c.fail(transport.StatusBadTCPMessageTypeInvalid,
				fmt.Errorf("unexpected %s frame on open channel", fh.Type))
		}
	}
}

// Close sends a CloseSecureChannel message when the channel is open, then
// tears the channel down. Close is idempotent and never blocks on the
// peer; there is no close acknowledgement.
func (c *SecureChannel) Close() error {
	c.mu.Lock()
	if c.state == StateClosed || c.state == StateClosing {
		c.mu.Unlock()
		return nil
	}
	wasOpen := c.state == StateOpen || c.state == StateRenewing
	c.state = StateClosing
	c.mu.Unlock()

	if wasOpen {
		reqID := c.nextRequestID()
		c.writeMu.Lock()
		chunks, err := c.enc.encodeMessage(transport.MessageTypeCloseSecureChannel, reqID, nil)
		if err == nil {
			for _, chunk := range chunks {
				if _, werr := c.conn.Write(chunk); werr != nil {
					break
				}
			}
		}
		c.writeMu.Unlock()
		c.log.WithField("channel_id", c.channelID).Debug("Closed secure channel")
	}
	c.teardown(nil)
	return nil
}

// checkOpen returns the terminal error for a closed channel, or nil when
// the channel accepts traffic.
func (c *SecureChannel) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateOpen, StateRenewing:
		return nil
	case StateClosed:
		if c.fatalErr != nil {
			return c.fatalErr
		}
		return ErrChannelClosed
	default:
		return ErrChannelNotOpen
	}
}

// fail records a channel-fatal error, tears the channel down and returns
// the error.
func (c *SecureChannel) fail(status transport.StatusCode, cause error) error {
	return c.failWith(fatalError(status, cause))
}

// failWith tears the channel down with an already-built fatal error. A
// channel that already failed keeps its first error.
func (c *SecureChannel) failWith(err error) error {
	c.mu.Lock()
	if c.state == StateClosed && c.fatalErr != nil {
		first := c.fatalErr
		c.mu.Unlock()
		return first
	}
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{
		"channel_id": c.channelID,
		"role":       c.role.String(),
		"error":      err,
	}).Error("Secure channel failed")
	c.teardown(err)
	return err
}

// teardown moves the channel to Closed, wipes all key material, drops
// reassembly buffers and closes the underlying stream. Safe to call more
// than once.
func (c *SecureChannel) teardown(err error) {
	c.mu.Lock()
	alreadyClosed := c.state == StateClosed
	c.state = StateClosed
	if c.fatalErr == nil {
		c.fatalErr = err
	}
	c.renewPending = false
	c.renewNonce = nil
	c.mu.Unlock()
	if alreadyClosed {
		return
	}
	c.tokens.wipe()
	if c.dec != nil {
		c.dec.dropBuffers()
	}
	_ = c.conn.Close()
}

// nextRequestID returns a request id strictly greater than any id this
// side has assigned or echoed so far.
func (c *SecureChannel) nextRequestID() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastRequestID++
	return c.lastRequestID
}

// noteRequestID records a request id observed from the peer, so ids this
// side assigns later never regress below it.
func (c *SecureChannel) noteRequestID(id uint32) {
	c.mu.Lock()
	if id > c.lastRequestID {
		c.lastRequestID = id
	}
	c.mu.Unlock()
}

func (c *SecureChannel) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// applyDeadline arms an I/O deadline on streams that support one. The
// returned function clears it.
func (c *SecureChannel) applyDeadline(timeout time.Duration) func() {
	if timeout <= 0 {
		return func() {}
	}
	d, ok := c.conn.(interface{ SetDeadline(time.Time) error })
	if !ok {
		return func() {}
	}
	if err := d.SetDeadline(c.clock.Now().Add(timeout)); err != nil {
		c.log.WithError(err).Warn("Could not set channel deadline")
		return func() {}
	}
	return func() { _ = d.SetDeadline(time.Time{}) }
}
