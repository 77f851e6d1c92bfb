package uasc

import (
	"bytes"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/uasc/crypto"
	"github.com/opd-ai/uasc/transport"
)

// Open negotiates buffer limits and performs the open secure channel
// exchange as the client. On success the channel is Open; the assigned
// channel id is available via ChannelID.
func (c *SecureChannel) Open() error {
	c.mu.Lock()
	if c.state != StateClosed || c.fatalErr != nil {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: cannot open in state %s", ErrChannelNotOpen, state)
	}
	c.state = StateOpening
	c.mu.Unlock()

	neg := &transport.Negotiator{Local: c.cfg.Limits, Timeout: c.cfg.HandshakeTimeout}
	lim, err := neg.Client(c.conn, c.cfg.EndpointURL)
	if err != nil {
		return c.fail(transport.StatusBadCommunicationError, err)
	}
	c.lim = lim

	clear := c.applyDeadline(c.cfg.HandshakeTimeout)
	defer clear()

	clientNonce, err := crypto.NewNonce(c.cfg.Policy)
	if err != nil {
		return c.fail(transport.StatusBadTCPInternalError, err)
	}
	req := &transport.OpenSecureChannelRequest{
		ClientVersion:     transport.ProtocolVersion,
		RequestType:       transport.SecurityRequestIssue,
		SecurityMode:      uint32(c.cfg.Mode),
		ClientNonce:       clientNonce,
		RequestedLifetime: c.cfg.RequestedLifetime,
	}
	reqID := c.nextRequestID()
	seqHdr := transport.SequenceHeader{SequenceNumber: c.sendSeq.take(), RequestID: reqID}
	chunk, err := encodeOpenChunk(0, c.asymHeader(), seqHdr, req.Encode())
	if err != nil {
		return c.fail(transport.StatusBadEncodingError, err)
	}
	if _, err := c.conn.Write(chunk); err != nil {
		return c.fail(transport.StatusBadCommunicationError, err)
	}

	fh, raw, err := transport.ReadFrame(c.conn, lim.ReceiveBufferSize)
	if err != nil {
		return c.fail(transport.StatusBadCommunicationError, err)
	}
	switch fh.Type {
	case transport.MessageTypeOpenSecureChannel:
	case transport.MessageTypeError:
		if em, decErr := transport.DecodeError(raw[transport.FrameHeaderSize:]); decErr == nil {
			return c.fail(em.Code, fmt.Errorf("%w: %s", transport.ErrRemoteError, em.Reason))
		}
		return c.fail(transport.StatusBadDecodingError, transport.ErrRemoteError)
	default:
		return c.fail(transport.StatusBadTCPMessageTypeInvalid,
			fmt.Errorf("expected OPN response, got %s", fh.Type))
	}

	_, asym, respSeq, body, err := decodeOpenChunk(raw)
	if err != nil {
		return c.fail(transport.StatusBadDecodingError, err)
	}
	if err := c.recvSeq.check(respSeq.SequenceNumber); err != nil {
		return c.fail(transport.StatusBadSequenceNumberInvalid, err)
	}
	if asym.PolicyURI != c.cfg.Policy.URI() {
		return c.fail(transport.StatusBadSecurityPolicyRejected,
			fmt.Errorf("server answered with policy %q", asym.PolicyURI))
	}
	resp, err := transport.DecodeOpenSecureChannelResponse(body)
	if err != nil {
		return c.fail(transport.StatusBadDecodingError, err)
	}
	if err := crypto.ValidateNonce(c.cfg.Policy, resp.ServerNonce); err != nil {
		return c.fail(transport.StatusBadNonceInvalid, err)
	}

	c.mu.Lock()
	c.channelID = resp.ChannelID
	c.mu.Unlock()
	c.tokens.activate(resp.TokenID, c.clock.Now(), resp.RevisedLifetime, clientNonce, resp.ServerNonce)
	crypto.ZeroBytes(clientNonce)
	c.bind(resp.ChannelID, transport.StatusBadRequestTooLarge)
	c.setState(StateOpen)

	c.log.WithFields(logrus.Fields{
		"channel_id": resp.ChannelID,
		"token_id":   resp.TokenID,
		"policy":     c.cfg.Policy.String(),
		"mode":       c.cfg.Mode.String(),
		"lifetime":   resp.RevisedLifetime,
	}).Info("Opened secure channel")
	return nil
}

// Accept negotiates buffer limits and answers the open secure channel
// exchange as the server. On success the channel is Open.
func (c *SecureChannel) Accept() error {
	c.mu.Lock()
	if c.state != StateClosed || c.fatalErr != nil {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: cannot accept in state %s", ErrChannelNotOpen, state)
	}
	c.state = StateOpening
	c.mu.Unlock()

	neg := &transport.Negotiator{Local: c.cfg.Limits, Timeout: c.cfg.HandshakeTimeout}
	lim, err := neg.Server(c.conn)
	if err != nil {
		return c.fail(transport.StatusBadCommunicationError, err)
	}
	c.lim = lim

	clear := c.applyDeadline(c.cfg.HandshakeTimeout)
	defer clear()

	fh, raw, err := transport.ReadFrame(c.conn, lim.ReceiveBufferSize)
	if err != nil {
		return c.fail(transport.StatusBadCommunicationError, err)
	}
	if fh.Type != transport.MessageTypeOpenSecureChannel {
		return c.fail(transport.StatusBadTCPMessageTypeInvalid,
			fmt.Errorf("expected OPN request, got %s", fh.Type))
	}
	_, asym, seqHdr, body, err := decodeOpenChunk(raw)
	if err != nil {
		return c.fail(transport.StatusBadDecodingError, err)
	}
	if err := c.recvSeq.check(seqHdr.SequenceNumber); err != nil {
		return c.fail(transport.StatusBadSequenceNumberInvalid, err)
	}
	req, err := transport.DecodeOpenSecureChannelRequest(body)
	if err != nil {
		return c.fail(transport.StatusBadDecodingError, err)
	}
	if req.RequestType != transport.SecurityRequestIssue {
		return c.fail(transport.StatusBadInvalidState,
			fmt.Errorf("renew request on a channel that was never opened"))
	}
	if asym.PolicyURI != c.cfg.Policy.URI() {
		c.sendError(transport.StatusBadSecurityPolicyRejected, "security policy not supported")
		return c.fail(transport.StatusBadSecurityPolicyRejected,
			fmt.Errorf("client requested policy %q", asym.PolicyURI))
	}
	if req.SecurityMode != uint32(c.cfg.Mode) {
		c.sendError(transport.StatusBadSecurityModeRejected, "security mode not supported")
		return c.fail(transport.StatusBadSecurityModeRejected,
			fmt.Errorf("client requested mode %d", req.SecurityMode))
	}
	if err := crypto.ValidateNonce(c.cfg.Policy, req.ClientNonce); err != nil {
		c.sendError(transport.StatusBadNonceInvalid, "client nonce invalid")
		return c.fail(transport.StatusBadNonceInvalid, err)
	}

	channelID := channelIDs.Add(1)
	token, err := c.issueToken(req.ClientNonce, req.RequestedLifetime)
	if err != nil {
		return c.fail(transport.StatusBadTCPInternalError, err)
	}
	c.mu.Lock()
	c.channelID = channelID
	c.mu.Unlock()
	c.noteRequestID(seqHdr.RequestID)

	resp := &transport.OpenSecureChannelResponse{
		ServerVersion:   transport.ProtocolVersion,
		ChannelID:       channelID,
		TokenID:         token.id,
		CreatedAt:       token.createdAt,
		RevisedLifetime: token.lifetime,
		ServerNonce:     token.serverNonce,
	}
	respSeq := transport.SequenceHeader{SequenceNumber: c.sendSeq.take(), RequestID: seqHdr.RequestID}
	chunk, err := encodeOpenChunk(channelID, c.asymHeader(), respSeq, resp.Encode())
	if err != nil {
		return c.fail(transport.StatusBadEncodingError, err)
	}
	if _, err := c.conn.Write(chunk); err != nil {
		return c.fail(transport.StatusBadCommunicationError, err)
	}

	c.tokens.activate(token.id, token.createdAt, token.lifetime, req.ClientNonce, token.serverNonce)
	crypto.ZeroBytes(token.serverNonce)
	c.bind(channelID, transport.StatusBadResponseTooLarge)
	c.setState(StateOpen)

	c.log.WithFields(logrus.Fields{
		"channel_id": channelID,
		"token_id":   token.id,
		"policy":     c.cfg.Policy.String(),
		"mode":       c.cfg.Mode.String(),
		"lifetime":   token.lifetime,
	}).Info("Accepted secure channel")
	return nil
}

// Renew sends a token renewal request. The exchange is asynchronous: the
// response is consumed by Receive, which swaps the token transparently. A
// renewal already in flight makes Renew a no-op. Clients normally never
// call this — Send renews automatically once the renew fraction of the
// token lifetime has elapsed.
func (c *SecureChannel) Renew() error {
	if c.role != RoleClient {
		return fmt.Errorf("%w: only the client renews", ErrChannelNotOpen)
	}
	if err := c.checkOpen(); err != nil {
		return err
	}
	nonce, err := crypto.NewNonce(c.cfg.Policy)
	if err != nil {
		return c.fail(transport.StatusBadTCPInternalError, err)
	}

	c.mu.Lock()
	if c.renewPending {
		c.mu.Unlock()
		return nil
	}
	c.renewPending = true
	c.renewSentAt = c.clock.Now()
	c.renewNonce = nonce
	c.state = StateRenewing
	channelID := c.channelID
	c.mu.Unlock()

	req := &transport.OpenSecureChannelRequest{
		ClientVersion:     transport.ProtocolVersion,
		RequestType:       transport.SecurityRequestRenew,
		SecurityMode:      uint32(c.cfg.Mode),
		ClientNonce:       nonce,
		RequestedLifetime: c.cfg.RequestedLifetime,
	}
	reqID := c.nextRequestID()

	c.writeMu.Lock()
	seqHdr := transport.SequenceHeader{SequenceNumber: c.sendSeq.take(), RequestID: reqID}
	chunk, err := encodeOpenChunk(channelID, c.asymHeader(), seqHdr, req.Encode())
	if err == nil {
		_, err = c.conn.Write(chunk)
	}
	c.writeMu.Unlock()
	if err != nil {
		return c.fail(transport.StatusBadCommunicationError, err)
	}

	c.log.WithFields(logrus.Fields{
		"channel_id": channelID,
		"request_id": reqID,
	}).Debug("Requested token renewal")
	return nil
}

// maybeRenew starts a renewal when the current token is due and fails the
// channel when an outstanding renewal has exceeded its timeout.
func (c *SecureChannel) maybeRenew() error {
	c.mu.Lock()
	pending, sentAt := c.renewPending, c.renewSentAt
	c.mu.Unlock()

	if pending {
		if c.cfg.RenewTimeout > 0 && c.clock.Since(sentAt) > c.cfg.RenewTimeout {
			return c.fail(transport.StatusBadTimeout, ErrRenewTimeout)
		}
		return nil
	}
	if !c.tokens.shouldRenew() {
		return nil
	}
	return c.Renew()
}

// handleRenewResponse completes a client-side renewal with the server's
// OPN response.
func (c *SecureChannel) handleRenewResponse(raw []byte) error {
	hdr, _, seqHdr, body, err := decodeOpenChunk(raw)
	if err != nil {
		return c.fail(transport.StatusBadDecodingError, err)
	}
	if hdr.ChannelID != c.ChannelID() {
		return c.fail(transport.StatusBadSecureChannelIDInvalid,
			fmt.Errorf("channel id %d, want %d", hdr.ChannelID, c.ChannelID()))
	}
	if err := c.recvSeq.check(seqHdr.SequenceNumber); err != nil {
		return c.fail(transport.StatusBadSequenceNumberInvalid, err)
	}

	c.mu.Lock()
	pending, nonce := c.renewPending, c.renewNonce
	c.mu.Unlock()
	if !pending {
		return c.fail(transport.StatusBadInvalidState,
			fmt.Errorf("unsolicited OPN response"))
	}

	resp, err := transport.DecodeOpenSecureChannelResponse(body)
	if err != nil {
		return c.fail(transport.StatusBadDecodingError, err)
	}
	if err := crypto.ValidateNonce(c.cfg.Policy, resp.ServerNonce); err != nil {
		return c.fail(transport.StatusBadNonceInvalid, err)
	}

	c.tokens.activate(resp.TokenID, c.clock.Now(), resp.RevisedLifetime, nonce, resp.ServerNonce)
	c.mu.Lock()
	crypto.ZeroBytes(c.renewNonce)
	c.renewPending = false
	c.renewNonce = nil
	if c.state == StateRenewing {
		c.state = StateOpen
	}
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{
		"channel_id": c.ChannelID(),
		"token_id":   resp.TokenID,
		"lifetime":   resp.RevisedLifetime,
	}).Debug("Renewed security token")
	return nil
}

// handleRenewRequest answers a client's renewal on the server side,
// issuing and activating the next token.
func (c *SecureChannel) handleRenewRequest(raw []byte) error {
	hdr, asym, seqHdr, body, err := decodeOpenChunk(raw)
	if err != nil {
		return c.fail(transport.StatusBadDecodingError, err)
	}
	if hdr.ChannelID != c.ChannelID() {
		return c.fail(transport.StatusBadSecureChannelIDInvalid,
			fmt.Errorf("channel id %d, want %d", hdr.ChannelID, c.ChannelID()))
	}
	if err := c.recvSeq.check(seqHdr.SequenceNumber); err != nil {
		return c.fail(transport.StatusBadSequenceNumberInvalid, err)
	}
	req, err := transport.DecodeOpenSecureChannelRequest(body)
	if err != nil {
		return c.fail(transport.StatusBadDecodingError, err)
	}
	if req.RequestType != transport.SecurityRequestRenew {
		return c.fail(transport.StatusBadInvalidState,
			fmt.Errorf("issue request on an open channel"))
	}
	if asym.PolicyURI != c.cfg.Policy.URI() || req.SecurityMode != uint32(c.cfg.Mode) {
		return c.fail(transport.StatusBadSecurityPolicyRejected,
			fmt.Errorf("renewal changed security parameters"))
	}
	if err := crypto.ValidateNonce(c.cfg.Policy, req.ClientNonce); err != nil {
		return c.fail(transport.StatusBadNonceInvalid, err)
	}

	token, err := c.issueToken(req.ClientNonce, req.RequestedLifetime)
	if err != nil {
		return c.fail(transport.StatusBadTCPInternalError, err)
	}
	c.noteRequestID(seqHdr.RequestID)

	resp := &transport.OpenSecureChannelResponse{
		ServerVersion:   transport.ProtocolVersion,
		ChannelID:       c.ChannelID(),
		TokenID:         token.id,
		CreatedAt:       token.createdAt,
		RevisedLifetime: token.lifetime,
		ServerNonce:     token.serverNonce,
	}

	c.writeMu.Lock()
	respSeq := transport.SequenceHeader{SequenceNumber: c.sendSeq.take(), RequestID: seqHdr.RequestID}
	chunk, err := encodeOpenChunk(c.ChannelID(), c.asymHeader(), respSeq, resp.Encode())
	if err == nil {
		_, err = c.conn.Write(chunk)
	}
	c.writeMu.Unlock()
	if err != nil {
		return c.fail(transport.StatusBadCommunicationError, err)
	}

	// The new token becomes current only after the response carrying its
	// id is on the wire, so chunks sent above were still under the old one.
	c.tokens.activate(token.id, token.createdAt, token.lifetime, req.ClientNonce, token.serverNonce)
	crypto.ZeroBytes(token.serverNonce)

	c.log.WithFields(logrus.Fields{
		"channel_id": c.ChannelID(),
		"token_id":   token.id,
		"lifetime":   token.lifetime,
	}).Debug("Issued renewed security token")
	return nil
}

// issuedToken carries the parameters of a server-issued token before it
// is activated.
type issuedToken struct {
	id          uint32
	createdAt   time.Time
	lifetime    time.Duration
	serverNonce []byte
}

// issueToken picks the next token id, generates the server nonce and
// revises the requested lifetime. The server never grants more than its
// own configured lifetime.
func (c *SecureChannel) issueToken(clientNonce []byte, requested time.Duration) (*issuedToken, error) {
	serverNonce, err := crypto.NewNonce(c.cfg.Policy)
	if err != nil {
		return nil, err
	}
	lifetime := requested
	if lifetime <= 0 || lifetime > c.cfg.RequestedLifetime {
		lifetime = c.cfg.RequestedLifetime
	}
	c.mu.Lock()
	c.tokenCounter++
	id := c.tokenCounter
	c.mu.Unlock()
	return &issuedToken{
		id:          id,
		createdAt:   c.clock.Now(),
		lifetime:    lifetime,
		serverNonce: serverNonce,
	}, nil
}

// bind wires the encoder and decoder to the established channel identity.
func (c *SecureChannel) bind(channelID uint32, oversizeStatus transport.StatusCode) {
	c.enc = &chunkEncoder{
		channelID:      channelID,
		lim:            c.lim,
		mode:           c.cfg.Mode,
		provider:       c.provider,
		tokens:         c.tokens,
		seq:            c.sendSeq,
		oversizeStatus: oversizeStatus,
	}
	c.dec = newChunkDecoder(channelID, c.lim, c.cfg.Mode, c.provider, c.tokens, c.recvSeq)
}

// asymHeader builds the asymmetric security header for OPN chunks. The
// certificate fields are null unless an asymmetric identity is
// configured.
func (c *SecureChannel) asymHeader() *transport.AsymmetricSecurityHeader {
	h := &transport.AsymmetricSecurityHeader{PolicyURI: c.cfg.Policy.URI()}
	if a := c.cfg.Asymmetric; a != nil {
		h.SenderCertificate = a.Certificate()
		h.ReceiverThumbprint = a.Thumbprint()
	}
	return h
}

// sendError writes an ERR frame, best effort.
func (c *SecureChannel) sendError(code transport.StatusCode, reason string) {
	em := &transport.ErrorMessage{Code: code, Reason: reason}
	frame, err := em.Encode()
	if err != nil {
		return
	}
	if _, err := c.conn.Write(frame); err != nil {
		c.log.WithError(err).Debug("Could not send error frame")
	}
}

// encodeOpenChunk assembles one OPN chunk: chunk header, asymmetric
// security header, sequence header, body. OPN exchanges always fit one
// Final chunk.
func encodeOpenChunk(channelID uint32, asym *transport.AsymmetricSecurityHeader, seqHdr transport.SequenceHeader, body []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(make([]byte, transport.ChunkHeaderSize))
	asym.Encode(&buf)
	var seq [transport.SequenceHeaderSize]byte
	transport.EncodeSequenceHeader(seq[:], seqHdr)
	buf.Write(seq[:])
	buf.Write(body)

	out := buf.Bytes()
	hdr := transport.ChunkHeader{
		FrameHeader: transport.FrameHeader{
			Type:  transport.MessageTypeOpenSecureChannel,
			Final: transport.ChunkFinal,
			Size:  uint32(len(out)),
		},
		ChannelID: channelID,
	}
	if err := transport.EncodeChunkHeader(out, hdr); err != nil {
		return nil, err
	}
	return out, nil
}

// decodeOpenChunk parses one OPN chunk into its headers and body.
func decodeOpenChunk(raw []byte) (transport.ChunkHeader, *transport.AsymmetricSecurityHeader, transport.SequenceHeader, []byte, error) {
	hdr, err := transport.DecodeChunkHeader(raw)
	if err != nil {
		return transport.ChunkHeader{}, nil, transport.SequenceHeader{}, nil, err
	}
	if int(hdr.Size) != len(raw) {
		return transport.ChunkHeader{}, nil, transport.SequenceHeader{}, nil,
			fmt.Errorf("%w: declared size %d, received %d bytes", transport.ErrFrameTooShort, hdr.Size, len(raw))
	}
	rd := bytes.NewReader(raw[transport.ChunkHeaderSize:])
	asym, err := transport.DecodeAsymmetricSecurityHeader(rd)
	if err != nil {
		return transport.ChunkHeader{}, nil, transport.SequenceHeader{}, nil, err
	}
	rest := raw[len(raw)-rd.Len():]
	seqHdr, err := transport.DecodeSequenceHeader(rest)
	if err != nil {
		return transport.ChunkHeader{}, nil, transport.SequenceHeader{}, nil, err
	}
	return hdr, asym, seqHdr, rest[transport.SequenceHeaderSize:], nil
}
