// Package transport implements the wire layer of the secure conversation
// protocol: chunk framing, the Hello/Acknowledge handshake, the open and
// close secure channel message bodies and the protocol status code
// taxonomy.
//
// A frame is the smallest unit read from or written to the byte stream. It
// starts with a 3-byte message type tag, a 1-byte chunk flag and a 4-byte
// total length. Secure conversation frames (MSG, OPN, CLO) continue with a
// security header and a sequence header; connection frames (HEL, ACK, ERR)
// carry their body directly.
//
// Example:
//
//	neg := &transport.Negotiator{Local: limits.Default()}
//	negotiated, err := neg.Client(conn, "opc.tcp://example:4840")
//	if err != nil {
//	    log.Fatal(err)
//	}
package transport
