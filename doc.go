// Package uasc implements the secure conversation layer of the OPC-UA
// binary protocol: buffer negotiation, secure channel establishment,
// security token lifecycle, and the splitting of logical messages into
// signed and encrypted wire chunks with strict sequence and size
// discipline on receive.
//
// The package operates on any byte stream (io.ReadWriteCloser); dialing
// and listening belong to the caller. A channel is opened on the client
// side with NewClient followed by Open, and on the server side with
// NewServer followed by Accept:
//
//	ch, err := uasc.NewClient(conn, cfg)
//	if err != nil { ... }
//	if err := ch.Open(); err != nil { ... }
//	id, err := ch.Send([]byte("payload"))
//	msg, err := ch.Receive()
//
// Cryptographic primitives live in the crypto subpackage, wire codecs in
// transport, and negotiated protocol limits in limits.
package uasc
