// Package tunnel implements a socket that reaches its peer through an HTTP
// proxy using the CONNECT method.
//
// A Socket opens (or is handed) a connection to the proxy, sends
//
//	CONNECT host:port HTTP/1.1
//
// and reads the reply header block. Once the proxy answers with a 2xx status
// the socket is tunneled and Read and Write pass bytes straight through to
// the target. Bytes the proxy sent after the reply headers are never
// consumed by the handshake, so they are the first bytes a tunneled Read
// returns.
//
// The handshake works over blocking and non-blocking transports. With a
// non-blocking transport Connect and Continue return ErrInProgress whenever
// the transport would block, and the caller re-drives the handshake with
// Continue when the transport becomes readable or writable again.
package tunnel
