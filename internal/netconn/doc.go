// Package netconn adapts a net.Conn to the duplex connection used by the
// byte queue and the proxy tunnel.
//
// Blocking connections buffer reads through a bufio.Reader, so Peek and
// BytesAvailable see what has already been pulled off the socket. Nothing is
// lost: bytes read ahead are returned by later Reads.
//
// On Linux, NewNonBlocking works on the socket descriptor directly. Read and
// Write never park the goroutine, Peek uses MSG_PEEK and BytesAvailable uses
// TIOCINQ (FIONREAD). Operations that would block return
// bytequeue.ErrWouldBlock. On other platforms NewNonBlocking returns an error.
package netconn
