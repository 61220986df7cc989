// Package bytequeue implements a bounded, segmented FIFO of bytes shared
// between a producer and a consumer.
//
// A Queue holds the bytes of one stream direction (for example the not yet
// flushed bytes of a request, or the reply bytes read from a proxy). Data is
// stored as a list of owned segments with an offset into the oldest one, so
// partial consumption never shifts or reallocates the remaining bytes.
//
// Queue methods never block on their own. Short operations report partial
// counts, and conditions that would block are reported as ErrWouldBlock by the
// connection the queue is reading from or writing to, leaving retry policy to
// the caller.
package bytequeue
