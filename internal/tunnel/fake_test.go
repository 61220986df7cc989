package tunnel

import (
	"bytes"
	"io"
	"net"

	"github.com/die-net/proxytunnel/internal/bytequeue"
)

// fakeTransport is an in-memory proxy connection. Reply bytes are delivered
// in chunks: a blocking transport pulls the next chunk whenever it runs dry,
// a non-blocking one reports ErrWouldBlock until deliver is called.
type fakeTransport struct {
	blocking bool

	in     []byte
	chunks [][]byte
	eof    bool // after the last chunk

	out          bytes.Buffer
	writeLimit   int // per Write call, 0 = unlimited
	writeBlocked bool
	writeErr     error

	closed bool
}

func newFake(blocking bool, chunks ...[]byte) *fakeTransport {
	return &fakeTransport{blocking: blocking, chunks: chunks}
}

// chunked splits s into pieces of size n (the last may be shorter).
func chunked(s string, n int) [][]byte {
	var out [][]byte
	for len(s) > 0 {
		k := min(n, len(s))
		out = append(out, []byte(s[:k]))
		s = s[k:]
	}
	return out
}

// deliver makes the next chunk readable and reports whether there was one.
func (f *fakeTransport) deliver() bool {
	if len(f.chunks) == 0 {
		return false
	}
	f.in = append(f.in, f.chunks[0]...)
	f.chunks = f.chunks[1:]
	return true
}

// remaining returns every reply byte not yet read.
func (f *fakeTransport) remaining() []byte {
	var b []byte
	b = append(b, f.in...)
	for _, c := range f.chunks {
		b = append(b, c...)
	}
	return b
}

func (f *fakeTransport) empty() error {
	if f.eof && len(f.chunks) == 0 {
		return io.EOF
	}
	if f.blocking {
		if f.deliver() {
			return nil
		}
		return io.EOF
	}
	return bytequeue.ErrWouldBlock
}

func (f *fakeTransport) Read(p []byte) (int, error) {
	if f.closed {
		return 0, net.ErrClosed
	}
	if len(f.in) == 0 {
		if err := f.empty(); err != nil {
			return 0, err
		}
	}
	n := copy(p, f.in)
	f.in = f.in[n:]
	return n, nil
}

func (f *fakeTransport) Peek(p []byte) (int, error) {
	if f.closed {
		return 0, net.ErrClosed
	}
	if len(f.in) == 0 {
		if err := f.empty(); err != nil {
			return 0, err
		}
	}
	return copy(p, f.in), nil
}

func (f *fakeTransport) BytesAvailable() int {
	return len(f.in)
}

func (f *fakeTransport) IsBlocking() bool {
	return f.blocking
}

func (f *fakeTransport) Write(p []byte) (int, error) {
	if f.closed {
		return 0, net.ErrClosed
	}
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	if f.writeBlocked {
		return 0, bytequeue.ErrWouldBlock
	}
	n := len(p)
	if f.writeLimit > 0 {
		n = min(n, f.writeLimit)
	}
	f.out.Write(p[:n])
	return n, nil
}

func (f *fakeTransport) Close() error {
	f.closed = true
	return nil
}

func (f *fakeTransport) LocalAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}
}

func (f *fakeTransport) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 3128}
}
