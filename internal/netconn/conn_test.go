package netconn

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/die-net/proxytunnel/internal/bytequeue"
	"github.com/die-net/proxytunnel/internal/testutil"
)

var (
	_ bytequeue.Conn = (*Conn)(nil)
	_ bytequeue.Conn = (*RawConn)(nil)
)

func TestBlockingPeekDoesNotConsume(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ln, wait := testutil.StartSingleAcceptServer(t, ctx, func(c net.Conn) {
		_, _ = io.WriteString(c, "hello world")
	})
	defer wait()

	nc, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	c := NewBlocking(nc)
	defer c.Close()

	assert.True(t, c.IsBlocking())
	assert.Zero(t, c.BytesAvailable())

	peek := make([]byte, 5)
	n, err := c.Peek(peek)
	require.NoError(t, err)
	require.Positive(t, n)
	assert.Equal(t, "hello"[:n], string(peek[:n]))
	assert.GreaterOrEqual(t, c.BytesAvailable(), n)

	all, err := io.ReadAll(c)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(all))

	n, err = c.Peek(peek)
	assert.ErrorIs(t, err, io.EOF)
	assert.Zero(t, n)
}

func TestBlockingWrite(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ln := testutil.StartEchoTCPServer(t, ctx)
	nc, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	c := NewBlocking(nc)
	defer c.Close()

	testutil.AssertEcho(t, c, c, []byte("ping"))
}

// poll retries op while it reports ErrWouldBlock.
func poll(t *testing.T, op func() (int, error)) (int, error) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		n, err := op()
		if !errors.Is(err, bytequeue.ErrWouldBlock) || time.Now().After(deadline) {
			return n, err
		}
		time.Sleep(time.Millisecond)
	}
}

func TestNonBlocking(t *testing.T) {
	if !NonBlockingSupported {
		t.Skip("non-blocking conn not supported")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	send := make(chan string)
	received := make(chan string, 1)
	ln, wait := testutil.StartSingleAcceptServer(t, ctx, func(c net.Conn) {
		for s := range send {
			_, _ = io.WriteString(c, s)
		}
		// Drain the client's write so closing sends FIN rather than RST.
		buf := make([]byte, len("pong"))
		n, _ := io.ReadFull(c, buf)
		received <- string(buf[:n])
	})
	defer wait()
	stop := sync.OnceFunc(func() { close(send) })
	defer stop()

	nc, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	c, err := NewNonBlocking(nc)
	require.NoError(t, err)
	defer c.Close()

	assert.False(t, c.IsBlocking())

	buf := make([]byte, 16)
	_, err = c.Read(buf)
	assert.ErrorIs(t, err, bytequeue.ErrWouldBlock)
	_, err = c.Peek(buf)
	assert.ErrorIs(t, err, bytequeue.ErrWouldBlock)
	assert.Zero(t, c.BytesAvailable())

	send <- "ping"
	n, err := poll(t, func() (int, error) { return c.Peek(buf) })
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf[:n]))
	assert.Equal(t, 4, c.BytesAvailable())

	n, err = c.Peek(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))

	n, err = c.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))
	assert.Zero(t, c.BytesAvailable())

	n, err = c.Write([]byte("pong"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	stop()
	assert.Equal(t, "pong", <-received)
	_, err = poll(t, func() (int, error) { return c.Read(buf) })
	assert.ErrorIs(t, err, io.EOF)
}

func TestNonBlockingRequiresDescriptor(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	_, err := NewNonBlocking(a)
	assert.Error(t, err)
}
