package proxy

import (
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/die-net/proxytunnel/internal/bytequeue"
	"github.com/die-net/proxytunnel/internal/testutil"
)

// tcpPair returns both ends of a loopback TCP connection.
func tcpPair(t *testing.T, ctx context.Context) (net.Conn, net.Conn) {
	t.Helper()

	accepted := make(chan net.Conn, 1)
	ln, wait := testutil.StartSingleAcceptServer(t, ctx, func(c net.Conn) {
		accepted <- c
		<-ctx.Done()
	})
	t.Cleanup(wait)

	a, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	select {
	case b := <-accepted:
		return a, b
	case <-ctx.Done():
		t.Fatal("accept timed out")
		return nil, nil
	}
}

func TestCopyBidirectional(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
	}{
		// Smaller than the message, so the relay runs several rounds.
		{name: "bounded", capacity: 16},
		{name: "unbounded", capacity: bytequeue.Unbounded},
		{name: "default", capacity: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			client, left := tcpPair(t, ctx)
			right, server := tcpPair(t, ctx)

			done := make(chan error, 1)
			go func() { done <- CopyBidirectional(ctx, left, right, tt.capacity) }()

			msg := strings.Repeat("0123456789", 1000)
			go func() {
				_, _ = io.WriteString(client, msg)
				_ = client.(*net.TCPConn).CloseWrite()
			}()

			got, err := io.ReadAll(server)
			require.NoError(t, err)
			assert.Equal(t, msg, string(got))

			// The reverse direction still works after the forward half-close.
			_, err = io.WriteString(server, "reply")
			require.NoError(t, err)
			require.NoError(t, server.(*net.TCPConn).CloseWrite())

			got, err = io.ReadAll(client)
			require.NoError(t, err)
			assert.Equal(t, "reply", string(got))

			select {
			case err := <-done:
				assert.NoError(t, err)
			case <-ctx.Done():
				t.Fatal("copy did not finish")
			}
		})
	}
}

func TestReadSize(t *testing.T) {
	assert.Equal(t, bytequeue.ChunkSize, readSize(bytequeue.New(bytequeue.Unbounded)))

	q := bytequeue.New(10)
	_, err := q.Feed([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 7, readSize(q))
}

func TestCopyBidirectionalCanceled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, left := tcpPair(t, ctx)
	right, _ := tcpPair(t, ctx)

	copyCtx, copyCancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- CopyBidirectional(copyCtx, left, right, DefaultQueueCapacity) }()

	copyCancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-ctx.Done():
		t.Fatal("copy did not stop")
	}
}

func TestQueuePoolResets(t *testing.T) {
	p := newQueuePool(8)
	q := p.Get()
	q.SetCapacity(100)
	_, err := q.Feed([]byte("leftover"))
	require.NoError(t, err)
	p.Put(q)

	q = p.Get()
	assert.Zero(t, q.Len())
	assert.Equal(t, 8, q.Capacity())
}
