package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/die-net/proxytunnel/internal/bytequeue"
	"github.com/die-net/proxytunnel/internal/netconn"
)

// CopyBidirectional relays bytes between left and right until either side
// reaches EOF or fails, or ctx is canceled. Each direction is staged through
// a bytequeue.Queue of the given capacity; zero uses DefaultQueueCapacity and
// bytequeue.Unbounded lets the queue grow. Both connections are closed on
// return.
func CopyBidirectional(ctx context.Context, left, right net.Conn, capacity int) error {
	if capacity == 0 || capacity < bytequeue.Unbounded {
		capacity = DefaultQueueCapacity
	}
	pool := newQueuePool(capacity)
	return copyBidirectional(ctx, left, right, pool)
}

func copyBidirectional(ctx context.Context, left, right net.Conn, pool *queuePool) error {
	g, gctx := errgroup.WithContext(ctx)

	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			_ = left.Close()
			_ = right.Close()
		})
	}
	defer closeBoth()

	// The first failure, or ctx being canceled, unblocks the other relay.
	context.AfterFunc(gctx, closeBoth)

	g.Go(func() error {
		return relay(right, left, pool)
	})

	g.Go(func() error {
		return relay(left, right, pool)
	})

	err := g.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, errDone) {
		return nil
	}
	return err
}

// relay moves bytes from src to dst through a queue until src reaches EOF.
// On EOF the write side of dst is half-closed when possible, otherwise
// errDone stops the other direction.
func relay(dst, src net.Conn, pool *queuePool) error {
	q := pool.Get()
	defer pool.Put(q)

	in := netconn.NewBlocking(src)
	for {
		n, err := q.ReceiveFrom(in, readSize(q))
		if n > 0 {
			if _, werr := q.SendTo(dst, -1); werr != nil {
				return werr
			}
		}
		switch {
		case errors.Is(err, io.EOF):
			if cw, ok := dst.(closeWriter); ok && cw.CloseWrite() == nil {
				return nil
			}
			return errDone
		case err != nil:
			return err
		}
	}
}

// readSize is how many bytes relay asks for: the free space of a bounded
// queue, or one chunk for an unbounded one.
func readSize(q *bytequeue.Queue) int {
	if q.Capacity() < 0 {
		return bytequeue.ChunkSize
	}
	return q.Capacity() - q.Len()
}

var errDone = errors.New("relay done")

type closeWriter interface {
	CloseWrite() error
}
