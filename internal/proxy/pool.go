package proxy

import (
	"sync"

	"github.com/die-net/proxytunnel/internal/bytequeue"
)

// DefaultQueueCapacity is the per-direction relay queue size.
const DefaultQueueCapacity = 64 * 1024

type queuePool struct {
	capacity int
	pool     sync.Pool
}

func newQueuePool(capacity int) *queuePool {
	p := &queuePool{capacity: capacity}
	p.pool.New = func() any {
		return bytequeue.New(capacity)
	}
	return p
}

func (p *queuePool) Get() *bytequeue.Queue {
	return p.pool.Get().(*bytequeue.Queue)
}

// Put clears q and returns it to the pool.
func (p *queuePool) Put(q *bytequeue.Queue) {
	q.Clear()
	q.SetCapacity(p.capacity)
	p.pool.Put(q)
}
