package bytequeue

import (
	"bytes"
	"errors"
	"io"
	"sync"
)

const (
	// Unbounded disables the capacity limit of a Queue.
	Unbounded = -1

	// ChunkSize is the largest single write issued by SendTo. It matches a
	// typical TCP MSS so that many small segments coalesce into one segment on
	// the wire.
	ChunkSize = 1460
)

// Queue is a FIFO of byte segments with a soft capacity limit. It is safe for
// concurrent use by one producer and one consumer.
type Queue struct {
	mu       sync.Mutex
	segs     [][]byte
	head     int // consumed bytes in segs[0]
	length   int
	capacity int
}

// New returns an empty Queue holding at most capacity bytes. Any negative
// capacity, such as Unbounded, disables the limit.
func New(capacity int) *Queue {
	if capacity < 0 {
		capacity = Unbounded
	}
	return &Queue{capacity: capacity}
}

// Len returns the number of unconsumed bytes.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.length
}

// Capacity returns the capacity limit, or Unbounded.
func (q *Queue) Capacity() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.capacity
}

// SetCapacity changes the capacity limit. If the queue holds more than
// capacity bytes, the oldest bytes are discarded until it fits.
func (q *Queue) SetCapacity(capacity int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if capacity < 0 {
		capacity = Unbounded
	}
	q.capacity = capacity
	if capacity != Unbounded && q.length > capacity {
		q.discardLocked(q.length - capacity)
	}
}

// Clear drops all queued bytes.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.segs = nil
	q.head = 0
	q.length = 0
}

// Feed appends a copy of p. When the queue is bounded only as many bytes as
// fit are accepted; callers must check the returned count. ErrFull is
// returned if no byte of a non-empty p could be accepted.
func (q *Queue) Feed(p []byte) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(p)
	if n == 0 {
		return 0, nil
	}
	if free := q.freeLocked(); free >= 0 {
		if free == 0 {
			return 0, ErrFull
		}
		n = min(n, free)
	}

	seg := make([]byte, n)
	copy(seg, p)
	q.appendLocked(seg)
	return n, nil
}

// Consume copies up to n bytes from the head of the queue into dst. A nil dst
// skips the copy, otherwise n is clamped to len(dst). If discard is true the
// bytes are removed from the queue; if false the call only peeks.
func (q *Queue) Consume(dst []byte, n int, discard bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if dst != nil {
		n = min(n, len(dst))
	}
	n = min(n, q.length)
	if n <= 0 {
		return 0
	}
	if dst != nil {
		q.copyLocked(dst[:n])
	}
	if discard {
		q.discardLocked(n)
	}
	return n
}

// Peek copies up to len(p) bytes into p without consuming them.
func (q *Queue) Peek(p []byte) int {
	return q.Consume(p, len(p), false)
}

// Discard drops up to n bytes from the head and returns how many were dropped.
func (q *Queue) Discard(n int) int {
	return q.Consume(nil, n, true)
}

// CanFindByte reports whether b occurs among the queued bytes.
func (q *Queue) CanFindByte(b byte) bool {
	return q.FindOffset(b) >= 0
}

// FindOffset returns the offset from the head of the first occurrence of b,
// or -1 if b is not queued.
func (q *Queue) FindOffset(b byte) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	off := 0
	for i, seg := range q.segs {
		if i == 0 {
			seg = seg[q.head:]
		}
		if j := bytes.IndexByte(seg, b); j >= 0 {
			return off + j
		}
		off += len(seg)
	}
	return -1
}

// SendTo consumes up to n bytes (all of them if n is negative) by writing
// them to w. Consecutive segments are coalesced into writes of at most
// ChunkSize bytes. It stops at the first short write or error, including
// ErrWouldBlock, and discards exactly the bytes w accepted.
func (q *Queue) SendTo(w io.Writer, n int) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n < 0 || n > q.length {
		n = q.length
	}

	var chunk [ChunkSize]byte
	total := 0
	for total < n {
		c := q.copyLocked(chunk[:min(n-total, ChunkSize)])
		written, err := w.Write(chunk[:c])
		written = max(0, min(written, c))
		q.discardLocked(written)
		total += written
		if err != nil {
			return total, err
		}
		if written < c {
			break
		}
	}
	return total, nil
}

// ReceiveFrom reads up to n bytes from src and feeds them to the queue. If n
// is negative, src.BytesAvailable() bytes are requested. The read is capped to
// the room left in a bounded queue; ErrFull is returned when there is none.
// A closed source reports (0, io.EOF).
func (q *Queue) ReceiveFrom(src Source, n int) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n < 0 {
		n = src.BytesAvailable()
	}
	if free := q.freeLocked(); free >= 0 {
		if free == 0 {
			return 0, ErrFull
		}
		n = min(n, free)
	}
	if n <= 0 {
		return 0, nil
	}

	buf := make([]byte, n)
	got, err := src.Read(buf)
	got = max(0, min(got, n))
	if got > 0 {
		q.appendLocked(buf[:got])
		if errors.Is(err, io.EOF) {
			err = nil
		}
	}
	return got, err
}

// freeLocked returns the room left, or -1 when unbounded.
func (q *Queue) freeLocked() int {
	if q.capacity == Unbounded {
		return -1
	}
	return max(0, q.capacity-q.length)
}

// appendLocked takes ownership of seg.
func (q *Queue) appendLocked(seg []byte) {
	q.segs = append(q.segs, seg)
	q.length += len(seg)
}

func (q *Queue) copyLocked(p []byte) int {
	n := 0
	for i, seg := range q.segs {
		if n == len(p) {
			break
		}
		if i == 0 {
			seg = seg[q.head:]
		}
		n += copy(p[n:], seg)
	}
	return n
}

func (q *Queue) discardLocked(n int) {
	for n > 0 && len(q.segs) > 0 {
		avail := len(q.segs[0]) - q.head
		if n < avail {
			q.head += n
			q.length -= n
			return
		}
		n -= avail
		q.length -= avail
		q.segs[0] = nil
		q.segs = q.segs[1:]
		q.head = 0
	}
	if len(q.segs) == 0 {
		q.segs = nil
	}
}
