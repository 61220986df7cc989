package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/die-net/proxytunnel/internal/bytequeue"
	"github.com/die-net/proxytunnel/internal/logging"
)

// Socket is a stream socket tunneled through an HTTP CONNECT proxy.
//
// The handshake methods (Connect, ConnectTransport, Continue) and Close must
// not be called concurrently. Once tunneled, Read and Write may be used from
// different goroutines.
type Socket struct {
	mu sync.Mutex

	cfg   Config
	proxy string
	used  bool
	log   *logrus.Entry

	state     State
	err       error
	transport Transport
	target    *Addr
	peer      net.Addr

	request *bytequeue.Queue
	reply   *bytequeue.Queue
	matched int
}

// New returns a disconnected Socket using cfg.Proxy as its proxy.
func New(cfg Config) *Socket {
	if cfg.MaxReplySize <= 0 {
		cfg.MaxReplySize = DefaultMaxReplySize
	}
	log := cfg.Logger
	if log == nil {
		log = logging.WithFields(logrus.Fields{"component": "tunnel"})
	}
	return &Socket{
		cfg:     cfg,
		proxy:   cfg.Proxy,
		log:     log,
		request: bytequeue.New(bytequeue.Unbounded),
		reply:   bytequeue.New(cfg.MaxReplySize),
	}
}

// SetProxy replaces the proxy address. It fails once the socket has been
// connected.
func (s *Socket) SetProxy(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.used {
		return ErrAlreadyConnected
	}
	if addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("proxy address: %w", err)
		}
	}
	s.proxy = addr
	return nil
}

// Proxy returns the proxy address, or "" for direct connections.
func (s *Socket) Proxy() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proxy
}

// Connect tunnels to host:service, dialing the proxy with Config.Dial. It
// returns nil once tunneled and ErrInProgress while a non-blocking handshake
// is pending. Calling it again for the same target resumes the handshake.
//
// Without a proxy address the target is dialed directly.
func (s *Socket) Connect(ctx context.Context, host, service string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, err := s.beginLocked(ctx, host, service)
	if target == nil {
		return err
	}
	if s.cfg.Dial == nil {
		return s.failLocked(ErrNoDialer)
	}

	if s.proxy == "" {
		t, err := s.cfg.Dial(ctx, "tcp", target.String())
		if err != nil {
			return s.failLocked(fmt.Errorf("connect to %s: %w", target, err))
		}
		return s.directLocked(t, target)
	}

	s.setStateLocked(ConnectingToProxy)
	t, err := s.cfg.Dial(ctx, "tcp", s.proxy)
	if err != nil {
		return s.failLocked(fmt.Errorf("connect to proxy %s: %w", s.proxy, err))
	}
	return s.startLocked(ctx, t, target)
}

// ConnectTransport is Connect over t, an already open connection to the
// proxy. The socket takes ownership of t. Without a proxy address t is taken
// to be connected to the target itself.
func (s *Socket) ConnectTransport(ctx context.Context, t Transport, host, service string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, err := s.beginLocked(ctx, host, service)
	if target == nil {
		if t != s.transport {
			_ = t.Close()
		}
		return err
	}
	if s.proxy == "" {
		return s.directLocked(t, target)
	}
	s.setStateLocked(ConnectingToProxy)
	return s.startLocked(ctx, t, target)
}

// Continue advances a pending handshake.
func (s *Socket) Continue(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.state == Tunneled:
		return nil
	case s.state == Failed:
		return s.failedErrLocked()
	case s.state.handshaking():
		return s.driveLocked(ctx)
	default:
		return ErrNotTunneled
	}
}

// beginLocked resolves the target of a connect call. A nil target means the
// call has been fully answered by the returned error: the socket failed
// before, or was already connecting to or connected to that target.
func (s *Socket) beginLocked(ctx context.Context, host, service string) (*Addr, error) {
	switch {
	case s.state == Failed:
		return nil, s.failedErrLocked()
	case s.state == Tunneled || s.state.handshaking():
		target, err := resolveTarget(host, service)
		if err != nil || *target != *s.target {
			return nil, ErrAlreadyConnected
		}
		if s.state == Tunneled {
			return nil, nil
		}
		return nil, s.driveLocked(ctx)
	}

	s.used = true
	target, err := resolveTarget(host, service)
	if err != nil {
		return nil, s.failLocked(err)
	}
	s.target = target
	return target, nil
}

func (s *Socket) directLocked(t Transport, target *Addr) error {
	s.transport = t
	s.target = target
	s.peer = t.RemoteAddr()
	s.err = nil
	s.setStateLocked(Tunneled)
	return nil
}

func (s *Socket) startLocked(ctx context.Context, t Transport, target *Addr) error {
	s.transport = t
	s.peer = target
	s.request.Clear()
	s.reply.Clear()
	s.matched = 0
	if _, err := s.request.Feed(connectRequest(target)); err != nil {
		return s.failLocked(fmt.Errorf("queue connect request: %w", err))
	}
	s.setStateLocked(SendingRequest)
	return s.driveLocked(ctx)
}

func (s *Socket) driveLocked(ctx context.Context) error {
	if s.state == SendingRequest {
		if err := s.flushRequestLocked(); err != nil {
			return err
		}
		s.setStateLocked(AwaitingStatusLine)
	}

	for s.state == AwaitingStatusLine || s.state == AwaitingHeaders {
		if err := ctx.Err(); err != nil {
			return s.failLocked(err)
		}

		var found bool
		var err error
		if s.transport.IsBlocking() {
			found, err = s.readByteLocked()
		} else {
			found, err = s.readAvailableLocked()
		}
		if err != nil {
			return err
		}
		if found {
			return s.finishLocked()
		}
	}
	return nil
}

func (s *Socket) flushRequestLocked() error {
	for s.request.Len() > 0 {
		n, err := s.request.SendTo(s.transport, bytequeue.Unbounded)
		switch {
		case errors.Is(err, bytequeue.ErrWouldBlock):
			return s.inProgressLocked()
		case err != nil:
			return s.failLocked(fmt.Errorf("send connect request: %w", err))
		case s.request.Len() == 0:
			return nil
		case !s.transport.IsBlocking():
			return s.inProgressLocked()
		case n == 0:
			return s.failLocked(fmt.Errorf("send connect request: %w", io.ErrShortWrite))
		}
	}
	return nil
}

// readByteLocked reads the reply one byte at a time so that nothing past
// the header terminator leaves the transport.
func (s *Socket) readByteLocked() (bool, error) {
	if s.reply.Len() >= s.reply.Capacity() {
		return false, s.tooLargeLocked()
	}

	var b [1]byte
	n, err := s.transport.Read(b[:])
	if n == 0 {
		switch {
		case err == nil:
			return false, nil
		case errors.Is(err, bytequeue.ErrWouldBlock):
			return false, s.inProgressLocked()
		default:
			return false, s.readFailedLocked(err)
		}
	}

	if _, err := s.reply.Feed(b[:]); err != nil {
		return false, s.tooLargeLocked()
	}
	var found bool
	_, s.matched, found = scanTerminator(s.matched, b[:])
	s.noteReplyLocked()
	return found, nil
}

// readAvailableLocked peeks at what the transport has buffered and reads
// exactly the bytes that belong to the reply header block.
func (s *Socket) readAvailableLocked() (bool, error) {
	room := s.reply.Capacity() - s.reply.Len()
	if room <= 0 {
		return false, s.tooLargeLocked()
	}

	peek := make([]byte, room)
	n, err := s.transport.Peek(peek)
	switch {
	case errors.Is(err, bytequeue.ErrWouldBlock):
		return false, s.inProgressLocked()
	case err != nil:
		return false, s.readFailedLocked(err)
	case n == 0:
		return false, s.inProgressLocked()
	}

	want, _, _ := scanTerminator(s.matched, peek[:n])
	got, err := s.reply.ReceiveFrom(s.transport, want)
	if got == 0 {
		switch {
		case err == nil, errors.Is(err, bytequeue.ErrWouldBlock):
			return false, s.inProgressLocked()
		default:
			return false, s.readFailedLocked(err)
		}
	}

	// The read returned a prefix of what was peeked.
	var found bool
	_, s.matched, found = scanTerminator(s.matched, peek[:got])
	s.noteReplyLocked()
	return found, nil
}

func (s *Socket) noteReplyLocked() {
	if s.state == AwaitingStatusLine && s.reply.CanFindByte('\n') {
		s.setStateLocked(AwaitingHeaders)
	}
}

func (s *Socket) finishLocked() error {
	block := make([]byte, s.reply.Len())
	s.reply.Consume(block, len(block), false)
	line := block
	if i := s.reply.FindOffset('\n'); i >= 0 {
		line = block[:i]
	}
	line = line[:len(line)-countCR(line)]

	if err := checkStatusLine(line); err != nil {
		return s.failLocked(err)
	}

	s.request.Clear()
	s.reply.Clear()
	s.matched = 0
	s.err = nil
	s.setStateLocked(Tunneled)
	return nil
}

func countCR(line []byte) int {
	if len(line) > 0 && line[len(line)-1] == '\r' {
		return 1
	}
	return 0
}

func (s *Socket) inProgressLocked() error {
	s.err = ErrInProgress
	return ErrInProgress
}

func (s *Socket) tooLargeLocked() error {
	return s.failLocked(fmt.Errorf("%w: reply headers exceed %d bytes", ErrNetFailure, s.reply.Capacity()))
}

func (s *Socket) readFailedLocked(err error) error {
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return s.failLocked(fmt.Errorf("read proxy reply: %w", err))
}

// failLocked moves the socket to Failed and releases its transport.
func (s *Socket) failLocked(err error) error {
	s.err = err
	if s.transport != nil {
		_ = s.transport.Close()
		s.transport = nil
	}
	s.request.Clear()
	s.reply.Clear()
	s.setStateLocked(Failed)
	s.log.WithError(err).Debug("tunnel failed")
	return err
}

func (s *Socket) failedErrLocked() error {
	return fmt.Errorf("%w: %w", ErrFailed, s.err)
}

func (s *Socket) setStateLocked(state State) {
	if state == s.state {
		return
	}
	s.log.WithFields(logrus.Fields{
		"proxy":  s.proxy,
		"target": s.targetString(),
		"from":   s.state,
		"to":     state,
	}).Debug("tunnel state")
	s.state = state
}

func (s *Socket) targetString() string {
	if s.target == nil {
		return ""
	}
	return s.target.String()
}

// Read reads tunneled bytes.
func (s *Socket) Read(p []byte) (int, error) {
	t, err := s.tunneled()
	if err != nil {
		return 0, err
	}
	return t.Read(p)
}

// Write writes tunneled bytes.
func (s *Socket) Write(p []byte) (int, error) {
	t, err := s.tunneled()
	if err != nil {
		return 0, err
	}
	return t.Write(p)
}

func (s *Socket) tunneled() (Transport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Tunneled:
		return s.transport, nil
	case Failed:
		return nil, s.failedErrLocked()
	default:
		return nil, ErrNotTunneled
	}
}

// Close abandons any handshake in progress, drops buffered request and reply
// bytes, and closes the transport. The socket returns to Disconnected and
// may be connected again.
func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.transport
	s.transport = nil
	s.target = nil
	s.peer = nil
	s.err = nil
	s.matched = 0
	s.request.Clear()
	s.reply.Clear()
	s.setStateLocked(Disconnected)

	if t != nil {
		return t.Close()
	}
	return nil
}

// State returns the handshake state.
func (s *Socket) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsOpen reports whether the socket is tunneled.
func (s *Socket) IsOpen() bool {
	return s.State() == Tunneled
}

// LastError returns the error that failed the socket, ErrInProgress while a
// non-blocking handshake is pending, or nil.
func (s *Socket) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// PeerAddress returns the tunnel target, or nil when disconnected.
func (s *Socket) PeerAddress() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer
}

// ExternalAddress always returns nil: the address the target sees belongs
// to the proxy and is not reported by CONNECT.
func (s *Socket) ExternalAddress() net.Addr {
	return nil
}

// LocalAddr returns the local address of the transport, or nil.
func (s *Socket) LocalAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transport == nil {
		return nil
	}
	return s.transport.LocalAddr()
}

// Capabilities reports that a Socket only connects by name.
func (s *Socket) Capabilities() Capability {
	return CanConnectString | CanNotBind | CanNotListen | CanNotUseDatagrams
}
