package proxy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/die-net/proxytunnel/internal/dialer"
	"github.com/die-net/proxytunnel/internal/logging"
)

// HTTPProxyServer serves a CONNECT-only HTTP proxy. Each CONNECT request is
// dialed through the configured dialer, so it can chain through an upstream
// HTTP proxy. Other methods are answered with 405.
type HTTPProxyServer struct {
	ctx    context.Context
	dialer dialer.Dialer
	srv    *http.Server
	pool   *queuePool
	log    *logrus.Entry
}

// NewHTTPProxyServer constructs an HTTP proxy server with the given config.
//
// Serve starts accepting connections on a listener; Close stops the underlying
// http.Server.
func NewHTTPProxyServer(ctx context.Context, cfg Config) *HTTPProxyServer {
	if ctx == nil {
		ctx = context.Background()
	}
	h := &HTTPProxyServer{
		ctx:    ctx,
		dialer: cfg.Dialer,
		pool:   newQueuePool(cfg.queueCapacity()),
		log:    logging.WithFields(logrus.Fields{"component": "http-proxy"}),
	}
	h.srv = &http.Server{
		Handler:           http.HandlerFunc(h.handle),
		ReadHeaderTimeout: cfg.NegotiationTimeout,
		BaseContext: func(net.Listener) context.Context {
			return h.ctx
		},
	}
	return h
}

// Serve serves HTTP proxy requests on ln.
func (s *HTTPProxyServer) Serve(ln net.Listener) error {
	return s.srv.Serve(ln)
}

// Close stops the HTTP server.
func (s *HTTPProxyServer) Close() error {
	return s.srv.Close()
}

func (s *HTTPProxyServer) handle(w http.ResponseWriter, r *http.Request) {
	if !strings.EqualFold(r.Method, http.MethodConnect) {
		w.Header().Set("Allow", http.MethodConnect)
		http.Error(w, "only CONNECT is supported", http.StatusMethodNotAllowed)
		return
	}
	s.handleConnect(w, r)
}

func (s *HTTPProxyServer) handleConnect(w http.ResponseWriter, r *http.Request) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}
	clientConn, brw, err := hj.Hijack()
	if err != nil {
		http.Error(w, "hijack failed", http.StatusInternalServerError)
		return
	}
	_ = brw.Flush()

	target := r.Host
	if _, _, err := net.SplitHostPort(target); err != nil {
		target = net.JoinHostPort(target, "443")
	}
	log := s.log.WithFields(logrus.Fields{"client": clientConn.RemoteAddr().String(), "target": target})

	ctx := r.Context()

	serverConn, err := s.dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		log.WithError(err).Warn("connect failed")
		_, _ = writeError(brw, err, dialStatus(err))
		_ = brw.Flush()
		_ = clientConn.Close()
		return
	}

	_, _ = brw.WriteString("HTTP/1.1 200 Connection Established\r\n\r\n")
	_ = brw.Flush()

	client := &hijackedConn{Conn: clientConn, r: brw.Reader}
	if err := copyBidirectional(ctx, client, serverConn, s.pool); err != nil {
		log.WithError(err).Debug("relay ended")
	}
}

// dialStatus maps a dial failure to the status reported to the client.
func dialStatus(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

// writeError simulates http.Error() for use on a hijacked connection.
func writeError(brw *bufio.ReadWriter, err error, code int) (int, error) {
	return fmt.Fprintf(brw, "HTTP/1.1 %d %s\r\nContent-Type: text/plain; charset=utf-8\r\nConnection: close\r\n\r\n%s\r\n", code, http.StatusText(code), err.Error())
}

// hijackedConn reads any bytes the client sent after its CONNECT request
// before reading from the connection itself.
type hijackedConn struct {
	net.Conn
	r io.Reader
}

func (c *hijackedConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

func (c *hijackedConn) CloseWrite() error {
	if cw, ok := c.Conn.(closeWriter); ok {
		return cw.CloseWrite()
	}
	return errors.ErrUnsupported
}
