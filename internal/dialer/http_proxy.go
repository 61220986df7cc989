package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/die-net/proxytunnel/internal/logging"
	"github.com/die-net/proxytunnel/internal/netconn"
	"github.com/die-net/proxytunnel/internal/tunnel"
)

// HTTPProxyDialer dials outbound TCP connections through an HTTP proxy
// using the CONNECT method.
type HTTPProxyDialer struct {
	cfg       Config
	proxyAddr string
	direct    Dialer
	log       *logrus.Entry
}

// NewHTTPProxyDialer constructs a CONNECT dialer for the proxy at proxyAddr
// (host:port).
func NewHTTPProxyDialer(cfg Config, proxyAddr string) (*HTTPProxyDialer, error) {
	host, _, err := net.SplitHostPort(proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("http proxy dialer: %w", err)
	}
	if host == "" {
		return nil, errors.New("http proxy dialer: invalid proxy host")
	}

	return &HTTPProxyDialer{
		cfg:       cfg,
		proxyAddr: proxyAddr,
		direct:    NewDirectDialer(cfg),
		log:       logging.WithFields(logrus.Fields{"component": "tunnel", "proxy": proxyAddr}),
	}, nil
}

// ProxyAddr returns the proxy host:port.
func (f *HTTPProxyDialer) ProxyAddr() string {
	return f.proxyAddr
}

// DialContext establishes a TCP connection to address through the proxy.
//
// CONNECT negotiation is performed synchronously before returning. If
// NegotiationTimeout is set, a deadline is applied during negotiation and
// cleared before returning. Canceling ctx aborts negotiation.
func (f *HTTPProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("http proxy dial %s %s: unsupported network", network, address)
	}
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, fmt.Errorf("http proxy dial %s: %w", address, err)
	}

	c, err := f.direct.DialContext(ctx, network, f.proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("http proxy: %w", err)
	}

	if f.cfg.NegotiationTimeout > 0 {
		_ = c.SetDeadline(time.Now().Add(f.cfg.NegotiationTimeout))
	}

	// Unblock a negotiation stuck in Read if ctx is canceled.
	stop := context.AfterFunc(ctx, func() {
		_ = c.Close()
	})

	s := tunnel.New(tunnel.Config{
		Proxy:        f.proxyAddr,
		MaxReplySize: f.cfg.MaxReplySize,
		Logger:       f.log,
	})
	err = s.ConnectTransport(ctx, netconn.NewBlocking(c), host, port)
	if !stop() && err == nil {
		err = ctx.Err()
	}
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("http proxy connect %s: %w", address, err)
	}

	if f.cfg.NegotiationTimeout > 0 {
		_ = c.SetDeadline(time.Time{})
	}

	nc, err := s.NetConn()
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("http proxy connect %s: %w", address, err)
	}
	return nc, nil
}
