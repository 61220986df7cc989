package testutil

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
)

// ConnectProxy is a loopback HTTP CONNECT proxy. It answers every request
// with a fixed reply and, if the reply is 2xx, relays bytes to the requested
// target.
type ConnectProxy struct {
	net.Listener

	reply string

	mu       sync.Mutex
	requests []string
	conns    []net.Conn
}

// StartConnectProxy starts a ConnectProxy that answers with reply, which
// should include the header terminator and may carry trailing payload.
func StartConnectProxy(t *testing.T, ctx context.Context, reply string) *ConnectProxy {
	t.Helper()

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	p := &ConnectProxy{Listener: ln, reply: reply}
	var wg sync.WaitGroup
	wg.Go(func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			p.mu.Lock()
			p.conns = append(p.conns, c)
			p.mu.Unlock()
			wg.Go(func() {
				defer c.Close()
				p.serve(c)
			})
		}
	})
	t.Cleanup(func() {
		_ = ln.Close()
		p.mu.Lock()
		for _, c := range p.conns {
			_ = c.Close()
		}
		p.mu.Unlock()
		wg.Wait()
	})

	return p
}

// Requests returns the request heads received so far.
func (p *ConnectProxy) Requests() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.requests...)
}

func (p *ConnectProxy) serve(c net.Conn) {
	br := bufio.NewReader(c)
	var head strings.Builder
	for {
		line, err := br.ReadString('\n')
		head.WriteString(line)
		if err != nil {
			return
		}
		if line == "\r\n" {
			break
		}
	}

	p.mu.Lock()
	p.requests = append(p.requests, head.String())
	p.mu.Unlock()

	if _, err := io.WriteString(c, p.reply); err != nil {
		return
	}
	if !strings.HasPrefix(p.reply, "HTTP/1.1 2") && !strings.HasPrefix(p.reply, "HTTP/1.0 2") {
		return
	}

	fields := strings.Fields(head.String())
	if len(fields) < 2 || fields[0] != "CONNECT" {
		return
	}
	dst, err := net.Dial("tcp", fields[1])
	if err != nil {
		return
	}
	defer dst.Close()

	go func() {
		_, _ = io.Copy(dst, br)
		if tc, ok := dst.(*net.TCPConn); ok {
			_ = tc.CloseWrite()
		}
	}()
	_, _ = io.Copy(c, dst)
}
