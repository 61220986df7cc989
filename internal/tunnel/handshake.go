package tunnel

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"golang.org/x/net/idna"
)

const headerTerminator = "\r\n\r\n"

// Addr is the target a Socket tunnels to.
type Addr struct {
	Host string
	Port int
}

func (a *Addr) Network() string { return "tcp" }

func (a *Addr) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// resolveTarget converts host to its ASCII form and service to a port
// number. Service may be numeric or a name such as "imap".
func resolveTarget(host, service string) (*Addr, error) {
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if host == "" {
		return nil, errors.New("missing target host")
	}
	if net.ParseIP(host) == nil {
		ascii, err := idna.ToASCII(host)
		if err != nil {
			return nil, fmt.Errorf("target host %q: %w", host, err)
		}
		host = ascii
	}

	port, err := net.LookupPort("tcp", service)
	if err != nil {
		return nil, fmt.Errorf("target service %q: %w", service, err)
	}
	if port == 0 {
		return nil, fmt.Errorf("target service %q: port 0", service)
	}
	return &Addr{Host: host, Port: port}, nil
}

// connectRequest builds the CONNECT request for target. Hosts containing a
// colon (IPv6 literals) are bracketed.
func connectRequest(target *Addr) []byte {
	host := target.Host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return fmt.Appendf(nil, "CONNECT %s:%d HTTP/1.1\r\nCache-Control: no-cache\r\nHost: \r\n\r\n", host, target.Port)
}

// scanTerminator advances the header terminator match over p. matched is how
// many bytes of "\r\n\r\n" the previous input ended with. It returns the
// number of bytes of p that belong to the header block (all of p unless the
// terminator was found), the new match count, and whether the terminator is
// complete. Feeding the same bytes in any chunking gives the same result.
func scanTerminator(matched int, p []byte) (n, m int, found bool) {
	for i, c := range p {
		switch {
		case c == headerTerminator[matched]:
			matched++
		case c == '\r':
			matched = 1
		default:
			matched = 0
		}
		if matched == len(headerTerminator) {
			return i + 1, matched, true
		}
	}
	return len(p), matched, false
}

// checkStatusLine accepts any line starting "HTTP/1." whose status code
// starts with 2. Neither the minor version nor the rest of the code is
// validated.
func checkStatusLine(line []byte) error {
	rest, ok := bytes.CutPrefix(line, []byte("HTTP/1."))
	if !ok {
		return fmt.Errorf("%w: malformed status line %q", ErrNetFailure, line)
	}
	_, code, ok := bytes.Cut(rest, []byte(" "))
	if !ok || len(code) == 0 {
		return fmt.Errorf("%w: malformed status line %q", ErrNetFailure, line)
	}
	if code[0] != '2' {
		return &ReplyError{StatusLine: string(line)}
	}
	return nil
}
