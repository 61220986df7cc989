// Package proxy implements the proxytunnel listener-side servers and helpers.
//
// It contains the local port forwarder, the CONNECT-only HTTP proxy front
// end, and shared connection plumbing such as keepalive listeners and the
// queue-backed bidirectional copy.
package proxy
