// Package dialer provides the outbound dialers used by proxytunnel.
//
// Dialers implement a small interface (DialContext) and either connect
// directly or through an HTTP proxy using a CONNECT tunnel.
package dialer
