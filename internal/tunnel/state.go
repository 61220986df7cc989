package tunnel

// State is the handshake state of a Socket.
type State int

const (
	Disconnected State = iota
	ConnectingToProxy
	SendingRequest
	AwaitingStatusLine
	AwaitingHeaders
	Tunneled
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case ConnectingToProxy:
		return "connecting-to-proxy"
	case SendingRequest:
		return "sending-request"
	case AwaitingStatusLine:
		return "awaiting-status-line"
	case AwaitingHeaders:
		return "awaiting-headers"
	case Tunneled:
		return "tunneled"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// handshaking reports whether s is one of the states Continue can advance.
func (s State) handshaking() bool {
	return s == SendingRequest || s == AwaitingStatusLine || s == AwaitingHeaders
}

// Capability describes what a Socket can be used for.
type Capability uint

const (
	// CanConnectString means Connect accepts a host name and service string.
	CanConnectString Capability = 1 << iota
	CanNotBind
	CanNotListen
	CanNotUseDatagrams
)
