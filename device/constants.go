package device

import "time"

/* Protocol limits and timeouts, exact values from the original TunSafe
 * ProtocolLimits/ProtocolTimeouts enums wherever the distilled spec
 * left a value implicit. These differ from plain upstream WireGuard
 * (e.g. MaxHandshakeAttempts=20, not 18) — see DESIGN.md.
 */
const (
	RekeyAfterMessages      = (1 << 64) - (1 << 16)
	RejectAfterMessages     = (1 << 64) - 2048
	RekeyAfterTime          = time.Second * 120
	RekeyTimeout            = time.Second * 5
	MaxHandshakeAttempts    = 20
	RekeyTimeoutJitterMaxMs = 334
	RejectAfterTime         = time.Second * 180
	KeepaliveTimeout        = time.Second * 10
	PersistentKeepaliveTime = time.Second * 25
	CookieRefreshTime       = time.Second * 120
	CookieGraceTime         = time.Second * 5
	MinHandshakeInterval    = time.Millisecond * 20
	PaddingMultiple         = 16

	// MaxQueuedPackets bounds each peer's queued-outbound-packet list
	// while a handshake is pending (§3, §7).
	MaxQueuedPackets = 128

	// MaxPreferredCipherSuites bounds a peer's advertised cipher
	// preference list (§3).
	MaxPreferredCipherSuites = 4

	// UnderLoadAfterTime mirrors the teacher's naming for how long the
	// device is considered "under load" once the rate limiter reports
	// recent admission activity (§4.1, §4.6).
	UnderLoadAfterTime = time.Second
)

const (
	// minimum size of a transport message (keepalive)
	MinMessageSize = MessageKeepaliveSize
	// maximum size of a transport message
	MaxMessageSize = MaxSegmentSize
	// maximum size of transport message content
	MaxContentSize = MaxSegmentSize - MessageTransportSize
	// largest possible UDP datagram this core will construct
	MaxSegmentSize = (1 << 16) - 1
	// maximum number of configured peers
	MaxPeers = 1 << 16
)
