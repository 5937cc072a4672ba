// Package rudp implements a reliable-UDP transport in the manner of ENet.
//
// A Host multiplexes connections to many peers over a single datagram
// socket. Each Peer carries a number of channels; packets sent on a channel
// are delivered reliably and in order, unreliably but in order, or
// unsequenced. Hosts are driven by calling Service, which performs all
// network I/O and returns the connection events that occurred.
//
// A Host and its peers are not safe for concurrent use.
package rudp

import (
	"errors"

	"github.com/skycoin/skycoin/src/util/logging"

	"github.com/skycoin/rudp/pkg/protocol"
)

// Host defaults.
const (
	DefaultMTU                = 1400
	DefaultMaximumPacketSize  = 32 * 1024 * 1024
	DefaultMaximumWaitingData = 32 * 1024 * 1024
	DefaultPeerCount          = 64

	// BandwidthThrottleInterval is the period, in milliseconds, of the
	// outgoing bandwidth throttle.
	BandwidthThrottleInterval = 1000
)

// Peer tuning. Times are in milliseconds.
const (
	defaultRoundTripTime       = 500
	defaultPacketThrottle      = 32
	packetThrottleScale        = 32
	packetThrottleCounter      = 7
	packetThrottleAcceleration = 2
	packetThrottleDeceleration = 2
	packetThrottleInterval     = 5000
	packetLossScale            = 1 << 16
	packetLossInterval         = 10000
	windowSizeScale            = 64 * 1024
	timeoutLimit               = 32
	timeoutMinimum             = 5000
	timeoutMaximum             = 30000
	pingInterval               = 500
	unsequencedWindowSize      = 1024
	freeUnsequencedWindows     = 32
	reliableWindows            = 16
	reliableWindowSize         = 0x1000
	freeReliableWindows        = 8
)

const (
	receiveBatch  = 256
	bufferMaximum = 1 + 2*32

	// peerLevelChannel carries connection management commands.
	peerLevelChannel = 0xFF

	sessionMask = protocol.HeaderSessionMask >> protocol.HeaderSessionShift
)

var log = logging.MustGetLogger("rudp")

var (
	// ErrNoFreePeerID occurs when the host cannot take another peer.
	ErrNoFreePeerID = errors.New("no free peer id")

	// ErrTooManyFragments occurs when a packet would need more fragments than the protocol allows.
	ErrTooManyFragments = errors.New("packet needs too many fragments")

	// ErrNotConnected occurs when sending to a peer that is not connected.
	ErrNotConnected = errors.New("peer is not connected")

	// ErrInvalidChannel occurs when a channel id is outside the peer's channel count.
	ErrInvalidChannel = errors.New("invalid channel")

	// ErrPacketTooLarge occurs when a packet exceeds the host's maximum packet size.
	ErrPacketTooLarge = errors.New("packet too large")

	// ErrHostClosed occurs when using a closed host.
	ErrHostClosed = errors.New("host closed")

	errMalformed = errors.New("malformed command")
	errRejected  = errors.New("command rejected")
)

// timeOverflow bounds the distance at which two service times are still
// ordered; beyond it the clock is taken to have wrapped.
const timeOverflow = 86400000

func timeLess(a, b uint32) bool { return a-b >= timeOverflow }

func timeGreaterEqual(a, b uint32) bool { return !timeLess(a, b) }

func timeDifference(a, b uint32) uint32 {
	if a-b >= timeOverflow {
		return b - a
	}
	return a - b
}

// reconstructSentTime widens the low 16 bits of a sent time carried by an
// acknowledgement against the current service time. It reports false for
// sent times that lie in the future.
func reconstructSentTime(now uint32, sent uint16) (uint32, bool) {
	t := uint32(sent) | now&0xFFFF0000
	if t&0x8000 > now&0x8000 {
		t -= 0x10000
	}
	if timeLess(now, t) {
		return 0, false
	}
	return t, true
}

func maxUint32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

func clampUint32(v, lo, hi uint32) uint32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
