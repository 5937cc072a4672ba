package rudp

import (
	"fmt"
)

// PeerState is the connection state of a Peer.
type PeerState int

// Peer states.
const (
	PeerStateDisconnected PeerState = iota
	PeerStateConnecting
	PeerStateAcknowledgingConnect
	PeerStateConnectionPending
	PeerStateConnectionSucceeded
	PeerStateConnected
	PeerStateDisconnectLater
	PeerStateDisconnecting
	PeerStateAcknowledgingDisconnect
	PeerStateZombie
)

var peerStateNames = [...]string{
	PeerStateDisconnected:            "disconnected",
	PeerStateConnecting:              "connecting",
	PeerStateAcknowledgingConnect:    "acknowledging_connect",
	PeerStateConnectionPending:       "connection_pending",
	PeerStateConnectionSucceeded:     "connection_succeeded",
	PeerStateConnected:               "connected",
	PeerStateDisconnectLater:         "disconnect_later",
	PeerStateDisconnecting:           "disconnecting",
	PeerStateAcknowledgingDisconnect: "acknowledging_disconnect",
	PeerStateZombie:                  "zombie",
}

func (s PeerState) String() string {
	if s < 0 || int(s) >= len(peerStateNames) {
		return fmt.Sprintf("unknown(%d)", int(s))
	}
	return peerStateNames[s]
}

// acceptsData reports whether data commands are accepted in state s.
func (s PeerState) acceptsData() bool {
	return s == PeerStateConnected || s == PeerStateDisconnectLater
}

// MarshalText implements encoding.TextMarshaler.
func (s PeerState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
