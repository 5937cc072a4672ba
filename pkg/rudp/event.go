package rudp

import (
	"fmt"
)

// EventType tells what happened to a peer.
type EventType int

// Event types.
const (
	EventNone EventType = iota
	EventConnect
	EventDisconnect
	EventReceive
)

func (t EventType) String() string {
	switch t {
	case EventNone:
		return "none"
	case EventConnect:
		return "connect"
	case EventDisconnect:
		return "disconnect"
	case EventReceive:
		return "receive"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Event is returned by Host.Service.
//
// Connect and Disconnect events carry the user data of the connect or
// disconnect request. Receive events carry a packet that now belongs to the
// application.
type Event struct {
	Type      EventType
	Peer      *Peer
	ChannelID uint8
	Data      uint32
	Packet    *Packet
}
