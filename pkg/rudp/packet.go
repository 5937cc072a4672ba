package rudp

import (
	"fmt"
)

// PacketFlags select how a packet is delivered.
type PacketFlags uint32

// Packet flags.
const (
	// PacketFlagReliable packets are acknowledged and retransmitted until delivered.
	PacketFlagReliable PacketFlags = 1 << 0
	// PacketFlagUnsequenced packets are delivered in any order.
	PacketFlagUnsequenced PacketFlags = 1 << 1
	// PacketFlagUnreliableFragments lets unreliable packets above the MTU be
	// fragmented unreliably instead of being sent reliably.
	PacketFlagUnreliableFragments PacketFlags = 1 << 3
	// PacketFlagSent is set once the transport is done with a packet.
	PacketFlagSent PacketFlags = 1 << 8
)

// Packet is a payload shared between the application and the commands
// carrying it. It is reference counted: NewPacket returns a packet holding
// one reference, every queued command takes another one, and the last
// Release drops the payload.
type Packet struct {
	Data  []byte
	Flags PacketFlags

	refs int
}

// NewPacket creates a packet holding a copy of data.
func NewPacket(data []byte, flags PacketFlags) *Packet {
	p := &Packet{Data: make([]byte, len(data)), Flags: flags, refs: 1}
	copy(p.Data, data)
	return p
}

func newPacketSize(size int, flags PacketFlags) *Packet {
	return &Packet{Data: make([]byte, size), Flags: flags, refs: 1}
}

// Retain takes a reference.
func (p *Packet) Retain() {
	if p.refs <= 0 {
		panic("rudp: retain of released packet")
	}
	p.refs++
}

// Release drops a reference. Releasing a packet with no references left
// is a programming error and panics.
func (p *Packet) Release() {
	if p.refs <= 0 {
		panic("rudp: packet released more times than retained")
	}
	p.refs--
	if p.refs == 0 {
		p.Data = nil
	}
}

// Refs returns the number of references held.
func (p *Packet) Refs() int { return p.refs }

func (p *Packet) releaseSent() {
	if p.refs == 1 {
		p.Flags |= PacketFlagSent
	}
	p.Release()
}

// String implements fmt.Stringer
func (p *Packet) String() string {
	return fmt.Sprintf("<len:%d><flags:%#x><refs:%d>", len(p.Data), p.Flags, p.refs)
}
