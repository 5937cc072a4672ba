package protocol

import (
	"encoding/binary"
	"fmt"
)

// CommandHeader is common to every command.
type CommandHeader struct {
	Command     uint8 // CommandType in the low 6 bits, flags in the top 2
	ChannelID   uint8
	ReliableSeq uint16
}

// Header returns the command header. It makes every command type satisfy Command.
func (h *CommandHeader) Header() *CommandHeader { return h }

// Type returns the command type selected by the command byte.
func (h *CommandHeader) Type() CommandType { return CommandType(h.Command & CommandMask) }

// Acknowledged reports whether the sender asked for an acknowledgement.
func (h *CommandHeader) Acknowledged() bool { return h.Command&CommandFlagAcknowledge != 0 }

// Unsequenced reports whether the command carries the unsequenced flag.
func (h *CommandHeader) Unsequenced() bool { return h.Command&CommandFlagUnsequenced != 0 }

func (h *CommandHeader) put(b []byte) {
	b[0] = h.Command
	b[1] = h.ChannelID
	binary.BigEndian.PutUint16(b[2:4], h.ReliableSeq)
}

func (h *CommandHeader) get(b []byte) {
	h.Command = b[0]
	h.ChannelID = b[1]
	h.ReliableSeq = binary.BigEndian.Uint16(b[2:4])
}

// Command is one of the protocol commands defined in this package.
// The set is closed: callers match on the concrete type with a type switch.
type Command interface {
	Header() *CommandHeader
	putPayload(b []byte)
	getPayload(b []byte)
}

// Acknowledge acknowledges a reliable command.
type Acknowledge struct {
	CommandHeader
	ReceivedReliableSeq uint16
	ReceivedSentTime    uint16
}

func (c *Acknowledge) putPayload(b []byte) {
	binary.BigEndian.PutUint16(b[0:2], c.ReceivedReliableSeq)
	binary.BigEndian.PutUint16(b[2:4], c.ReceivedSentTime)
}

func (c *Acknowledge) getPayload(b []byte) {
	c.ReceivedReliableSeq = binary.BigEndian.Uint16(b[0:2])
	c.ReceivedSentTime = binary.BigEndian.Uint16(b[2:4])
}

// Connect opens a connection.
type Connect struct {
	CommandHeader
	OutgoingPeerID             uint16
	IncomingSessionID          uint8
	OutgoingSessionID          uint8
	MTU                        uint32
	WindowSize                 uint32
	ChannelCount               uint32
	IncomingBandwidth          uint32
	OutgoingBandwidth          uint32
	PacketThrottleInterval     uint32
	PacketThrottleAcceleration uint32
	PacketThrottleDeceleration uint32
	ConnectID                  uint32
	Data                       uint32
}

func (c *Connect) putPayload(b []byte) {
	binary.BigEndian.PutUint16(b[0:2], c.OutgoingPeerID)
	b[2] = c.IncomingSessionID
	b[3] = c.OutgoingSessionID
	putUint32s(b[4:], c.MTU, c.WindowSize, c.ChannelCount, c.IncomingBandwidth, c.OutgoingBandwidth,
		c.PacketThrottleInterval, c.PacketThrottleAcceleration, c.PacketThrottleDeceleration, c.ConnectID, c.Data)
}

func (c *Connect) getPayload(b []byte) {
	c.OutgoingPeerID = binary.BigEndian.Uint16(b[0:2])
	c.IncomingSessionID = b[2]
	c.OutgoingSessionID = b[3]
	getUint32s(b[4:], &c.MTU, &c.WindowSize, &c.ChannelCount, &c.IncomingBandwidth, &c.OutgoingBandwidth,
		&c.PacketThrottleInterval, &c.PacketThrottleAcceleration, &c.PacketThrottleDeceleration, &c.ConnectID, &c.Data)
}

// VerifyConnect answers a Connect with the responder's parameters.
type VerifyConnect struct {
	CommandHeader
	OutgoingPeerID             uint16
	IncomingSessionID          uint8
	OutgoingSessionID          uint8
	MTU                        uint32
	WindowSize                 uint32
	ChannelCount               uint32
	IncomingBandwidth          uint32
	OutgoingBandwidth          uint32
	PacketThrottleInterval     uint32
	PacketThrottleAcceleration uint32
	PacketThrottleDeceleration uint32
	ConnectID                  uint32
}

func (c *VerifyConnect) putPayload(b []byte) {
	binary.BigEndian.PutUint16(b[0:2], c.OutgoingPeerID)
	b[2] = c.IncomingSessionID
	b[3] = c.OutgoingSessionID
	putUint32s(b[4:], c.MTU, c.WindowSize, c.ChannelCount, c.IncomingBandwidth, c.OutgoingBandwidth,
		c.PacketThrottleInterval, c.PacketThrottleAcceleration, c.PacketThrottleDeceleration, c.ConnectID)
}

func (c *VerifyConnect) getPayload(b []byte) {
	c.OutgoingPeerID = binary.BigEndian.Uint16(b[0:2])
	c.IncomingSessionID = b[2]
	c.OutgoingSessionID = b[3]
	getUint32s(b[4:], &c.MTU, &c.WindowSize, &c.ChannelCount, &c.IncomingBandwidth, &c.OutgoingBandwidth,
		&c.PacketThrottleInterval, &c.PacketThrottleAcceleration, &c.PacketThrottleDeceleration, &c.ConnectID)
}

// Disconnect closes a connection.
type Disconnect struct {
	CommandHeader
	Data uint32
}

func (c *Disconnect) putPayload(b []byte) { binary.BigEndian.PutUint32(b[0:4], c.Data) }
func (c *Disconnect) getPayload(b []byte) { c.Data = binary.BigEndian.Uint32(b[0:4]) }

// Ping keeps a connection alive.
type Ping struct {
	CommandHeader
}

func (c *Ping) putPayload([]byte) {}
func (c *Ping) getPayload([]byte) {}

// SendReliable carries DataLength bytes of reliable data after the command.
type SendReliable struct {
	CommandHeader
	DataLength uint16
}

func (c *SendReliable) putPayload(b []byte) { binary.BigEndian.PutUint16(b[0:2], c.DataLength) }
func (c *SendReliable) getPayload(b []byte) { c.DataLength = binary.BigEndian.Uint16(b[0:2]) }

// SendUnreliable carries DataLength bytes of sequenced unreliable data.
type SendUnreliable struct {
	CommandHeader
	UnreliableSeq uint16
	DataLength    uint16
}

func (c *SendUnreliable) putPayload(b []byte) {
	binary.BigEndian.PutUint16(b[0:2], c.UnreliableSeq)
	binary.BigEndian.PutUint16(b[2:4], c.DataLength)
}

func (c *SendUnreliable) getPayload(b []byte) {
	c.UnreliableSeq = binary.BigEndian.Uint16(b[0:2])
	c.DataLength = binary.BigEndian.Uint16(b[2:4])
}

// SendFragment carries one reliable fragment of a larger packet.
type SendFragment struct {
	CommandHeader
	StartSeq       uint16
	DataLength     uint16
	FragmentCount  uint32
	FragmentNumber uint32
	TotalLength    uint32
	FragmentOffset uint32
}

func (c *SendFragment) putPayload(b []byte) {
	binary.BigEndian.PutUint16(b[0:2], c.StartSeq)
	binary.BigEndian.PutUint16(b[2:4], c.DataLength)
	putUint32s(b[4:], c.FragmentCount, c.FragmentNumber, c.TotalLength, c.FragmentOffset)
}

func (c *SendFragment) getPayload(b []byte) {
	c.StartSeq = binary.BigEndian.Uint16(b[0:2])
	c.DataLength = binary.BigEndian.Uint16(b[2:4])
	getUint32s(b[4:], &c.FragmentCount, &c.FragmentNumber, &c.TotalLength, &c.FragmentOffset)
}

// SendUnreliableFragment carries one unreliable fragment. Its layout is SendFragment's.
type SendUnreliableFragment struct {
	SendFragment
}

// SendUnsequenced carries DataLength bytes of unsequenced data.
type SendUnsequenced struct {
	CommandHeader
	UnsequencedGroup uint16
	DataLength       uint16
}

func (c *SendUnsequenced) putPayload(b []byte) {
	binary.BigEndian.PutUint16(b[0:2], c.UnsequencedGroup)
	binary.BigEndian.PutUint16(b[2:4], c.DataLength)
}

func (c *SendUnsequenced) getPayload(b []byte) {
	c.UnsequencedGroup = binary.BigEndian.Uint16(b[0:2])
	c.DataLength = binary.BigEndian.Uint16(b[2:4])
}

// BandwidthLimit announces the sender's bandwidth limits.
type BandwidthLimit struct {
	CommandHeader
	IncomingBandwidth uint32
	OutgoingBandwidth uint32
}

func (c *BandwidthLimit) putPayload(b []byte) {
	putUint32s(b, c.IncomingBandwidth, c.OutgoingBandwidth)
}

func (c *BandwidthLimit) getPayload(b []byte) {
	getUint32s(b, &c.IncomingBandwidth, &c.OutgoingBandwidth)
}

// ThrottleConfigure changes the receiver's packet throttle parameters.
type ThrottleConfigure struct {
	CommandHeader
	PacketThrottleInterval     uint32
	PacketThrottleAcceleration uint32
	PacketThrottleDeceleration uint32
}

func (c *ThrottleConfigure) putPayload(b []byte) {
	putUint32s(b, c.PacketThrottleInterval, c.PacketThrottleAcceleration, c.PacketThrottleDeceleration)
}

func (c *ThrottleConfigure) getPayload(b []byte) {
	getUint32s(b, &c.PacketThrottleInterval, &c.PacketThrottleAcceleration, &c.PacketThrottleDeceleration)
}

// NewCommand returns an empty command for the given type.
func NewCommand(ct CommandType) (Command, error) {
	switch ct {
	case CommandAcknowledge:
		return &Acknowledge{}, nil
	case CommandConnect:
		return &Connect{}, nil
	case CommandVerifyConnect:
		return &VerifyConnect{}, nil
	case CommandDisconnect:
		return &Disconnect{}, nil
	case CommandPing:
		return &Ping{}, nil
	case CommandSendReliable:
		return &SendReliable{}, nil
	case CommandSendUnreliable:
		return &SendUnreliable{}, nil
	case CommandSendFragment:
		return &SendFragment{}, nil
	case CommandSendUnsequenced:
		return &SendUnsequenced{}, nil
	case CommandBandwidthLimit:
		return &BandwidthLimit{}, nil
	case CommandThrottleConfigure:
		return &ThrottleConfigure{}, nil
	case CommandSendUnreliableFragment:
		return &SendUnreliableFragment{}, nil
	default:
		return nil, ErrUnknownCommand
	}
}

// Size returns the encoded size of cmd, taken from the type in its command byte.
func Size(cmd Command) int { return CommandSize(cmd.Header().Type()) }

// PutCommand encodes cmd into b and returns the number of bytes written.
func PutCommand(b []byte, cmd Command) (int, error) {
	n := Size(cmd)
	if n == 0 {
		return 0, ErrUnknownCommand
	}
	if len(b) < n {
		return 0, ErrShortBuffer
	}
	cmd.Header().put(b[:commandHeaderLen])
	cmd.putPayload(b[commandHeaderLen:n])
	return n, nil
}

// ReadCommand decodes the command at the front of b.
// It returns the command and the number of bytes consumed; any data that
// follows a send command is not part of the command.
func ReadCommand(b []byte) (Command, int, error) {
	if len(b) < commandHeaderLen {
		return nil, 0, ErrShortBuffer
	}
	ct := CommandType(b[0] & CommandMask)
	n := CommandSize(ct)
	if n == 0 {
		return nil, 0, ErrUnknownCommand
	}
	if len(b) < n {
		return nil, 0, ErrShortBuffer
	}
	cmd, err := NewCommand(ct)
	if err != nil {
		return nil, 0, err
	}
	cmd.Header().get(b[:commandHeaderLen])
	cmd.getPayload(b[commandHeaderLen:n])
	return cmd, n, nil
}

// String returns a short description of cmd.
func String(cmd Command) string {
	h := cmd.Header()
	return fmt.Sprintf("<type:%s><ch:%d><seq:%d>", h.Type(), h.ChannelID, h.ReliableSeq)
}

func putUint32s(b []byte, vs ...uint32) {
	for i, v := range vs {
		binary.BigEndian.PutUint32(b[i*4:], v)
	}
}

func getUint32s(b []byte, vs ...*uint32) {
	for i, v := range vs {
		*v = binary.BigEndian.Uint32(b[i*4:])
	}
}
