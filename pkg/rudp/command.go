package rudp

import (
	"github.com/skycoin/rudp/internal/pool"
	"github.com/skycoin/rudp/pkg/protocol"
)

// trackPools makes every host check that queue records return to the pool
// they came from, exactly once.
var trackPools = false

type outgoingCommand struct {
	reliableSeq    uint16
	unreliableSeq  uint16
	sentTime       uint32
	rtTimeout      uint32
	rtTimeoutLimit uint32
	fragmentOffset uint32
	fragmentLength uint16
	sendAttempts   uint16
	command        protocol.Command
	packet         *Packet
}

type incomingCommand struct {
	reliableSeq        uint16
	unreliableSeq      uint16
	command            protocol.Command
	fragmentCount      uint32
	fragmentsRemaining uint32
	fragments          []uint32
	packet             *Packet
}

func (in *incomingCommand) commandType() protocol.CommandType {
	return in.command.Header().Type()
}

type acknowledgement struct {
	sentTime uint16
	command  protocol.CommandHeader
}

type channel struct {
	outgoingReliableSeq   uint16
	outgoingUnreliableSeq uint16
	usedReliableWindows   uint16
	reliableWindows       [reliableWindows]uint16
	incomingReliableSeq   uint16
	incomingUnreliableSeq uint16
	incomingReliable      []*incomingCommand
	incomingUnreliable    []*incomingCommand
}

type commandPools struct {
	outgoing *pool.Pool
	incoming *pool.Pool
	acks     *pool.Pool
}

func newCommandPools() commandPools {
	return commandPools{
		outgoing: pool.New(
			func() interface{} { return new(outgoingCommand) },
			func(x interface{}) { *x.(*outgoingCommand) = outgoingCommand{} },
			trackPools,
		),
		incoming: pool.New(
			func() interface{} { return new(incomingCommand) },
			func(x interface{}) { *x.(*incomingCommand) = incomingCommand{} },
			trackPools,
		),
		acks: pool.New(
			func() interface{} { return new(acknowledgement) },
			func(x interface{}) { *x.(*acknowledgement) = acknowledgement{} },
			trackPools,
		),
	}
}

func (cp *commandPools) getOutgoing() *outgoingCommand {
	return cp.outgoing.Get().(*outgoingCommand)
}

func (cp *commandPools) putOutgoing(oc *outgoingCommand) {
	if err := cp.outgoing.Put(oc); err != nil {
		panic(err)
	}
}

func (cp *commandPools) getIncoming() *incomingCommand {
	return cp.incoming.Get().(*incomingCommand)
}

func (cp *commandPools) putIncoming(in *incomingCommand) {
	if err := cp.incoming.Put(in); err != nil {
		panic(err)
	}
}

func (cp *commandPools) getAck() *acknowledgement {
	return cp.acks.Get().(*acknowledgement)
}

func (cp *commandPools) putAck(a *acknowledgement) {
	if err := cp.acks.Put(a); err != nil {
		panic(err)
	}
}

func removeOutgoing(s []*outgoingCommand, i int) []*outgoingCommand {
	copy(s[i:], s[i+1:])
	s[len(s)-1] = nil
	return s[:len(s)-1]
}

func insertOutgoing(s []*outgoingCommand, i int, oc *outgoingCommand) []*outgoingCommand {
	s = append(s, nil)
	copy(s[i+1:], s[i:])
	s[i] = oc
	return s
}

func dropOutgoing(s []*outgoingCommand, n int) []*outgoingCommand {
	m := copy(s, s[n:])
	for i := m; i < len(s); i++ {
		s[i] = nil
	}
	return s[:m]
}

func insertIncoming(s []*incomingCommand, i int, in *incomingCommand) []*incomingCommand {
	s = append(s, nil)
	copy(s[i+1:], s[i:])
	s[i] = in
	return s
}

func dropIncoming(s []*incomingCommand, n int) []*incomingCommand {
	m := copy(s, s[n:])
	for i := m; i < len(s); i++ {
		s[i] = nil
	}
	return s[:m]
}

func dropAcks(s []*acknowledgement, n int) []*acknowledgement {
	m := copy(s, s[n:])
	for i := m; i < len(s); i++ {
		s[i] = nil
	}
	return s[:m]
}
